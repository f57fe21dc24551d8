// Package report implements the staged report agent: filter articles,
// generate keywords, cluster, extract events, stream LLM sections and
// merge the result, broadcasting progress to SSE subscribers.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsradar/internal/config"
	"newsradar/internal/core"
	"newsradar/internal/llm"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
	"newsradar/internal/scoring"
	"newsradar/internal/simhash"
)

// Agent stages, in execution order.
const (
	StageInitializing       = "initializing"
	StageFilteringArticles  = "filtering_articles"
	StageGeneratingKeywords = "generating_keywords"
	StageClusteringArticles = "clustering_articles"
	StageExtractingEvents   = "extracting_events"
	StageGeneratingSections = "generating_sections"
	StageMergingReport      = "merging_report"
	StageCompleted          = "completed"
	StageFailed             = "failed"
)

// Frame event types for report streams.
const (
	EventAgentState    = "agent_state"
	EventSectionStream = "section_stream"
	EventCompleted     = "completed"
	EventFailed        = "failed"
)

const imagesPerArticle = 5

// Agent orchestrates one report generation at a time per report id.
type Agent struct {
	db  persistence.Database
	llm llm.Client
	cfg config.Report
	hub *Broadcaster

	mu   sync.Mutex
	runs map[int64]string // report id -> correlation id of the active run
}

func NewAgent(db persistence.Database, client llm.Client, cfg config.Report, hub *Broadcaster) *Agent {
	if hub == nil {
		hub = NewBroadcaster()
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = simhash.DefaultThreshold
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = 1000
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 15
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 10
	}
	return &Agent{db: db, llm: client, cfg: cfg, hub: hub, runs: make(map[int64]string)}
}

func (a *Agent) Hub() *Broadcaster { return a.hub }

// Generate runs the full stage pipeline for a stored report. The report
// row tracks stage and progress throughout; failures land in a terminal
// failed state with the error captured verbatim.
func (a *Agent) Generate(ctx context.Context, reportID int64) error {
	rep, err := a.db.Reports().Get(ctx, reportID)
	if err != nil {
		return err
	}
	started := time.Now().UTC()

	a.mu.Lock()
	a.runs[reportID] = uuid.NewString()
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.runs, reportID)
		a.mu.Unlock()
	}()

	if err := a.run(ctx, rep, started); err != nil {
		a.fail(ctx, rep, err)
		return err
	}
	a.hub.CloseReport(rep.ID)
	return nil
}

func (a *Agent) run(ctx context.Context, rep *core.Report, started time.Time) error {
	rep.Status = core.ReportGenerating
	a.emitState(ctx, rep, StageInitializing, 0, "starting report generation", nil)

	// Stage 2: pull candidate articles for the window.
	a.emitState(ctx, rep, StageFilteringArticles, 10, "loading articles", nil)
	articles, err := a.loadArticles(ctx, rep)
	if err != nil {
		return fmt.Errorf("failed to load articles: %w", err)
	}
	if len(articles) == 0 {
		return core.ValidationErrorf("no articles in range %s to %s",
			rep.TimeRangeStart.Format(time.DateOnly), rep.TimeRangeEnd.Format(time.DateOnly))
	}

	// Stage 3: keyword generation with tokenization fallback.
	a.emitState(ctx, rep, StageGeneratingKeywords, 25, "generating keywords", nil)
	keywords := a.generateKeywords(ctx, rep)
	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage 4: score, filter, cap and cluster.
	a.emitState(ctx, rep, StageClusteringArticles, 30, "clustering articles", nil)
	clusters := a.cluster(articles, keywords)
	a.emitState(ctx, rep, StageClusteringArticles, 40, fmt.Sprintf("%d clusters", len(clusters)), nil)
	if len(clusters) == 0 {
		return core.ValidationErrorf("no articles passed the score threshold")
	}

	// Stage 5: event extraction.
	a.emitState(ctx, rep, StageExtractingEvents, 50, "extracting events", nil)
	events := ExtractEvents(clusters, keywords, a.cfg.MaxEvents)
	a.emitState(ctx, rep, StageExtractingEvents, 60, fmt.Sprintf("%d events", len(events)),
		map[string]any{"events": eventSummaries(events)})

	// Stage 6: streamed section generation.
	citations := NewCitations()
	for _, ev := range events {
		for _, art := range ev.Articles {
			citations.Register(art, snippetOf(art))
		}
	}
	sections, err := a.generateSections(ctx, rep, events, citations)
	if err != nil {
		return err
	}

	// Stage 7: merge.
	a.emitState(ctx, rep, StageMergingReport, 90, "merging report", nil)
	content := a.merge(rep, sections, events, citations, len(articles), started)

	for _, ref := range citations.References(rep.ID) {
		ref := ref
		if err := a.db.Reports().AddReference(ctx, &ref); err != nil {
			logger.Warn("failed to persist reference", "report_id", rep.ID, "article_id", ref.ArticleID, "error", err.Error())
		}
	}

	// Stage 8: terminal completed.
	stats := map[string]any{
		"article_count":   len(articles),
		"cluster_count":   len(clusters),
		"event_count":     len(events),
		"reference_count": citations.Len(),
		"duration_ms":     time.Since(started).Milliseconds(),
	}
	rep.Status = core.ReportCompleted
	rep.Content = content
	rep.Sections = sections
	a.emitState(ctx, rep, StageCompleted, 100, "report completed", nil)
	a.publish(rep.ID, Frame{Event: EventCompleted, Data: map[string]any{
		"content":    content,
		"sections":   sections,
		"events":     eventSummaries(events),
		"statistics": stats,
	}})
	return nil
}

func (a *Agent) fail(ctx context.Context, rep *core.Report, cause error) {
	rep.Status = core.ReportFailed
	rep.AgentStage = StageFailed
	rep.ErrorMessage = cause.Error()
	if err := a.db.Reports().Update(ctx, rep); err != nil {
		logger.Error("failed to persist report failure", err, "report_id", rep.ID)
	}
	a.publish(rep.ID, Frame{Event: EventFailed, Data: map[string]any{"error": cause.Error()}})
	a.hub.CloseReport(rep.ID)
}

// emitState persists the stage on the report row and broadcasts it.
func (a *Agent) emitState(ctx context.Context, rep *core.Report, stage string, progress int, message string, data map[string]any) {
	rep.AgentStage = stage
	rep.Progress = progress
	if err := a.db.Reports().Update(ctx, rep); err != nil {
		logger.Warn("failed to persist report stage", "report_id", rep.ID, "stage", stage, "error", err.Error())
	}
	payload := map[string]any{"stage": stage, "progress": progress, "message": message}
	if data != nil {
		payload["data"] = data
	}
	a.publish(rep.ID, Frame{Event: EventAgentState, Data: payload})
}

// publish stamps the run's correlation id on the frame payload before
// handing it to the hub.
func (a *Agent) publish(reportID int64, f Frame) {
	a.mu.Lock()
	runID := a.runs[reportID]
	a.mu.Unlock()
	if runID != "" {
		f.Data["run_id"] = runID
	}
	a.hub.Publish(reportID, f)
}

// loadArticles returns usable articles within the report window, capped
// at the configured maximum.
func (a *Agent) loadArticles(ctx context.Context, rep *core.Report) ([]core.Article, error) {
	start, end := rep.TimeRangeStart, rep.TimeRangeEnd
	all, err := a.db.Articles().List(ctx, persistence.ListOptions{Since: &start, Until: &end})
	if err != nil {
		return nil, err
	}
	usable := all[:0]
	for _, art := range all {
		if art.Status == core.ArticleStatusLowQuality || art.Status == core.ArticleStatusFailed {
			continue
		}
		if strings.TrimSpace(art.Content) == "" {
			continue
		}
		usable = append(usable, art)
	}
	if len(usable) > a.cfg.MaxArticles {
		usable = usable[:a.cfg.MaxArticles]
	}
	return usable, nil
}

// generateKeywords asks the LLM for report keywords and falls back to
// tokenizing the title when the call or parse fails.
func (a *Agent) generateKeywords(ctx context.Context, rep *core.Report) []string {
	prompt := fmt.Sprintf(
		"Generate up to %d search keywords for a news report titled %q covering %s to %s. "+
			"Respond with a JSON array of strings only. Language: %s.",
		a.cfg.MaxKeywords, rep.Title,
		rep.TimeRangeStart.Format(time.DateOnly), rep.TimeRangeEnd.Format(time.DateOnly),
		languageOf(rep))

	raw, err := a.llm.Complete(ctx, []llm.Message{
		llm.System("You generate concise news search keywords."),
		llm.User(prompt),
	})
	if err == nil {
		if kws := parseKeywordList(raw, a.cfg.MaxKeywords); len(kws) > 0 {
			return kws
		}
	} else {
		logger.Warn("keyword generation failed, falling back to title tokens", "report_id", rep.ID, "error", err.Error())
	}
	return fallbackKeywords(rep.Title, a.cfg.MaxKeywords)
}

// parseKeywordList accepts a JSON array, optionally wrapped in a code
// fence, or a comma/newline separated list.
func parseKeywordList(raw string, max int) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == ';' }) {
			parsed = append(parsed, part)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, kw := range parsed {
		kw = strings.Trim(strings.TrimSpace(kw), `"-*`)
		if kw == "" || seen[strings.ToLower(kw)] {
			continue
		}
		seen[strings.ToLower(kw)] = true
		out = append(out, kw)
		if len(out) == max {
			break
		}
	}
	return out
}

func fallbackKeywords(title string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range simhash.Tokenize(title) {
		if stopwords[tok] || len([]rune(tok)) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == max {
			break
		}
	}
	return out
}

// cluster scores articles, applies the score threshold when keywords are
// present, and groups near-duplicates. The representative is the member
// with the longest content; ties go to the lowest id.
func (a *Agent) cluster(articles []core.Article, keywords []string) []Cluster {
	byID := make(map[int64]*core.Article, len(articles))
	scores := make(map[int64]float64, len(articles))
	var entries []simhash.Entry
	now := time.Now().UTC()

	for i := range articles {
		art := &articles[i]
		score := scoring.Score(scoring.Input{Article: art, Keywords: keywords, Now: now})
		if len(keywords) > 0 && score < a.cfg.ScoreThreshold {
			continue
		}
		byID[art.ID] = art
		scores[art.ID] = score
		entries = append(entries, simhash.Entry{ID: art.ID, Hash: simhash.Hash(art.Content)})
	}

	grouped := simhash.Cluster(entries, a.cfg.SimilarityThreshold)

	var clusters []Cluster
	for repID, dupIDs := range grouped {
		members := []*core.Article{byID[repID]}
		for _, id := range dupIDs {
			members = append(members, byID[id])
		}
		rep := members[0]
		for _, m := range members[1:] {
			if longer(m, rep) {
				rep = m
			}
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		clusters = append(clusters, Cluster{Representative: rep, Members: members})
	}
	// Map iteration order is random; fix it by representative score.
	sort.SliceStable(clusters, func(i, j int) bool {
		si, sj := scores[clusters[i].Representative.ID], scores[clusters[j].Representative.ID]
		if si != sj {
			return si > sj
		}
		return clusters[i].Representative.ID < clusters[j].Representative.ID
	})
	return clusters
}

func longer(a, b *core.Article) bool {
	la, lb := len([]rune(a.Content)), len([]rune(b.Content))
	if la != lb {
		return la > lb
	}
	return a.ID < b.ID
}

// generateSections streams one LLM completion per section template, in
// template order, forwarding every chunk to subscribers.
func (a *Agent) generateSections(ctx context.Context, rep *core.Report, events []Event, citations *Citations) ([]core.ReportSection, error) {
	set := TemplateByID(rep.TemplateID)
	eventContext := a.buildEventContext(events, citations)

	var sections []core.ReportSection
	total := len(set.Sections)
	for i, tpl := range set.Sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress := 70 + (15*i)/total
		a.emitState(ctx, rep, StageGeneratingSections, progress, fmt.Sprintf("writing %q", tpl.Title), nil)

		messages := []llm.Message{
			llm.System(fmt.Sprintf("You are a news analyst writing in %s. Write markdown body text without a top-level heading.", languageOf(rep))),
			llm.User(tpl.Prompt + "\n\n" + eventContext),
		}
		content, err := a.llm.CompleteStream(ctx, messages, func(delta string) error {
			a.publish(rep.ID, Frame{Event: EventSectionStream, Data: map[string]any{
				"section_title": tpl.Title,
				"chunk":         delta,
			}})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate section %q: %w", tpl.Title, err)
		}

		sections = append(sections, core.ReportSection{Title: tpl.Title, Content: NormalizeMarkers(content)})
		rep.Sections = sections
		a.emitState(ctx, rep, StageGeneratingSections, 70+(15*(i+1))/total, fmt.Sprintf("section %q completed", tpl.Title),
			map[string]any{"completed_sections": sections})
	}
	return sections, nil
}

// buildEventContext renders the selected events and their cited articles
// for section prompts.
func (a *Agent) buildEventContext(events []Event, citations *Citations) string {
	var b strings.Builder
	b.WriteString("Events:\n")
	for i, ev := range events {
		b.WriteString(fmt.Sprintf("%d. %s (importance %.0f, keywords: %s)\n   %s\n",
			i+1, ev.Title, ev.Importance, strings.Join(ev.Keywords, ", "), ev.Summary))
	}
	b.WriteString("\nSources (cite as [n]):\n")
	for _, ref := range citations.References(0) {
		art := citations.articles[ref.ArticleID]
		b.WriteString(fmt.Sprintf("[%d] %s", ref.CitationIndex, art.Title))
		if art.PublishTime != nil {
			b.WriteString(" (" + art.PublishTime.UTC().Format(time.DateOnly) + ")")
		}
		b.WriteString(" " + art.URL + "\n")
		for j, img := range art.ExtraData.Images {
			if j == imagesPerArticle {
				break
			}
			b.WriteString("    image: " + img + "\n")
		}
	}
	return b.String()
}

// merge concatenates sections under a standard header and appends the
// event list and reference block.
func (a *Agent) merge(rep *core.Report, sections []core.ReportSection, events []Event, citations *Citations, articleCount int, started time.Time) string {
	var b strings.Builder
	b.WriteString("# " + rep.Title + "\n\n")
	b.WriteString(fmt.Sprintf("**Time range:** %s — %s  \n",
		rep.TimeRangeStart.UTC().Format(time.DateOnly), rep.TimeRangeEnd.UTC().Format(time.DateOnly)))
	b.WriteString(fmt.Sprintf("**Generated:** %s  \n", time.Now().UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("**Articles analyzed:** %d | **Events:** %d\n\n", articleCount, len(events)))

	for _, s := range sections {
		b.WriteString("## " + s.Title + "\n\n")
		b.WriteString(strings.TrimSpace(s.Content))
		b.WriteString("\n\n")
	}

	b.WriteString("## Event Appendix\n\n")
	for i, ev := range events {
		b.WriteString(fmt.Sprintf("%d. **%s** — importance %.0f, %d article(s)\n", i+1, ev.Title, ev.Importance, len(ev.ArticleIDs)))
	}
	b.WriteString("\n")

	// Validate against the body only; the reference block itself repeats
	// every [k] marker and would mask uncited entries.
	if v := citations.Validate(b.String()); !v.OK() {
		logger.Warn("report citation validation", "report_id", rep.ID,
			"invalid", fmt.Sprint(v.Invalid), "uncited", fmt.Sprint(v.Uncited))
	}
	return b.String() + citations.RenderReferences()
}

func eventSummaries(events []Event) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		out = append(out, map[string]any{
			"title":       ev.Title,
			"summary":     ev.Summary,
			"keywords":    ev.Keywords,
			"importance":  ev.Importance,
			"article_ids": ev.ArticleIDs,
		})
	}
	return out
}

func snippetOf(a *core.Article) string {
	text := strings.Join(strings.Fields(a.Content), " ")
	runes := []rune(text)
	if len(runes) > 140 {
		return string(runes[:140]) + "…"
	}
	return text
}

func languageOf(rep *core.Report) string {
	if rep.Language == "" {
		return "English"
	}
	return rep.Language
}
