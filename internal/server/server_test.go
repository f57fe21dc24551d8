package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/core"
	"newsradar/internal/discovery"
	"newsradar/internal/llm"
	"newsradar/internal/persistence"
	"newsradar/internal/report"
	"newsradar/internal/scheduler"
	"newsradar/internal/tasks"
)

type stubScraper struct{ fail bool }

func (s *stubScraper) Scrape(ctx context.Context, url string, cfg core.ParserConfig, sourceID int64) *core.ScrapedArticle {
	if s.fail {
		return &core.ScrapedArticle{URL: url, Error: "fetch failed"}
	}
	now := time.Now().UTC()
	return &core.ScrapedArticle{
		URL:         url,
		Title:       "Scraped title",
		Content:     strings.Repeat("body text ", 20),
		PublishTime: &now,
	}
}

type stubSearcher struct{ results []core.SearchResult }

func (s *stubSearcher) Search(ctx context.Context, kw core.SearchKeyword) ([]core.SearchResult, error) {
	return s.results, nil
}

type stubSyncer struct{ result *discovery.SyncResult }

func (s *stubSyncer) SyncSource(ctx context.Context, sourceID int64) (*discovery.SyncResult, error) {
	if s.result != nil {
		return s.result, nil
	}
	return &discovery.SyncResult{SourceID: sourceID}, nil
}

type fixedLLM struct{}

func (fixedLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return `["alpha", "beta"]`, nil
}

func (fixedLLM) CompleteStream(ctx context.Context, messages []llm.Message, onChunk func(string) error) (string, error) {
	text := "Generated section citing [1]."
	if onChunk != nil {
		if err := onChunk(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

type fixture struct {
	db     *persistence.MemoryDB
	server *Server
	tasks  *tasks.Manager
	search *stubSearcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := persistence.NewMemoryDB()
	search := &stubSearcher{}

	exec := tasks.ExecutorDeps{
		DB:        db,
		Discovery: &stubSyncer{},
		Scraper:   &stubScraper{},
		Search:    search,
	}
	manager := tasks.NewManager(db, nil)
	tasks.RegisterDefaults(manager, exec)

	sched := scheduler.New(db, manager, time.Minute)
	agent := report.NewAgent(db, fixedLLM{}, config.Report{
		SimilarityThreshold: 0.85,
		MaxArticles:         1000,
		MaxEvents:           15,
		MaxKeywords:         10,
	}, nil)

	srv := New(Deps{DB: db, Tasks: manager, Scheduler: sched, Agent: agent, Exec: exec},
		config.Server{Host: "127.0.0.1", Port: 8080})
	return &fixture{db: db, server: srv, tasks: manager, search: search}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
	}
}

// sseEvents parses an SSE body into (event, data-json) pairs.
func sseEvents(t *testing.T, body string) []struct{ Event, Data string } {
	t.Helper()
	var events []struct{ Event, Data string }
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev struct{ Event, Data string }
		for _, line := range strings.Split(block, "\n") {
			if rest, ok := strings.CutPrefix(line, "event: "); ok {
				ev.Event = rest
			}
			if rest, ok := strings.CutPrefix(line, "data: "); ok {
				ev.Data = rest
			}
		}
		if ev.Event == "" {
			t.Fatalf("malformed SSE block %q", block)
		}
		events = append(events, ev)
	}
	return events
}

func TestSourceLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sources", map[string]any{
		"site_name": "Example News",
		"base_url":  "https://news.example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var source core.CrawlSource
	decodeBody(t, rec, &source)
	if source.ID == 0 || source.RobotsStatus != core.RobotsPending {
		t.Fatalf("unexpected source %+v", source)
	}

	// Robots unchecked: enabling is refused.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sources/%d/enable", source.ID), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("enable before robots check = %d", rec.Code)
	}

	stored, _ := f.db.Sources().Get(context.Background(), source.ID)
	stored.RobotsStatus = core.RobotsCompliant
	if err := f.db.Sources().Update(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	// Robots checked but no sitemap attached for sitemap discovery.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sources/%d/enable", source.ID), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("enable without sitemap = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/sitemaps", map[string]any{
		"source_id": source.ID,
		"url":       "https://news.example.com/sitemap.xml",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add sitemap = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sources/%d/enable", source.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable = %d: %s", rec.Code, rec.Body.String())
	}
	stored, _ = f.db.Sources().Get(context.Background(), source.ID)
	if !stored.Enabled {
		t.Error("source not enabled")
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sources/%d/disable", source.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable = %d", rec.Code)
	}
}

func TestSourceValidationAndConflicts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sources", map[string]any{
		"site_name": "Bad", "base_url": "not-a-url",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad base_url = %d", rec.Code)
	}

	for _, interval := range []int{-1, 30, 59} {
		rec := f.do(t, http.MethodPost, "/api/v1/sources", map[string]any{
			"site_name": "Fast", "base_url": "https://fast.example.com", "crawl_interval_seconds": interval,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("crawl_interval_seconds=%d accepted with %d", interval, rec.Code)
		}
	}

	rec = f.do(t, http.MethodPost, "/api/v1/sources", map[string]any{
		"site_name": "Defaulted", "base_url": "https://defaulted.example.com",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create without interval = %d", rec.Code)
	}
	var defaulted core.CrawlSource
	decodeBody(t, rec, &defaulted)
	if defaulted.CrawlIntervalSeconds != defaultCrawlIntervalSeconds {
		t.Errorf("crawl interval defaulted to %d, want %d", defaulted.CrawlIntervalSeconds, defaultCrawlIntervalSeconds)
	}

	body := map[string]any{"site_name": "A", "base_url": "https://a.example.com"}
	if rec := f.do(t, http.MethodPost, "/api/v1/sources", body); rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/sources", body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate base_url = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/sources/999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing source = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/sources/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id = %d", rec.Code)
	}
}

func TestDebugParse(t *testing.T) {
	f := newFixture(t)
	source := &core.CrawlSource{SiteName: "A", BaseURL: "https://a.example.com"}
	if err := f.db.Sources().Create(context.Background(), source); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sources/%d/debug-parse", source.ID),
		map[string]any{"url": "https://a.example.com/story"})
	if rec.Code != http.StatusOK {
		t.Fatalf("debug-parse = %d: %s", rec.Code, rec.Body.String())
	}
	var scraped core.ScrapedArticle
	decodeBody(t, rec, &scraped)
	if scraped.Title != "Scraped title" || scraped.Content == "" {
		t.Errorf("unexpected scrape %+v", scraped)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/sources/%d/debug-parse", source.ID),
		map[string]any{"url": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty url = %d", rec.Code)
	}
}

func TestArticleEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		url := fmt.Sprintf("https://a.example.com/%d", i)
		a := &core.Article{
			SourceID: 1, URL: url, URLHash: core.HashURL(url),
			Title: fmt.Sprintf("story %d", i), Content: "text",
			Status: core.ArticleStatusRaw,
		}
		if err := f.db.Articles().Create(ctx, a); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/articles?status=raw", nil)
	var listed struct {
		Articles []core.Article `json:"articles"`
		Count    int            `json:"count"`
	}
	decodeBody(t, rec, &listed)
	if listed.Count != 3 {
		t.Fatalf("listed %d articles", listed.Count)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/articles/%d", ids[0]), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/articles/%d", ids[0]), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/articles/bulk-delete", map[string]any{"ids": ids[1:]})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk-delete = %d", rec.Code)
	}
	var deleted struct {
		Deleted int64 `json:"deleted"`
	}
	decodeBody(t, rec, &deleted)
	if deleted.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted.Deleted)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/articles?since=garbage", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since filter = %d", rec.Code)
	}
}

func TestTaskCreateRunAndStreamReplay(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{
		"task_type": tasks.TypeCrawlPending,
		"title":     "drain pending",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create task = %d: %s", rec.Code, rec.Body.String())
	}
	var task core.Task
	decodeBody(t, rec, &task)

	// The run is asynchronous; no sources exist so it completes quickly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		stored, err := f.db.Tasks().Get(context.Background(), task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Status == core.TaskCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task stuck in %s", stored.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d/events/stream", task.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	events := sseEvents(t, rec.Body.String())
	if len(events) < 3 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Event != core.EventCreated {
		t.Errorf("first event = %q", events[0].Event)
	}
	if last := events[len(events)-1]; last.Event != core.EventCompleted {
		t.Errorf("last event = %q", last.Event)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/tasks", map[string]any{"task_type": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown task type = %d", rec.Code)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/api/v1/tasks/404/cancel", nil); rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown = %d", rec.Code)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"name":             "hourly crawl",
		"schedule_type":    core.ScheduleArticleCrawl,
		"interval_minutes": 60,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var schedule core.Schedule
	decodeBody(t, rec, &schedule)
	if schedule.Status != core.ScheduleActive || schedule.NextRunAt == nil {
		t.Fatalf("unexpected schedule %+v", schedule)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/pause", schedule.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause = %d", rec.Code)
	}
	decodeBody(t, rec, &schedule)
	if schedule.Status != core.SchedulePaused {
		t.Errorf("status after pause = %q", schedule.Status)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/resume", schedule.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume = %d", rec.Code)
	}

	// No enabled sources, so the dispatched crawl completes immediately.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/schedules/%d/execute", schedule.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d: %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &schedule)
	if schedule.ExecutionCount != 1 || schedule.LastStatus != core.TaskCompleted {
		t.Errorf("after execute: %+v", schedule)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status scheduler.Status
	decodeBody(t, rec, &status)
	if status.TotalRuns != 1 {
		t.Errorf("total runs = %d, want 1", status.TotalRuns)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/scheduler/trigger", nil); rec.Code != http.StatusOK {
		t.Errorf("trigger = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/schedules", map[string]any{
		"name": "bad", "schedule_type": "weekly_tea", "interval_minutes": 5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown schedule type = %d", rec.Code)
	}
}

func TestKeywordSearchImportsResults(t *testing.T) {
	f := newFixture(t)
	f.search.results = []core.SearchResult{
		{Title: "Found story", URL: "https://hits.example.com/story"},
	}

	rec := f.do(t, http.MethodPost, "/api/v1/keywords", map[string]any{
		"keyword": "grid storage", "time_range": "w",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create keyword = %d: %s", rec.Code, rec.Body.String())
	}
	var kw core.SearchKeyword
	decodeBody(t, rec, &kw)
	if !kw.IsActive {
		t.Error("keyword should default to active")
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/keywords/%d/search", kw.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", rec.Code, rec.Body.String())
	}
	var summary struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
	}
	decodeBody(t, rec, &summary)
	if summary.Imported != 1 {
		t.Errorf("imported = %d, want 1", summary.Imported)
	}

	exists, err := f.db.Articles().ExistsByURL(context.Background(), "https://hits.example.com/story")
	if err != nil || !exists {
		t.Errorf("imported article missing (exists=%v err=%v)", exists, err)
	}
	stored, _ := f.db.Keywords().Get(context.Background(), kw.ID)
	if stored.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", stored.UsageCount)
	}

	// Second run finds the URL already imported.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/v1/keywords/%d/search", kw.ID), nil)
	decodeBody(t, rec, &summary)
	if summary.Imported != 0 || summary.Skipped != 1 {
		t.Errorf("rerun = %+v", summary)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/keywords/active/list", nil)
	var active struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &active)
	if active.Count != 1 {
		t.Errorf("active count = %d", active.Count)
	}
}

func TestGenerateReportAndStreamReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		url := fmt.Sprintf("https://a.example.com/story/%d", i)
		publish := now.Add(-time.Hour)
		a := &core.Article{
			SourceID: 1, URL: url, URLHash: core.HashURL(url),
			Title:       fmt.Sprintf("Battery plant update %d", i),
			Content:     strings.Repeat(fmt.Sprintf("unique%d battery plant expansion coverage ", i), 20),
			PublishTime: &publish,
			Status:      core.ArticleStatusProcessed,
		}
		if err := f.db.Articles().Create(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodPost, "/api/v1/reports/generate", map[string]any{
		"title": "Weekly battery brief",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate = %d: %s", rec.Code, rec.Body.String())
	}
	var rep core.Report
	decodeBody(t, rec, &rep)
	if rep.ID == 0 || rep.Status != core.ReportGenerating {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.TemplateID != report.DefaultTemplateID {
		t.Errorf("template = %q", rep.TemplateID)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		stored, err := f.db.Reports().Get(ctx, rep.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Status == core.ReportCompleted {
			break
		}
		if stored.Status == core.ReportFailed {
			t.Fatalf("generation failed: %s", stored.ErrorMessage)
		}
		if time.Now().After(deadline) {
			t.Fatalf("report stuck in %s/%s", stored.Status, stored.AgentStage)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// A terminal report still streams a snapshot plus the terminal event.
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d/stream", rep.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream = %d", rec.Code)
	}
	events := sseEvents(t, rec.Body.String())
	if len(events) != 2 || events[0].Event != report.EventAgentState || events[1].Event != report.EventCompleted {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(events[1].Data, "## References") {
		t.Error("terminal frame missing merged content")
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%d", rep.ID), nil)
	var detail struct {
		Report     core.Report      `json:"report"`
		References []core.Reference `json:"references"`
	}
	decodeBody(t, rec, &detail)
	if detail.Report.Progress != 100 || len(detail.References) == 0 {
		t.Errorf("detail = %+v", detail.Report)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/reports/generate", map[string]any{"title": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty title = %d", rec.Code)
	}
}

func TestPendingEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, status := range []string{core.PendingStatusPending, core.PendingStatusPending, core.PendingStatusFailed} {
		url := fmt.Sprintf("https://a.example.com/p/%d", i)
		p := &core.PendingArticle{
			SourceID: 1, URL: url, URLHash: core.HashURL(url), Status: status,
		}
		if err := f.db.Pending().Create(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/v1/pending?status=pending", nil)
	var listed struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &listed)
	if listed.Count != 2 {
		t.Errorf("pending count = %d, want 2", listed.Count)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/pending/counts", nil)
	var counts struct {
		Counts map[string]int64 `json:"counts"`
	}
	decodeBody(t, rec, &counts)
	if counts.Counts[core.PendingStatusPending] != 2 || counts.Counts[core.PendingStatusFailed] != 1 {
		t.Errorf("counts = %v", counts.Counts)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
}
