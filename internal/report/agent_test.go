package report

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/core"
	"newsradar/internal/llm"
	"newsradar/internal/persistence"
)

type stubLLM struct {
	completeResponse string
	completeErr      error
	streamErr        error
	streamCalls      int
}

func (s *stubLLM) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	if s.completeErr != nil {
		return "", s.completeErr
	}
	return s.completeResponse, nil
}

func (s *stubLLM) CompleteStream(ctx context.Context, messages []llm.Message, onChunk func(string) error) (string, error) {
	s.streamCalls++
	if s.streamErr != nil {
		return "", s.streamErr
	}
	chunks := []string{"Reported ", "developments ", "cited in [1]."}
	for _, c := range chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return "", err
			}
		}
	}
	return strings.Join(chunks, ""), nil
}

func seedReportFixture(t *testing.T) (*persistence.MemoryDB, *core.Report) {
	t.Helper()
	db := persistence.NewMemoryDB()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		publish := now.Add(-time.Duration(i+1) * time.Hour)
		url := fmt.Sprintf("https://example.com/energy/%d", i)
		a := &core.Article{
			SourceID:    1,
			URL:         url,
			URLHash:     core.HashURL(url),
			Title:       fmt.Sprintf("Grid storage expansion phase %d announced", i),
			Content:     strings.Repeat(fmt.Sprintf("distinct%d grid battery storage expansion project details ", i), 20),
			Author:      "Reporter",
			PublishTime: &publish,
			Status:      core.ArticleStatusProcessed,
		}
		if err := db.Articles().Create(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}

	rep := &core.Report{
		Title:          "Energy weekly",
		TimeRangeStart: now.Add(-7 * 24 * time.Hour),
		TimeRangeEnd:   now,
		Language:       "English",
	}
	if err := db.Reports().Create(context.Background(), rep); err != nil {
		t.Fatal(err)
	}
	return db, rep
}

func testAgent(db persistence.Database, client llm.Client) *Agent {
	return NewAgent(db, client, config.Report{
		SimilarityThreshold: 0.85,
		ScoreThreshold:      0,
		MaxArticles:         1000,
		MaxEvents:           15,
		MaxKeywords:         10,
	}, nil)
}

func TestGenerateProducesCompletedReport(t *testing.T) {
	db, rep := seedReportFixture(t)
	client := &stubLLM{completeResponse: `["battery", "storage"]`}
	agent := testAgent(db, client)

	frames, cancel := agent.Hub().Subscribe(rep.ID)
	defer cancel()

	if err := agent.Generate(context.Background(), rep.ID); err != nil {
		t.Fatal(err)
	}

	var stages []string
	var sectionChunks int
	var terminal *Frame
	for f := range frames {
		switch f.Event {
		case EventAgentState:
			stages = append(stages, f.Data["stage"].(string))
		case EventSectionStream:
			sectionChunks++
			if f.Data["chunk"].(string) == "" || f.Data["section_title"].(string) == "" {
				t.Errorf("malformed section_stream frame: %v", f.Data)
			}
		case EventCompleted, EventFailed:
			cp := f
			terminal = &cp
		}
	}

	wantOrder := []string{StageInitializing, StageFilteringArticles, StageGeneratingKeywords,
		StageClusteringArticles, StageExtractingEvents, StageGeneratingSections, StageMergingReport, StageCompleted}
	pos := 0
	for _, stage := range stages {
		for pos < len(wantOrder) && wantOrder[pos] != stage {
			pos++
		}
		if pos == len(wantOrder) {
			t.Fatalf("stage %q out of order in %v", stage, stages)
		}
	}
	if stages[len(stages)-1] != StageCompleted {
		t.Errorf("last stage = %q", stages[len(stages)-1])
	}

	// analyst_brief has 3 sections, the stub streams 3 chunks each.
	if sectionChunks != 9 {
		t.Errorf("section chunks = %d, want 9", sectionChunks)
	}
	if terminal == nil || terminal.Event != EventCompleted {
		t.Fatalf("terminal frame = %+v", terminal)
	}
	if terminal.Data["content"].(string) == "" {
		t.Error("terminal frame missing merged content")
	}
	if runID, _ := terminal.Data["run_id"].(string); runID == "" {
		t.Error("terminal frame missing run_id")
	}

	final, _ := db.Reports().Get(context.Background(), rep.ID)
	if final.Status != core.ReportCompleted || final.Progress != 100 {
		t.Errorf("report state = %s/%d", final.Status, final.Progress)
	}
	if len(final.Sections) != 3 {
		t.Errorf("sections = %d, want 3", len(final.Sections))
	}
	if !strings.Contains(final.Content, "## References") {
		t.Error("merged content missing references block")
	}
	if !strings.Contains(final.Content, "## Event Appendix") {
		t.Error("merged content missing event appendix")
	}

	refs, _ := db.Reports().ListReferences(context.Background(), rep.ID)
	if len(refs) == 0 {
		t.Fatal("no references persisted")
	}
	for i, ref := range refs {
		if ref.CitationIndex != i+1 {
			t.Errorf("citation indices not dense: %+v", refs)
		}
	}
}

func TestGenerateFailsOnStreamError(t *testing.T) {
	db, rep := seedReportFixture(t)
	client := &stubLLM{completeResponse: `["battery"]`, streamErr: fmt.Errorf("backend exploded")}
	agent := testAgent(db, client)

	frames, cancel := agent.Hub().Subscribe(rep.ID)
	defer cancel()

	if err := agent.Generate(context.Background(), rep.ID); err == nil {
		t.Fatal("expected error")
	}

	var sawFailed bool
	for f := range frames {
		if f.Event == EventFailed {
			sawFailed = true
			if !strings.Contains(f.Data["error"].(string), "backend exploded") {
				t.Errorf("failed frame error = %v", f.Data["error"])
			}
		}
	}
	if !sawFailed {
		t.Error("no failed frame broadcast")
	}

	final, _ := db.Reports().Get(context.Background(), rep.ID)
	if final.Status != core.ReportFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
	if !strings.Contains(final.ErrorMessage, "backend exploded") {
		t.Errorf("error message = %q", final.ErrorMessage)
	}
}

func TestGenerateKeywordFallbackOnLLMError(t *testing.T) {
	db, rep := seedReportFixture(t)
	client := &stubLLM{completeErr: fmt.Errorf("llm down")}
	agent := testAgent(db, client)

	// Section streaming still works; only Complete fails, so keyword
	// generation falls back to title tokens.
	if err := agent.Generate(context.Background(), rep.ID); err != nil {
		t.Fatal(err)
	}
	final, _ := db.Reports().Get(context.Background(), rep.ID)
	if final.Status != core.ReportCompleted {
		t.Errorf("status = %q (%s)", final.Status, final.ErrorMessage)
	}
}

func TestGenerateFailsWithoutArticles(t *testing.T) {
	db := persistence.NewMemoryDB()
	rep := &core.Report{
		Title:          "Empty window",
		TimeRangeStart: time.Now().UTC().Add(-time.Hour),
		TimeRangeEnd:   time.Now().UTC(),
	}
	if err := db.Reports().Create(context.Background(), rep); err != nil {
		t.Fatal(err)
	}
	agent := testAgent(db, &stubLLM{completeResponse: `[]`})

	if err := agent.Generate(context.Background(), rep.ID); err == nil {
		t.Fatal("expected error for empty window")
	}
	final, _ := db.Reports().Get(context.Background(), rep.ID)
	if final.Status != core.ReportFailed {
		t.Errorf("status = %q, want failed", final.Status)
	}
}

func TestFallbackKeywords(t *testing.T) {
	got := fallbackKeywords("The quantum computing breakthrough in error correction", 3)
	if len(got) != 3 {
		t.Fatalf("keywords = %v", got)
	}
	for _, kw := range got {
		if stopwords[kw] {
			t.Errorf("stopword %q survived", kw)
		}
	}
}

func TestParseKeywordList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`["alpha", "beta"]`, []string{"alpha", "beta"}},
		{"```json\n[\"alpha\"]\n```", []string{"alpha"}},
		{"alpha, beta\ngamma", []string{"alpha", "beta", "gamma"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := parseKeywordList(tc.in, 10)
		if len(got) != len(tc.want) {
			t.Errorf("parseKeywordList(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("parseKeywordList(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	hub := NewBroadcaster()
	ch, cancel := hub.Subscribe(3)
	defer cancel()

	for i := 0; i < subscriberBuffer+1; i++ {
		hub.Publish(3, Frame{Event: EventAgentState})
	}
	if n := hub.SubscriberCount(3); n != 0 {
		t.Errorf("subscriber count = %d, want 0 after overflow", n)
	}
	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received = %d, want %d buffered frames", received, subscriberBuffer)
	}
}

func TestPublishDeliversPastDroppedSubscribers(t *testing.T) {
	hub := NewBroadcaster()
	first, cancelFirst := hub.Subscribe(5)
	second, cancelSecond := hub.Subscribe(5)
	third, cancelThird := hub.Subscribe(5)
	defer cancelFirst()
	defer cancelSecond()
	defer cancelThird()

	for i := 0; i < subscriberBuffer; i++ {
		hub.Publish(5, Frame{Event: EventAgentState})
	}
	// Drain only the middle subscriber; the outer two stay full.
	for i := 0; i < subscriberBuffer; i++ {
		<-second
	}

	// Dropping the full outer subscribers must not skip or panic on the
	// healthy one in between.
	hub.Publish(5, Frame{Event: EventCompleted})

	if n := hub.SubscriberCount(5); n != 1 {
		t.Errorf("subscriber count = %d, want 1", n)
	}
	if f := <-second; f.Event != EventCompleted {
		t.Errorf("healthy subscriber got %q, want completed", f.Event)
	}
	for range first {
	}
	for range third {
	}
}
