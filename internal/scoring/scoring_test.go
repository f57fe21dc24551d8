package scoring

import (
	"strings"
	"testing"
	"time"

	"newsradar/internal/core"
)

func testArticle() *core.Article {
	now := time.Now().UTC()
	return &core.Article{
		Title:       "Central bank signals rate cut amid easing inflation",
		Content:     strings.Repeat("inflation data points to easing pressure. ", 36), // ~1500 chars
		Author:      "Jane Reporter",
		Status:      core.ArticleStatusProcessed,
		PublishTime: &now,
	}
}

func TestScoreWithoutKeywords(t *testing.T) {
	got := Score(Input{Article: testArticle(), SourceCategory: "unknown"})
	if got < 60 || got > 80 {
		t.Errorf("score without keywords = %f, want within [60, 80]", got)
	}
}

func TestEmptyKeywordsEqualsNil(t *testing.T) {
	a := testArticle()
	withNil := Score(Input{Article: a, SourceCategory: "mainstream"})
	withEmpty := Score(Input{Article: a, SourceCategory: "mainstream", Keywords: []string{}})
	if withNil != withEmpty {
		t.Errorf("nil keywords scored %f, empty slice scored %f", withNil, withEmpty)
	}
}

func TestKeywordMatchRaisesScore(t *testing.T) {
	a := testArticle()
	base := Score(Input{Article: a, SourceCategory: "mainstream", Keywords: []string{"cryptocurrency"}})
	matched := Score(Input{Article: a, SourceCategory: "mainstream", Keywords: []string{"inflation"}})
	if matched <= base {
		t.Errorf("matched keyword score %f should exceed unmatched %f", matched, base)
	}
}

func TestKeywordTitleExactBeatsSubstring(t *testing.T) {
	exact := &core.Article{Title: "rate cut", Content: ""}
	substring := &core.Article{Title: "debate over unsubstantiated rate cuts continues", Content: ""}

	exactScore := keywordScore(exact, []string{"rate cut"})
	subScore := keywordScore(substring, []string{"rate cut"})
	if exactScore <= subScore {
		t.Errorf("exact title match %f should beat substring match %f", exactScore, subScore)
	}
}

func TestSourceWeights(t *testing.T) {
	cases := []struct {
		category string
		want     float64
	}{
		{"official", 100},
		{"mainstream", 80},
		{"commercial", 60},
		{"social", 40},
		{"unknown", 20},
		{"", 20},
		{"something-else", 20},
	}
	for _, tc := range cases {
		if got := sourceScore(tc.category); got != tc.want {
			t.Errorf("sourceScore(%q) = %f, want %f", tc.category, got, tc.want)
		}
	}
}

func TestRecencyBuckets(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{1 * time.Hour, 100},
		{48 * time.Hour, 80},
		{100 * time.Hour, 60},
		{400 * time.Hour, 40},
		{1000 * time.Hour, 20},
	}
	for _, tc := range cases {
		ts := now.Add(-tc.age)
		a := &core.Article{PublishTime: &ts}
		if got := recencyScore(a, now); got != tc.want {
			t.Errorf("recencyScore(age=%v) = %f, want %f", tc.age, got, tc.want)
		}
	}
}

func TestRecencyFallsBackToCrawledAt(t *testing.T) {
	now := time.Now().UTC()
	a := &core.Article{CrawledAt: now.Add(-2 * time.Hour)}
	if got := recencyScore(a, now); got != 100 {
		t.Errorf("recency via crawled_at = %f, want 100", got)
	}
}
