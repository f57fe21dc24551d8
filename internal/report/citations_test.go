package report

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"newsradar/internal/core"
)

func refArticle(id int64, title string) *core.Article {
	published := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	return &core.Article{
		ID:          id,
		Title:       title,
		URL:         "https://example.com/" + title,
		Author:      "Reporter",
		PublishTime: &published,
	}
}

func TestRegisterAssignsIndicesInFirstSeenOrder(t *testing.T) {
	c := NewCitations()
	a, b := refArticle(10, "alpha"), refArticle(20, "beta")

	if idx := c.Register(a, ""); idx != 1 {
		t.Errorf("first registration index = %d, want 1", idx)
	}
	if idx := c.Register(b, ""); idx != 2 {
		t.Errorf("second registration index = %d, want 2", idx)
	}
	if idx := c.Register(a, ""); idx != 1 {
		t.Errorf("re-registration index = %d, want stable 1", idx)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	refs := c.References(7)
	if len(refs) != 2 || refs[0].ArticleID != 10 || refs[0].CitationIndex != 1 || refs[1].CitationIndex != 2 {
		t.Errorf("references = %+v", refs)
	}
	if refs[0].ReportID != 7 {
		t.Errorf("report id = %d", refs[0].ReportID)
	}
}

func TestNormalizeMarkers(t *testing.T) {
	cases := []struct{ in, want string }{
		{"see (1) for details", "see [1] for details"},
		{"参见【2】和【13】", "参见[2]和[13]"},
		{"already [3]", "already [3]"},
		{"mixed (1)【2】[3]", "mixed [1][2][3]"},
		{"sum (a+b) untouched", "sum (a+b) untouched"},
	}
	for _, tc := range cases {
		if got := NormalizeMarkers(tc.in); got != tc.want {
			t.Errorf("NormalizeMarkers(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateFlagsInvalidAndUncited(t *testing.T) {
	c := NewCitations()
	c.Register(refArticle(1, "one"), "")
	c.Register(refArticle(2, "two"), "")
	c.Register(refArticle(3, "three"), "")

	result := c.Validate("body cites [1] and [5], then [1] again")
	if !reflect.DeepEqual(result.Invalid, []int{5}) {
		t.Errorf("invalid = %v, want [5]", result.Invalid)
	}
	if !reflect.DeepEqual(result.Uncited, []int{2, 3}) {
		t.Errorf("uncited = %v, want [2 3]", result.Uncited)
	}
	if result.OK() {
		t.Error("result should not be OK")
	}

	if v := c.Validate("[1] [2] [3]"); !v.OK() {
		t.Errorf("complete citation set flagged: %+v", v)
	}
}

func TestUncitedDetectionNeedsBodyOnly(t *testing.T) {
	c := NewCitations()
	c.Register(refArticle(1, "cited"), "")
	c.Register(refArticle(2, "never-cited"), "")

	body := "The body cites [1] and nothing else.\n"

	// The reference block repeats every marker, so validating the full
	// document can never surface an uncited entry.
	if v := c.Validate(body + c.RenderReferences()); len(v.Uncited) != 0 {
		t.Fatalf("full-document Uncited = %v, expected masking", v.Uncited)
	}
	if v := c.Validate(body); !reflect.DeepEqual(v.Uncited, []int{2}) {
		t.Errorf("body-only Uncited = %v, want [2]", v.Uncited)
	}
}

func TestRenderReferences(t *testing.T) {
	c := NewCitations()
	c.Register(refArticle(1, "one"), "a snippet")
	c.Register(refArticle(2, "two"), "")

	out := c.RenderReferences()
	if !strings.HasPrefix(out, "## References\n") {
		t.Errorf("missing header: %q", out)
	}
	one := strings.Index(out, "[1] one")
	two := strings.Index(out, "[2] two")
	if one == -1 || two == -1 || one > two {
		t.Errorf("entries missing or out of order:\n%s", out)
	}
	if !strings.Contains(out, "> a snippet") {
		t.Errorf("snippet missing:\n%s", out)
	}
	if !strings.Contains(out, "2026-08-10") || !strings.Contains(out, "https://example.com/one") {
		t.Errorf("metadata missing:\n%s", out)
	}

	if NewCitations().RenderReferences() != "" {
		t.Error("empty registry should render nothing")
	}
}
