package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"newsradar/internal/core"
)

// Citations tracks which articles a report cites. Indices are assigned
// in order of first registration, 1..N, and never change afterwards.
type Citations struct {
	order    []int64
	index    map[int64]int
	articles map[int64]*core.Article
	snippets map[int64]string
}

func NewCitations() *Citations {
	return &Citations{
		index:    make(map[int64]int),
		articles: make(map[int64]*core.Article),
		snippets: make(map[int64]string),
	}
}

// Register returns the citation index for an article, assigning the next
// free index on first sight.
func (c *Citations) Register(article *core.Article, snippet string) int {
	if idx, ok := c.index[article.ID]; ok {
		return idx
	}
	c.order = append(c.order, article.ID)
	idx := len(c.order)
	c.index[article.ID] = idx
	c.articles[article.ID] = article
	c.snippets[article.ID] = snippet
	return idx
}

// Index looks up a previously registered article.
func (c *Citations) Index(articleID int64) (int, bool) {
	idx, ok := c.index[articleID]
	return idx, ok
}

func (c *Citations) Len() int { return len(c.order) }

// References materializes the registry as store rows for a report.
func (c *Citations) References(reportID int64) []core.Reference {
	refs := make([]core.Reference, 0, len(c.order))
	for i, articleID := range c.order {
		refs = append(refs, core.Reference{
			ReportID:      reportID,
			ArticleID:     articleID,
			CitationIndex: i + 1,
			Snippet:       c.snippets[articleID],
		})
	}
	return refs
}

var (
	parenMarker    = regexp.MustCompile(`\((\d{1,3})\)`)
	cjkMarker      = regexp.MustCompile(`【(\d{1,3})】`)
	bracketMarker  = regexp.MustCompile(`\[(\d{1,3})\]`)
	adjacentMarker = regexp.MustCompile(`\]\s*\[`)
)

// NormalizeMarkers rewrites inline citation markers (1) and 【1】 to the
// canonical [1] form.
func NormalizeMarkers(text string) string {
	text = cjkMarker.ReplaceAllString(text, "[$1]")
	text = parenMarker.ReplaceAllString(text, "[$1]")
	return adjacentMarker.ReplaceAllString(text, "][")
}

// ValidationResult lists citation problems found in a report body.
type ValidationResult struct {
	Invalid []int // markers referencing indices beyond the registry
	Uncited []int // registered indices never referenced in the text
}

func (v ValidationResult) OK() bool { return len(v.Invalid) == 0 && len(v.Uncited) == 0 }

// Validate scans text for [k] markers and checks them against the
// registry size.
func (c *Citations) Validate(text string) ValidationResult {
	seen := make(map[int]bool)
	for _, m := range bracketMarker.FindAllStringSubmatch(text, -1) {
		k, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[k] = true
	}

	var result ValidationResult
	for k := range seen {
		if k < 1 || k > len(c.order) {
			result.Invalid = append(result.Invalid, k)
		}
	}
	for i := 1; i <= len(c.order); i++ {
		if !seen[i] {
			result.Uncited = append(result.Uncited, i)
		}
	}
	sort.Ints(result.Invalid)
	sort.Ints(result.Uncited)
	return result
}

// RenderReferences renders the registry as a markdown block, ordered by
// citation index.
func (c *Citations) RenderReferences() string {
	if len(c.order) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## References\n\n")
	for i, articleID := range c.order {
		a := c.articles[articleID]
		b.WriteString(fmt.Sprintf("[%d] %s", i+1, referenceLine(a)))
		if snippet := c.snippets[articleID]; snippet != "" {
			b.WriteString(fmt.Sprintf("\n    > %s", snippet))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func referenceLine(a *core.Article) string {
	parts := []string{a.Title}
	if a.Author != "" {
		parts = append(parts, a.Author)
	}
	if a.PublishTime != nil {
		parts = append(parts, a.PublishTime.UTC().Format(time.DateOnly))
	}
	parts = append(parts, a.URL)
	return strings.Join(parts, ". ")
}
