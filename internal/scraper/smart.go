package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// smartMinContent is the smallest text the fallback will accept.
const smartMinContent = 50

// noisePattern matches class/id values of boilerplate elements.
var noisePattern = regexp.MustCompile(`(?i)\b(nav|navigation|navbar|menu|footer|sidebar|aside|ad|ads|advert|advertisement|banner|promo|comment|comments|share|sharing|social|related|recommend|breadcrumb|breadcrumbs|tag|tags|widget|subscribe|newsletter|login|signup|search|pagination|pager|copyright|cookie|popup|modal)\b`)

// jsWallPattern detects pages that only render with JavaScript.
var jsWallPattern = regexp.MustCompile(`(?i)(enable\s+javascript|javascript\s+is\s+(disabled|required)|please\s+turn\s+on\s+javascript)`)

// SmartResult is the outcome of selector-free extraction.
type SmartResult struct {
	Title   string
	Content string
}

// SmartExtract salvages a title and content from an arbitrary article
// page without site-specific selectors. Returns zero values when the
// page yields nothing usable.
func SmartExtract(doc *goquery.Document) SmartResult {
	body := doc.Find("body").Clone()
	if body.Length() == 0 {
		return SmartResult{}
	}

	body.Find("script, style, noscript, iframe, svg").Remove()
	pruneNoise(body)

	pageURL := ""
	if doc.Url != nil {
		pageURL = doc.Url.String()
	}
	content := extractSmartContent(body, pageURL)
	if !acceptableContent(content) {
		return SmartResult{Title: extractSmartTitle(doc, body)}
	}
	return SmartResult{
		Title:   extractSmartTitle(doc, body),
		Content: content,
	}
}

// pruneNoise removes every element whose class or id marks it as
// boilerplate.
func pruneNoise(root *goquery.Selection) {
	root.Find("[class], [id]").Each(func(_ int, el *goquery.Selection) {
		class, _ := el.Attr("class")
		id, _ := el.Attr("id")
		if noisePattern.MatchString(class) || noisePattern.MatchString(id) {
			el.Remove()
		}
	})
}

// extractSmartTitle walks the title preference ladder: h1, <title> with
// the site suffix stripped, og:title, then the first substantial heading.
func extractSmartTitle(doc *goquery.Document, body *goquery.Selection) string {
	if h1 := strings.TrimSpace(body.Find("h1").First().Text()); len([]rune(h1)) >= 5 {
		return h1
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return stripSiteSuffix(title)
	}

	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if og = strings.TrimSpace(og); og != "" {
			return og
		}
	}

	var heading string
	body.Find("h2, h3").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		text := strings.TrimSpace(h.Text())
		if len([]rune(text)) >= 10 {
			heading = text
			return false
		}
		return true
	})
	return heading
}

// stripSiteSuffix drops a trailing " - Site" or " | Site" segment when
// the remainder is still substantial.
func stripSiteSuffix(title string) string {
	for _, sep := range []string{" - ", " | ", " – ", " — "} {
		if idx := strings.LastIndex(title, sep); idx > 0 {
			head := strings.TrimSpace(title[:idx])
			if len([]rune(head)) >= 10 {
				return head
			}
		}
	}
	return title
}

// extractSmartContent walks the content ladder: article/main, then the
// densest div, then substantive paragraphs.
func extractSmartContent(body *goquery.Selection, pageURL string) string {
	for _, tag := range []string{"article", "main"} {
		if el := body.Find(tag).First(); el.Length() > 0 {
			if content := renderMarkdown(el, pageURL); acceptableContent(content) {
				return content
			}
		}
	}

	if best := densestDiv(body); best != nil {
		if content := renderMarkdown(best, pageURL); acceptableContent(content) {
			return content
		}
	}

	var parts []string
	body.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if len([]rune(text)) > 20 {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

// densestDiv returns the div with the most direct text content.
func densestDiv(body *goquery.Selection) *goquery.Selection {
	var best *goquery.Selection
	bestLen := 0
	body.Find("div").Each(func(_ int, div *goquery.Selection) {
		// Measure only paragraph text so wrapper divs containing the whole
		// page do not always win.
		textLen := 0
		div.ChildrenFiltered("p").Each(func(_ int, p *goquery.Selection) {
			textLen += len([]rune(strings.TrimSpace(p.Text())))
		})
		if textLen > bestLen {
			bestLen = textLen
			best = div
		}
	})
	return best
}

func acceptableContent(content string) bool {
	content = strings.TrimSpace(content)
	if len([]rune(content)) < smartMinContent {
		return false
	}
	return !jsWallPattern.MatchString(content)
}
