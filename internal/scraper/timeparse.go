package scraper

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
)

// jsonLDMaxDepth bounds the recursive walk of ld+json payloads.
const jsonLDMaxDepth = 5

// jsonLDDateKeys are accepted in walk order preference.
var jsonLDDateKeys = []string{
	"datePublished", "dateModified", "dateCreated",
	"publishDate", "uploadDate", "publicationDate", "date",
}

// metaTimeSelectors are tried in order; all yield a content attribute.
var metaTimeSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="og:published_time"]`,
	`meta[itemprop="datePublished"]`,
	`meta[itemprop="dateCreated"]`,
	`meta[name="pubdate"]`,
	`meta[name="publish_date"]`,
	`meta[name="publishdate"]`,
	`meta[name="DC.date"]`,
	`meta[name="DC.date.issued"]`,
	`meta[name="DC.Date"]`,
	`meta[name="twitter:created_at"]`,
}

// urlDatePatterns extract dates from URL paths. Ordered from most to
// least specific.
var urlDatePatterns = []struct {
	re     *regexp.Regexp
	layout string // order of captures: y=year m=month d=day
}{
	{regexp.MustCompile(`/(\d{4})/(\d{1,2})/(\d{1,2})/`), "ymd"},
	{regexp.MustCompile(`/(\d{4})-(\d{1,2})-(\d{1,2})/`), "ymd"},
	{regexp.MustCompile(`/(\d{4})(\d{2})(\d{2})/`), "ymd"},
	{regexp.MustCompile(`/(\d{1,2})/(\d{1,2})/(\d{4})/`), "dmy"},
	{regexp.MustCompile(`/(\d{4})/(\d{1,2})/`), "ym"},
}

// publishKeywords per language locate the element carrying the publish
// date in body text.
var publishKeywords = []string{
	// zh
	"发布时间", "发布日期", "发表时间", "发表于",
	// ru
	"Опубликовано", "Дата публикации",
	// kk
	"Жарияланған", "Жарияланды",
	// en
	"Published", "Posted on",
}

// isoInTextPattern finds an ISO-ish datetime inside arbitrary text.
var isoInTextPattern = regexp.MustCompile(`\d{4}[-/年]\d{1,2}[-/月]\d{1,2}日?([ T]\d{1,2}:\d{2}(:\d{2})?)?`)

// ExtractTime walks the publish-time ladder: JSON-LD, meta tags, URL
// path, then a keyword scan of body text. Returns nil when nothing
// parses; results are always UTC.
func ExtractTime(doc *goquery.Document, pageURL string) *time.Time {
	if t := timeFromJSONLD(doc); t != nil {
		return t
	}
	if t := timeFromMeta(doc); t != nil {
		return t
	}
	if t := timeFromURL(pageURL); t != nil {
		return t
	}
	return timeFromBodyText(doc)
}

func timeFromJSONLD(doc *goquery.Document) *time.Time {
	var found *time.Time
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, script *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(script.Text()), &payload); err != nil {
			return true
		}
		if raw := findDateValue(payload, 0); raw != "" {
			if t, err := ParseFlexibleTime(raw); err == nil {
				found = &t
				return false
			}
		}
		return true
	})
	return found
}

// findDateValue walks an unmarshalled JSON value looking for the first
// known date key.
func findDateValue(v any, depth int) string {
	if depth > jsonLDMaxDepth {
		return ""
	}
	switch val := v.(type) {
	case map[string]any:
		for _, key := range jsonLDDateKeys {
			if raw, ok := val[key].(string); ok && raw != "" {
				return raw
			}
		}
		for _, child := range val {
			if raw := findDateValue(child, depth+1); raw != "" {
				return raw
			}
		}
	case []any:
		for _, child := range val {
			if raw := findDateValue(child, depth+1); raw != "" {
				return raw
			}
		}
	}
	return ""
}

func timeFromMeta(doc *goquery.Document) *time.Time {
	for _, selector := range metaTimeSelectors {
		content, ok := doc.Find(selector).First().Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			continue
		}
		if t, err := ParseFlexibleTime(content); err == nil {
			return &t
		}
	}
	// <time datetime=...> elements double as machine-readable sources.
	if datetime, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, err := ParseFlexibleTime(datetime); err == nil {
			return &t
		}
	}
	return nil
}

func timeFromURL(pageURL string) *time.Time {
	for _, pattern := range urlDatePatterns {
		m := pattern.re.FindStringSubmatch(pageURL)
		if m == nil {
			continue
		}
		var year, month, day int
		switch pattern.layout {
		case "ymd":
			year, _ = strconv.Atoi(m[1])
			month, _ = strconv.Atoi(m[2])
			day, _ = strconv.Atoi(m[3])
		case "dmy":
			day, _ = strconv.Atoi(m[1])
			month, _ = strconv.Atoi(m[2])
			year, _ = strconv.Atoi(m[3])
		case "ym":
			year, _ = strconv.Atoi(m[1])
			month, _ = strconv.Atoi(m[2])
			day = 1
		}
		if year <= 2000 || year >= 2100 || month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}

func timeFromBodyText(doc *goquery.Document) *time.Time {
	var found *time.Time
	doc.Find("span, div, p, time, em, i").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := el.Text()
		if len(text) > 200 {
			return true
		}
		for _, kw := range publishKeywords {
			if !strings.Contains(text, kw) {
				continue
			}
			if iso := isoInTextPattern.FindString(text); iso != "" {
				if t, err := ParseFlexibleTime(iso); err == nil {
					found = &t
					return false
				}
			}
			// Natural-language remainder after the keyword label.
			candidate := strings.TrimSpace(strings.TrimLeft(strings.SplitN(text, kw, 2)[1], ":： \t"))
			if t, err := ParseFlexibleTime(candidate); err == nil {
				found = &t
				return false
			}
		}
		return true
	})
	return found
}

// flexibleLayouts supplement dateparse for CJK-style dates it does not
// understand.
var flexibleLayouts = []string{
	"2006年01月02日 15:04:05",
	"2006年01月02日 15:04",
	"2006年01月02日",
	"2006年1月2日 15:04",
	"2006年1月2日",
}

var cjkDateNormalizer = strings.NewReplacer("年", "-", "月", "-", "日", "")

// ParseFlexibleTime parses a timestamp in any commonly seen format and
// normalizes it to UTC. Naive values are assumed UTC.
func ParseFlexibleTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range flexibleLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	if strings.ContainsAny(value, "年月日") {
		normalized := strings.TrimSpace(cjkDateNormalizer.Replace(value))
		if t, err := dateparse.ParseIn(normalized, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := dateparse.ParseIn(value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable time %q: %w", value, err)
	}
	return t.UTC(), nil
}
