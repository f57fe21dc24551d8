// Package scraper fetches article pages and extracts structured content.
// Extraction is selector-driven per source, with a selector-free smart
// fallback when a site's layout has drifted.
package scraper

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"newsradar/internal/core"
	"newsradar/internal/logger"
)

const (
	// minContentChars is the floor below which selector extraction is
	// considered failed and the smart fallback runs.
	minContentChars = 100

	maxImages = 20
	maxTags   = 10
)

// userAgents is the rotation pool: current desktop and mobile browsers.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
}

// Options tunes scraper behaviour.
type Options struct {
	Timeout    time.Duration // total per-scrape timeout, default 30s
	MaxRetries int           // attempts per URL, default 3
}

// Scraper fetches and extracts articles. Safe for concurrent use.
type Scraper struct {
	client *http.Client
	opts   Options
}

// New creates a scraper. A nil client gets a default with redirects
// enabled and the configured timeout.
func New(client *http.Client, opts Options) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Scraper{client: client, opts: opts}
}

// Scrape fetches url and extracts an article using the source's parser
// config. It never panics and never returns an error value; failures
// populate the Error field of the result.
func (s *Scraper) Scrape(ctx context.Context, rawURL string, cfg core.ParserConfig, sourceID int64) (result *core.ScrapedArticle) {
	result = &core.ScrapedArticle{URL: rawURL}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scrape panicked", fmt.Errorf("%v", r), "url", rawURL)
			result.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	doc, err := s.fetchDocument(ctx, rawURL, cfg.Encoding)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	s.extract(doc, rawURL, cfg, result)
	return result
}

// fetchDocument retrieves the page with retries and parses it into a
// goquery document. A configured encoding overrides the declared charset.
func (s *Scraper) fetchDocument(ctx context.Context, rawURL, encoding string) (*goquery.Document, error) {
	uaIndex := rand.Intn(len(userAgents))

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, &core.ParseError{URL: rawURL, Err: err}
		}
		setBrowserHeaders(req, userAgents[uaIndex%len(userAgents)])

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("network error: %w", err)
			sleepCtx(ctx, time.Duration(attempt)*time.Second)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			reader := decodeBody(resp.Body, resp.Header.Get("Content-Type"), encoding)
			doc, err := goquery.NewDocumentFromReader(reader)
			resp.Body.Close()
			if err != nil {
				return nil, &core.ParseError{URL: rawURL, Err: err}
			}
			return doc, nil

		case resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			lastErr = &core.UpstreamError{Status: resp.StatusCode, URL: rawURL}
			uaIndex++ // rotate identity before retrying
			sleepCtx(ctx, time.Second)

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, &core.UpstreamError{Status: resp.StatusCode, URL: rawURL}

		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = &core.UpstreamError{Status: resp.StatusCode, URL: rawURL}
			sleepCtx(ctx, time.Duration(attempt)*time.Second)

		default:
			resp.Body.Close()
			return nil, &core.UpstreamError{Status: resp.StatusCode, URL: rawURL}
		}
	}
	return nil, lastErr
}

// decodeBody converts the response body to UTF-8. A non-empty configured
// encoding takes precedence over Content-Type sniffing; an unknown label
// falls back to sniffing, and an undetectable charset to the raw bytes.
func decodeBody(body io.Reader, contentType, encoding string) io.Reader {
	if encoding != "" {
		if r, err := charset.NewReaderLabel(encoding, body); err == nil {
			return r
		}
		logger.Warn("unknown configured encoding, sniffing instead", "encoding", encoding)
	}
	if r, err := charset.NewReader(body, contentType); err == nil {
		return r
	}
	return body
}

func setBrowserHeaders(req *http.Request, ua string) {
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,zh-CN;q=0.8,ru;q=0.7")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// extract pulls every article field out of the parsed document.
func (s *Scraper) extract(doc *goquery.Document, pageURL string, cfg core.ParserConfig, result *core.ScrapedArticle) {
	result.Title = strings.TrimSpace(selectFirstText(doc, cfg.TitleSelector))
	result.Author = strings.TrimSpace(selectFirstText(doc, cfg.AuthorSelector))

	contentSel := selectFirst(doc, cfg.ContentSelector)
	if contentSel != nil {
		result.Content = renderMarkdown(contentSel, pageURL)
	}

	// Smart fallback when selectors produced little or nothing.
	if len([]rune(result.Content)) < minContentChars {
		smart := SmartExtract(doc)
		if smart.Content != "" {
			result.Content = smart.Content
			if result.Title == "" {
				result.Title = smart.Title
			}
		}
	}

	if cfg.PublishTimeSelector != "" {
		if raw := strings.TrimSpace(selectFirstText(doc, cfg.PublishTimeSelector)); raw != "" {
			if t, err := ParseFlexibleTime(raw); err == nil {
				result.PublishTime = &t
			}
		}
	}
	if result.PublishTime == nil {
		result.PublishTime = ExtractTime(doc, pageURL)
	}

	scope := doc.Selection
	if contentSel != nil {
		scope = contentSel
	}
	result.Images = collectImages(scope, pageURL)
	result.Tags = collectTags(doc)

	if result.Content == "" {
		result.Error = (&core.ParseError{URL: pageURL, Err: fmt.Errorf("no content extracted")}).Error()
	}
}

// selectFirst tries each comma-separated selector in order and returns
// the first non-empty selection.
func selectFirst(doc *goquery.Document, selector string) *goquery.Selection {
	for _, part := range strings.Split(selector, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sel := doc.Find(part)
		if sel.Length() > 0 && strings.TrimSpace(sel.Text()) != "" {
			return sel.First()
		}
	}
	return nil
}

func selectFirstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	sel := selectFirst(doc, selector)
	if sel == nil {
		return ""
	}
	// Prefer machine-readable attributes when present (meta/time tags).
	if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if v, ok := sel.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return sel.Text()
}

// renderMarkdown converts the selected HTML subtree to Markdown,
// dropping images whose src fails the image-URL heuristic first.
func renderMarkdown(sel *goquery.Selection, pageURL string) string {
	clone := sel.Clone()
	clone.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if !IsImageURL(absoluteURL(src, pageURL)) {
			img.Remove()
		}
	})
	clone.Find("script, style, noscript").Remove()

	if len(clone.Nodes) == 0 {
		return ""
	}
	md, err := htmltomarkdown.ConvertNode(clone.Nodes[0])
	if err != nil {
		logger.Debug("markdown conversion failed, using plain text", "url", pageURL, "error", err.Error())
		return strings.TrimSpace(clone.Text())
	}
	return strings.TrimSpace(string(md))
}

// collectImages gathers absolute image URLs from <img src> and
// <picture><source srcset>, deduplicated and capped.
func collectImages(scope *goquery.Selection, pageURL string) []string {
	seen := make(map[string]bool)
	var images []string
	add := func(raw string) {
		if len(images) >= maxImages {
			return
		}
		abs := absoluteURL(strings.TrimSpace(raw), pageURL)
		if abs == "" || seen[abs] || !IsImageURL(abs) {
			return
		}
		seen[abs] = true
		images = append(images, abs)
	}

	scope.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			add(src)
		}
	})
	scope.Find("picture source").Each(func(_ int, source *goquery.Selection) {
		srcset, ok := source.Attr("srcset")
		if !ok {
			return
		}
		// srcset: comma-separated "url [descriptor]" candidates.
		for _, candidate := range strings.Split(srcset, ",") {
			fields := strings.Fields(strings.TrimSpace(candidate))
			if len(fields) > 0 {
				add(fields[0])
			}
		}
	})
	return images
}

// collectTags extracts up to maxTags tags from article:tag metas and the
// keywords meta.
func collectTags(doc *goquery.Document) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(raw string) {
		tag := strings.TrimSpace(raw)
		if tag == "" || len(tags) >= maxTags {
			return
		}
		key := strings.ToLower(tag)
		if seen[key] {
			return
		}
		seen[key] = true
		tags = append(tags, tag)
	}

	doc.Find(`meta[property="article:tag"]`).Each(func(_ int, meta *goquery.Selection) {
		if v, ok := meta.Attr("content"); ok {
			add(v)
		}
	})
	doc.Find(`meta[name="keywords"]`).Each(func(_ int, meta *goquery.Selection) {
		if v, ok := meta.Attr("content"); ok {
			for _, kw := range strings.Split(v, ",") {
				add(kw)
			}
		}
	})
	return tags
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".avif": true, ".svg": true, ".bmp": true,
}

var imagePathHints = []string{"/image", "/img", "/photo", "/upload", "/media", "/static"}

var nonImageExtensions = map[string]bool{
	".html": true, ".htm": true, ".php": true, ".aspx": true, ".jsp": true,
}

// IsImageURL reports whether a URL plausibly points at an image: a known
// image extension, or an image-ish path segment, and never a page-script
// extension.
func IsImageURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if nonImageExtensions[ext] {
		return false
	}
	if imageExtensions[ext] {
		return true
	}
	lower := strings.ToLower(u.Path)
	for _, hint := range imagePathHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// absoluteURL resolves raw against the page URL; already-absolute URLs
// pass through. Returns "" for unusable inputs.
func absoluteURL(raw, pageURL string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
