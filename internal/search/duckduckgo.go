package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"newsradar/internal/core"
	"newsradar/internal/logger"
)

const duckduckgoHTML = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider scrapes the HTML endpoint. No API key needed, but
// the endpoint rate-limits aggressively and wraps result links in
// redirect URLs that must be unwrapped.
type DuckDuckGoProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
	rateLimit time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

func NewDuckDuckGoProvider(timeout, rateLimit time.Duration) *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		client:    &http.Client{Timeout: timeout},
		baseURL:   duckduckgoHTML,
		userAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		rateLimit: rateLimit,
	}
}

func (d *DuckDuckGoProvider) Name() string { return "DuckDuckGo" }

// SetBaseURL overrides the endpoint, for tests.
func (d *DuckDuckGoProvider) SetBaseURL(raw string) { d.baseURL = raw }

func (d *DuckDuckGoProvider) Search(ctx context.Context, query string, opts Options) ([]core.SearchResult, error) {
	d.throttle()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.buildSearchURL(query, opts), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &core.UpstreamError{Status: resp.StatusCode, URL: d.baseURL}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	if blocked(doc) {
		return nil, fmt.Errorf("search blocked by captcha: %w", ErrProviderUnavailable)
	}

	results := d.parseResults(doc, opts.MaxResults)
	logger.Info("duckduckgo search completed", "query", query, "results", len(results))
	return results, nil
}

// throttle spaces calls at least rateLimit apart.
func (d *DuckDuckGoProvider) throttle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if elapsed := time.Since(d.lastCall); elapsed < d.rateLimit {
		time.Sleep(d.rateLimit - elapsed)
	}
	d.lastCall = time.Now()
}

func (d *DuckDuckGoProvider) buildSearchURL(query string, opts Options) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("b", "0")
	switch opts.TimeRange {
	case "d", "w", "m", "y":
		params.Set("df", opts.TimeRange)
	}
	if opts.Region != "" {
		params.Set("kl", opts.Region)
	}
	return d.baseURL + "?" + params.Encode()
}

func (d *DuckDuckGoProvider) parseResults(doc *goquery.Document, maxResults int) []core.SearchResult {
	var results []core.SearchResult
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		link := sel.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		finalURL := UnwrapRedirect(href)
		if finalURL == "" {
			return true
		}
		results = append(results, core.SearchResult{
			Title:   strings.TrimSpace(link.Text()),
			URL:     finalURL,
			Snippet: strings.TrimSpace(sel.Find(".result__snippet").First().Text()),
			Source:  domainOf(finalURL),
		})
		return true
	})
	return results
}

// UnwrapRedirect resolves DuckDuckGo's redirect links, which look like
// /l/?uddg=https%3A%2F%2Fexample.com%2F...&rut=..., to the target URL.
// Direct http(s) links pass through unchanged.
func UnwrapRedirect(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if parsed, err := url.Parse(raw); err == nil && strings.Contains(parsed.Path, "/l/") {
			if target := parsed.Query().Get("uddg"); target != "" {
				return decodeTarget(target)
			}
		}
		return raw
	}
	if strings.HasPrefix(raw, "//") {
		return UnwrapRedirect("https:" + raw)
	}
	if strings.HasPrefix(raw, "/l/?") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		if target := parsed.Query().Get("uddg"); target != "" {
			return decodeTarget(target)
		}
	}
	return ""
}

func decodeTarget(target string) string {
	decoded, err := url.QueryUnescape(target)
	if err != nil {
		return ""
	}
	if !strings.HasPrefix(decoded, "http") {
		return ""
	}
	return decoded
}

func blocked(doc *goquery.Document) bool {
	body := strings.ToLower(doc.Find("body").Text())
	return strings.Contains(body, "captcha") || strings.Contains(body, "unusual traffic")
}

func domainOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}
