// Package robots fetches and evaluates robots.txt for crawl sources.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"newsradar/internal/core"
	"newsradar/internal/logger"
)

// cacheTTL bounds how long a parsed robots.txt is reused.
const cacheTTL = 1 * time.Hour

// DefaultUserAgent identifies the crawler to remote sites.
const DefaultUserAgent = "NewsradarBot/1.0"

// Result is the outcome of a robots.txt check.
type Result struct {
	Status      string // core.Robots* value
	Allowed     bool
	CrawlDelay  time.Duration
	SitemapURLs []string
	Err         string
}

type cacheEntry struct {
	result    Result
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Checker fetches robots.txt with a TTL cache. Safe for concurrent use.
type Checker struct {
	client    *http.Client
	userAgent string
	mu        sync.Mutex
	cache     map[string]*cacheEntry
}

// NewChecker creates a robots checker using the given HTTP client, or a
// default 30s-timeout client when nil.
func NewChecker(client *http.Client) *Checker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Checker{
		client:    client,
		userAgent: DefaultUserAgent,
		cache:     make(map[string]*cacheEntry),
	}
}

// Check fetches and evaluates robots.txt for the site at baseURL. A 404
// means the site is unrestricted: allowed, no delay, no sitemaps. Other
// network failures yield status error; the caller decides whether to
// proceed. Every Sitemap directive is returned with relative URLs
// resolved against the base.
func (c *Checker) Check(ctx context.Context, baseURL string) Result {
	base, err := url.Parse(baseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return Result{Status: core.RobotsError, Err: fmt.Sprintf("invalid base URL %q", baseURL)}
	}
	origin := base.Scheme + "://" + base.Host

	c.mu.Lock()
	if entry, ok := c.cache[origin]; ok && time.Since(entry.fetchedAt) < cacheTTL {
		c.mu.Unlock()
		return entry.result
	}
	c.mu.Unlock()

	result, data := c.fetch(ctx, origin, base)

	c.mu.Lock()
	c.cache[origin] = &cacheEntry{result: result, data: data, fetchedAt: time.Now()}
	c.mu.Unlock()
	return result
}

// PathAllowed reports whether the crawler may fetch the given URL. It
// consults the cached robots data; URLs on unchecked or errored origins
// are allowed.
func (c *Checker) PathAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	origin := u.Scheme + "://" + u.Host

	c.mu.Lock()
	entry, ok := c.cache[origin]
	c.mu.Unlock()
	if !ok || entry.data == nil {
		return true
	}
	return entry.data.TestAgent(u.Path, c.userAgent)
}

// Invalidate drops the cached robots data for an origin.
func (c *Checker) Invalidate(baseURL string) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return
	}
	origin := u.Scheme + "://" + u.Host
	c.mu.Lock()
	delete(c.cache, origin)
	c.mu.Unlock()
}

func (c *Checker) fetch(ctx context.Context, origin string, base *url.URL) (Result, *robotstxt.RobotsData) {
	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return Result{Status: core.RobotsError, Err: err.Error()}, nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("robots.txt fetch failed", "url", robotsURL, "error", err.Error())
		return Result{Status: core.RobotsError, Err: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{Status: core.RobotsNotFound, Allowed: true}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Status: core.RobotsError, Err: err.Error()}, nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return Result{Status: core.RobotsError, Err: err.Error()}, nil
	}

	group := data.FindGroup(c.userAgent)
	allowed := data.TestAgent("/", c.userAgent)

	result := Result{
		Allowed:     allowed,
		CrawlDelay:  group.CrawlDelay,
		SitemapURLs: resolveSitemaps(data.Sitemaps, base),
	}
	if allowed {
		result.Status = core.RobotsCompliant
	} else {
		result.Status = core.RobotsRestricted
	}
	return result, data
}

// resolveSitemaps resolves each Sitemap directive against the base URL
// and drops malformed entries.
func resolveSitemaps(sitemaps []string, base *url.URL) []string {
	var resolved []string
	seen := make(map[string]bool)
	for _, sm := range sitemaps {
		sm = strings.TrimSpace(sm)
		if sm == "" {
			continue
		}
		ref, err := url.Parse(sm)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			resolved = append(resolved, abs)
		}
	}
	return resolved
}
