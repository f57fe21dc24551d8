package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"newsradar/internal/core"
)

const articlePage = `<!DOCTYPE html>
<html><head>
<title>Rate Cut Announced - Example News</title>
<meta property="article:tag" content="economy">
<meta property="article:tag" content="rates">
<meta name="keywords" content="inflation, central bank">
</head><body>
<h1 class="headline">Rate Cut Announced</h1>
<span class="byline">Jane Reporter</span>
<div class="article-body">
<p>The central bank announced a quarter-point rate cut on Thursday, citing easing inflation pressure across most sectors of the economy.</p>
<p>Markets rallied on the news, with the benchmark index closing up two percent.</p>
<img src="/media/chart.png">
<img src="/redirect.php?to=x">
</div>
</body></html>`

func fastScraper(client *http.Client) *Scraper {
	return New(client, Options{Timeout: 5 * time.Second, MaxRetries: 3})
}

func defaultConfig() core.ParserConfig {
	return core.ParserConfig{
		TitleSelector:   "h1.headline",
		ContentSelector: "div.article-body",
		AuthorSelector:  "span.byline",
	}
}

func TestScrapeExtractsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/news/1", defaultConfig(), 1)
	if got.Error != "" {
		t.Fatalf("unexpected error: %s", got.Error)
	}
	if got.Title != "Rate Cut Announced" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Author != "Jane Reporter" {
		t.Errorf("author = %q", got.Author)
	}
	if !strings.Contains(got.Content, "quarter-point rate cut") {
		t.Errorf("content missing body text: %q", got.Content)
	}
	if len(got.Images) != 1 || !strings.HasSuffix(got.Images[0], "/media/chart.png") {
		t.Errorf("images = %v, want only the chart", got.Images)
	}
	wantTags := []string{"economy", "rates", "inflation", "central bank"}
	if len(got.Tags) != len(wantTags) {
		t.Fatalf("tags = %v, want %v", got.Tags, wantTags)
	}
	for i, tag := range wantTags {
		if got.Tags[i] != tag {
			t.Errorf("tag %d = %q, want %q", i, got.Tags[i], tag)
		}
	}
}

func TestScrapeHonorsConfiguredEncoding(t *testing.T) {
	// "Новости" in windows-1251; the page declares no charset, so
	// sniffing alone would mojibake it as windows-1252.
	title := "\xcd\xee\xe2\xee\xf1\xf2\xe8"
	page := strings.Replace(articlePage, "Rate Cut Announced</h1>", title+"</h1>", 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.Encoding = "windows-1251"
	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/news/enc", cfg, 1)
	if got.Error != "" {
		t.Fatalf("unexpected error: %s", got.Error)
	}
	if got.Title != "Новости" {
		t.Errorf("title = %q, want decoded windows-1251 text", got.Title)
	}
}

func TestScrapePublishTimeFromMeta(t *testing.T) {
	page := strings.Replace(articlePage, "</head>",
		`<meta property="og:published_time" content="2024-05-10T08:30:00Z"></head>`, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/news/1", defaultConfig(), 1)
	want := time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)
	if got.PublishTime == nil || !got.PublishTime.Equal(want) {
		t.Errorf("publish time = %v, want %v", got.PublishTime, want)
	}
}

func TestScrapePublishTimeFromURLPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/2024/03/15/rate-cut", defaultConfig(), 1)
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if got.PublishTime == nil || !got.PublishTime.Equal(want) {
		t.Errorf("publish time from URL = %v, want %v", got.PublishTime, want)
	}
}

func TestScrape404ShortCircuits(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/gone", defaultConfig(), 1)
	if got.Error == "" {
		t.Fatal("expected error for 404")
	}
	if requests != 1 {
		t.Errorf("made %d requests, want 1 (404 must not retry)", requests)
	}
}

func TestScrape403RotatesUserAgent(t *testing.T) {
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		if len(agents) < 2 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/guarded", defaultConfig(), 1)
	if got.Error != "" {
		t.Fatalf("unexpected error: %s", got.Error)
	}
	if len(agents) != 2 {
		t.Fatalf("made %d requests, want 2", len(agents))
	}
	if agents[0] == agents[1] {
		t.Error("user agent was not rotated after 403")
	}
}

func TestScrape5xxRetriesThenFails(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/flaky", defaultConfig(), 1)
	if got.Error == "" {
		t.Fatal("expected error after exhausted retries")
	}
	if requests != 3 {
		t.Errorf("made %d requests, want 3", requests)
	}
}

func TestScrapeFallsBackToSmartExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articlePage))
	}))
	defer srv.Close()

	// Selectors that match nothing force the smart fallback.
	cfg := core.ParserConfig{TitleSelector: "h1.missing", ContentSelector: "div.missing"}
	got := fastScraper(srv.Client()).Scrape(context.Background(), srv.URL+"/news/1", cfg, 1)
	if got.Error != "" {
		t.Fatalf("unexpected error: %s", got.Error)
	}
	if !strings.Contains(got.Content, "quarter-point rate cut") {
		t.Errorf("smart fallback content = %q", got.Content)
	}
	if got.Title != "Rate Cut Announced" {
		t.Errorf("smart fallback title = %q", got.Title)
	}
}

func TestIsImageURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example.com/a/b.jpg", true},
		{"https://cdn.example.com/a/b.webp", true},
		{"https://example.com/media/12345", true},
		{"https://example.com/upload/x", true},
		{"https://example.com/page.html", false},
		{"https://example.com/view.php", false},
		{"https://example.com/about", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsImageURL(tc.url); got != tc.want {
			t.Errorf("IsImageURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
