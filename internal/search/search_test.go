package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/core"
)

const ddgResultsPage = `<!DOCTYPE html>
<html><body>
<div class="results">
  <div class="result results_links results_links_deep web-result">
    <a class="result__a" href="/l/?uddg=https%3A%2F%2Fexample.com%2Fstory%2Fone&amp;rut=abc123">First <b>story</b></a>
    <a class="result__snippet" href="/l/?uddg=https%3A%2F%2Fexample.com%2Fstory%2Fone">Snippet about the first story.</a>
  </div>
  <div class="result results_links web-result">
    <a class="result__a" href="https://direct.example.org/two">Second story</a>
    <a class="result__snippet" href="https://direct.example.org/two">Second snippet.</a>
  </div>
  <div class="result web-result">
    <a class="result__a" href="javascript:void(0)">Broken entry</a>
  </div>
</div>
</body></html>`

func newDDGFixture(t *testing.T, handler http.HandlerFunc) *DuckDuckGoProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewDuckDuckGoProvider(5*time.Second, 0)
	p.SetBaseURL(srv.URL + "/html/")
	return p
}

func TestDuckDuckGoParsesAndUnwrapsResults(t *testing.T) {
	var gotQuery url.Values
	p := newDDGFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(ddgResultsPage))
	})

	results, err := p.Search(context.Background(), "fusion energy", Options{TimeRange: "w", Region: "us-en", MaxResults: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (entry without a usable link dropped)", len(results))
	}

	first := results[0]
	if first.URL != "https://example.com/story/one" {
		t.Errorf("redirect not unwrapped: %q", first.URL)
	}
	if first.Title != "First story" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Snippet != "Snippet about the first story." {
		t.Errorf("snippet = %q", first.Snippet)
	}
	if first.Source != "example.com" {
		t.Errorf("source = %q", first.Source)
	}
	if results[1].URL != "https://direct.example.org/two" {
		t.Errorf("direct link mangled: %q", results[1].URL)
	}

	if gotQuery.Get("q") != "fusion energy" {
		t.Errorf("query param = %q", gotQuery.Get("q"))
	}
	if gotQuery.Get("df") != "w" {
		t.Errorf("time range param = %q, want w", gotQuery.Get("df"))
	}
	if gotQuery.Get("kl") != "us-en" {
		t.Errorf("region param = %q", gotQuery.Get("kl"))
	}
}

func TestDuckDuckGoOmitsInvalidTimeRange(t *testing.T) {
	var gotQuery url.Values
	p := newDDGFixture(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(ddgResultsPage))
	})
	if _, err := p.Search(context.Background(), "q", Options{TimeRange: "forever"}); err != nil {
		t.Fatal(err)
	}
	if gotQuery.Has("df") {
		t.Errorf("df param sent for invalid time range: %q", gotQuery.Get("df"))
	}
}

func TestDuckDuckGoMaxResults(t *testing.T) {
	p := newDDGFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ddgResultsPage))
	})
	results, err := p.Search(context.Background(), "q", Options{MaxResults: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

func TestDuckDuckGoUpstreamError(t *testing.T) {
	p := newDDGFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	if _, err := p.Search(context.Background(), "q", Options{}); err == nil {
		t.Error("expected error on 500 response")
	}
}

func TestUnwrapRedirect(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/l/?uddg=https%3A%2F%2Fexample.com%2Fa%3Fx%3D1&rut=zz", "https://example.com/a?x=1"},
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fb", "https://example.com/b"},
		{"https://duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fc", "https://example.com/c"},
		{"https://example.com/direct", "https://example.com/direct"},
		{"/l/?rut=missing-target", ""},
		{"javascript:void(0)", ""},
	}
	for _, tc := range cases {
		if got := UnwrapRedirect(tc.in); got != tc.want {
			t.Errorf("UnwrapRedirect(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestServiceAppliesKeywordSettings(t *testing.T) {
	mock := NewMockProvider()
	mock.SetResults([]core.SearchResult{
		{Title: "a", URL: "https://a.example.com"},
		{Title: "b", URL: "https://b.example.com"},
		{Title: "c", URL: "https://c.example.com"},
	})
	svc := NewService(mock, config.Search{MaxResults: 2})

	results, err := svc.Search(context.Background(), core.SearchKeyword{Keyword: "quantum", TimeRange: "d"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("default max_results not applied: got %d", len(results))
	}

	results, _ = svc.Search(context.Background(), core.SearchKeyword{Keyword: "quantum", MaxResults: 3})
	if len(results) != 3 {
		t.Errorf("keyword max_results not applied: got %d", len(results))
	}
	if q := mock.Queries(); len(q) != 2 || q[0] != "quantum" {
		t.Errorf("queries = %v", q)
	}
}

func TestNewProviderFactory(t *testing.T) {
	if _, err := NewProvider(config.Search{Provider: "duckduckgo"}); err != nil {
		t.Errorf("duckduckgo: %v", err)
	}
	if _, err := NewProvider(config.Search{Provider: "google"}); err != ErrMissingAPIKey {
		t.Errorf("google without key: %v", err)
	}
	if _, err := NewProvider(config.Search{Provider: "google", APIKey: "k"}); err != ErrMissingSearchID {
		t.Errorf("google without search id: %v", err)
	}
	if _, err := NewProvider(config.Search{Provider: "serpapi", APIKey: "k"}); err != nil {
		t.Errorf("serpapi: %v", err)
	}
	if _, err := NewProvider(config.Search{Provider: "bing"}); err != ErrUnsupportedProvider {
		t.Errorf("unknown provider: %v", err)
	}
}
