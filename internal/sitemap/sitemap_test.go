package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"
)

const urlsetDoc = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>https://example.com/news/a</loc>
    <lastmod>2024-06-01T10:00:00Z</lastmod>
    <priority>0.8</priority>
  </url>
  <url>
    <loc>https://example.com/news/b</loc>
    <lastmod>2024-06-03T10:00:00+00:00</lastmod>
  </url>
  <url>
    <loc>https://example.com/about</loc>
  </url>
</urlset>`

func collect(t *testing.T, p *Parser, url string, opts Options) []Entry {
	t.Helper()
	var entries []Entry
	err := p.Parse(context.Background(), url, opts, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return entries
}

func TestParseBOMPrefixedUrlset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\xef\xbb\xbf" + urlsetDoc))
	}))
	defer srv.Close()

	// A leading byte-order mark must not push the document onto the
	// plain-text path.
	entries := collect(t, NewParser(srv.Client()), srv.URL+"/sitemap.xml", Options{})
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
}

func TestParseUrlset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(urlsetDoc))
	}))
	defer srv.Close()

	entries := collect(t, NewParser(srv.Client()), srv.URL+"/sitemap.xml", Options{})
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Loc != "https://example.com/news/a" {
		t.Errorf("first loc = %q", entries[0].Loc)
	}
	if entries[0].LastMod == nil || !entries[0].LastMod.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("first lastmod = %v", entries[0].LastMod)
	}
	if entries[0].Priority != 0.8 {
		t.Errorf("first priority = %f, want 0.8", entries[0].Priority)
	}
	if entries[2].LastMod != nil {
		t.Errorf("entry without lastmod should have nil LastMod")
	}
}

func TestSinceFilterNeverYieldsOldEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(urlsetDoc))
	}))
	defer srv.Close()

	since := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	entries := collect(t, NewParser(srv.Client()), srv.URL, Options{Since: &since})

	for _, e := range entries {
		if e.LastMod != nil && !e.LastMod.After(since) {
			t.Errorf("entry %s has lastmod %v at or before since %v", e.Loc, e.LastMod, since)
		}
	}
	// The dated entries split across the boundary; the undated one passes.
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2 (one newer, one undated)", len(entries))
	}
}

func TestSinceNaiveTreatedAsUTC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(urlsetDoc))
	}))
	defer srv.Close()

	loc := time.FixedZone("EET", 2*3600)
	// 2024-06-02 02:00 +02:00 == 2024-06-02 00:00 UTC
	since := time.Date(2024, 6, 2, 2, 0, 0, 0, loc)
	entries := collect(t, NewParser(srv.Client()), srv.URL, Options{Since: &since})
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestParseSitemapIndexRecursion(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/index.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>` + srv.URL + `/child.xml</loc><lastmod>2024-06-05</lastmod></sitemap>
  <sitemap><loc>` + srv.URL + `/stale.xml</loc><lastmod>2024-01-01</lastmod></sitemap>
  <sitemap><loc>` + srv.URL + `/missing.xml</loc></sitemap>
</sitemapindex>`))
	})
	mux.HandleFunc("/child.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<urlset><url><loc>https://example.com/news/c</loc><lastmod>2024-06-05T08:00:00Z</lastmod></url></urlset>`))
	})
	var staleFetched bool
	mux.HandleFunc("/stale.xml", func(w http.ResponseWriter, r *http.Request) {
		staleFetched = true
		w.Write([]byte(`<urlset><url><loc>https://example.com/news/old</loc></url></urlset>`))
	})
	mux.HandleFunc("/missing.xml", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := collect(t, NewParser(srv.Client()), srv.URL+"/index.xml", Options{Since: &since})

	if staleFetched {
		t.Error("sub-sitemap with lastmod before since should be skipped without fetching")
	}
	if len(entries) != 1 || entries[0].Loc != "https://example.com/news/c" {
		t.Errorf("entries = %v, want the single child entry", entries)
	}
}

func TestParsePlainTextList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("https://example.com/one\n\n# comment\nhttps://example.com/two\nnot a url\n"))
	}))
	defer srv.Close()

	entries := collect(t, NewParser(srv.Client()), srv.URL, Options{})
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Loc != "https://example.com/one" || entries[1].Loc != "https://example.com/two" {
		t.Errorf("entries = %v", entries)
	}
}

func TestParseGzippedSitemap(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(urlsetDoc))
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	entries := collect(t, NewParser(srv.Client()), srv.URL+"/sitemap.xml.gz", Options{})
	if len(entries) != 3 {
		t.Errorf("got %d entries from gzipped sitemap, want 3", len(entries))
	}
}

func TestIncludeExcludeFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(urlsetDoc))
	}))
	defer srv.Close()

	entries := collect(t, NewParser(srv.Client()), srv.URL, Options{
		Include: []*regexp.Regexp{regexp.MustCompile(`/news/`)},
		Exclude: []*regexp.Regexp{regexp.MustCompile(`/news/b$`)},
	})
	if len(entries) != 1 || entries[0].Loc != "https://example.com/news/a" {
		t.Errorf("entries = %v, want only /news/a", entries)
	}
}

func TestMaxURLsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(urlsetDoc))
	}))
	defer srv.Close()

	entries := collect(t, NewParser(srv.Client()), srv.URL, Options{MaxURLs: 2})
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2 under budget", len(entries))
	}
}

func TestRootFetchFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewParser(srv.Client()).Parse(context.Background(), srv.URL, Options{}, func(Entry) error { return nil })
	if err == nil {
		t.Error("expected error for unfetchable root sitemap")
	}
}

func TestParseLastModVariants(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01T10:00:00Z", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-06-01T12:00:00+02:00", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-06-01T10:00:00", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := ParseLastMod(tc.in)
		if err != nil {
			t.Errorf("ParseLastMod(%q): %v", tc.in, err)
			continue
		}
		if !got.Equal(tc.want) {
			t.Errorf("ParseLastMod(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseLastMod("last tuesday"); err == nil {
		t.Error("expected error for garbage lastmod")
	}
}
