// Package sitemap parses sitemap documents incrementally: XML urlsets,
// sitemap indexes (recursively), plain-text URL lists and gzipped
// variants of each. Documents are decoded token-by-token so a large
// sitemap is never held in memory.
package sitemap

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"newsradar/internal/logger"
)

// Recursion and volume bounds.
const (
	DefaultMaxDepth = 5
	DefaultMaxURLs  = 100000
)

// Entry is one URL discovered in a sitemap.
type Entry struct {
	Loc        string
	LastMod    *time.Time
	ChangeFreq string
	Priority   float64
}

// Options controls traversal and filtering.
type Options struct {
	// Since drops entries whose lastmod is at or before this instant and
	// skips sub-sitemaps whose own lastmod is at or before it. A naive
	// Since is treated as UTC.
	Since *time.Time

	// Include/Exclude regexps applied to entry locations. When Include
	// is non-empty a loc must match at least one of them.
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp

	MaxDepth int // defaults to DefaultMaxDepth
	MaxURLs  int // defaults to DefaultMaxURLs
}

// WalkFunc receives each accepted entry. Returning an error stops the
// walk and propagates the error to the caller.
type WalkFunc func(Entry) error

// Parser fetches and walks sitemap trees.
type Parser struct {
	client    *http.Client
	userAgent string
}

// NewParser creates a sitemap parser using the given HTTP client, or a
// default 30s-timeout client when nil.
func NewParser(client *http.Client) *Parser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Parser{client: client, userAgent: "NewsradarBot/1.0"}
}

// errStop is returned internally once MaxURLs entries have been emitted.
var errStop = fmt.Errorf("sitemap: url budget exhausted")

// Parse walks the sitemap at rawURL, recursing through sitemap indexes,
// and calls fn for every accepted entry. Per-URL fetch and parse errors
// are logged and skipped; only a failure to fetch the root document is
// returned as an error.
func (p *Parser) Parse(ctx context.Context, rawURL string, opts Options, fn WalkFunc) error {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = DefaultMaxURLs
	}

	state := &walkState{opts: opts, visited: make(map[string]bool), fn: fn}
	err := p.walk(ctx, rawURL, 0, state, true)
	if err == errStop {
		return nil
	}
	return err
}

type walkState struct {
	opts    Options
	visited map[string]bool
	emitted int
	fn      WalkFunc
}

func (p *Parser) walk(ctx context.Context, rawURL string, depth int, state *walkState, isRoot bool) error {
	if depth > state.opts.MaxDepth {
		logger.Warn("sitemap recursion depth exceeded", "url", rawURL, "depth", depth)
		return nil
	}
	if state.visited[rawURL] {
		return nil
	}
	state.visited[rawURL] = true

	body, err := p.fetch(ctx, rawURL)
	if err != nil {
		if isRoot {
			return fmt.Errorf("failed to fetch sitemap %s: %w", rawURL, err)
		}
		logger.Warn("sub-sitemap fetch failed, skipping", "url", rawURL, "error", err.Error())
		return nil
	}
	defer body.Close()

	reader := bufio.NewReader(body)
	head, _ := reader.Peek(512)
	if looksLikeXML(head) {
		return p.walkXML(ctx, rawURL, reader, depth, state, isRoot)
	}
	return p.walkTextList(rawURL, reader, state)
}

// fetch retrieves the document, transparently decompressing gzip when
// the URL ends in .gz or the response says so.
func (p *Parser) fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, text/plain, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	gzipped := strings.HasSuffix(strings.ToLower(resp.Request.URL.Path), ".gz") ||
		strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") ||
		strings.Contains(resp.Header.Get("Content-Type"), "gzip")
	if !gzipped {
		// Sniff the magic bytes as a fallback; some hosts mislabel.
		br := bufio.NewReader(resp.Body)
		if magic, err := br.Peek(2); err == nil && len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
			gzipped = true
		}
		if !gzipped {
			return &readCloser{Reader: br, closer: resp.Body}, nil
		}
		gz, err := gzip.NewReader(br)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip open failed: %w", err)
		}
		return &readCloser{Reader: gz, closer: resp.Body}, nil
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("gzip open failed: %w", err)
	}
	return &readCloser{Reader: gz, closer: resp.Body}, nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (rc *readCloser) Close() error { return rc.closer.Close() }

func looksLikeXML(head []byte) bool {
	trimmed := strings.TrimLeft(string(head), " \t\r\n\uFEFF")
	return strings.HasPrefix(trimmed, "<")
}

// node accumulates the child text of one <url> or <sitemap> element.
type node struct {
	loc        string
	lastmod    string
	changefreq string
	priority   string
}

// walkXML streams the XML token-by-token. It handles both urlset leaves
// and sitemapindex documents; child sitemaps recurse.
func (p *Parser) walkXML(ctx context.Context, rawURL string, r io.Reader, depth int, state *walkState, isRoot bool) error {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false

	var (
		inIndex   bool
		current   *node
		field     string
		children  []string // sub-sitemap URLs, walked after decoding finishes
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isRoot && current == nil && !inIndex && len(children) == 0 {
				return fmt.Errorf("failed to parse sitemap %s: %w", rawURL, err)
			}
			logger.Warn("sitemap XML truncated, keeping parsed entries", "url", rawURL, "error", err.Error())
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sitemapindex":
				inIndex = true
			case "url", "sitemap":
				current = &node{}
			case "loc", "lastmod", "changefreq", "priority":
				field = t.Name.Local
			}
		case xml.CharData:
			if current == nil || field == "" {
				continue
			}
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch field {
			case "loc":
				current.loc += text
			case "lastmod":
				current.lastmod += text
			case "changefreq":
				current.changefreq += text
			case "priority":
				current.priority += text
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "loc", "lastmod", "changefreq", "priority":
				field = ""
			case "sitemap":
				if current != nil && current.loc != "" {
					if p.subSitemapEligible(current, state) {
						children = append(children, current.loc)
					}
				}
				current = nil
			case "url":
				if current != nil && current.loc != "" {
					if err := state.emit(current); err != nil {
						return err
					}
				}
				current = nil
			}
		}
	}

	if inIndex {
		for _, child := range children {
			if err := p.walk(ctx, child, depth+1, state, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// subSitemapEligible applies the incremental filter to an index child:
// a sub-sitemap whose lastmod is at or before Since has nothing new.
func (p *Parser) subSitemapEligible(n *node, state *walkState) bool {
	if state.opts.Since == nil || n.lastmod == "" {
		return true
	}
	lastmod, err := ParseLastMod(n.lastmod)
	if err != nil {
		return true
	}
	return lastmod.After(normalizeSince(*state.opts.Since))
}

// walkTextList treats the document as a plain-text URL list, one per line.
func (p *Parser) walkTextList(rawURL string, r io.Reader, state *walkState) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := url.ParseRequestURI(line); err != nil {
			continue
		}
		if err := state.emit(&node{loc: line}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("sitemap text list truncated", "url", rawURL, "error", err.Error())
	}
	return nil
}

// emit applies filters and forwards the entry to the callback.
func (s *walkState) emit(n *node) error {
	if s.emitted >= s.opts.MaxURLs {
		return errStop
	}

	entry := Entry{Loc: n.loc, ChangeFreq: n.changefreq}
	if n.lastmod != "" {
		if t, err := ParseLastMod(n.lastmod); err == nil {
			entry.LastMod = &t
		} else {
			logger.Debug("unparseable lastmod, keeping entry", "loc", n.loc, "lastmod", n.lastmod)
		}
	}
	if n.priority != "" {
		if v, err := strconv.ParseFloat(n.priority, 64); err == nil {
			entry.Priority = v
		}
	}

	if s.opts.Since != nil && entry.LastMod != nil {
		if !entry.LastMod.After(normalizeSince(*s.opts.Since)) {
			return nil
		}
	}
	if len(s.opts.Include) > 0 && !matchesAny(s.opts.Include, entry.Loc) {
		return nil
	}
	if matchesAny(s.opts.Exclude, entry.Loc) {
		return nil
	}

	s.emitted++
	return s.fn(entry)
}

func matchesAny(patterns []*regexp.Regexp, loc string) bool {
	for _, p := range patterns {
		if p.MatchString(loc) {
			return true
		}
	}
	return false
}

// lastmod layouts tried in order after RFC-3339.
var lastModLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseLastMod parses a sitemap lastmod value. RFC-3339 values keep
// their offset (a bare Z is +00:00); naive datetimes are assumed UTC.
// The result is always in UTC.
func ParseLastMod(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range lastModLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized lastmod %q", value)
}

// normalizeSince treats a naive since as UTC before comparison.
func normalizeSince(t time.Time) time.Time {
	return t.UTC()
}
