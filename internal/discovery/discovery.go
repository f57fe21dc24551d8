// Package discovery syncs crawl sources: it checks robots.txt, resolves
// the source's sitemap set, walks each sitemap and imports new URLs as
// pending articles.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
	"newsradar/internal/robots"
	"newsradar/internal/sitemap"
)

// SyncResult summarizes one source sync.
type SyncResult struct {
	SourceID       int64    `json:"source_id"`
	RobotsStatus   string   `json:"robots_status"`
	SitemapsFound  int      `json:"sitemaps_found"`
	Imported       int      `json:"imported"`
	AlreadyPresent int      `json:"already_present"`
	FailedSitemaps []string `json:"failed_sitemaps,omitempty"`
}

// Options tunes sitemap traversal during sync.
type Options struct {
	MaxSitemapURLs int
	MaxDepth       int
}

// Service performs source discovery and URL import.
type Service struct {
	db      persistence.Database
	robots  *robots.Checker
	parser  *sitemap.Parser
	opts    Options
}

// NewService wires a discovery service. Checker and parser may be nil, in
// which case defaults are constructed.
func NewService(db persistence.Database, checker *robots.Checker, parser *sitemap.Parser, opts Options) *Service {
	if checker == nil {
		checker = robots.NewChecker(nil)
	}
	if parser == nil {
		parser = sitemap.NewParser(nil)
	}
	return &Service{db: db, robots: checker, parser: parser, opts: opts}
}

// SyncSource refreshes one source: robots check, sitemap resolution,
// incremental walk of each sitemap and import of unseen URLs as pending
// articles. Per-sitemap failures are recorded and skipped; the sync
// itself fails only when the source cannot be loaded or robots restrict
// crawling entirely.
func (s *Service) SyncSource(ctx context.Context, sourceID int64) (*SyncResult, error) {
	source, err := s.db.Sources().Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source %d: %w", sourceID, err)
	}

	check := s.robots.Check(ctx, source.BaseURL)
	source.RobotsStatus = check.Status
	if check.CrawlDelay > 0 {
		delay := int(check.CrawlDelay / time.Second)
		source.CrawlDelaySeconds = &delay
	}

	result := &SyncResult{SourceID: sourceID, RobotsStatus: check.Status}

	if check.Status == core.RobotsRestricted {
		if err := s.db.Sources().Update(ctx, source); err != nil {
			logger.Error("failed to persist robots status", err, "source_id", sourceID)
		}
		return result, fmt.Errorf("robots.txt disallows crawling %s", source.BaseURL)
	}

	sitemapURLs := s.resolveSitemapURLs(source, check.SitemapURLs)
	result.SitemapsFound = len(sitemapURLs)

	for _, smURL := range sitemapURLs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		imported, present, err := s.syncSitemap(ctx, source, smURL)
		result.Imported += imported
		result.AlreadyPresent += present
		if err != nil {
			logger.Warn("sitemap sync failed", "source_id", sourceID, "sitemap", smURL, "error", err.Error())
			result.FailedSitemaps = append(result.FailedSitemaps, smURL)
		}
	}

	source.PendingCount += int64(result.Imported)
	now := time.Now().UTC()
	source.LastCrawledAt = &now
	if err := s.db.Sources().Update(ctx, source); err != nil {
		logger.Error("failed to persist source after sync", err, "source_id", sourceID)
	}
	return result, nil
}

// resolveSitemapURLs merges robots-declared sitemaps with the source's
// configured one and falls back to the conventional /sitemap.xml when
// nothing else is known.
func (s *Service) resolveSitemapURLs(source *core.CrawlSource, fromRobots []string) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	if source.SitemapURL != "" {
		add(source.SitemapURL)
	}
	for _, u := range fromRobots {
		add(u)
	}
	if len(urls) == 0 {
		if base, err := url.Parse(source.BaseURL); err == nil {
			add(base.Scheme + "://" + base.Host + "/sitemap.xml")
		}
	}
	return urls
}

// syncSitemap walks one sitemap document incrementally (since its last
// successful fetch) and imports unseen URLs.
func (s *Service) syncSitemap(ctx context.Context, source *core.CrawlSource, smURL string) (imported, present int, err error) {
	sm, err := s.db.Sitemaps().GetByURL(ctx, smURL)
	if err != nil {
		sm = &core.Sitemap{SourceID: source.ID, URL: smURL, FetchStatus: core.SitemapPending}
		if createErr := s.db.Sitemaps().Create(ctx, sm); createErr != nil {
			return 0, 0, fmt.Errorf("failed to create sitemap row: %w", createErr)
		}
	}

	opts := sitemap.Options{
		Since:    sm.LastFetched,
		MaxDepth: s.opts.MaxDepth,
		MaxURLs:  s.opts.MaxSitemapURLs,
	}

	walkErr := s.parser.Parse(ctx, smURL, opts, func(e sitemap.Entry) error {
		if !s.robots.PathAllowed(e.Loc) {
			return nil
		}
		created, createErr := s.importEntry(ctx, source, sm, e)
		if createErr != nil {
			logger.Warn("failed to import sitemap entry", "url", e.Loc, "error", createErr.Error())
			return nil
		}
		if created {
			imported++
		} else {
			present++
		}
		return nil
	})

	now := time.Now().UTC()
	sm.LastFetched = &now
	if walkErr != nil {
		sm.FetchStatus = core.SitemapFailed
	} else {
		sm.FetchStatus = core.SitemapSuccess
		sm.ArticleCount += int64(imported)
	}
	if updateErr := s.db.Sitemaps().Update(ctx, sm); updateErr != nil {
		logger.Error("failed to persist sitemap state", updateErr, "sitemap_id", sm.ID)
	}
	return imported, present, walkErr
}

// importEntry creates a pending article for an unseen URL. Returns false
// when the URL is already pending or already fetched as an article.
func (s *Service) importEntry(ctx context.Context, source *core.CrawlSource, sm *core.Sitemap, e sitemap.Entry) (bool, error) {
	hash := core.HashURL(e.Loc)

	if exists, err := s.db.Pending().ExistsByHash(ctx, hash); err != nil {
		return false, err
	} else if exists {
		return false, nil
	}
	if exists, err := s.db.Articles().ExistsByURL(ctx, e.Loc); err != nil {
		return false, err
	} else if exists {
		return false, nil
	}

	pending := &core.PendingArticle{
		SourceID:    source.ID,
		SitemapID:   &sm.ID,
		URL:         e.Loc,
		URLHash:     hash,
		PublishTime: e.LastMod,
		Status:      core.PendingStatusPending,
	}
	if err := s.db.Pending().Create(ctx, pending); err != nil {
		return false, err
	}
	return true, nil
}
