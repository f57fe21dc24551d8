package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/discovery"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
	"newsradar/internal/simhash"
)

// Task types handled by the built-in executors.
const (
	TypeSitemapSync           = "sitemap_sync"
	TypeCrawlPending          = "crawl_pending"
	TypeRetryFailed           = "retry_failed"
	TypeCleanupLowQuality     = "cleanup_low_quality"
	TypeScheduleKeywordSearch = "schedule_keyword_search"
)

const (
	defaultCrawlLimit = 10
	defaultRetryLimit = 50

	// Low-quality window: publish times outside now ± 1 year are bogus.
	qualityTimeWindow = 365 * 24 * time.Hour

	minArticleContent = 50
)

// SourceSyncer is the slice of the discovery service the executors use.
type SourceSyncer interface {
	SyncSource(ctx context.Context, sourceID int64) (*discovery.SyncResult, error)
}

// ArticleScraper fetches one article page.
type ArticleScraper interface {
	Scrape(ctx context.Context, url string, cfg core.ParserConfig, sourceID int64) *core.ScrapedArticle
}

// KeywordSearcher runs one stored keyword against the search backend.
type KeywordSearcher interface {
	Search(ctx context.Context, kw core.SearchKeyword) ([]core.SearchResult, error)
}

// ExecutorDeps carries the collaborators of the built-in executors.
type ExecutorDeps struct {
	DB         persistence.Database
	Discovery  SourceSyncer
	Scraper    ArticleScraper
	Search     KeywordSearcher
	CrawlDelay time.Duration // politeness pause between article fetches
}

// RegisterDefaults wires the built-in executor catalogue into a manager.
func RegisterDefaults(m *Manager, deps ExecutorDeps) {
	m.Register(TypeSitemapSync, sitemapSyncExecutor(deps))
	m.Register(TypeCrawlPending, crawlPendingExecutor(deps))
	m.Register(TypeRetryFailed, retryFailedExecutor(deps))
	m.Register(TypeCleanupLowQuality, cleanupLowQualityExecutor(deps))
	m.Register(TypeScheduleKeywordSearch, keywordSearchExecutor(deps))
}

// sitemapSyncExecutor delegates to discovery and summarizes the import.
func sitemapSyncExecutor(deps ExecutorDeps) Executor {
	return ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		sourceID, err := paramInt64(task.Params, "source_id")
		if err != nil {
			return nil, err
		}
		if cb.Cancelled() {
			return nil, core.ErrCancelled
		}

		cb.Event(core.EventInfo, map[string]any{"message": "starting sitemap sync", "source_id": sourceID})
		result, err := deps.Discovery.SyncSource(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		cb.Progress(1, 1, "sitemap sync finished", nil)
		return map[string]any{
			"sitemaps_found":  result.SitemapsFound,
			"imported":        result.Imported,
			"already_present": result.AlreadyPresent,
			"failed_sitemaps": result.FailedSitemaps,
		}, nil
	})
}

// crawlPendingExecutor drains pending URLs per enabled source, scraping
// each and promoting successes to articles.
func crawlPendingExecutor(deps ExecutorDeps) Executor {
	return ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		limit := paramInt64Default(task.Params, "limit_per_source", defaultCrawlLimit)

		sources, err := deps.DB.Sources().ListEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list enabled sources: %w", err)
		}

		perSource := make(map[string]any)
		var crawled, failed int
		done := 0
		total := len(sources)

		for _, source := range sources {
			if cb.Cancelled() {
				return resultCounts(crawled, failed, perSource), core.ErrCancelled
			}

			rows, err := deps.DB.Pending().ListForCrawl(ctx, source.ID, int(limit))
			if err != nil {
				logger.Error("failed to list pending rows", err, "source_id", source.ID)
				continue
			}

			var srcOK, srcFail int
			for _, row := range rows {
				if cb.Cancelled() {
					// Reset the in-flight row so it is retried later.
					_ = deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusFailed)
					perSource[source.SiteName] = map[string]any{"crawled": srcOK, "failed": srcFail}
					return resultCounts(crawled, failed, perSource), core.ErrCancelled
				}
				if crawlOne(ctx, deps, source, row) {
					srcOK++
					crawled++
				} else {
					srcFail++
					failed++
				}
				politenessPause(ctx, deps.CrawlDelay, source.CrawlDelaySeconds)
			}

			perSource[source.SiteName] = map[string]any{"crawled": srcOK, "failed": srcFail}
			done++
			cb.Progress(done, total, fmt.Sprintf("crawled %s", source.SiteName), map[string]any{"per_source": perSource})
		}
		return resultCounts(crawled, failed, perSource), nil
	})
}

// crawlOne scrapes a single pending row. Returns true on success.
func crawlOne(ctx context.Context, deps ExecutorDeps, source core.CrawlSource, row core.PendingArticle) bool {
	if err := deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusCrawling); err != nil {
		logger.Error("failed to mark pending row crawling", err, "pending_id", row.ID)
		return false
	}

	scraped := deps.Scraper.Scrape(ctx, row.URL, source.ParserConfig, source.ID)
	if scraped.Error != "" {
		_ = deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusFailed)
		return false
	}

	article := articleFromScrape(scraped, source.ID)
	if err := deps.DB.Articles().Create(ctx, article); err != nil {
		// A conflicting article means the URL is already fetched; the
		// pending row is done either way.
		if !errors.Is(err, core.ErrConflict) {
			logger.Error("failed to create article", err, "url", row.URL)
			_ = deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusFailed)
			return false
		}
	}
	_ = deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusCompleted)
	return true
}

// retryFailedExecutor gives failed pending rows one more attempt, then
// abandons them.
func retryFailedExecutor(deps ExecutorDeps) Executor {
	return ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		limit := paramInt64Default(task.Params, "limit", defaultRetryLimit)

		rows, err := deps.DB.Pending().ListByStatus(ctx, core.PendingStatusFailed, int(limit))
		if err != nil {
			return nil, fmt.Errorf("failed to list failed pending rows: %w", err)
		}

		var recovered, abandoned int
		for i, row := range rows {
			if cb.Cancelled() {
				return map[string]any{"recovered": recovered, "abandoned": abandoned}, core.ErrCancelled
			}

			source, err := deps.DB.Sources().Get(ctx, row.SourceID)
			if err != nil {
				logger.Warn("failed pending row has no source, abandoning", "pending_id", row.ID)
				_ = deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusAbandoned)
				abandoned++
				continue
			}

			if crawlOne(ctx, deps, *source, row) {
				recovered++
			} else {
				_ = deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusAbandoned)
				abandoned++
			}
			cb.Progress(i+1, len(rows), "", nil)
			politenessPause(ctx, deps.CrawlDelay, source.CrawlDelaySeconds)
		}
		return map[string]any{"recovered": recovered, "abandoned": abandoned}, nil
	})
}

// cleanupLowQualityExecutor demotes articles with too little content or
// implausible publish times, and pending rows with implausible times.
// Rows already in a terminal or demoted state are left alone.
func cleanupLowQualityExecutor(deps ExecutorDeps) Executor {
	return ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		now := time.Now().UTC()
		earliest := now.Add(-qualityTimeWindow)
		latest := now.Add(qualityTimeWindow)

		var demotedArticles, demotedPending int

		for _, status := range []string{core.ArticleStatusRaw, core.ArticleStatusProcessed} {
			if cb.Cancelled() {
				return map[string]any{"articles": demotedArticles, "pending": demotedPending}, core.ErrCancelled
			}
			articles, err := deps.DB.Articles().List(ctx, persistence.ListOptions{Status: status})
			if err != nil {
				return nil, fmt.Errorf("failed to list %s articles: %w", status, err)
			}
			for _, a := range articles {
				if !lowQualityArticle(&a, earliest, latest) {
					continue
				}
				if err := deps.DB.Articles().UpdateStatus(ctx, a.ID, core.ArticleStatusLowQuality); err != nil {
					logger.Error("failed to demote article", err, "article_id", a.ID)
					continue
				}
				demotedArticles++
			}
		}
		cb.Progress(1, 2, "articles cleaned", nil)

		for _, status := range []string{core.PendingStatusPending, core.PendingStatusFailed} {
			if cb.Cancelled() {
				return map[string]any{"articles": demotedArticles, "pending": demotedPending}, core.ErrCancelled
			}
			rows, err := deps.DB.Pending().ListByStatus(ctx, status, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s pending rows: %w", status, err)
			}
			for _, row := range rows {
				if row.PublishTime == nil || (!row.PublishTime.Before(earliest) && !row.PublishTime.After(latest)) {
					continue
				}
				if err := deps.DB.Pending().UpdateStatus(ctx, row.ID, core.PendingStatusLowQuality); err != nil {
					logger.Error("failed to demote pending row", err, "pending_id", row.ID)
					continue
				}
				demotedPending++
			}
		}
		cb.Progress(2, 2, "pending cleaned", nil)

		return map[string]any{"articles": demotedArticles, "pending": demotedPending}, nil
	})
}

func lowQualityArticle(a *core.Article, earliest, latest time.Time) bool {
	if len([]rune(a.Content)) < minArticleContent {
		return true
	}
	if a.PublishTime == nil {
		return true
	}
	return a.PublishTime.Before(earliest) || a.PublishTime.After(latest)
}

// keywordSearchExecutor runs every active keyword against the search
// backend and imports unseen results, creating sources lazily.
func keywordSearchExecutor(deps ExecutorDeps) Executor {
	return ExecutorFunc(func(ctx context.Context, task *core.Task, cb Callbacks) (map[string]any, error) {
		keywords, err := deps.DB.Keywords().ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active keywords: %w", err)
		}

		var imported, skipped int
		for i, kw := range keywords {
			if cb.Cancelled() {
				return map[string]any{"imported": imported, "skipped": skipped}, core.ErrCancelled
			}

			kwImported, kwSkipped, err := RunKeywordSearch(ctx, deps, kw)
			imported += kwImported
			skipped += kwSkipped
			if err != nil {
				if errors.Is(err, core.ErrCancelled) {
					return map[string]any{"imported": imported, "skipped": skipped}, err
				}
				logger.Warn("keyword search failed", "keyword", kw.Keyword, "error", err.Error())
				cb.Event(core.EventInfo, map[string]any{"keyword": kw.Keyword, "error": err.Error()})
				continue
			}
			cb.Progress(i+1, len(keywords), kw.Keyword, map[string]any{"imported": imported, "skipped": skipped})
		}
		return map[string]any{"imported": imported, "skipped": skipped}, nil
	})
}

// RunKeywordSearch runs one stored keyword against the search backend and
// imports the unseen results, recording the keyword usage afterwards.
func RunKeywordSearch(ctx context.Context, deps ExecutorDeps, kw core.SearchKeyword) (imported, skipped int, err error) {
	results, err := deps.Search.Search(ctx, kw)
	if err != nil {
		return 0, 0, err
	}

	for _, hit := range results {
		if ctx.Err() != nil {
			return imported, skipped, core.ErrCancelled
		}
		ok, err := importSearchResult(ctx, deps, hit)
		if err != nil {
			logger.Warn("failed to import search result", "url", hit.URL, "error", err.Error())
			continue
		}
		if ok {
			imported++
		} else {
			skipped++
		}
		politenessPause(ctx, deps.CrawlDelay, nil)
	}

	if err := deps.DB.Keywords().RecordUsage(ctx, kw.ID); err != nil {
		logger.Error("failed to record keyword usage", err, "keyword_id", kw.ID)
	}
	return imported, skipped, nil
}

// importSearchResult fetches one search hit and stores it as an article,
// creating its source on first sight of the host. Returns false when the
// URL is already known.
func importSearchResult(ctx context.Context, deps ExecutorDeps, hit core.SearchResult) (bool, error) {
	exists, err := deps.DB.Articles().ExistsByURL(ctx, hit.URL)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	source, err := sourceForURL(ctx, deps, hit.URL)
	if err != nil {
		return false, err
	}

	scraped := deps.Scraper.Scrape(ctx, hit.URL, source.ParserConfig, source.ID)
	if scraped.Error != "" {
		return false, fmt.Errorf("scrape failed: %s", scraped.Error)
	}
	if scraped.Title == "" {
		scraped.Title = hit.Title
	}
	if scraped.PublishTime == nil {
		scraped.PublishTime = hit.PublishedDate
	}

	article := articleFromScrape(scraped, source.ID)
	if err := deps.DB.Articles().Create(ctx, article); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// sourceForURL finds or lazily creates the source owning a URL's host.
func sourceForURL(ctx context.Context, deps ExecutorDeps, rawURL string) (*core.CrawlSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, core.ValidationErrorf("unusable result URL %q", rawURL)
	}
	baseURL := u.Scheme + "://" + u.Host

	source, err := deps.DB.Sources().GetByBaseURL(ctx, baseURL)
	if err == nil {
		return source, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	source = &core.CrawlSource{
		SiteName:        u.Host,
		BaseURL:         baseURL,
		DiscoveryMethod: core.DiscoveryList,
		RobotsStatus:    core.RobotsPending,
	}
	if err := deps.DB.Sources().Create(ctx, source); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return deps.DB.Sources().GetByBaseURL(ctx, baseURL)
		}
		return nil, err
	}
	return source, nil
}

// articleFromScrape builds the durable article record from one scrape.
func articleFromScrape(sc *core.ScrapedArticle, sourceID int64) *core.Article {
	return &core.Article{
		URLHash:     core.HashURL(sc.URL),
		URL:         sc.URL,
		Title:       sc.Title,
		Content:     sc.Content,
		ContentHash: simhash.ContentHash(sc.Content),
		PublishTime: sc.PublishTime,
		Author:      sc.Author,
		SourceID:    sourceID,
		Status:      core.ArticleStatusRaw,
		FetchStatus: core.FetchStatusSuccess,
		ExtraData:   core.ArticleExtra{Images: sc.Images, Tags: sc.Tags},
	}
}

// politenessPause sleeps between article fetches: the source's robots
// crawl delay when present, else the configured default.
func politenessPause(ctx context.Context, fallback time.Duration, crawlDelaySeconds *int) {
	delay := fallback
	if crawlDelaySeconds != nil && *crawlDelaySeconds > 0 {
		delay = time.Duration(*crawlDelaySeconds) * time.Second
	}
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func resultCounts(crawled, failed int, perSource map[string]any) map[string]any {
	return map[string]any{"crawled": crawled, "failed": failed, "per_source": perSource}
}

// paramInt64 reads a required integer parameter; JSON round-trips may
// deliver it as float64 or string.
func paramInt64(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, core.ValidationErrorf("missing parameter %q", key)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, core.ValidationErrorf("parameter %q is not an integer", key)
		}
		return parsed, nil
	}
	return 0, core.ValidationErrorf("parameter %q has unsupported type", key)
}

func paramInt64Default(params map[string]any, key string, fallback int64) int64 {
	if _, ok := params[key]; !ok {
		return fallback
	}
	v, err := paramInt64(params, key)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
