// Package persistence provides database abstraction interfaces for the
// platform's durable state: sources, sitemaps, pending URLs, articles,
// tasks, schedules, keywords and reports.
package persistence

import (
	"context"
	"time"

	"newsradar/internal/core"
)

// ListOptions controls pagination and filtering for list queries.
type ListOptions struct {
	Limit       int
	Offset      int
	Status      string
	FetchStatus string
	SourceID    int64
	Since       *time.Time
	Until       *time.Time
}

// SourceRepository handles crawl source persistence.
type SourceRepository interface {
	Create(ctx context.Context, source *core.CrawlSource) error
	Get(ctx context.Context, id int64) (*core.CrawlSource, error)
	GetByBaseURL(ctx context.Context, baseURL string) (*core.CrawlSource, error)
	List(ctx context.Context, opts ListOptions) ([]core.CrawlSource, error)
	ListEnabled(ctx context.Context) ([]core.CrawlSource, error)
	Update(ctx context.Context, source *core.CrawlSource) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) error
}

// SitemapRepository handles sitemap documents attached to sources.
type SitemapRepository interface {
	Create(ctx context.Context, sm *core.Sitemap) error
	Get(ctx context.Context, id int64) (*core.Sitemap, error)
	GetByURL(ctx context.Context, url string) (*core.Sitemap, error)
	ListBySource(ctx context.Context, sourceID int64) ([]core.Sitemap, error)
	Update(ctx context.Context, sm *core.Sitemap) error
	// Delete removes a sitemap and cascades to the pending URLs it produced.
	Delete(ctx context.Context, id int64) error
}

// PendingRepository handles discovered URLs awaiting fetch.
type PendingRepository interface {
	Create(ctx context.Context, p *core.PendingArticle) error
	Get(ctx context.Context, id int64) (*core.PendingArticle, error)
	ExistsByHash(ctx context.Context, urlHash string) (bool, error)
	// ListForCrawl returns up to limit pending rows for one source ordered
	// by publish_time DESC NULLS LAST, created_at DESC.
	ListForCrawl(ctx context.Context, sourceID int64, limit int) ([]core.PendingArticle, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]core.PendingArticle, error)
	List(ctx context.Context, opts ListOptions) ([]core.PendingArticle, error)
	CountByStatus(ctx context.Context, sourceID int64) (map[string]int64, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	Delete(ctx context.Context, id int64) error
}

// ArticleRepository handles fetched articles.
type ArticleRepository interface {
	Create(ctx context.Context, a *core.Article) error
	Get(ctx context.Context, id int64) (*core.Article, error)
	GetByURLHash(ctx context.Context, urlHash string) (*core.Article, error)
	ExistsByURL(ctx context.Context, url string) (bool, error)
	List(ctx context.Context, opts ListOptions) ([]core.Article, error)
	// ListInWindow returns articles whose publish_time (falling back to
	// crawled_at when publish_time is null) is at or after cutoff.
	ListInWindow(ctx context.Context, cutoff time.Time, sourceIDs []int64, limit int) ([]core.Article, error)
	Update(ctx context.Context, a *core.Article) error
	UpdateStatus(ctx context.Context, id int64, status string) error
	Delete(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, ids []int64) (int64, error)
}

// TaskRepository handles task rows.
type TaskRepository interface {
	Create(ctx context.Context, t *core.Task) error
	Get(ctx context.Context, id int64) (*core.Task, error)
	List(ctx context.Context, opts ListOptions) ([]core.Task, error)
	Update(ctx context.Context, t *core.Task) error
	UpdateProgress(ctx context.Context, id int64, current, total int) error
}

// TaskEventRepository is the append-only task event log.
type TaskEventRepository interface {
	Append(ctx context.Context, e *core.TaskEvent) error
	ListByTask(ctx context.Context, taskID int64) ([]core.TaskEvent, error)
}

// ScheduleRepository handles periodic jobs.
type ScheduleRepository interface {
	Create(ctx context.Context, s *core.Schedule) error
	Get(ctx context.Context, id int64) (*core.Schedule, error)
	List(ctx context.Context, opts ListOptions) ([]core.Schedule, error)
	// ListDue returns active schedules with next_run_at <= now, ascending.
	ListDue(ctx context.Context, now time.Time) ([]core.Schedule, error)
	Update(ctx context.Context, s *core.Schedule) error
	Delete(ctx context.Context, id int64) error
}

// KeywordRepository handles stored search queries.
type KeywordRepository interface {
	Create(ctx context.Context, k *core.SearchKeyword) error
	Get(ctx context.Context, id int64) (*core.SearchKeyword, error)
	List(ctx context.Context, opts ListOptions) ([]core.SearchKeyword, error)
	ListActive(ctx context.Context) ([]core.SearchKeyword, error)
	Update(ctx context.Context, k *core.SearchKeyword) error
	RecordUsage(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// ReportRepository handles reports and their references.
type ReportRepository interface {
	Create(ctx context.Context, r *core.Report) error
	Get(ctx context.Context, id int64) (*core.Report, error)
	List(ctx context.Context, opts ListOptions) ([]core.Report, error)
	Update(ctx context.Context, r *core.Report) error
	Delete(ctx context.Context, id int64) error

	AddReference(ctx context.Context, ref *core.Reference) error
	ListReferences(ctx context.Context, reportID int64) ([]core.Reference, error)
}

// Database is the top-level interface aggregating all repositories. The
// store owns all entities; in-memory components hold only integer IDs.
type Database interface {
	Sources() SourceRepository
	Sitemaps() SitemapRepository
	Pending() PendingRepository
	Articles() ArticleRepository
	Tasks() TaskRepository
	TaskEvents() TaskEventRepository
	Schedules() ScheduleRepository
	Keywords() KeywordRepository
	Reports() ReportRepository

	Ping(ctx context.Context) error
	Close() error
}
