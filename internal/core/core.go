// Package core defines the record types shared across the platform.
package core

import "time"

// Robots compliance states for a crawl source.
const (
	RobotsPending    = "pending"
	RobotsCompliant  = "compliant"
	RobotsRestricted = "restricted"
	RobotsNotFound   = "not_found"
	RobotsError      = "error"
)

// Discovery methods for a crawl source.
const (
	DiscoverySitemap = "sitemap"
	DiscoveryList    = "list"
	DiscoveryHybrid  = "hybrid"
)

// ParserConfig holds the CSS selectors used to extract article fields
// from a source's pages. Selectors may contain comma-separated fallbacks.
type ParserConfig struct {
	TitleSelector       string `json:"title_selector"`
	ContentSelector     string `json:"content_selector"`
	PublishTimeSelector string `json:"publish_time_selector,omitempty"`
	AuthorSelector      string `json:"author_selector,omitempty"`
	ListSelector        string `json:"list_selector,omitempty"`
	URLSelector         string `json:"url_selector,omitempty"`
	Encoding            string `json:"encoding,omitempty"`
}

// CrawlSource is a configured website. A source may only be enabled after
// robots has been checked and either a sitemap is attached or its discovery
// method is not sitemap-based.
type CrawlSource struct {
	ID                   int64        `json:"id"`
	SiteName             string       `json:"site_name"`
	BaseURL              string       `json:"base_url"`
	ParserConfig         ParserConfig `json:"parser_config"`
	Enabled              bool         `json:"enabled"`
	CrawlIntervalSeconds int          `json:"crawl_interval_seconds"`
	RobotsStatus         string       `json:"robots_status"`
	CrawlDelaySeconds    *int         `json:"crawl_delay_seconds,omitempty"`
	SitemapURL           string       `json:"sitemap_url,omitempty"`
	DiscoveryMethod      string       `json:"discovery_method"`
	ArticleCount         int64        `json:"article_count"`
	PendingCount         int64        `json:"pending_count"`
	LastCrawledAt        *time.Time   `json:"last_crawled_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Sitemap fetch states.
const (
	SitemapPending = "pending"
	SitemapSuccess = "success"
	SitemapFailed  = "failed"
)

// Sitemap is a sitemap document attached to a source.
type Sitemap struct {
	ID           int64      `json:"id"`
	SourceID     int64      `json:"source_id"`
	URL          string     `json:"url"`
	LastFetched  *time.Time `json:"last_fetched,omitempty"`
	FetchStatus  string     `json:"fetch_status"`
	ArticleCount int64      `json:"article_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PendingArticle states. Transitions are one-way toward the terminal set
// {completed, abandoned, low_quality}, except the retry path failed -> crawling.
const (
	PendingStatusPending    = "pending"
	PendingStatusCrawling   = "crawling"
	PendingStatusCompleted  = "completed"
	PendingStatusFailed     = "failed"
	PendingStatusAbandoned  = "abandoned"
	PendingStatusLowQuality = "low_quality"
)

// PendingArticle is a discovered URL awaiting content fetch.
type PendingArticle struct {
	ID          int64      `json:"id"`
	SourceID    int64      `json:"source_id"`
	SitemapID   *int64     `json:"sitemap_id,omitempty"`
	URL         string     `json:"url"`
	URLHash     string     `json:"url_hash"` // MD5 hex of URL, unique table-wide
	Title       string     `json:"title,omitempty"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Article processing states.
const (
	ArticleStatusRaw        = "raw"
	ArticleStatusProcessed  = "processed"
	ArticleStatusSynced     = "synced"
	ArticleStatusFailed     = "failed"
	ArticleStatusLowQuality = "low_quality"
)

// Article fetch states.
const (
	FetchStatusPending = "pending"
	FetchStatusSuccess = "success"
	FetchStatusRetry   = "retry"
	FetchStatusFailed  = "failed"
)

// ArticleExtra holds the semi-structured extras collected during scraping.
type ArticleExtra struct {
	Images []string `json:"images,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Article is a fetched article. URLHash identifies an article globally.
type Article struct {
	ID          int64        `json:"id"`
	URLHash     string       `json:"url_hash"`
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Content     string       `json:"content"`
	ContentHash string       `json:"content_hash,omitempty"` // SHA-256 hex of normalized content
	PublishTime *time.Time   `json:"publish_time,omitempty"`
	Author      string       `json:"author,omitempty"`
	SourceID    int64        `json:"source_id"`
	Status      string       `json:"status"`
	FetchStatus string       `json:"fetch_status"`
	RetryCount  int          `json:"retry_count"`
	Error       string       `json:"error,omitempty"`
	ExtraData   ArticleExtra `json:"extra_data"`
	CrawledAt   time.Time    `json:"crawled_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Task states.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// Task is a unit of work dispatched to a registered executor. Terminal
// status always sets CompletedAt.
type Task struct {
	ID              int64          `json:"id"`
	TaskType        string         `json:"task_type"`
	Status          string         `json:"status"`
	Title           string         `json:"title"`
	Params          map[string]any `json:"params,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	ProgressCurrent int            `json:"progress_current"`
	ProgressTotal   int            `json:"progress_total"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TaskEvent types.
const (
	EventCreated   = "created"
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventInfo      = "info"
)

// TaskEvent is an append-only log entry for a task.
type TaskEvent struct {
	ID        int64          `json:"id"`
	TaskID    int64          `json:"task_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Schedule types and states.
const (
	ScheduleSitemapCrawl  = "sitemap_crawl"
	ScheduleArticleCrawl  = "article_crawl"
	ScheduleKeywordSearch = "keyword_search"

	ScheduleActive   = "active"
	SchedulePaused   = "paused"
	ScheduleDisabled = "disabled"
)

// Schedule is a periodic job. Only schedules with status=active and
// next_run_at <= now are eligible for dispatch.
type Schedule struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	ScheduleType   string         `json:"schedule_type"`
	Status         string         `json:"status"`
	IntervalMin    int            `json:"interval_minutes"`
	MaxExecutions  *int           `json:"max_executions,omitempty"`
	ExecutionCount int            `json:"execution_count"`
	Config         map[string]any `json:"config,omitempty"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	LastStatus     string         `json:"last_status,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// SearchKeyword is a stored search query.
type SearchKeyword struct {
	ID         int64      `json:"id"`
	Keyword    string     `json:"keyword"`
	TimeRange  string     `json:"time_range"` // d, w, m, y
	MaxResults int        `json:"max_results"`
	Region     string     `json:"region,omitempty"`
	IsActive   bool       `json:"is_active"`
	UsageCount int        `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Report states.
const (
	ReportGenerating = "generating"
	ReportCompleted  = "completed"
	ReportFailed     = "failed"
)

// ReportSection is one generated section of a report, in template order.
type ReportSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Report is an analytical artifact produced by the report agent.
type Report struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	TimeRangeStart time.Time       `json:"time_range_start"`
	TimeRangeEnd   time.Time       `json:"time_range_end"`
	TemplateID     string          `json:"template_id,omitempty"`
	Language       string          `json:"language"`
	Status         string          `json:"status"`
	AgentStage     string          `json:"agent_stage,omitempty"`
	Progress       int             `json:"progress"`
	Content        string          `json:"content,omitempty"`
	Sections       []ReportSection `json:"sections,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Reference links an article cited by a report. Citation indices are
// dense 1..N within a report.
type Reference struct {
	ID            int64  `json:"id"`
	ReportID      int64  `json:"report_id"`
	ArticleID     int64  `json:"article_id"`
	CitationIndex int    `json:"citation_index"`
	Snippet       string `json:"snippet,omitempty"`
}

// ScrapedArticle is the result of one scrape attempt. The scraper never
// panics and never returns a bare error; failures populate Error.
type ScrapedArticle struct {
	URL         string     `json:"url"`
	Title       string     `json:"title,omitempty"`
	Content     string     `json:"content,omitempty"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
	Author      string     `json:"author,omitempty"`
	Images      []string   `json:"images,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SearchResult is one hit from an external search backend.
type SearchResult struct {
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Snippet       string     `json:"snippet,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Source        string     `json:"source,omitempty"`
}
