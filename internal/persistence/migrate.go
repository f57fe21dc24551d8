package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema DDL. url_hash columns are MD5 hex (32 chars), content_hash is
// SHA-256 hex (64 chars). All timestamps are UTC. JSON blobs use JSONB.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS crawl_sources (
		id BIGSERIAL PRIMARY KEY,
		site_name TEXT NOT NULL,
		base_url TEXT NOT NULL UNIQUE,
		parser_config JSONB NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		crawl_interval_seconds INTEGER NOT NULL DEFAULT 3600,
		robots_status TEXT NOT NULL DEFAULT 'pending',
		crawl_delay_seconds INTEGER,
		sitemap_url TEXT NOT NULL DEFAULT '',
		discovery_method TEXT NOT NULL DEFAULT 'sitemap',
		article_count BIGINT NOT NULL DEFAULT 0,
		pending_count BIGINT NOT NULL DEFAULT 0,
		last_crawled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS sitemaps (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES crawl_sources(id) ON DELETE CASCADE,
		url TEXT NOT NULL UNIQUE,
		last_fetched TIMESTAMPTZ,
		fetch_status TEXT NOT NULL DEFAULT 'pending',
		article_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS pending_articles (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES crawl_sources(id) ON DELETE CASCADE,
		sitemap_id BIGINT REFERENCES sitemaps(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		url_hash CHAR(32) NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		publish_time TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_source_status ON pending_articles (source_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_crawl_order ON pending_articles (source_id, publish_time DESC NULLS LAST, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS articles (
		id BIGSERIAL PRIMARY KEY,
		url_hash CHAR(32) NOT NULL UNIQUE,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		content_hash CHAR(64),
		publish_time TIMESTAMPTZ,
		author TEXT NOT NULL DEFAULT '',
		source_id BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'raw',
		fetch_status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_msg TEXT NOT NULL DEFAULT '',
		extra_data JSONB NOT NULL DEFAULT '{}',
		crawled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_window ON articles (publish_time, crawled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_source ON articles (source_id, status)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		task_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		title TEXT NOT NULL DEFAULT '',
		params JSONB NOT NULL DEFAULT '{}',
		result JSONB NOT NULL DEFAULT '{}',
		progress_current INTEGER NOT NULL DEFAULT 0,
		progress_total INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS task_events (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events (task_id, id)`,

	`CREATE TABLE IF NOT EXISTS schedules (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		schedule_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		interval_minutes INTEGER NOT NULL,
		max_executions INTEGER,
		execution_count INTEGER NOT NULL DEFAULT 0,
		config JSONB NOT NULL DEFAULT '{}',
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ,
		last_status TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (status, next_run_at)`,

	`CREATE TABLE IF NOT EXISTS search_keywords (
		id BIGSERIAL PRIMARY KEY,
		keyword TEXT NOT NULL,
		time_range TEXT NOT NULL DEFAULT 'w',
		max_results INTEGER NOT NULL DEFAULT 20,
		region TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		usage_count INTEGER NOT NULL DEFAULT 0,
		last_used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS reports (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		time_range_start TIMESTAMPTZ NOT NULL,
		time_range_end TIMESTAMPTZ NOT NULL,
		template_id TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'en',
		status TEXT NOT NULL DEFAULT 'generating',
		agent_stage TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL DEFAULT '',
		sections JSONB NOT NULL DEFAULT '[]',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS report_references (
		id BIGSERIAL PRIMARY KEY,
		report_id BIGINT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		article_id BIGINT NOT NULL,
		citation_index INTEGER NOT NULL CHECK (citation_index >= 1),
		snippet TEXT NOT NULL DEFAULT '',
		UNIQUE (report_id, citation_index)
	)`,
}

// Migrate applies the schema. Statements are idempotent so repeated
// startup runs are safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
