package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"newsradar/internal/core"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", core.ErrConflict, pqErr.Constraint)
	}
	return err
}

// postgresSourceRepo implements SourceRepository for PostgreSQL.
type postgresSourceRepo struct {
	db *sql.DB
}

const sourceColumns = `id, site_name, base_url, parser_config, enabled, crawl_interval_seconds,
	robots_status, crawl_delay_seconds, sitemap_url, discovery_method,
	article_count, pending_count, last_crawled_at, created_at, updated_at`

func (r *postgresSourceRepo) Create(ctx context.Context, source *core.CrawlSource) error {
	parserJSON, err := json.Marshal(source.ParserConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal parser config: %w", err)
	}

	query := `
		INSERT INTO crawl_sources (site_name, base_url, parser_config, enabled, crawl_interval_seconds,
			robots_status, crawl_delay_seconds, sitemap_url, discovery_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		source.SiteName, source.BaseURL, parserJSON, source.Enabled, source.CrawlIntervalSeconds,
		source.RobotsStatus, source.CrawlDelaySeconds, source.SitemapURL, source.DiscoveryMethod,
	).Scan(&source.ID, &source.CreatedAt, &source.UpdatedAt)
	return translateError(err)
}

func (r *postgresSourceRepo) Get(ctx context.Context, id int64) (*core.CrawlSource, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM crawl_sources WHERE id = $1`, sourceColumns), id)
	return scanSource(row)
}

func (r *postgresSourceRepo) GetByBaseURL(ctx context.Context, baseURL string) (*core.CrawlSource, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM crawl_sources WHERE base_url = $1`, sourceColumns), baseURL)
	return scanSource(row)
}

func (r *postgresSourceRepo) List(ctx context.Context, opts ListOptions) ([]core.CrawlSource, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM crawl_sources ORDER BY id LIMIT $1 OFFSET $2`, sourceColumns),
		limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

func (r *postgresSourceRepo) ListEnabled(ctx context.Context) ([]core.CrawlSource, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM crawl_sources WHERE enabled ORDER BY id`, sourceColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSources(rows)
}

func (r *postgresSourceRepo) Update(ctx context.Context, source *core.CrawlSource) error {
	parserJSON, err := json.Marshal(source.ParserConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal parser config: %w", err)
	}

	query := `
		UPDATE crawl_sources SET site_name = $2, base_url = $3, parser_config = $4, enabled = $5,
			crawl_interval_seconds = $6, robots_status = $7, crawl_delay_seconds = $8,
			sitemap_url = $9, discovery_method = $10, article_count = $11, pending_count = $12,
			last_crawled_at = $13, updated_at = NOW()
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query,
		source.ID, source.SiteName, source.BaseURL, parserJSON, source.Enabled,
		source.CrawlIntervalSeconds, source.RobotsStatus, source.CrawlDelaySeconds,
		source.SitemapURL, source.DiscoveryMethod, source.ArticleCount, source.PendingCount,
		source.LastCrawledAt)
	if err != nil {
		return translateError(err)
	}
	return requireRow(result)
}

func (r *postgresSourceRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE crawl_sources SET enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *postgresSourceRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM crawl_sources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*core.CrawlSource, error) {
	var s core.CrawlSource
	var parserJSON []byte
	err := row.Scan(&s.ID, &s.SiteName, &s.BaseURL, &parserJSON, &s.Enabled,
		&s.CrawlIntervalSeconds, &s.RobotsStatus, &s.CrawlDelaySeconds, &s.SitemapURL,
		&s.DiscoveryMethod, &s.ArticleCount, &s.PendingCount, &s.LastCrawledAt,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	if len(parserJSON) > 0 {
		if err := json.Unmarshal(parserJSON, &s.ParserConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parser config: %w", err)
		}
	}
	return &s, nil
}

func collectSources(rows *sql.Rows) ([]core.CrawlSource, error) {
	var sources []core.CrawlSource
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// postgresSitemapRepo implements SitemapRepository for PostgreSQL.
type postgresSitemapRepo struct {
	db *sql.DB
}

const sitemapColumns = `id, source_id, url, last_fetched, fetch_status, article_count, created_at`

func (r *postgresSitemapRepo) Create(ctx context.Context, sm *core.Sitemap) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sitemaps (source_id, url, fetch_status, article_count)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		sm.SourceID, sm.URL, sm.FetchStatus, sm.ArticleCount,
	).Scan(&sm.ID, &sm.CreatedAt)
	return translateError(err)
}

func (r *postgresSitemapRepo) Get(ctx context.Context, id int64) (*core.Sitemap, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sitemaps WHERE id = $1`, sitemapColumns), id)
	return scanSitemap(row)
}

func (r *postgresSitemapRepo) GetByURL(ctx context.Context, url string) (*core.Sitemap, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sitemaps WHERE url = $1`, sitemapColumns), url)
	return scanSitemap(row)
}

func (r *postgresSitemapRepo) ListBySource(ctx context.Context, sourceID int64) ([]core.Sitemap, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sitemaps WHERE source_id = $1 ORDER BY id`, sitemapColumns), sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sitemaps []core.Sitemap
	for rows.Next() {
		sm, err := scanSitemap(rows)
		if err != nil {
			return nil, err
		}
		sitemaps = append(sitemaps, *sm)
	}
	return sitemaps, rows.Err()
}

func (r *postgresSitemapRepo) Update(ctx context.Context, sm *core.Sitemap) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sitemaps SET last_fetched = $2, fetch_status = $3, article_count = $4 WHERE id = $1`,
		sm.ID, sm.LastFetched, sm.FetchStatus, sm.ArticleCount)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *postgresSitemapRepo) Delete(ctx context.Context, id int64) error {
	// pending_articles rows cascade via their sitemap_id FK.
	result, err := r.db.ExecContext(ctx, `DELETE FROM sitemaps WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func scanSitemap(row rowScanner) (*core.Sitemap, error) {
	var sm core.Sitemap
	err := row.Scan(&sm.ID, &sm.SourceID, &sm.URL, &sm.LastFetched, &sm.FetchStatus,
		&sm.ArticleCount, &sm.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &sm, nil
}

// postgresPendingRepo implements PendingRepository for PostgreSQL.
type postgresPendingRepo struct {
	db *sql.DB
}

const pendingColumns = `id, source_id, sitemap_id, url, url_hash, title, publish_time, status, created_at, updated_at`

func (r *postgresPendingRepo) Create(ctx context.Context, p *core.PendingArticle) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO pending_articles (source_id, sitemap_id, url, url_hash, title, publish_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		p.SourceID, p.SitemapID, p.URL, p.URLHash, p.Title, p.PublishTime, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return translateError(err)
}

func (r *postgresPendingRepo) Get(ctx context.Context, id int64) (*core.PendingArticle, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM pending_articles WHERE id = $1`, pendingColumns), id)
	return scanPending(row)
}

func (r *postgresPendingRepo) ExistsByHash(ctx context.Context, urlHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pending_articles WHERE url_hash = $1)`, urlHash).Scan(&exists)
	return exists, err
}

func (r *postgresPendingRepo) ListForCrawl(ctx context.Context, sourceID int64, limit int) ([]core.PendingArticle, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM pending_articles
		WHERE source_id = $1 AND status = 'pending'
		ORDER BY publish_time DESC NULLS LAST, created_at DESC
		LIMIT $2`, pendingColumns), sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPending(rows)
}

func (r *postgresPendingRepo) ListByStatus(ctx context.Context, status string, limit int) ([]core.PendingArticle, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM pending_articles WHERE status = $1 ORDER BY created_at LIMIT $2`, pendingColumns),
		status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPending(rows)
}

func (r *postgresPendingRepo) List(ctx context.Context, opts ListOptions) ([]core.PendingArticle, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}

	var conds []string
	var args []any
	if opts.Status != "" {
		args = append(args, opts.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.SourceID != 0 {
		args = append(args, opts.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit, opts.Offset)

	query := fmt.Sprintf(`SELECT %s FROM pending_articles %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		pendingColumns, where, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPending(rows)
}

func (r *postgresPendingRepo) CountByStatus(ctx context.Context, sourceID int64) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM pending_articles GROUP BY status`
	args := []any{}
	if sourceID != 0 {
		query = `SELECT status, COUNT(*) FROM pending_articles WHERE source_id = $1 GROUP BY status`
		args = append(args, sourceID)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *postgresPendingRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pending_articles SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *postgresPendingRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pending_articles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func scanPending(row rowScanner) (*core.PendingArticle, error) {
	var p core.PendingArticle
	err := row.Scan(&p.ID, &p.SourceID, &p.SitemapID, &p.URL, &p.URLHash, &p.Title,
		&p.PublishTime, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	p.URLHash = strings.TrimSpace(p.URLHash)
	return &p, nil
}

func collectPending(rows *sql.Rows) ([]core.PendingArticle, error) {
	var pending []core.PendingArticle
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *p)
	}
	return pending, rows.Err()
}

// postgresArticleRepo implements ArticleRepository for PostgreSQL.
type postgresArticleRepo struct {
	db *sql.DB
}

const articleColumns = `id, url_hash, url, title, content, content_hash, publish_time, author,
	source_id, status, fetch_status, retry_count, error_msg, extra_data, crawled_at, updated_at`

func (r *postgresArticleRepo) Create(ctx context.Context, a *core.Article) error {
	extraJSON, err := json.Marshal(a.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to marshal extra data: %w", err)
	}
	var contentHash *string
	if a.ContentHash != "" {
		contentHash = &a.ContentHash
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO articles (url_hash, url, title, content, content_hash, publish_time, author,
			source_id, status, fetch_status, retry_count, error_msg, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, crawled_at, updated_at`,
		a.URLHash, a.URL, a.Title, a.Content, contentHash, a.PublishTime, a.Author,
		a.SourceID, a.Status, a.FetchStatus, a.RetryCount, a.Error, extraJSON,
	).Scan(&a.ID, &a.CrawledAt, &a.UpdatedAt)
	return translateError(err)
}

func (r *postgresArticleRepo) Get(ctx context.Context, id int64) (*core.Article, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM articles WHERE id = $1`, articleColumns), id)
	return scanArticle(row)
}

func (r *postgresArticleRepo) GetByURLHash(ctx context.Context, urlHash string) (*core.Article, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM articles WHERE url_hash = $1`, articleColumns), urlHash)
	return scanArticle(row)
}

func (r *postgresArticleRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE url_hash = $1)`, core.HashURL(url)).Scan(&exists)
	return exists, err
}

func (r *postgresArticleRepo) List(ctx context.Context, opts ListOptions) ([]core.Article, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}

	var conds []string
	var args []any
	if opts.Status != "" {
		args = append(args, opts.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.FetchStatus != "" {
		args = append(args, opts.FetchStatus)
		conds = append(conds, fmt.Sprintf("fetch_status = $%d", len(args)))
	}
	if opts.SourceID != 0 {
		args = append(args, opts.SourceID)
		conds = append(conds, fmt.Sprintf("source_id = $%d", len(args)))
	}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("COALESCE(publish_time, crawled_at) >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("COALESCE(publish_time, crawled_at) <= $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit, opts.Offset)

	query := fmt.Sprintf(`SELECT %s FROM articles %s ORDER BY crawled_at DESC LIMIT $%d OFFSET $%d`,
		articleColumns, where, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

func (r *postgresArticleRepo) ListInWindow(ctx context.Context, cutoff time.Time, sourceIDs []int64, limit int) ([]core.Article, error) {
	if limit == 0 {
		limit = 10000
	}
	var rows *sql.Rows
	var err error
	if len(sourceIDs) > 0 {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM articles
			WHERE COALESCE(publish_time, crawled_at) >= $1 AND source_id = ANY($2)
			ORDER BY COALESCE(publish_time, crawled_at) DESC
			LIMIT $3`, articleColumns), cutoff, pq.Array(sourceIDs), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM articles
			WHERE COALESCE(publish_time, crawled_at) >= $1
			ORDER BY COALESCE(publish_time, crawled_at) DESC
			LIMIT $2`, articleColumns), cutoff, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArticles(rows)
}

func (r *postgresArticleRepo) Update(ctx context.Context, a *core.Article) error {
	extraJSON, err := json.Marshal(a.ExtraData)
	if err != nil {
		return fmt.Errorf("failed to marshal extra data: %w", err)
	}
	var contentHash *string
	if a.ContentHash != "" {
		contentHash = &a.ContentHash
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE articles SET title = $2, content = $3, content_hash = $4, publish_time = $5,
			author = $6, status = $7, fetch_status = $8, retry_count = $9, error_msg = $10,
			extra_data = $11, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.Title, a.Content, contentHash, a.PublishTime, a.Author, a.Status,
		a.FetchStatus, a.RetryCount, a.Error, extraJSON)
	if err != nil {
		return translateError(err)
	}
	return requireRow(result)
}

func (r *postgresArticleRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *postgresArticleRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *postgresArticleRepo) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanArticle(row rowScanner) (*core.Article, error) {
	var a core.Article
	var contentHash sql.NullString
	var extraJSON []byte
	err := row.Scan(&a.ID, &a.URLHash, &a.URL, &a.Title, &a.Content, &contentHash,
		&a.PublishTime, &a.Author, &a.SourceID, &a.Status, &a.FetchStatus,
		&a.RetryCount, &a.Error, &extraJSON, &a.CrawledAt, &a.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	a.URLHash = strings.TrimSpace(a.URLHash)
	if contentHash.Valid {
		a.ContentHash = strings.TrimSpace(contentHash.String)
	}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &a.ExtraData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extra data: %w", err)
		}
	}
	return &a, nil
}

func collectArticles(rows *sql.Rows) ([]core.Article, error) {
	var articles []core.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}
