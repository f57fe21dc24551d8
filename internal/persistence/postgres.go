package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// PostgresDB implements the Database interface for PostgreSQL.
type PostgresDB struct {
	db        *sql.DB
	sources   SourceRepository
	sitemaps  SitemapRepository
	pending   PendingRepository
	articles  ArticleRepository
	tasks     TaskRepository
	events    TaskEventRepository
	schedules ScheduleRepository
	keywords  KeywordRepository
	reports   ReportRepository
}

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns the standard pool settings.
func DefaultOptions() Options {
	return Options{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}
}

// NewPostgresDB opens a PostgreSQL connection, verifies it and applies
// pending migrations.
func NewPostgresDB(dsn string, opts Options) (*PostgresDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	pg := &PostgresDB{db: db}
	pg.sources = &postgresSourceRepo{db: db}
	pg.sitemaps = &postgresSitemapRepo{db: db}
	pg.pending = &postgresPendingRepo{db: db}
	pg.articles = &postgresArticleRepo{db: db}
	pg.tasks = &postgresTaskRepo{db: db}
	pg.events = &postgresTaskEventRepo{db: db}
	pg.schedules = &postgresScheduleRepo{db: db}
	pg.keywords = &postgresKeywordRepo{db: db}
	pg.reports = &postgresReportRepo{db: db}
	return pg, nil
}

func (p *PostgresDB) Sources() SourceRepository { return p.sources }
func (p *PostgresDB) Sitemaps() SitemapRepository { return p.sitemaps }
func (p *PostgresDB) Pending() PendingRepository { return p.pending }
func (p *PostgresDB) Articles() ArticleRepository { return p.articles }
func (p *PostgresDB) Tasks() TaskRepository { return p.tasks }
func (p *PostgresDB) TaskEvents() TaskEventRepository { return p.events }
func (p *PostgresDB) Schedules() ScheduleRepository { return p.schedules }
func (p *PostgresDB) Keywords() KeywordRepository { return p.keywords }
func (p *PostgresDB) Reports() ReportRepository { return p.reports }

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}
