package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/discovery"
	"newsradar/internal/llm"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
	"newsradar/internal/report"
	"newsradar/internal/robots"
	"newsradar/internal/scheduler"
	"newsradar/internal/scraper"
	"newsradar/internal/search"
	"newsradar/internal/server"
	"newsradar/internal/sitemap"
	"newsradar/internal/tasks"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, task fabric and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg *config.Config) error {
	db, err := persistence.NewPostgresDB(cfg.Database.DSN, persistence.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: config.Duration(cfg.Database.ConnMaxLifetime, 5*time.Minute),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	requestTimeout := config.Duration(cfg.Crawler.RequestTimeout, 30*time.Second)
	httpClient := &http.Client{Timeout: requestTimeout}

	checker := robots.NewChecker(httpClient)
	parser := sitemap.NewParser(httpClient)
	disco := discovery.NewService(db, checker, parser, discovery.Options{
		MaxSitemapURLs: cfg.Crawler.MaxSitemapURLs,
		MaxDepth:       cfg.Crawler.MaxDepth,
	})
	scr := scraper.New(nil, scraper.Options{
		Timeout:    requestTimeout,
		MaxRetries: cfg.Crawler.MaxRetries,
	})

	provider, err := search.NewProvider(cfg.Search)
	if err != nil {
		return fmt.Errorf("failed to configure search provider: %w", err)
	}
	searchSvc := search.NewService(provider, cfg.Search)

	exec := tasks.ExecutorDeps{
		DB:         db,
		Discovery:  disco,
		Scraper:    scr,
		Search:     searchSvc,
		CrawlDelay: config.Duration(cfg.Crawler.DefaultDelay, time.Second),
	}
	manager := tasks.NewManager(db, nil)
	tasks.RegisterDefaults(manager, exec)

	sched := scheduler.New(db, manager, config.Duration(cfg.Scheduler.CheckInterval, scheduler.DefaultCheckInterval))
	agent := report.NewAgent(db, llm.NewOpenAIClient(cfg.LLM), cfg.Report, nil)

	srv := server.New(server.Deps{
		DB:        db,
		Tasks:     manager,
		Scheduler: sched,
		Agent:     agent,
		Exec:      exec,
	}, cfg.Server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		sched.Stop()
		return err
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	}

	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
