// Package server exposes the platform over a JSON HTTP API versioned
// under /api/v1, including SSE streams for task and report progress.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"newsradar/internal/config"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
	"newsradar/internal/report"
	"newsradar/internal/scheduler"
	"newsradar/internal/tasks"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps carries the services the handlers dispatch into. Exec doubles as
// the dependency set for synchronous keyword imports and debug scrapes.
type Deps struct {
	DB        persistence.Database
	Tasks     *tasks.Manager
	Scheduler *scheduler.Scheduler
	Agent     *report.Agent
	Exec      tasks.ExecutorDeps
}

// Server is the HTTP front of the platform.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	db         persistence.Database
	tasks      *tasks.Manager
	sched      *scheduler.Scheduler
	agent      *report.Agent
	exec       tasks.ExecutorDeps
	config     config.Server
	log        *slog.Logger
}

// New builds a server with its middleware and route table installed.
func New(deps Deps, cfg config.Server) *Server {
	s := &Server{
		router: chi.NewRouter(),
		db:     deps.DB,
		tasks:  deps.Tasks,
		sched:  deps.Scheduler,
		agent:  deps.Agent,
		exec:   deps.Exec,
		config: cfg,
		log:    logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: config.Duration(cfg.ReadTimeout, 30*time.Second),
		// WriteTimeout stays zero by default: SSE responses stream until
		// the task or report reaches a terminal state.
		WriteTimeout: config.Duration(cfg.WriteTimeout, 0),
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Post("/", s.handleCreateSource)
			r.Get("/{id}", s.handleGetSource)
			r.Put("/{id}", s.handleUpdateSource)
			r.Delete("/{id}", s.handleDeleteSource)
			r.Post("/{id}/enable", s.handleEnableSource)
			r.Post("/{id}/disable", s.handleDisableSource)
			r.Post("/{id}/debug-parse", s.handleDebugParse)
			r.Get("/{id}/stats", s.handleSourceStats)
		})

		r.Route("/sitemaps", func(r chi.Router) {
			r.Get("/", s.handleListSitemaps)
			r.Post("/", s.handleAddSitemap)
			r.Post("/{id}/refresh", s.handleRefreshSitemap)
			r.Delete("/{id}", s.handleDeleteSitemap)
		})

		r.Route("/pending", func(r chi.Router) {
			r.Get("/", s.handleListPending)
			r.Get("/counts", s.handlePendingCounts)
		})

		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.handleListArticles)
			r.Get("/{id}", s.handleGetArticle)
			r.Delete("/{id}", s.handleDeleteArticle)
			r.Post("/bulk-delete", s.handleBulkDeleteArticles)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{id}", s.handleGetTask)
			r.Post("/{id}/cancel", s.handleCancelTask)
			r.Get("/{id}/events/stream", s.handleTaskStream)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.handleListSchedules)
			r.Post("/", s.handleCreateSchedule)
			r.Get("/{id}", s.handleGetSchedule)
			r.Put("/{id}", s.handleUpdateSchedule)
			r.Delete("/{id}", s.handleDeleteSchedule)
			r.Post("/{id}/pause", s.handlePauseSchedule)
			r.Post("/{id}/resume", s.handleResumeSchedule)
			r.Post("/{id}/execute", s.handleExecuteSchedule)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", s.handleSchedulerStatus)
			r.Post("/trigger", s.handleSchedulerTrigger)
		})

		r.Route("/keywords", func(r chi.Router) {
			r.Get("/", s.handleListKeywords)
			r.Post("/", s.handleCreateKeyword)
			r.Get("/active/list", s.handleListActiveKeywords)
			r.Get("/{id}", s.handleGetKeyword)
			r.Put("/{id}", s.handleUpdateKeyword)
			r.Delete("/{id}", s.handleDeleteKeyword)
			r.Post("/{id}/search", s.handleRunKeywordSearch)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Post("/generate", s.handleGenerateReport)
			r.Get("/{id}", s.handleGetReport)
			r.Delete("/{id}", s.handleDeleteReport)
			r.Get("/{id}/stream", s.handleReportStream)
		})
	})
}

// Start blocks serving requests until Shutdown or a listen failure.
func (s *Server) Start() error {
	s.log.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy", "checks": map[string]string{"database": "error"},
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok", "checks": map[string]string{"database": "ok"},
	})
}
