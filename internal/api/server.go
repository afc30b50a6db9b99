package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/amaumene/yggsync/internal/api/handlers"
	"github.com/amaumene/yggsync/internal/api/middleware"
	"github.com/amaumene/yggsync/internal/config"
	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/amaumene/yggsync/internal/notifier"
	"github.com/amaumene/yggsync/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	server     *http.Server
	db         *models.Database
	syncCtrl   *controllers.SyncController
	exportCtrl *controllers.ExportController
	reporter   *notifier.Reporter
	hub        *notifier.Hub
	scheduler  *scheduler.Scheduler
	registry   *prometheus.Registry
	logger     *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg *config.Config,
	db *models.Database,
	syncCtrl *controllers.SyncController,
	exportCtrl *controllers.ExportController,
	reporter *notifier.Reporter,
	hub *notifier.Hub,
	sched *scheduler.Scheduler,
	registry *prometheus.Registry,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		db:         db,
		syncCtrl:   syncCtrl,
		exportCtrl: exportCtrl,
		reporter:   reporter,
		hub:        hub,
		scheduler:  sched,
		registry:   registry,
		logger:     logger,
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      middleware.Logging(mux, logger),
		ReadTimeout:  15 * time.Second,
		// Exports stream the whole store
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Health check
	mux.Handle("/health", handlers.NewHealthHandler(s.logger))

	// Status endpoints
	mux.Handle("/api/info", handlers.NewInfoHandler(s.syncCtrl, s.scheduler, s.logger))
	mux.Handle("/api/stats", handlers.NewStatsHandler(s.reporter, s.scheduler, s.logger))
	mux.Handle("/api/scraping-state", handlers.NewStateHandler(s.db, s.logger))

	// Stored items
	mux.Handle("/api/series", handlers.NewItemsHandler(s.db, models.CategorySeries, s.logger))
	mux.Handle("/api/films", handlers.NewItemsHandler(s.db, models.CategoryFilms, s.logger))

	// Pass control
	scrapeHandler := handlers.NewScrapeHandler(s.syncCtrl, s.logger)
	mux.HandleFunc("/api/scrape/trigger", scrapeHandler.TriggerIncremental)
	mux.HandleFunc("/api/scrape/initial", scrapeHandler.TriggerInitial)
	mux.HandleFunc("/api/scrape/cancel", scrapeHandler.Cancel)
	mux.HandleFunc("/api/scrape/reset", scrapeHandler.Reset)

	// Export
	mux.Handle("/api/export/{format}", handlers.NewExportHandler(s.exportCtrl, s.logger))

	// Event stream and metrics
	mux.Handle("/ws", s.hub)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
}

// Handler returns the routed handler, wrapped in the logging middleware
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("port", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
