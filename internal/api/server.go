// Package api exposes reconciliation runs over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"

	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/storage"
	"ledger-reconciliation-service/pkg/logger"
)

// Config holds API server configuration
type Config struct {
	Port int
	// RunTimeout bounds a single reconciliation request
	RunTimeout time.Duration
}

// DefaultConfig returns the default server settings
func DefaultConfig() Config {
	return Config{
		Port:       8080,
		RunTimeout: 5 * time.Minute,
	}
}

// RunLister reads recorded runs
type RunLister interface {
	List(ctx context.Context, limit int) ([]*storage.RunRecord, error)
	Get(ctx context.Context, runID string) (*storage.RunRecord, error)
}

// Server is the HTTP API server
type Server struct {
	config       Config
	router       chi.Router
	httpServer   *http.Server
	orchestrator *reconciler.Orchestrator
	runs         RunLister
	logger       logger.Logger

	inFlight *atomic.Int64
	total    *atomic.Int64
}

// NewServer creates a new API server. runs may be nil, in which case the
// run history endpoints are not registered.
func NewServer(cfg Config, orchestrator *reconciler.Orchestrator, runs RunLister, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig().RunTimeout
	}

	s := &Server{
		config:       cfg,
		router:       chi.NewRouter(),
		orchestrator: orchestrator,
		runs:         runs,
		logger:       log.WithComponent("api"),
		inFlight:     atomic.NewInt64(0),
		total:        atomic.NewInt64(0),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogging)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.health)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/reconciliations", s.createReconciliation)
		if s.runs != nil {
			r.Get("/reconciliations", s.listRuns)
			r.Get("/reconciliations/{id}", s.getRun)
		}
	})
}

// requestLogging logs every request once it has been served
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("HTTP request")
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.RunTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("addr", addr).Info("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing
func (s *Server) Router() chi.Router {
	return s.router
}
