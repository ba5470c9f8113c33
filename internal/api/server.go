// Package api exposes the HTTP surface: strategy CRUD, job submission
// and inspection, live settings and on-demand signal evaluation.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/job"
	"github.com/tradeforge/tradeforge/internal/live"
	"github.com/tradeforge/tradeforge/internal/metrics"
	"github.com/tradeforge/tradeforge/internal/optimize"
	"github.com/tradeforge/tradeforge/internal/storage"
)

// Server is the HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux

	repo      *storage.Repository
	jobs      job.Store
	scheduler *optimize.Scheduler
	engine    *live.Engine
}

// Config holds server configuration.
type Config struct {
	Addr        string
	MetricsPath string
}

// NewServer wires the handlers. engine may be nil when live trading is
// disabled; the live endpoints then return 404.
func NewServer(cfg Config, repo *storage.Repository, jobs job.Store, sched *optimize.Scheduler, engine *live.Engine, reg *metrics.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:    logger,
		mux:       mux,
		repo:      repo,
		jobs:      jobs,
		scheduler: sched,
		engine:    engine,
	}

	s.setupRoutes(cfg.MetricsPath, reg)

	var handler http.Handler = mux
	if reg != nil {
		handler = metrics.HTTPMiddleware(reg)(mux)
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(metricsPath string, reg *metrics.Registry) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/strategies", s.handleCreateStrategy)
	s.mux.HandleFunc("GET /api/strategies", s.handleListStrategies)
	s.mux.HandleFunc("GET /api/strategies/{id}", s.handleGetStrategy)
	s.mux.HandleFunc("DELETE /api/strategies/{id}", s.handleDeleteStrategy)
	s.mux.HandleFunc("GET /api/strategies/{id}/backtests", s.handleRecentBacktests)

	s.mux.HandleFunc("POST /api/backtest", s.handleSubmitBacktest)
	s.mux.HandleFunc("POST /api/optimizations", s.handleSubmitOptimization)

	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)

	if s.engine != nil {
		s.mux.HandleFunc("POST /api/signal", s.handleEvaluateSignal)
		s.mux.HandleFunc("GET /api/signals", s.handleRecentSignals)
		s.mux.HandleFunc("GET /api/settings", s.handleListSettings)
		s.mux.HandleFunc("POST /api/settings", s.handleUpsertSetting)
		s.mux.HandleFunc("DELETE /api/settings/{id}", s.handleDeleteSetting)
	}

	if reg != nil && metricsPath != "" {
		s.mux.Handle("GET "+metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

// Handler returns the routing handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
