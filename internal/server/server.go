// Package server implements the HTTP server that exposes the knowledge store
// via a REST API: semantic search, batch ingestion, record management, stats,
// and Prometheus metrics. The server is started by the `elevate serve` CLI
// command.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elevateai/elevate-go/internal/journal"
	"github.com/elevateai/elevate-go/internal/knowledge"
)

// New constructs a Server over the given store. jr may be nil to disable
// ingestion journaling.
func New(store *knowledge.Store, jr *journal.Store, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("server: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Embedding a large ingestion batch can take minutes.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		store:   store,
		journal: jr,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	registerStoreGauges(cfg.MetricsRegistry, store)

	if cfg.APIKey == "" {
		s.log.Warn("server: no API key configured — authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log, s.metrics)
	s.stopRL = stopRL

	// protect applies auth then the per-IP rate limit; used on every /api/*
	// route except health and readiness.
	protect := func(name string, h http.HandlerFunc) http.Handler {
		return s.instrument(name, authMiddleware(cfg.APIKey, rl.middleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/search", protect("search", s.handleSearch))
	mux.Handle("POST /api/ingest", protect("ingest", s.handleIngest))
	mux.Handle("GET /api/stats", protect("stats", s.handleStats))
	mux.Handle("GET /api/records", protect("record_list", s.handleRecordList))
	mux.Handle("GET /api/records/{id}", protect("record_get", s.handleRecordGet))
	mux.Handle("PATCH /api/records/{id}", protect("record_update", s.handleRecordUpdate))
	mux.Handle("DELETE /api/records/{id}", protect("record_delete", s.handleRecordDelete))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown and persists the
// store snapshot.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		defer s.stopRL()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		if err := s.store.Save(); err != nil {
			return fmt.Errorf("server: final snapshot save failed: %w", err)
		}
		s.log.Info("server: shut down cleanly")
		return nil
	}
}
