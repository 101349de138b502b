// Package server is the HTTP surface: health, metrics, and the job API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/TheProjectSEO/shield/pkg/config"
	"github.com/TheProjectSEO/shield/pkg/engine"
	"github.com/TheProjectSEO/shield/pkg/health"
	"github.com/TheProjectSEO/shield/pkg/queue"
	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
)

// Engine is the surface the HTTP layer needs from the composition root.
type Engine interface {
	Generate(ctx context.Context, req engine.GenerateRequest) (*engine.GenerateResult, error)
	Job(id string) (*queue.Job, bool)
	DeadLetters() []*queue.Job
	RetryDeadLetter(id string) error
	Health() health.Report
	QueueStats() queue.Stats
}

// Server serves the job API over HTTP.
type Server struct {
	cfg          config.ServerConfig
	eng          Engine
	collector    *metrics.Collector
	logger       *slog.Logger
	httpServer   *http.Server
	shutdownOnce sync.Once

	mu      sync.RWMutex
	running bool
}

// New creates a server. The collector may be nil when metrics are
// disabled; /metrics then serves an empty registry.
func New(cfg config.ServerConfig, eng Engine, collector *metrics.Collector) *Server {
	return &Server{
		cfg:       cfg,
		eng:       eng,
		collector: collector,
		logger:    slog.Default().With("component", "server"),
	}
}

// Start listens and blocks until the context is cancelled, a SIGINT or
// SIGTERM arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server: already running")
	}
	s.running = true

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "address", s.cfg.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr = fmt.Errorf("server: shutdown: %w", err)
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.logger.Info("server stopped")
	})
	return shutdownErr
}

// IsRunning reports whether the listener is up.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Handler builds the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/dlq", s.handleListDLQ)
	mux.HandleFunc("POST /v1/dlq/{id}/retry", s.handleRetryDLQ)

	if s.collector != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.collector))
	}

	var handler http.Handler = mux
	handler = requestLogging(handler)
	handler = requestID(handler)
	handler = recovery(handler)
	return handler
}
