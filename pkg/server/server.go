// Package server provides the operational HTTP server of quotaguard.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/quotaguard/pkg/config"
	"mercator-hq/quotaguard/pkg/limits"
	"mercator-hq/quotaguard/pkg/telemetry/health"
	"mercator-hq/quotaguard/pkg/telemetry/metrics"
)

// LimitsSource is the part of limits.Manager the server reads from.
type LimitsSource interface {
	Status(ctx context.Context) limits.Status
	Usage(ctx context.Context, user, model string) ([]limits.TierUsage, error)
}

// Server serves metrics, health probes, version information and limiter
// state. It never admits requests.
type Server struct {
	config     *config.ServerConfig
	limits     LimitsSource
	checker    *health.Checker
	collector  *metrics.Collector
	version    health.VersionInfo
	logger     *slog.Logger
	httpServer *http.Server

	mu           sync.RWMutex
	isRunning    bool
	addr         string
	shutdownOnce sync.Once
}

// NewServer creates a server. collector may be nil or disabled, in which
// case no metrics endpoint is registered.
func NewServer(cfg *config.ServerConfig, src LimitsSource, checker *health.Checker, collector *metrics.Collector, version health.VersionInfo, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    cfg,
		limits:    src,
		checker:   checker,
		collector: collector,
		version:   version,
		logger:    logger.With("component", "server"),
	}
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.addr = ln.Addr().String()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting ops server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits for active ones, up to the
// configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("ops server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the address the server listens on, empty before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	health.Register(mux, s.checker, s.version)
	if s.collector != nil && s.collector.Enabled() {
		mux.Handle(s.collector.Path(), s.collector.Handler())
	}
	mux.HandleFunc("/limits", s.handleStatus)
	mux.HandleFunc("/limits/usage", s.handleUsage)

	var handler http.Handler = mux
	handler = RequestIDMiddleware(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}
