// Package server provides the operational HTTP server of quotaguard.
//
// The server exposes what operators and orchestrators need and nothing that
// admits requests:
//
//   - GET /health: liveness probe
//   - GET /ready: readiness probe backed by the health checker
//   - GET /version: build information
//   - GET /metrics: Prometheus metrics (path configurable, optional)
//   - GET /limits: per tier counters and the classification table
//   - GET /limits/usage?user=u&model=m: window counts of one request's keys
//
// # Middleware Chain
//
// Requests pass through, outermost first: recovery, logging, request ID.
//
// # Usage
//
//	srv := server.NewServer(&cfg.Server, manager, tel.Health(), tel.Metrics(), info, logger)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// Start blocks until ctx is canceled and then shuts down gracefully within
// server.shutdown_timeout.
package server
