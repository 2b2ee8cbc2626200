package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/quotaguard/pkg/config"
	"mercator-hq/quotaguard/pkg/telemetry/health"
	"mercator-hq/quotaguard/pkg/telemetry/logging"
	"mercator-hq/quotaguard/pkg/telemetry/metrics"
	"mercator-hq/quotaguard/pkg/telemetry/tracing"
)

// Telemetry holds the observability components built from configuration.
type Telemetry struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	health  *health.Checker
}

// New builds every component of cfg. Logs go to w, or stderr when w is nil.
// The logger also becomes the slog default.
func New(cfg *config.TelemetryConfig, version string, w io.Writer) (*Telemetry, error) {
	logCfg := logging.FromConfig(cfg.Logging)
	logCfg.Writer = w

	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger.Slog())

	tracer, err := tracing.New(&cfg.Tracing, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return &Telemetry{
		logger:  logger,
		metrics: metrics.NewCollector(cfg.Metrics, version),
		tracer:  tracer,
		health:  health.New(cfg.Health.CheckTimeout),
	}, nil
}

// Logger returns the process logger.
func (t *Telemetry) Logger() *logging.Logger { return t.logger }

// Metrics returns the metrics collector.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Tracer returns the tracer.
func (t *Telemetry) Tracer() *tracing.Tracer { return t.tracer }

// Health returns the health checker.
func (t *Telemetry) Health() *health.Checker { return t.health }

// Reload applies the parts of cfg that can change at runtime. Only the log
// level qualifies.
func (t *Telemetry) Reload(cfg *config.TelemetryConfig) error {
	return t.logger.SetLevel(cfg.Logging.Level)
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	return errors.Join(errs...)
}
