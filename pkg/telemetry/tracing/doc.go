// Package tracing configures OpenTelemetry tracing for quotaguard.
//
// Admission checks open one span per tiered decision with a child span per
// tier, and the Redis limiter opens a span around each script evaluation.
// Spans are exported over OTLP gRPC when telemetry.tracing.enabled is set;
// otherwise a noop tracer keeps the instrumentation free. Components obtain
// their tracer with Component so they never depend on startup order.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
