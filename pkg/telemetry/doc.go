// Package telemetry bundles the observability stack of a quotaguard process:
// structured logging, Prometheus metrics, OpenTelemetry tracing and health
// checks.
//
//	tel, err := telemetry.New(&cfg.Telemetry, version)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger().Slog()
//	reg := tel.Metrics().Registry()
package telemetry
