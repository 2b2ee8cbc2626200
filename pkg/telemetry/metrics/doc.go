// Package metrics owns the Prometheus registry of a quotaguard process.
//
// The Collector creates the registry, registers Go runtime and process
// collectors, a build_info gauge and the maintenance job metrics, and serves
// everything through promhttp. Limiter metrics (admission checks, store
// errors, fallbacks, active keys) are registered by pkg/limits against the
// same registry.
package metrics
