// Package health implements liveness, readiness and version endpoints.
//
// Readiness runs every registered check concurrently with a per-check
// timeout. Checks are critical or not: a quotaguard process whose Redis store
// is down keeps serving decisions when its failure policy is open, closed or
// local, so store checks are registered as non-critical in that case and a
// failure only marks the process degraded.
package health
