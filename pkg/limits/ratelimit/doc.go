// Package ratelimit provides the in-process admission engine.
//
// # Overview
//
// The package implements a sliding-window log limiter and the types shared by
// every limiter variant in quotaguard:
//
//   - WindowLog: per-key log of accepted-request timestamps
//   - LocalLimiter: thread-safe admission over a map of key to WindowLog
//   - TokenLimiter: per-key token buckets charged by request cost
//   - Config, Decision, Metrics and Request: values shared with the
//     distributed and tiered limiters
//
// # Sliding Window Log
//
// Every accepted request leaves one timestamp in the log of its key. A request
// is admitted when fewer than MaxRequests timestamps remain after evicting
// everything older than now minus Window:
//
//	limiter, err := ratelimit.NewLocalLimiter(ratelimit.Config{
//	    MaxRequests: 100,
//	    Window:      time.Hour,
//	})
//	if err != nil {
//	    return err
//	}
//	if limiter.Allow("user-1", "gpt-4") {
//	    // Request admitted
//	}
//
// # Thread Safety
//
// The key map is guarded by a short-lived structure lock. Each key carries its
// own mutex that covers eviction, counting and recording, so callers on
// different keys never block each other.
package ratelimit
