// Package limits wires the admission tiers described by configuration into a
// running limiter.
//
// # Overview
//
// A Manager turns config.LimitsConfig into a tiered.Limiter. Each tier is
// backed by one of:
//
//   - ratelimit.LocalLimiter: an in-process sliding window log
//   - distributed.Limiter: a sliding window log in Redis, shared by every
//     process, optionally spread over several instances by shard.Limiter
//   - ratelimit.TokenLimiter: a token budget charged by request cost
//
// Around the limiter the manager owns the Redis clients, snapshots of local
// window logs (storage), maintenance jobs (maintenance), admission metrics
// and the store health check.
//
// # Usage
//
//	manager, err := limits.NewManager(cfg, limits.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
//
//	allowed, reason, err := manager.Allow(ctx, "user-1", "gpt-4")
//	if err != nil {
//	    return err
//	}
//	if !allowed {
//	    return fmt.Errorf("rejected: %s", reason)
//	}
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use. ApplyConfig swaps the
// classification table atomically; admissions in flight see either the old
// or the new table.
package limits
