package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// TokenConfig is the policy of a TokenLimiter: each key may spend MaxTokens
// per Refill period.
type TokenConfig struct {
	MaxTokens int64         `json:"max_tokens" yaml:"max_tokens"`
	Refill    time.Duration `json:"refill" yaml:"refill"`
}

// Validate reports whether the config can back a limiter.
func (c TokenConfig) Validate() error {
	if c.MaxTokens <= 0 {
		return &ConfigError{Field: "max_tokens", Value: c.MaxTokens, Reason: "must be positive"}
	}
	if c.Refill <= 0 {
		return &ConfigError{Field: "refill", Value: c.Refill, Reason: "must be positive"}
	}
	return nil
}

// TokenCost weighs a request by its token usage. Output tokens count twice
// because generating them is the expensive part.
func TokenCost(inputTokens, outputTokens int64) int64 {
	return inputTokens + outputTokens*2
}

// TokenLimiter admits requests against a per-key token budget.
type TokenLimiter struct {
	cfg   TokenConfig
	clock Clock

	mu      sync.RWMutex
	buckets map[string]*TokenBucket

	counters counters
}

// NewTokenLimiter creates a token-cost limiter.
func NewTokenLimiter(cfg TokenConfig, clock Clock) (*TokenLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenLimiter{
		cfg:     cfg,
		clock:   clock,
		buckets: make(map[string]*TokenBucket),
	}, nil
}

// AllowCost charges cost tokens to the (tenant, resource) budget.
// A cost above the bucket capacity can never be admitted.
func (l *TokenLimiter) AllowCost(tenant, resource string, cost int64) Decision {
	key := Key(tenant, resource)

	if cost <= 0 {
		// Nothing to charge.
		return Decision{Allowed: true, Limit: l.cfg.MaxTokens, Remaining: l.bucket(key).Remaining()}
	}

	var (
		bucket *TokenBucket
		taken  bool
	)
	for {
		var live bool
		bucket = l.bucket(key)
		if taken, live = bucket.take(cost); live {
			break
		}
		// Lost a race with Reset or Sweep; the bucket is gone from the map.
	}

	if taken {
		l.counters.record(true)
		return Decision{Allowed: true, Limit: l.cfg.MaxTokens, Remaining: bucket.Remaining()}
	}

	l.counters.record(false)
	d := Decision{Limit: l.cfg.MaxTokens, Remaining: bucket.Remaining()}
	if cost <= l.cfg.MaxTokens {
		d.RetryAfter = bucket.TimeUntilAvailable(cost)
	}
	return d
}

// Admit implements Admitter using req.Cost.
func (l *TokenLimiter) Admit(_ context.Context, req Request) (Decision, error) {
	return l.AllowCost(req.Tenant, req.Resource, req.Cost), nil
}

// Remaining returns the tokens left for a key without charging anything.
func (l *TokenLimiter) Remaining(tenant, resource string) int64 {
	l.mu.RLock()
	bucket, ok := l.buckets[Key(tenant, resource)]
	l.mu.RUnlock()
	if !ok {
		return l.cfg.MaxTokens
	}
	return bucket.Remaining()
}

// Reset refills the budget of one key, or of every key of the tenant when
// resource is empty.
func (l *TokenLimiter) Reset(tenant, resource string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if resource != "" {
		key := Key(tenant, resource)
		if bucket, ok := l.buckets[key]; ok {
			bucket.retire(false)
			delete(l.buckets, key)
			return 1
		}
		return 0
	}

	prefix := TenantPrefix(tenant)
	removed := 0
	for key, bucket := range l.buckets {
		if strings.HasPrefix(key, prefix) {
			bucket.retire(false)
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Sweep drops buckets that refilled to capacity; they are indistinguishable
// from a fresh bucket.
func (l *TokenLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, bucket := range l.buckets {
		if bucket.retire(true) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// GetMetrics returns the admission counters of the limiter.
func (l *TokenLimiter) GetMetrics() Metrics {
	l.mu.RLock()
	active := len(l.buckets)
	l.mu.RUnlock()
	return l.counters.snapshot(active)
}

// ResetMetrics zeroes the admission counters.
func (l *TokenLimiter) ResetMetrics() {
	l.counters.reset()
}

func (l *TokenLimiter) bucket(key string) *TokenBucket {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok = l.buckets[key]; !ok {
		bucket = NewTokenBucket(l.cfg.MaxTokens, l.cfg.Refill, l.clock)
		l.buckets[key] = bucket
	}
	return bucket
}
