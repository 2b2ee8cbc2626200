package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm for token-cost budgets.
//
// The bucket starts full and refills linearly, reaching capacity again after
// one refill period. Each request consumes its token cost. A request is
// rejected, without consuming anything, when fewer tokens are available than
// it costs.
//
// # Algorithm
//
//  1. Add tokens for the time elapsed since the last refill
//  2. Clamp at capacity
//  3. If enough tokens: consume and allow
//  4. Otherwise: reject
//
// # Thread Safety
//
// TokenBucket is thread-safe using sync.Mutex for all operations.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	clock      Clock
	mu         sync.Mutex

	// retired is set, under mu, once a TokenLimiter dropped the bucket from
	// its map. Charging a retired bucket would spend tokens nobody tracks.
	retired bool
}

// NewTokenBucket creates a full bucket holding capacity tokens that refills
// completely over refill.
func NewTokenBucket(capacity int64, refill time.Duration, clock Clock) *TokenBucket {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(capacity) / refill.Seconds(),
		lastRefill: clock.Now(),
		clock:      clock,
	}
}

// Take attempts to consume n tokens.
// Returns true if tokens were available and consumed, false otherwise.
func (tb *TokenBucket) Take(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// take consumes n tokens unless the bucket is retired. live is false when
// the caller must look the key up again.
func (tb *TokenBucket) take(n int64) (taken, live bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.retired {
		return false, false
	}
	tb.refillLocked()
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true, true
	}
	return false, true
}

// retire marks the bucket as dropped. With onlyFull set it refuses, and
// reports false, unless the bucket refilled to capacity.
func (tb *TokenBucket) retire(onlyFull bool) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if onlyFull {
		tb.refillLocked()
		if tb.tokens < tb.capacity {
			return false
		}
	}
	tb.retired = true
	return true
}

// Remaining returns the whole tokens currently available.
func (tb *TokenBucket) Remaining() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return int64(tb.tokens)
}

// Full reports whether the bucket has refilled to capacity.
func (tb *TokenBucket) Full() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return tb.tokens >= tb.capacity
}

// TimeUntilAvailable returns how long until n tokens will be available.
// Returns 0 if tokens are immediately available.
func (tb *TokenBucket) TimeUntilAvailable(n int64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.tokens >= float64(n) {
		return 0
	}
	needed := float64(n) - tb.tokens
	return time.Duration(needed / tb.refillRate * float64(time.Second))
}

// refillLocked adds tokens based on elapsed time since last refill.
// Caller must hold lock.
func (tb *TokenBucket) refillLocked() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
