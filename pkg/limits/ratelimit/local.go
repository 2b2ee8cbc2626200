package ratelimit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// entry pairs a window log with the mutex that serializes its check-then-record
// sequence. removed is set, under mu, once the entry has left the map; a
// caller that finds it set must look the key up again.
type entry struct {
	mu      sync.Mutex
	log     WindowLog
	removed bool
}

// LocalLimiter is an in-process sliding-window log limiter.
//
// # Algorithm
//
//  1. Look up or create the entry of the key under the structure lock
//  2. Release the structure lock and take the entry lock
//  3. Evict entries older than now minus Window
//  4. If fewer than MaxRequests remain: record now and admit
//  5. Otherwise: deny
//
// # Thread Safety
//
// Lock order is entry lock, then structure lock. Lookups never wait for an
// entry lock while holding the structure lock, so unrelated keys only contend
// for the brief map access.
type LocalLimiter struct {
	cfg   Config
	clock Clock

	mu      sync.RWMutex // guards entries structure only
	entries map[string]*entry

	counters counters
}

// LocalOption configures a LocalLimiter.
type LocalOption func(*LocalLimiter)

// WithClock overrides the clock used for window arithmetic.
func WithClock(c Clock) LocalOption {
	return func(l *LocalLimiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// NewLocalLimiter creates a limiter enforcing cfg for every key.
// It fails with ErrInvalidConfiguration when cfg cannot be enforced.
func NewLocalLimiter(cfg Config, opts ...LocalOption) (*LocalLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &LocalLimiter{
		cfg:     cfg,
		clock:   SystemClock{},
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Config returns the policy enforced by the limiter.
func (l *LocalLimiter) Config() Config {
	return l.cfg
}

// Allow reports whether tenant may issue one more request for resource now.
// An admitted request is recorded before Allow returns.
func (l *LocalLimiter) Allow(tenant, resource string) bool {
	return l.Check(tenant, resource).Allowed
}

// Check is Allow with the full decision.
func (l *LocalLimiter) Check(tenant, resource string) Decision {
	limit := int64(l.cfg.MaxRequests)

	if l.cfg.MaxRequests == 0 {
		l.counters.record(false)
		return Decision{Limit: 0}
	}

	e := l.acquire(Key(tenant, resource), true)
	defer e.mu.Unlock()

	now := l.clock.Now()
	e.log.Evict(now.Add(-l.cfg.Window))
	count := e.log.Count()

	if count < l.cfg.MaxRequests {
		e.log.Record(now)
		l.counters.record(true)
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - int64(count) - 1,
		}
	}

	l.counters.record(false)

	var retryAfter time.Duration
	if oldest, ok := e.log.Oldest(); ok {
		retryAfter = oldest.Add(l.cfg.Window).Sub(now)
	}

	return Decision{
		Limit:      limit,
		Remaining:  0,
		RetryAfter: retryAfter,
	}
}

// Admit implements Admitter. The local limiter has no I/O, so the error is
// always nil and the request id is ignored.
func (l *LocalLimiter) Admit(_ context.Context, req Request) (Decision, error) {
	return l.Check(req.Tenant, req.Resource), nil
}

// GetRequestCount evicts expired entries of the key and returns how many
// accepted requests remain inside the window.
func (l *LocalLimiter) GetRequestCount(tenant, resource string) int {
	e := l.acquire(Key(tenant, resource), false)
	if e == nil {
		return 0
	}
	defer e.mu.Unlock()

	e.log.Evict(l.clock.Now().Add(-l.cfg.Window))
	return e.log.Count()
}

// Reset deletes the log of one key. With an empty resource it deletes every
// key of the tenant. It returns the number of keys removed.
func (l *LocalLimiter) Reset(tenant, resource string) int {
	if resource != "" {
		if l.removeKey(Key(tenant, resource)) {
			return 1
		}
		return 0
	}

	prefix := TenantPrefix(tenant)
	removed := 0
	for _, key := range l.keys() {
		if strings.HasPrefix(key, prefix) && l.removeKey(key) {
			removed++
		}
	}
	return removed
}

// Sweep drops every key whose log is empty once expired entries are evicted.
// Dropped keys are recreated lazily on their next request.
func (l *LocalLimiter) Sweep() int {
	removed := 0
	for _, key := range l.keys() {
		e := l.acquire(key, false)
		if e == nil {
			continue
		}

		e.log.Evict(l.clock.Now().Add(-l.cfg.Window))
		if e.log.Count() == 0 {
			l.removeLocked(key, e)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// ActiveKeys returns the number of keys currently tracked.
func (l *LocalLimiter) ActiveKeys() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// GetMetrics returns the admission counters of the limiter.
func (l *LocalLimiter) GetMetrics() Metrics {
	return l.counters.snapshot(l.ActiveKeys())
}

// ResetMetrics zeroes the admission counters. Window logs are untouched.
func (l *LocalLimiter) ResetMetrics() {
	l.counters.reset()
}

// acquire returns the entry of key with its mutex held. With create false it
// returns nil when the key is not tracked.
func (l *LocalLimiter) acquire(key string, create bool) *entry {
	for {
		l.mu.RLock()
		e, ok := l.entries[key]
		l.mu.RUnlock()

		if !ok {
			if !create {
				return nil
			}
			l.mu.Lock()
			e, ok = l.entries[key]
			if !ok {
				e = &entry{}
				l.entries[key] = e
			}
			l.mu.Unlock()
		}

		e.mu.Lock()
		if !e.removed {
			return e
		}
		// Lost a race with Reset or Sweep; the key is gone from the map.
		e.mu.Unlock()
	}
}

func (l *LocalLimiter) removeKey(key string) bool {
	e := l.acquire(key, false)
	if e == nil {
		return false
	}
	l.removeLocked(key, e)
	e.mu.Unlock()
	return true
}

// removeLocked deletes e from the map.
// Caller must hold e.mu.
func (l *LocalLimiter) removeLocked(key string, e *entry) {
	l.mu.Lock()
	if l.entries[key] == e {
		delete(l.entries, key)
	}
	l.mu.Unlock()
	e.removed = true
}

// keys returns a sorted copy of the tracked keys.
func (l *LocalLimiter) keys() []string {
	l.mu.RLock()
	keys := make([]string, 0, len(l.entries))
	for key := range l.entries {
		keys = append(keys, key)
	}
	l.mu.RUnlock()

	sort.Strings(keys)
	return keys
}
