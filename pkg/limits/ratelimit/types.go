package ratelimit

import (
	"context"
	"time"
)

// Config is the immutable policy of a limiter: at most MaxRequests accepted
// requests per key within any trailing Window.
//
// MaxRequests == 0 is legal and denies every request.
type Config struct {
	// MaxRequests is the number of requests admitted per key per window.
	MaxRequests int `json:"max_requests" yaml:"max_requests"`

	// Window is the length of the sliding window.
	Window time.Duration `json:"window" yaml:"window"`
}

// Validate reports whether the config can back a limiter.
func (c Config) Validate() error {
	if c.MaxRequests < 0 {
		return &ConfigError{Field: "max_requests", Value: c.MaxRequests, Reason: "must not be negative"}
	}
	if c.Window <= 0 {
		return &ConfigError{Field: "window", Value: c.Window, Reason: "must be positive"}
	}
	return nil
}

// Request is one admission attempt presented to a limiter.
type Request struct {
	// Tenant identifies who is asking (a user id or GlobalTenant).
	Tenant string

	// Resource identifies what is being asked for (a model or tier resource).
	Resource string

	// RequestID makes retries idempotent on limiters that support it.
	// Empty means the limiter generates one.
	RequestID string

	// Cost is the token cost of the request. Only token limiters read it.
	Cost int64
}

// Key returns the composite key the request is accounted under.
func (r Request) Key() string {
	return Key(r.Tenant, r.Resource)
}

// Decision is the outcome of one admission check.
// A denial is a normal value, never an error.
type Decision struct {
	// Allowed indicates if the request was admitted and recorded.
	Allowed bool `json:"allowed"`

	// Limit is the configured capacity of the window.
	Limit int64 `json:"limit"`

	// Remaining is how much capacity is left after this decision.
	Remaining int64 `json:"remaining"`

	// RetryAfter suggests how long to wait before retrying a denied request.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Duplicate is set when a retried request id was already admitted.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Admitter is implemented by every limiter variant so that they can be
// composed into tiers.
type Admitter interface {
	Admit(ctx context.Context, req Request) (Decision, error)
}

// Metrics is a point-in-time view of a limiter's counters.
type Metrics struct {
	Allowed         int64   `json:"allowed"`
	Denied          int64   `json:"denied"`
	Total           int64   `json:"total"`
	DenyRatePercent float64 `json:"deny_rate_percent"`
	ActiveKeys      int     `json:"active_keys"`
}

// Clock supplies the current time. time.Now readings carry the monotonic
// clock, so window arithmetic is immune to wall clock adjustments.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
