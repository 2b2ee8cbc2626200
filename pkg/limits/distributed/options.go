package distributed

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/quotaguard/pkg/limits/ratelimit"
)

// Defaults for Limiter options.
const (
	DefaultPrefix        = "ratelimit:"
	DefaultTTLMargin     = 60 * time.Second
	DefaultSkewTolerance = 5 * time.Second
)

// ClockMode selects the time source for window arithmetic.
type ClockMode string

const (
	// ClockStore reads the store clock inside the admission program.
	ClockStore ClockMode = "store"

	// ClockCaller sends the caller clock, bounded by the skew tolerance.
	ClockCaller ClockMode = "caller"
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithPrefix namespaces every key the limiter writes.
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// WithClockMode selects the time source.
func WithClockMode(mode ClockMode) Option {
	return func(l *Limiter) {
		if mode != "" {
			l.clockMode = mode
		}
	}
}

// WithClock sets the caller clock used in ClockCaller mode.
func WithClock(c ratelimit.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithSkewTolerance bounds how far a caller clock may drift from the store.
func WithSkewTolerance(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.skewTolerance = d
		}
	}
}

// WithTTLMargin sets how long a key outlives its window.
func WithTTLMargin(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.ttlMargin = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRequestIDGenerator replaces uuid generation for requests that arrive
// without an id.
func WithRequestIDGenerator(gen func() string) Option {
	return func(l *Limiter) {
		if gen != nil {
			l.newID = gen
		}
	}
}

func defaultRequestID() string {
	return uuid.NewString()
}
