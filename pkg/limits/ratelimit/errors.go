package ratelimit

import (
	"errors"
	"fmt"
)

// Error kinds shared by all limiter variants.
var (
	// ErrInvalidConfiguration is returned at construction for a policy that
	// cannot be enforced.
	ErrInvalidConfiguration = errors.New("invalid rate limit configuration")

	// ErrStoreUnavailable signals that the remote store could not be reached.
	// The caller decides whether to fail open, fail closed or fall back.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrScriptMissing signals that the store lost the admission program and
	// a reload did not help. It is always reported together with
	// ErrStoreUnavailable.
	ErrScriptMissing = errors.New("rate limit script missing")

	// ErrClockSkew signals that a caller supplied clock was rejected by the
	// store because it drifted beyond the tolerance.
	ErrClockSkew = errors.New("caller clock outside tolerance")
)

// ConfigError describes which field of a limiter config is invalid.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid rate limit configuration: %s=%v %s", e.Field, e.Value, e.Reason)
}

// Unwrap returns ErrInvalidConfiguration.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// IsStoreUnavailable reports whether err means the limiter could not reach
// its store.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
