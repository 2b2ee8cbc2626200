package storage

import (
	"context"
	"slices"
	"time"
)

// Backend persists snapshots of local limiter state.
// Implementations must be thread-safe.
type Backend interface {
	// Delete removes one state. No-op if it doesn't exist.
	Delete(ctx context.Context, identifier string, dimension string) error

	// List returns every state of a dimension.
	List(ctx context.Context, dimension string) ([]*LimitState, error)

	// Replace atomically swaps every state of a dimension for states.
	// Keys missing from states are dropped.
	Replace(ctx context.Context, dimension string, states []*LimitState) error

	// Cleanup removes states not updated since olderThan and returns how
	// many were removed.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// LimitState is the persisted window log of one limiter key.
type LimitState struct {
	// Identifier is the composite limiter key.
	Identifier string

	// Dimension is the tier the key belongs to.
	Dimension string

	// Window holds the accepted-request log of the key.
	Window *WindowState

	// LastUpdated is when this state was last saved.
	LastUpdated time.Time

	// CreatedAt is when this state was first saved.
	CreatedAt time.Time
}

// WindowState is a sliding window log.
type WindowState struct {
	// Window is the window length the log was recorded under.
	Window time.Duration `json:"window"`

	// Timestamps are the accepted requests, oldest first.
	Timestamps []time.Time `json:"timestamps"`
}

// Clone returns a deep copy of s.
func (s *LimitState) Clone() *LimitState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Window != nil {
		w := *s.Window
		w.Timestamps = slices.Clone(s.Window.Timestamps)
		c.Window = &w
	}
	return &c
}
