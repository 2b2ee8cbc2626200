package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend in process memory. Nothing survives the
// process; it backs tests and deployments that only want the snapshot code
// path exercised.
type MemoryBackend struct {
	// states maps dimension then identifier to state.
	states map[string]map[string]*LimitState

	mu sync.RWMutex

	// maxEntries bounds the total number of states. The least recently
	// updated state is evicted when the bound is reached.
	maxEntries int
	count      int

	now func() time.Time
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of states to hold.
	// Default: 100,000
	MaxEntries int
}

// NewMemoryBackend creates a memory backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	return &MemoryBackend{
		states:     make(map[string]map[string]*LimitState),
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
	}
}

// Delete removes one state.
func (m *MemoryBackend) Delete(_ context.Context, identifier string, dimension string) error {
	if err := validateKey(identifier, dimension); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[dimension][identifier]; ok {
		delete(m.states[dimension], identifier)
		m.count--
	}
	return nil
}

// List returns every state of a dimension ordered by identifier.
func (m *MemoryBackend) List(_ context.Context, dimension string) ([]*LimitState, error) {
	if dimension == "" {
		return nil, errEmptyDimension
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*LimitState, 0, len(m.states[dimension]))
	for _, state := range m.states[dimension] {
		states = append(states, state.Clone())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Identifier < states[j].Identifier })
	return states, nil
}

// Replace swaps every state of a dimension.
func (m *MemoryBackend) Replace(_ context.Context, dimension string, states []*LimitState) error {
	if dimension == "" {
		return errEmptyDimension
	}
	for _, state := range states {
		if err := validateMember(state); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.states[dimension]
	m.count -= len(previous)
	delete(m.states, dimension)

	now := m.now()
	for _, state := range states {
		s := state.Clone()
		s.Dimension = dimension
		if old, ok := previous[s.Identifier]; ok && s.CreatedAt.IsZero() {
			s.CreatedAt = old.CreatedAt
		}
		m.putLocked(s, now)
	}
	return nil
}

// Cleanup removes states not updated since olderThan.
func (m *MemoryBackend) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for dimension, states := range m.states {
		for id, state := range states {
			if state.LastUpdated.Before(olderThan) {
				delete(states, id)
				deleted++
			}
		}
		if len(states) == 0 {
			delete(m.states, dimension)
		}
	}
	m.count -= deleted
	return deleted, nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}

// Size returns the current number of stored states.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// putLocked stores a copy of state, stamping its timestamps.
// Caller must hold write lock.
func (m *MemoryBackend) putLocked(state *LimitState, now time.Time) {
	s := state.Clone()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = now
	}

	dim, ok := m.states[s.Dimension]
	if !ok {
		dim = make(map[string]*LimitState)
		m.states[s.Dimension] = dim
	}
	if _, exists := dim[s.Identifier]; !exists {
		if m.count >= m.maxEntries {
			m.evictOldestLocked()
		}
		m.count++
	}
	// Eviction may have removed the dimension map.
	if _, ok := m.states[s.Dimension]; !ok {
		m.states[s.Dimension] = dim
	}
	dim[s.Identifier] = s
}

// evictOldestLocked evicts the least recently updated state.
// Caller must hold write lock.
func (m *MemoryBackend) evictOldestLocked() {
	var (
		oldestDim, oldestID string
		oldestTime          time.Time
		found               bool
	)
	for dimension, states := range m.states {
		for id, state := range states {
			if !found || state.LastUpdated.Before(oldestTime) {
				oldestDim, oldestID, oldestTime = dimension, id, state.LastUpdated
				found = true
			}
		}
	}
	if found {
		delete(m.states[oldestDim], oldestID)
		if len(m.states[oldestDim]) == 0 {
			delete(m.states, oldestDim)
		}
		m.count--
	}
}
