package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// backendFactories lists every backend the conformance tests run against.
func backendFactories() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"sqlite": func(t *testing.T) Backend {
			return newTestSQLiteBackend(t, DriverModernc)
		},
		"sqlite3": func(t *testing.T) Backend {
			return newTestSQLiteBackend(t, DriverCgo)
		},
	}
}

func newTestSQLiteBackend(t *testing.T, driver string) *SQLiteBackend {
	t.Helper()

	backend, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:             filepath.Join(t.TempDir(), "nested", "test.db"),
		Driver:             driver,
		CheckpointInterval: time.Hour,
		BusyTimeout:        5 * time.Second,
	})
	if err != nil {
		if driver == DriverCgo && strings.Contains(err.Error(), "cgo") {
			t.Skipf("sqlite3 driver unavailable: %v", err)
		}
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func windowState(ts ...time.Time) *WindowState {
	return &WindowState{Window: time.Minute, Timestamps: ts}
}

func TestBackend_ReplaceAndList(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	for name, newBackend := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			backend := newBackend(t)
			ctx := context.Background()

			state := &LimitState{
				Identifier: "alice:gpt-4",
				Window:     windowState(base, base.Add(time.Second)),
			}
			if err := backend.Replace(ctx, "user-model", []*LimitState{state}); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}

			loaded := lookup(t, backend, "alice:gpt-4", "user-model")
			if loaded == nil || loaded.Window == nil {
				t.Fatal("Expected state with window, got nil")
			}
			if loaded.Dimension != "user-model" {
				t.Errorf("Dimension = %q, want user-model", loaded.Dimension)
			}
			if len(loaded.Window.Timestamps) != 2 {
				t.Fatalf("Expected 2 timestamps, got %d", len(loaded.Window.Timestamps))
			}
			if !loaded.Window.Timestamps[0].Equal(base) {
				t.Errorf("Timestamp = %v, want %v", loaded.Window.Timestamps[0], base)
			}
			if loaded.Window.Window != time.Minute {
				t.Errorf("Window = %v, want 1m", loaded.Window.Window)
			}
			if loaded.LastUpdated.IsZero() || loaded.CreatedAt.IsZero() {
				t.Error("Expected timestamps to be stamped")
			}
		})
	}
}

func TestBackend_ListUnknownDimension(t *testing.T) {
	for name, newBackend := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			states, err := newBackend(t).List(context.Background(), "user-model")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(states) != 0 {
				t.Errorf("Expected no states, got %v", identifiers(states))
			}
		})
	}
}

func TestBackend_InvalidInput(t *testing.T) {
	for name, newBackend := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			backend := newBackend(t)
			ctx := context.Background()

			if err := backend.Replace(ctx, "d", []*LimitState{nil}); err == nil {
				t.Error("Replace with nil state should fail")
			}
			if err := backend.Replace(ctx, "d", []*LimitState{{Dimension: "d"}}); err == nil {
				t.Error("Replace without identifier should fail")
			}
			if err := backend.Replace(ctx, "", nil); err == nil {
				t.Error("Replace without dimension should fail")
			}
			if err := backend.Delete(ctx, "k", ""); err == nil {
				t.Error("Delete without dimension should fail")
			}
			if err := backend.Delete(ctx, "", "d"); err == nil {
				t.Error("Delete without identifier should fail")
			}
			if _, err := backend.List(ctx, ""); err == nil {
				t.Error("List without dimension should fail")
			}
		})
	}
}

func TestBackend_DeleteAndList(t *testing.T) {
	for name, newBackend := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			backend := newBackend(t)
			ctx := context.Background()

			seed := []*LimitState{{Identifier: "c:m"}, {Identifier: "a:m"}, {Identifier: "b:m"}}
			if err := backend.Replace(ctx, "user-model", seed); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}
			if err := backend.Replace(ctx, "global", []*LimitState{{Identifier: "__global__:m"}}); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}

			if err := backend.Delete(ctx, "b:m", "user-model"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := backend.Delete(ctx, "missing", "user-model"); err != nil {
				t.Fatalf("Delete of missing state failed: %v", err)
			}

			states, err := backend.List(ctx, "user-model")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(states) != 2 || states[0].Identifier != "a:m" || states[1].Identifier != "c:m" {
				t.Errorf("List = %v, want [a:m c:m]", identifiers(states))
			}
			if lookup(t, backend, "__global__:m", "global") == nil {
				t.Error("Delete touched another dimension")
			}
		})
	}
}

func TestBackend_ReplaceDropsMissingKeys(t *testing.T) {
	for name, newBackend := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			backend := newBackend(t)
			ctx := context.Background()
			now := time.Now()

			first := []*LimitState{
				{Identifier: "a:m", Dimension: "user-model", Window: windowState(now)},
				{Identifier: "b:m", Dimension: "user-model", Window: windowState(now)},
			}
			if err := backend.Replace(ctx, "user-model", first); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}
			if err := backend.Replace(ctx, "global", []*LimitState{{Identifier: "g:m"}}); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}

			second := []*LimitState{
				{Identifier: "b:m", Window: windowState(now, now.Add(time.Second))},
				{Identifier: "c:m", Window: windowState(now)},
			}
			if err := backend.Replace(ctx, "user-model", second); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}

			states, err := backend.List(ctx, "user-model")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if got := identifiers(states); len(got) != 2 || got[0] != "b:m" || got[1] != "c:m" {
				t.Fatalf("List = %v, want [b:m c:m]", got)
			}
			if len(states[0].Window.Timestamps) != 2 {
				t.Errorf("b:m has %d timestamps, want 2", len(states[0].Window.Timestamps))
			}

			other, _ := backend.List(ctx, "global")
			if len(other) != 1 {
				t.Errorf("Replace touched another dimension: %v", identifiers(other))
			}

			if err := backend.Replace(ctx, "user-model", nil); err != nil {
				t.Fatalf("Replace(nil) failed: %v", err)
			}
			states, _ = backend.List(ctx, "user-model")
			if len(states) != 0 {
				t.Errorf("Replace(nil) left %v", identifiers(states))
			}
		})
	}
}

func TestBackend_Cleanup(t *testing.T) {
	for name, newBackend := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			backend := newBackend(t)
			ctx := context.Background()
			now := time.Now()

			states := []*LimitState{
				{Identifier: "old:m", LastUpdated: now.Add(-48 * time.Hour)},
				{Identifier: "fresh:m", LastUpdated: now},
			}
			if err := backend.Replace(ctx, "user-model", states); err != nil {
				t.Fatalf("Replace failed: %v", err)
			}

			deleted, err := backend.Cleanup(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("Cleanup failed: %v", err)
			}
			if deleted != 1 {
				t.Errorf("Cleanup deleted %d, want 1", deleted)
			}

			if lookup(t, backend, "old:m", "user-model") != nil {
				t.Error("old state survived cleanup")
			}
			if lookup(t, backend, "fresh:m", "user-model") == nil {
				t.Error("fresh state was cleaned up")
			}
		})
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	for name, newBackend := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			backend := newBackend(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					dimension := fmt.Sprintf("tier-%d", n)
					for j := 0; j < 20; j++ {
						states := []*LimitState{
							{Identifier: "keep:m", Window: windowState(time.Now())},
							{Identifier: "drop:m", Window: windowState(time.Now())},
						}
						if err := backend.Replace(ctx, dimension, states); err != nil {
							t.Errorf("Replace failed: %v", err)
							return
						}
						if err := backend.Delete(ctx, "drop:m", dimension); err != nil {
							t.Errorf("Delete failed: %v", err)
							return
						}
						if _, err := backend.List(ctx, dimension); err != nil {
							t.Errorf("List failed: %v", err)
							return
						}
					}
				}(i)
			}
			wg.Wait()

			for i := 0; i < 8; i++ {
				states, err := backend.List(ctx, fmt.Sprintf("tier-%d", i))
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				if got := identifiers(states); len(got) != 1 || got[0] != "keep:m" {
					t.Errorf("tier-%d = %v, want [keep:m]", i, got)
				}
			}
		})
	}
}

// lookup returns the state of identifier in dimension, or nil.
func lookup(t *testing.T, backend Backend, identifier, dimension string) *LimitState {
	t.Helper()
	states, err := backend.List(context.Background(), dimension)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, s := range states {
		if s.Identifier == identifier {
			return s
		}
	}
	return nil
}

func identifiers(states []*LimitState) []string {
	ids := make([]string, len(states))
	for i, s := range states {
		ids[i] = s.Identifier
	}
	return ids
}
