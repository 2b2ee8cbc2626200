package ratelimit

import (
	"testing"
	"time"
)

func TestLocalLimiter_SnapshotRestore(t *testing.T) {
	src, clock := newTestLimiter(t, 3, time.Minute)

	src.Allow("u1", "m")
	clock.Advance(30 * time.Second)
	src.Allow("u1", "m")
	src.Allow("u2", "m")

	snaps := src.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("Snapshot() returned %d keys, want 2", len(snaps))
	}

	dst, err := NewLocalLimiter(src.Config(), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	// 40s later the first u1 entry has left the window.
	clock.Advance(40 * time.Second)
	if n := dst.Restore(snaps); n != 2 {
		t.Errorf("Restore() restored %d entries, want 2", n)
	}

	if got := dst.GetRequestCount("u1", "m"); got != 1 {
		t.Errorf("u1 count = %d, want 1", got)
	}
	if got := dst.GetRequestCount("u2", "m"); got != 1 {
		t.Errorf("u2 count = %d, want 1", got)
	}
}

func TestLocalLimiter_RestoreCapsAtCapacity(t *testing.T) {
	limiter, clock := newTestLimiter(t, 2, time.Minute)
	now := clock.Now()

	n := limiter.Restore([]KeySnapshot{{
		Key:        Key("u1", "m"),
		Timestamps: []time.Time{now, now, now, now},
	}})
	if n != 2 {
		t.Errorf("Restore() restored %d entries, want 2", n)
	}
	if limiter.Allow("u1", "m") {
		t.Error("restored key admitted beyond capacity")
	}
}

func TestLocalLimiter_RestoreSkipsExpiredKeys(t *testing.T) {
	limiter, clock := newTestLimiter(t, 2, time.Minute)

	n := limiter.Restore([]KeySnapshot{{
		Key:        Key("u1", "m"),
		Timestamps: []time.Time{clock.Now().Add(-2 * time.Minute)},
	}})
	if n != 0 || limiter.ActiveKeys() != 0 {
		t.Errorf("expired snapshot restored: n=%d keys=%d", n, limiter.ActiveKeys())
	}
}
