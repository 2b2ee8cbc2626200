package distributed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mercator-hq/quotaguard/pkg/limits/ratelimit"
)

// The tests in this file run the embedded Lua program on an in-process
// Redis, so they exercise the script itself rather than fakeStore.

var scriptEpoch = time.Unix(1_700_000_000, 0)

func newScriptStore(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	mr.SetTime(scriptEpoch)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newScriptLimiter(t *testing.T, client *redis.Client, max int, window time.Duration, opts ...Option) *Limiter {
	t.Helper()
	limiter, err := New(client, ratelimit.Config{MaxRequests: max, Window: window}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return limiter
}

func TestScript_CapacityAndIdempotency(t *testing.T) {
	_, client := newScriptStore(t)
	limiter := newScriptLimiter(t, client, 2, 10*time.Second)
	ctx := context.Background()

	steps := []struct {
		requestID     string
		wantAllowed   bool
		wantDuplicate bool
	}{
		{requestID: "a", wantAllowed: true},
		{requestID: "a", wantAllowed: true, wantDuplicate: true},
		{requestID: "b", wantAllowed: true},
		{requestID: "c", wantAllowed: false},
		{requestID: "a", wantAllowed: true, wantDuplicate: true},
	}

	for i, step := range steps {
		d, err := limiter.Admit(ctx, ratelimit.Request{Tenant: "u1", Resource: "m", RequestID: step.requestID})
		if err != nil {
			t.Fatalf("step %d: Admit() error = %v", i, err)
		}
		if d.Allowed != step.wantAllowed || d.Duplicate != step.wantDuplicate {
			t.Errorf("step %d (%s): allowed=%v duplicate=%v, want %v %v",
				i, step.requestID, d.Allowed, d.Duplicate, step.wantAllowed, step.wantDuplicate)
		}
		if !d.Allowed && d.RetryAfter != 10*time.Second {
			t.Errorf("step %d: RetryAfter = %v, want 10s", i, d.RetryAfter)
		}
	}

	count, err := limiter.GetRequestCount(ctx, "u1", "m")
	if err != nil {
		t.Fatalf("GetRequestCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestScript_TTLIncludesMargin(t *testing.T) {
	mr, client := newScriptStore(t)
	limiter := newScriptLimiter(t, client, 5, 10*time.Second, WithTTLMargin(time.Minute))

	if _, err := limiter.Allow(context.Background(), "u1", "m"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if got := mr.TTL(limiter.key("u1", "m")); got != 70*time.Second {
		t.Errorf("TTL = %v, want 1m10s", got)
	}
}

func TestScript_WindowSlidesOnStoreClock(t *testing.T) {
	mr, client := newScriptStore(t)
	limiter := newScriptLimiter(t, client, 2, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, err := limiter.Allow(ctx, "u1", "m"); err != nil || !ok {
			t.Fatalf("request %d = %v, %v", i+1, ok, err)
		}
	}

	mr.SetTime(scriptEpoch.Add(5 * time.Second))
	if ok, _ := limiter.Allow(ctx, "u1", "m"); ok {
		t.Fatal("request inside the window allowed over capacity")
	}

	mr.SetTime(scriptEpoch.Add(10*time.Second + time.Microsecond))
	if ok, err := limiter.Allow(ctx, "u1", "m"); err != nil || !ok {
		t.Fatalf("request after the window = %v, %v", ok, err)
	}
	if count, _ := limiter.GetRequestCount(ctx, "u1", "m"); count != 1 {
		t.Errorf("count = %d after the window slid, want 1", count)
	}
}

func TestScript_ReloadsAfterFlush(t *testing.T) {
	_, client := newScriptStore(t)
	limiter := newScriptLimiter(t, client, 5, time.Minute)
	ctx := context.Background()

	if err := limiter.Preload(ctx); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if err := client.ScriptFlush(ctx).Err(); err != nil {
		t.Fatalf("SCRIPT FLUSH: %v", err)
	}

	if ok, err := limiter.Allow(ctx, "u1", "m"); err != nil || !ok {
		t.Fatalf("Allow() after flush = %v, %v", ok, err)
	}
	if got := limiter.ScriptReloads(); got != 1 {
		t.Errorf("ScriptReloads() = %d, want 1", got)
	}
}

func TestScript_CallerClockSkew(t *testing.T) {
	_, client := newScriptStore(t)
	caller := ratelimit.NewManualClock(scriptEpoch.Add(time.Minute))
	limiter := newScriptLimiter(t, client, 5, time.Minute,
		WithClockMode(ClockCaller), WithClock(caller), WithSkewTolerance(5*time.Second))
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "u1", "m"); !errors.Is(err, ratelimit.ErrClockSkew) {
		t.Fatalf("Allow() error = %v, want clock skew", err)
	}

	caller.Set(scriptEpoch.Add(3 * time.Second))
	if ok, err := limiter.Allow(ctx, "u1", "m"); err != nil || !ok {
		t.Fatalf("Allow() within tolerance = %v, %v", ok, err)
	}
}

func TestScript_StoreUnavailable(t *testing.T) {
	mr, client := newScriptStore(t)
	limiter := newScriptLimiter(t, client, 5, time.Minute)

	mr.Close()
	_, err := limiter.Allow(context.Background(), "u1", "m")
	if !ratelimit.IsStoreUnavailable(err) {
		t.Fatalf("Allow() error = %v, want store unavailable", err)
	}
}
