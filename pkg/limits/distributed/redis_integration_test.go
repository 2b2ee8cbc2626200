package distributed

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mercator-hq/quotaguard/pkg/limits/ratelimit"
)

// newRedisClient connects to QUOTAGUARD_TEST_REDIS (default localhost:6379)
// and skips the test when no server answers.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("QUOTAGUARD_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newRedisLimiter(t *testing.T, client *redis.Client, max int, window time.Duration) *Limiter {
	t.Helper()

	// A fresh prefix per test keeps runs independent.
	prefix := "quotaguard-test:" + uuid.NewString() + ":"
	limiter, err := New(client, ratelimit.Config{MaxRequests: max, Window: window}, WithPrefix(prefix))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = limiter.Reset(context.Background(), "u1", "")
	})
	return limiter
}

func TestRedis_CapacityAndIdempotency(t *testing.T) {
	client := newRedisClient(t)
	limiter := newRedisLimiter(t, client, 2, time.Minute)
	ctx := context.Background()

	req := ratelimit.Request{Tenant: "u1", Resource: "m", RequestID: "retry-me"}
	for i := 0; i < 2; i++ {
		d, err := limiter.Admit(ctx, req)
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("attempt %d of the same request denied", i+1)
		}
	}

	if allowed, err := limiter.Allow(ctx, "u1", "m"); err != nil || !allowed {
		t.Fatalf("second distinct request = %v, %v", allowed, err)
	}
	d, err := limiter.Admit(ctx, ratelimit.Request{Tenant: "u1", Resource: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("third distinct request allowed")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v, want within the window", d.RetryAfter)
	}

	n, err := limiter.GetRequestCount(ctx, "u1", "m")
	if err != nil || n != 2 {
		t.Errorf("GetRequestCount() = %d, %v; want 2", n, err)
	}
}

func TestRedis_WindowExpiry(t *testing.T) {
	client := newRedisClient(t)
	limiter := newRedisLimiter(t, client, 1, 200*time.Millisecond)
	ctx := context.Background()

	limiter.Allow(ctx, "u1", "m")
	if allowed, _ := limiter.Allow(ctx, "u1", "m"); allowed {
		t.Fatal("second request allowed inside the window")
	}

	time.Sleep(250 * time.Millisecond)
	if allowed, err := limiter.Allow(ctx, "u1", "m"); err != nil || !allowed {
		t.Errorf("Allow() after window = %v, %v", allowed, err)
	}
}

func TestRedis_ScriptFlushReload(t *testing.T) {
	client := newRedisClient(t)
	limiter := newRedisLimiter(t, client, 10, time.Minute)
	ctx := context.Background()

	if err := limiter.Preload(ctx); err != nil {
		t.Fatal(err)
	}
	if err := client.ScriptFlush(ctx).Err(); err != nil {
		t.Skipf("SCRIPT FLUSH not permitted: %v", err)
	}

	if allowed, err := limiter.Allow(ctx, "u1", "m"); err != nil || !allowed {
		t.Fatalf("Allow() after flush = %v, %v", allowed, err)
	}
	if limiter.ScriptReloads() != 1 {
		t.Errorf("ScriptReloads() = %d, want 1", limiter.ScriptReloads())
	}
}

func TestRedis_ConcurrentExactCapacity(t *testing.T) {
	client := newRedisClient(t)
	limiter := newRedisLimiter(t, client, 50, time.Minute)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := limiter.Allow(ctx, "u1", "m"); err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Errorf("allowed = %d, want 50", got)
	}
}
