package distributed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/quotaguard/pkg/limits/ratelimit"
	"mercator-hq/quotaguard/pkg/telemetry/tracing"
)

//go:embed sliding_log.lua
var slidingLogSource string

var slidingLogScript = redis.NewScript(slidingLogSource)

const scanBatch = 100

// Client is the subset of go-redis the limiter needs. *redis.Client
// satisfies it; *redis.ClusterClient and *redis.Ring do too, though Scan then
// only covers one node.
type Client interface {
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	Time(ctx context.Context) *redis.TimeCmd
	ZCount(ctx context.Context, key, min, max string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Limiter is the sliding window log limiter backed by a Redis sorted set per
// key.
type Limiter struct {
	client        Client
	cfg           ratelimit.Config
	prefix        string
	clockMode     ClockMode
	clock         ratelimit.Clock
	skewTolerance time.Duration
	ttlMargin     time.Duration
	newID         func() string
	logger        *slog.Logger
	tracer        trace.Tracer

	allowed atomic.Int64
	denied  atomic.Int64
	reloads atomic.Int64
}

// New creates a limiter enforcing cfg on the given store.
// No I/O happens here; use Preload to load the script eagerly.
func New(client Client, cfg ratelimit.Config, opts ...Option) (*Limiter, error) {
	if client == nil {
		return nil, &ratelimit.ConfigError{Field: "client", Value: nil, Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		client:        client,
		cfg:           cfg,
		prefix:        DefaultPrefix,
		clockMode:     ClockStore,
		clock:         ratelimit.SystemClock{},
		skewTolerance: DefaultSkewTolerance,
		ttlMargin:     DefaultTTLMargin,
		newID:         defaultRequestID,
		logger:        slog.Default(),
		tracer:        tracing.Component("distributed"),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.clockMode != ClockStore && l.clockMode != ClockCaller {
		return nil, &ratelimit.ConfigError{Field: "clock_mode", Value: l.clockMode, Reason: "must be store or caller"}
	}
	l.logger = l.logger.With("component", "limits.distributed")

	return l, nil
}

// Config returns the policy enforced by the limiter.
func (l *Limiter) Config() ratelimit.Config {
	return l.cfg
}

// Preload loads the admission script so the first request does not pay for
// a NOSCRIPT round trip.
func (l *Limiter) Preload(ctx context.Context) error {
	if err := l.client.ScriptLoad(ctx, slidingLogSource).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Allow reports whether tenant may issue one more request for resource now.
// A request id is generated, so the call is not idempotent across retries;
// use Admit with a stable RequestID for that.
func (l *Limiter) Allow(ctx context.Context, tenant, resource string) (bool, error) {
	d, err := l.Admit(ctx, ratelimit.Request{Tenant: tenant, Resource: resource})
	return d.Allowed, err
}

// Admit runs the atomic check-and-record for req.
//
// A RequestID already admitted inside the window is reported as allowed
// without consuming capacity again.
func (l *Limiter) Admit(ctx context.Context, req ratelimit.Request) (ratelimit.Decision, error) {
	key := l.key(req.Tenant, req.Resource)
	limit := int64(l.cfg.MaxRequests)

	ctx, span := l.tracer.Start(ctx, "distributed.Admit", trace.WithAttributes(
		attribute.String(tracing.AttrKey, key),
	))
	defer span.End()

	if l.cfg.MaxRequests == 0 {
		l.denied.Add(1)
		tracing.SetDecisionAttributes(span, false, false)
		return ratelimit.Decision{Limit: 0}, nil
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = l.newID()
	}
	span.SetAttributes(attribute.String(tracing.AttrRequestID, requestID))

	callerNow := ""
	if l.clockMode == ClockCaller {
		callerNow = strconv.FormatInt(l.clock.Now().UnixMicro(), 10)
	}

	args := []interface{}{
		callerNow,
		l.cfg.Window.Microseconds(),
		l.cfg.MaxRequests,
		requestID,
		(l.cfg.Window + l.ttlMargin).Milliseconds(),
		l.skewTolerance.Microseconds(),
	}

	vals, err := l.eval(ctx, key, args)
	if err != nil {
		tracing.SetError(span, err)
		return ratelimit.Decision{}, err
	}
	if len(vals) != 4 {
		err := fmt.Errorf("admission script returned %d values, want 4", len(vals))
		tracing.SetError(span, err)
		return ratelimit.Decision{}, err
	}

	d := ratelimit.Decision{
		Allowed:   vals[0] == 1,
		Limit:     limit,
		Remaining: max(limit-vals[1], 0),
		Duplicate: vals[2] == 1,
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(max(vals[3], 0)) * time.Microsecond
		l.denied.Add(1)
	} else {
		l.allowed.Add(1)
	}

	tracing.SetDecisionAttributes(span, d.Allowed, d.Duplicate)
	return d, nil
}

// eval runs the script by hash, reloading it exactly once on NOSCRIPT.
func (l *Limiter) eval(ctx context.Context, key string, args []interface{}) ([]int64, error) {
	keys := []string{key}

	vals, err := l.client.EvalSha(ctx, slidingLogScript.Hash(), keys, args...).Int64Slice()
	if err != nil && isNoScript(err) {
		l.reloads.Add(1)
		l.logger.Warn("admission script missing from store, reloading", "key", key)

		if loadErr := l.client.ScriptLoad(ctx, slidingLogSource).Err(); loadErr != nil {
			return nil, classify(loadErr)
		}

		vals, err = l.client.EvalSha(ctx, slidingLogScript.Hash(), keys, args...).Int64Slice()
		if err != nil && isNoScript(err) {
			return nil, fmt.Errorf("%w: %w", ratelimit.ErrStoreUnavailable, ratelimit.ErrScriptMissing)
		}
	}
	if err != nil {
		return nil, classify(err)
	}

	return vals, nil
}

// GetRequestCount returns how many requests of the key are inside the window.
// Unlike the local limiter it does not evict; expired members are simply not
// counted.
func (l *Limiter) GetRequestCount(ctx context.Context, tenant, resource string) (int64, error) {
	now, err := l.now(ctx)
	if err != nil {
		return 0, err
	}

	windowStart := now.UnixMicro() - l.cfg.Window.Microseconds()
	n, err := l.client.ZCount(ctx, l.key(tenant, resource), strconv.FormatInt(windowStart, 10), "+inf").Result()
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// Reset deletes one key, or every key of the tenant when resource is empty.
// It returns the number of keys deleted.
func (l *Limiter) Reset(ctx context.Context, tenant, resource string) (int64, error) {
	if resource != "" {
		n, err := l.client.Del(ctx, l.key(tenant, resource)).Result()
		if err != nil {
			return 0, classify(err)
		}
		return n, nil
	}

	pattern := escapeGlob(l.prefix+ratelimit.TenantPrefix(tenant)) + "*"

	var deleted int64
	err := l.scan(ctx, pattern, func(keys []string) error {
		n, err := l.client.Del(ctx, keys...).Result()
		deleted += n
		return err
	})
	if err != nil {
		return deleted, classify(err)
	}

	l.logger.Info("reset tenant", "tenant", tenant, "keys", deleted)
	return deleted, nil
}

// ActiveKeys counts the keys currently held under the limiter prefix.
func (l *Limiter) ActiveKeys(ctx context.Context) (int, error) {
	count := 0
	err := l.scan(ctx, escapeGlob(l.prefix)+"*", func(keys []string) error {
		count += len(keys)
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// ServerTime returns the store clock.
func (l *Limiter) ServerTime(ctx context.Context) (time.Time, error) {
	t, err := l.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, classify(err)
	}
	return t, nil
}

// Ping checks connectivity to the store.
func (l *Limiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// GetMetrics returns the admission counters of this process. Keys live in the
// store, so ActiveKeys is left at zero; use ActiveKeys for a store scan.
func (l *Limiter) GetMetrics() ratelimit.Metrics {
	allowed, denied := l.allowed.Load(), l.denied.Load()
	total := allowed + denied

	var rate float64
	if total > 0 {
		rate = float64(denied) / float64(total) * 100
	}
	return ratelimit.Metrics{
		Allowed:         allowed,
		Denied:          denied,
		Total:           total,
		DenyRatePercent: rate,
	}
}

// ResetMetrics zeroes the admission counters.
func (l *Limiter) ResetMetrics() {
	l.allowed.Store(0)
	l.denied.Store(0)
}

// ScriptReloads returns how many times the script had to be reloaded.
func (l *Limiter) ScriptReloads() int64 {
	return l.reloads.Load()
}

func (l *Limiter) key(tenant, resource string) string {
	return l.prefix + ratelimit.Key(tenant, resource)
}

func (l *Limiter) now(ctx context.Context) (time.Time, error) {
	if l.clockMode == ClockCaller {
		return l.clock.Now(), nil
	}
	return l.ServerTime(ctx)
}

func (l *Limiter) scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := l.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// classify maps a store error onto the limiter error kinds. Error replies
// come from a reachable server; everything else is a transport failure.
func classify(err error) error {
	var reply redis.Error
	if errors.As(err, &reply) {
		if strings.Contains(err.Error(), "CLOCKSKEW") {
			return fmt.Errorf("%w: %s", ratelimit.ErrClockSkew, err.Error())
		}
		if isNoScript(err) {
			return fmt.Errorf("%w: %w", ratelimit.ErrStoreUnavailable, ratelimit.ErrScriptMissing)
		}
		return fmt.Errorf("admission script failed: %w", err)
	}
	return fmt.Errorf("%w: %w", ratelimit.ErrStoreUnavailable, err)
}

func isNoScript(err error) bool {
	return strings.HasPrefix(err.Error(), "NOSCRIPT")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
