package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/quotaguard/pkg/config"
	"mercator-hq/quotaguard/pkg/limits/distributed"
	"mercator-hq/quotaguard/pkg/limits/maintenance"
	"mercator-hq/quotaguard/pkg/limits/ratelimit"
	"mercator-hq/quotaguard/pkg/limits/shard"
	"mercator-hq/quotaguard/pkg/limits/storage"
	"mercator-hq/quotaguard/pkg/limits/tiered"
	"mercator-hq/quotaguard/pkg/telemetry/health"
)

// SnapshotCleanupSchedule is how often expired snapshots are dropped.
const SnapshotCleanupSchedule = "@hourly"

// Manager builds the tiered limiter described by configuration and owns
// everything around it: store clients, snapshot persistence, maintenance
// jobs, metrics and health checks.
//
// # Example
//
//	manager, err := limits.NewManager(cfg, limits.WithRegisterer(registry))
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
//
//	allowed, reason, err := manager.Allow(ctx, "user-1", "gpt-4")
type Manager struct {
	cfg        *config.Config
	policy     tiered.FailurePolicy
	tiers      []*tierState
	limiter    *tiered.Limiter
	classifier *tiered.Classifier
	pool       *storePool
	snapshots  storage.Backend
	metrics    *Metrics

	registerer prometheus.Registerer
	clock      ratelimit.Clock
	logger     *slog.Logger

	// reloadMu serializes ApplyConfig.
	reloadMu  sync.Mutex
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRegisterer registers admission metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registerer = reg
	}
}

// WithClock sets the clock of local limiters.
func WithClock(c ratelimit.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithSnapshotBackend overrides the snapshot backend built from
// configuration. The manager takes ownership and closes it.
func WithSnapshotBackend(b storage.Backend) Option {
	return func(m *Manager) {
		m.snapshots = b
	}
}

// unit is one limiter of a tier: the tier itself, or one class of a class
// tier.
type unit struct {
	label string
	cfg   ratelimit.Config

	local    *ratelimit.LocalLimiter
	tokens   *ratelimit.TokenLimiter
	store    shard.Store
	nodes    []*distributed.Limiter
	fallback *ratelimit.LocalLimiter
}

func (u *unit) backend() tiered.Backend {
	b := tiered.Backend{}
	switch {
	case u.local != nil:
		b.Limiter = u.local
	case u.tokens != nil:
		b.Limiter = u.tokens
	default:
		b.Limiter = u.store
	}
	if u.fallback != nil {
		b.Fallback = u.fallback
	}
	return b
}

type tierState struct {
	cfg     config.TierConfig
	main    *unit
	classes map[string]*unit
}

// units returns the limiters of the tier, class units sorted by class.
func (t *tierState) units() []*unit {
	if t.main != nil {
		return []*unit{t.main}
	}
	out := make([]*unit, 0, len(t.classes))
	for _, class := range slices.Sorted(maps.Keys(t.classes)) {
		out = append(out, t.classes[class])
	}
	return out
}

// NewManager creates a manager from a validated configuration.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	m := &Manager{
		cfg:    cfg,
		clock:  ratelimit.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "limits.manager")
	m.metrics = NewMetrics(m.registerer)

	policy, err := tiered.ParseFailurePolicy(cfg.Limits.FailurePolicy)
	if err != nil {
		return nil, err
	}
	m.policy = policy

	if cfg.Limits.UsesBackend(config.BackendRedis) {
		m.pool, err = newStorePool(cfg.Store, m.logger)
		if err != nil {
			return nil, err
		}
	}

	tiers := make([]tiered.Tier, 0, len(cfg.Limits.Tiers))
	for _, tc := range cfg.Limits.Tiers {
		ts, tier, err := m.buildTier(tc)
		if err != nil {
			m.closeResources()
			return nil, fmt.Errorf("tier %s: %w", tc.Name, err)
		}
		m.tiers = append(m.tiers, ts)
		tiers = append(tiers, tier)
	}

	if m.snapshots == nil && cfg.Snapshot.Enabled {
		m.snapshots, err = openSnapshotBackend(cfg.Snapshot)
		if err != nil {
			m.closeResources()
			return nil, err
		}
	}

	m.classifier = tiered.NewClassifier(cfg.Limits.Classification, cfg.Limits.DefaultClass)
	m.limiter, err = tiered.New(tiers,
		tiered.WithFailurePolicy(policy),
		tiered.WithClassifier(m.classifier),
		tiered.WithObserver(m.metrics),
		tiered.WithLogger(m.logger),
	)
	if err != nil {
		m.closeResources()
		return nil, err
	}

	m.logger.Info("limits manager initialized",
		"tiers", m.limiter.Tiers(),
		"failure_policy", string(policy),
		"store", m.pool != nil,
		"snapshots", m.snapshots != nil,
	)
	return m, nil
}

func (m *Manager) buildTier(tc config.TierConfig) (*tierState, tiered.Tier, error) {
	ts := &tierState{cfg: tc}
	tier := tiered.Tier{Name: tc.Name, Scope: tiered.Scope(tc.Scope)}

	switch tc.Scope {
	case config.ScopeTokens:
		tokens, err := ratelimit.NewTokenLimiter(ratelimit.TokenConfig{MaxTokens: tc.MaxTokens, Refill: tc.Refill}, m.clock)
		if err != nil {
			return nil, tier, err
		}
		ts.main = &unit{label: tc.Name, tokens: tokens}
		tier.Backend = ts.main.backend()

	case config.ScopeClass:
		ts.classes = make(map[string]*unit, len(tc.Classes))
		tier.Classes = make(map[string]tiered.Backend, len(tc.Classes))
		for _, class := range slices.Sorted(maps.Keys(tc.Classes)) {
			rl := tc.Classes[class]
			u, err := m.buildUnit(tc, tc.Name+"/"+class, ratelimit.Config{MaxRequests: rl.MaxRequests, Window: rl.Window})
			if err != nil {
				return nil, tier, fmt.Errorf("class %s: %w", class, err)
			}
			ts.classes[class] = u
			tier.Classes[class] = u.backend()
		}

	default:
		u, err := m.buildUnit(tc, tc.Name, ratelimit.Config{MaxRequests: tc.MaxRequests, Window: tc.Window})
		if err != nil {
			return nil, tier, err
		}
		ts.main = u
		tier.Backend = u.backend()
	}

	return ts, tier, nil
}

func (m *Manager) buildUnit(tc config.TierConfig, label string, rc ratelimit.Config) (*unit, error) {
	u := &unit{label: label, cfg: rc}

	if tc.Backend != config.BackendRedis {
		local, err := ratelimit.NewLocalLimiter(rc, ratelimit.WithClock(m.clock))
		if err != nil {
			return nil, err
		}
		u.local = local
		return u, nil
	}

	// Tier names are escaped like tenants so two tiers never share keys.
	store, nodes, err := m.pool.limiter(ratelimit.TenantPrefix(tc.Name), rc)
	if err != nil {
		return nil, err
	}
	u.store, u.nodes = store, nodes

	if m.policy == tiered.FailLocal {
		u.fallback, err = ratelimit.NewLocalLimiter(rc, ratelimit.WithClock(m.clock))
		if err != nil {
			return nil, err
		}
	}
	return u, nil
}

func openSnapshotBackend(cfg config.SnapshotConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "sqlite":
		b, err := storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:             cfg.SQLite.Path,
			Driver:             cfg.SQLite.Driver,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// Limiter returns the tiered limiter.
func (m *Manager) Limiter() *tiered.Limiter {
	return m.limiter
}

// Metrics returns the admission metrics.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Admit evaluates req against every tier.
func (m *Manager) Admit(ctx context.Context, req tiered.Request) (tiered.Decision, error) {
	return m.limiter.Admit(ctx, req)
}

// Allow reports whether user may call model now and why not if denied.
func (m *Manager) Allow(ctx context.Context, user, model string) (bool, string, error) {
	return m.limiter.Allow(ctx, user, model)
}

// Reset clears the state of one (tenant, resource) key in every tier, or of
// every key of the tenant when resource is empty. Global tiers are keyed by
// ratelimit.GlobalTenant. Saved window logs of local tiers are deleted with
// the in-memory state. It returns the number of keys cleared.
func (m *Manager) Reset(ctx context.Context, tenant, resource string) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, ts := range m.tiers {
		for _, u := range ts.units() {
			switch {
			case u.local != nil:
				total += int64(u.local.Reset(tenant, resource))
				if err := m.forgetSnapshots(ctx, u.label, tenant, resource); err != nil {
					errs = append(errs, fmt.Errorf("tier %s: %w", u.label, err))
				}
			case u.tokens != nil:
				total += int64(u.tokens.Reset(tenant, resource))
			default:
				n, err := u.store.Reset(ctx, tenant, resource)
				total += n
				if err != nil {
					errs = append(errs, fmt.Errorf("tier %s: %w", u.label, err))
				}
			}
			if u.fallback != nil {
				u.fallback.Reset(tenant, resource)
			}
		}
	}

	m.logger.Info("reset limits", "tenant", tenant, "resource", resource, "keys", total)
	return total, errors.Join(errs...)
}

// forgetSnapshots deletes the saved window logs that Reset just cleared, so
// a Restore before the next snapshot does not bring them back.
func (m *Manager) forgetSnapshots(ctx context.Context, dimension, tenant, resource string) error {
	if m.snapshots == nil {
		return nil
	}
	if resource != "" {
		return m.snapshots.Delete(ctx, ratelimit.Key(tenant, resource), dimension)
	}

	states, err := m.snapshots.List(ctx, dimension)
	if err != nil {
		return err
	}
	prefix := ratelimit.TenantPrefix(tenant)
	for _, s := range states {
		if !strings.HasPrefix(s.Identifier, prefix) {
			continue
		}
		if err := m.snapshots.Delete(ctx, s.Identifier, dimension); err != nil {
			return err
		}
	}
	return nil
}

// Usage reports, for every tier that applies, how much of the window the
// key of (user, model) has used. Nothing is recorded.
func (m *Manager) Usage(ctx context.Context, user, model string) ([]TierUsage, error) {
	class := m.classifier.Classify(model)

	var out []TierUsage
	for _, ts := range m.tiers {
		tenant, resource := user, model
		u := ts.main
		switch ts.cfg.Scope {
		case config.ScopeModel:
			tenant = ratelimit.GlobalTenant
		case config.ScopeClass:
			tenant, resource = ratelimit.GlobalTenant, ratelimit.TierResource(class)
			u = ts.classes[class]
		}
		if u == nil {
			continue
		}

		usage := TierUsage{Tier: ts.cfg.Name, Key: ratelimit.Key(tenant, resource), Limit: int64(u.cfg.MaxRequests)}
		switch {
		case u.local != nil:
			usage.Count = int64(u.local.GetRequestCount(tenant, resource))
		case u.tokens != nil:
			usage.Limit = ts.cfg.MaxTokens
			usage.Count = ts.cfg.MaxTokens - u.tokens.Remaining(tenant, resource)
		default:
			n, err := u.store.GetRequestCount(ctx, tenant, resource)
			if err != nil {
				return out, fmt.Errorf("tier %s: %w", ts.cfg.Name, err)
			}
			usage.Count = n
		}
		out = append(out, usage)
	}
	return out, nil
}

// Sweep drops idle keys from every in-process limiter and returns how many
// were dropped. Store keys expire on their own.
func (m *Manager) Sweep(context.Context) (int, error) {
	removed := 0
	for _, ts := range m.tiers {
		for _, u := range ts.units() {
			if u.local != nil {
				removed += u.local.Sweep()
			}
			if u.tokens != nil {
				removed += u.tokens.Sweep()
			}
			if u.fallback != nil {
				removed += u.fallback.Sweep()
			}
		}
	}
	return removed, nil
}

// Snapshot saves the window logs of every local tier and returns the number
// of keys saved. It is a no-op without a snapshot backend.
func (m *Manager) Snapshot(ctx context.Context) (int, error) {
	if m.snapshots == nil {
		return 0, nil
	}

	saved := 0
	for _, ts := range m.tiers {
		for _, u := range ts.units() {
			if u.local == nil {
				continue
			}
			snaps := u.local.Snapshot()
			states := make([]*storage.LimitState, 0, len(snaps))
			for _, s := range snaps {
				states = append(states, &storage.LimitState{
					Identifier: s.Key,
					Window:     &storage.WindowState{Window: u.cfg.Window, Timestamps: s.Timestamps},
				})
			}
			if err := m.snapshots.Replace(ctx, u.label, states); err != nil {
				return saved, fmt.Errorf("snapshot of %s: %w", u.label, err)
			}
			saved += len(states)
		}
	}
	return saved, nil
}

// Restore loads saved window logs into the local tiers and returns the
// number of entries restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.snapshots == nil {
		return 0, nil
	}

	restored := 0
	for _, ts := range m.tiers {
		for _, u := range ts.units() {
			if u.local == nil {
				continue
			}
			states, err := m.snapshots.List(ctx, u.label)
			if err != nil {
				return restored, fmt.Errorf("restore of %s: %w", u.label, err)
			}
			snaps := make([]ratelimit.KeySnapshot, 0, len(states))
			for _, s := range states {
				if s.Window == nil {
					continue
				}
				snaps = append(snaps, ratelimit.KeySnapshot{Key: s.Identifier, Timestamps: s.Window.Timestamps})
			}
			restored += u.local.Restore(snaps)
		}
	}

	m.logger.Info("restored window logs", "entries", restored)
	return restored, nil
}

// CleanupSnapshots drops snapshots older than the retention period.
func (m *Manager) CleanupSnapshots(ctx context.Context) (int, error) {
	if m.snapshots == nil {
		return 0, nil
	}
	return m.snapshots.Cleanup(ctx, time.Now().Add(-m.cfg.Snapshot.Retention))
}

// Jobs returns the maintenance jobs enabled by configuration.
func (m *Manager) Jobs() []maintenance.Job {
	var jobs []maintenance.Job
	if m.cfg.Sweeper.IsEnabled() {
		jobs = append(jobs, maintenance.Job{Name: maintenance.JobSweep, Schedule: m.cfg.Sweeper.Schedule, Run: m.Sweep})
	}
	if m.snapshots != nil {
		jobs = append(jobs,
			maintenance.Job{Name: maintenance.JobSnapshot, Schedule: m.cfg.Snapshot.Schedule, Run: m.Snapshot},
			maintenance.Job{Name: maintenance.JobSnapshotCleanup, Schedule: SnapshotCleanupSchedule, Run: m.CleanupSnapshots},
		)
	}
	return jobs
}

// ApplyConfig applies the parts of a reloaded configuration that can change
// at runtime: the classification table and default class. Other changes are
// logged and need a restart.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.classifier.Update(cfg.Limits.Classification, cfg.Limits.DefaultClass)
	m.logger.Info("classification reloaded",
		"models", len(cfg.Limits.Classification),
		"default_class", cfg.Limits.DefaultClass,
	)

	if sections := config.RestartRequired(m.cfg, cfg); len(sections) > 0 {
		m.logger.Warn("configuration changes ignored until restart", "sections", sections)
	}
}

// Status returns the counters of every tier and refreshes the active keys
// gauge.
func (m *Manager) Status(ctx context.Context) Status {
	table, def := m.classifier.Table()
	st := Status{
		FailurePolicy:  string(m.policy),
		Classification: table,
		DefaultClass:   def,
		Tiers:          make([]TierStatus, 0, len(m.tiers)),
	}

	for _, ts := range m.tiers {
		tstat := TierStatus{Name: ts.cfg.Name, Scope: ts.cfg.Scope, Backend: ts.cfg.Backend}
		if ts.cfg.Scope == config.ScopeTokens {
			tstat.Backend = config.BackendLocal
		}

		var all []ratelimit.Metrics
		for _, u := range ts.units() {
			um, err := unitMetrics(ctx, u)
			if err != nil && tstat.Error == "" {
				tstat.Error = err.Error()
			}
			all = append(all, um)
			if ts.classes != nil {
				if tstat.Classes == nil {
					tstat.Classes = make(map[string]ratelimit.Metrics)
				}
				tstat.Classes[u.label[len(ts.cfg.Name)+1:]] = um
			}
		}
		tstat.Metrics = sumMetrics(all...)
		m.metrics.SetActiveKeys(ts.cfg.Name, tstat.Metrics.ActiveKeys)

		st.Tiers = append(st.Tiers, tstat)
	}
	return st
}

func unitMetrics(ctx context.Context, u *unit) (ratelimit.Metrics, error) {
	switch {
	case u.local != nil:
		return u.local.GetMetrics(), nil
	case u.tokens != nil:
		return u.tokens.GetMetrics(), nil
	}

	parts := make([]ratelimit.Metrics, 0, len(u.nodes)+1)
	for _, n := range u.nodes {
		parts = append(parts, n.GetMetrics())
	}
	if u.fallback != nil {
		fm := u.fallback.GetMetrics()
		fm.ActiveKeys = 0
		parts = append(parts, fm)
	}
	total := sumMetrics(parts...)

	keys, err := u.store.ActiveKeys(ctx)
	total.ActiveKeys = keys
	return total, err
}

func sumMetrics(parts ...ratelimit.Metrics) ratelimit.Metrics {
	var out ratelimit.Metrics
	for _, p := range parts {
		out.Allowed += p.Allowed
		out.Denied += p.Denied
		out.ActiveKeys += p.ActiveKeys
	}
	out.Total = out.Allowed + out.Denied
	if out.Total > 0 {
		out.DenyRatePercent = float64(out.Denied) / float64(out.Total) * 100
	}
	return out
}

// ResetMetrics zeroes the admission counters of every limiter.
func (m *Manager) ResetMetrics() {
	for _, ts := range m.tiers {
		for _, u := range ts.units() {
			switch {
			case u.local != nil:
				u.local.ResetMetrics()
			case u.tokens != nil:
				u.tokens.ResetMetrics()
			}
			for _, n := range u.nodes {
				n.ResetMetrics()
			}
			if u.fallback != nil {
				u.fallback.ResetMetrics()
			}
		}
	}
}

// Preload loads the admission script into every store instance.
func (m *Manager) Preload(ctx context.Context) error {
	var errs []error
	for _, ts := range m.tiers {
		for _, u := range ts.units() {
			// Every limiter runs the same script; one per instance is enough.
			for _, n := range u.nodes {
				if err := n.Preload(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			if len(u.nodes) > 0 {
				return errors.Join(errs...)
			}
		}
	}
	return errors.Join(errs...)
}

// Ping checks the store. It is a no-op when no tier uses the store.
func (m *Manager) Ping(ctx context.Context) error {
	if m.pool == nil {
		return nil
	}
	return m.pool.Ping(ctx)
}

// RegisterHealthChecks adds the store check to checker. The store only
// makes the service unhealthy when its failures reach callers, that is
// under the error failure policy.
func (m *Manager) RegisterHealthChecks(checker *health.Checker) {
	if m.pool == nil {
		return
	}
	checker.RegisterCheck("store", m.Ping, m.policy == tiered.FailError)
}

// Close saves a final snapshot and releases store clients and the snapshot
// backend. Close is idempotent.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.snapshots != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, snapErr := m.Snapshot(ctx)
			cancel()
			if snapErr != nil {
				m.logger.Error("final snapshot failed", "error", snapErr)
			} else {
				m.logger.Info("final snapshot saved", "keys", n)
			}
		}
		err = m.closeResources()
	})
	return err
}

func (m *Manager) closeResources() error {
	var errs []error
	if m.pool != nil {
		if err := m.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if m.snapshots != nil {
		if err := m.snapshots.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshots: %w", err))
		}
	}
	return errors.Join(errs...)
}
