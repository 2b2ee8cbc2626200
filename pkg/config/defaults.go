package config

import "time"

// Default values for configuration fields.
const (
	// Limits defaults
	DefaultLimitsBackend       = BackendLocal
	DefaultFailurePolicy       = "error"
	DefaultClass               = "standard"
	DefaultUserModelRequests   = 100
	DefaultUserModelWindow     = time.Hour
	DefaultModelRequests       = 10000
	DefaultModelWindow         = time.Hour
	DefaultUserModelTierName   = "user-model"
	DefaultModelTierName       = "global"
	DefaultStoreAddress        = "localhost:6379"
	DefaultStoreDialTimeout    = 5 * time.Second
	DefaultStoreReadTimeout    = 3 * time.Second
	DefaultStoreWriteTimeout   = 3 * time.Second
	DefaultStoreKeyPrefix      = "ratelimit:"
	DefaultStoreClockMode      = "store"
	DefaultStoreSkewTolerance  = 5 * time.Second
	DefaultStoreTTLMargin      = 60 * time.Second
	DefaultSnapshotBackend     = "sqlite"
	DefaultSnapshotSQLitePath  = "data/quotaguard.db"
	DefaultSnapshotDriver      = "sqlite"
	DefaultSnapshotBusyTimeout = 5 * time.Second
	DefaultSnapshotCheckpoint  = 5 * time.Minute
	DefaultSnapshotSchedule    = "@every 1m"
	DefaultSnapshotRetention   = 24 * time.Hour
	DefaultSweeperSchedule     = "@every 5m"

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultPrometheusPath      = "/metrics"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSamplingRate = 0.1
	DefaultTracingServiceName  = "quotaguard"
	DefaultTracingTimeout      = 10 * time.Second
	DefaultHealthCheckTimeout  = 2 * time.Second
)

// ApplyDefaults fills every empty field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	// Limits defaults
	if cfg.Limits.Backend == "" {
		cfg.Limits.Backend = DefaultLimitsBackend
	}
	if cfg.Limits.FailurePolicy == "" {
		cfg.Limits.FailurePolicy = DefaultFailurePolicy
	}
	if cfg.Limits.DefaultClass == "" {
		cfg.Limits.DefaultClass = DefaultClass
	}
	if len(cfg.Limits.Tiers) == 0 {
		cfg.Limits.Tiers = DefaultTiers()
	}
	for i := range cfg.Limits.Tiers {
		tier := &cfg.Limits.Tiers[i]
		if tier.Name == "" {
			tier.Name = tier.Scope
		}
		if tier.Backend == "" {
			tier.Backend = cfg.Limits.Backend
		}
	}

	// Store defaults
	if len(cfg.Store.Addresses) == 0 {
		cfg.Store.Addresses = []string{DefaultStoreAddress}
	}
	if cfg.Store.DialTimeout == 0 {
		cfg.Store.DialTimeout = DefaultStoreDialTimeout
	}
	if cfg.Store.ReadTimeout == 0 {
		cfg.Store.ReadTimeout = DefaultStoreReadTimeout
	}
	if cfg.Store.WriteTimeout == 0 {
		cfg.Store.WriteTimeout = DefaultStoreWriteTimeout
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = DefaultStoreKeyPrefix
	}
	if cfg.Store.ClockMode == "" {
		cfg.Store.ClockMode = DefaultStoreClockMode
	}
	if cfg.Store.SkewTolerance == 0 {
		cfg.Store.SkewTolerance = DefaultStoreSkewTolerance
	}
	if cfg.Store.TTLMargin == 0 {
		cfg.Store.TTLMargin = DefaultStoreTTLMargin
	}

	// Snapshot defaults
	if cfg.Snapshot.Backend == "" {
		cfg.Snapshot.Backend = DefaultSnapshotBackend
	}
	if cfg.Snapshot.SQLite.Path == "" {
		cfg.Snapshot.SQLite.Path = DefaultSnapshotSQLitePath
	}
	if cfg.Snapshot.SQLite.Driver == "" {
		cfg.Snapshot.SQLite.Driver = DefaultSnapshotDriver
	}
	if cfg.Snapshot.SQLite.BusyTimeout == 0 {
		cfg.Snapshot.SQLite.BusyTimeout = DefaultSnapshotBusyTimeout
	}
	if cfg.Snapshot.SQLite.CheckpointInterval == 0 {
		cfg.Snapshot.SQLite.CheckpointInterval = DefaultSnapshotCheckpoint
	}
	if cfg.Snapshot.Schedule == "" {
		cfg.Snapshot.Schedule = DefaultSnapshotSchedule
	}
	if cfg.Snapshot.Retention == 0 {
		cfg.Snapshot.Retention = DefaultSnapshotRetention
	}

	// Sweeper defaults
	if cfg.Sweeper.Schedule == "" {
		cfg.Sweeper.Schedule = DefaultSweeperSchedule
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// DefaultTiers returns the tiers used when none are configured: one limit per
// (user, model) pair followed by one limit per model.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Name:        DefaultUserModelTierName,
			Scope:       ScopeUserModel,
			MaxRequests: DefaultUserModelRequests,
			Window:      DefaultUserModelWindow,
		},
		{
			Name:        DefaultModelTierName,
			Scope:       ScopeModel,
			MaxRequests: DefaultModelRequests,
			Window:      DefaultModelWindow,
		},
	}
}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
