package config

import "time"

// Config is the root configuration of quotaguard.
type Config struct {
	// Limits describes the admission tiers.
	Limits LimitsConfig `yaml:"limits"`

	// Store configures the shared Redis store used by the redis backend.
	Store StoreConfig `yaml:"store"`

	// Snapshot configures persistence of local window logs across restarts.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Sweeper configures periodic removal of idle keys from local limiters.
	Sweeper SweeperConfig `yaml:"sweeper"`

	// Server configures the operational HTTP endpoints.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Limiter backends.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Tier scopes.
const (
	// ScopeUserModel limits each (user, model) pair.
	ScopeUserModel = "user_model"

	// ScopeModel limits each model across all users.
	ScopeModel = "model"

	// ScopeClass limits each model class across all users.
	ScopeClass = "class"

	// ScopeTokens charges token cost to each (user, model) pair.
	ScopeTokens = "tokens"
)

// LimitsConfig contains the tiered admission configuration.
type LimitsConfig struct {
	// Backend selects where window logs live: "local" or "redis".
	// Default: "local"
	Backend string `yaml:"backend"`

	// FailurePolicy decides what happens when the store is unreachable.
	// Options: "error", "open", "closed", "local"
	// Default: "error"
	FailurePolicy string `yaml:"failure_policy"`

	// Tiers are evaluated in order; the first denial wins.
	Tiers []TierConfig `yaml:"tiers"`

	// Classification maps model names to classes for class tiers.
	Classification map[string]string `yaml:"classification"`

	// DefaultClass is used for models absent from Classification.
	// Default: "standard"
	DefaultClass string `yaml:"default_class"`
}

// TierConfig describes one admission tier.
type TierConfig struct {
	// Name appears in denial reasons and metric labels.
	Name string `yaml:"name"`

	// Scope selects how the tier derives its key.
	// Options: "user_model", "model", "class", "tokens"
	Scope string `yaml:"scope"`

	// MaxRequests is the capacity per window. Zero denies everything.
	MaxRequests int `yaml:"max_requests"`

	// Window is the sliding window length.
	Window time.Duration `yaml:"window"`

	// Classes holds per-class limits for class tiers. A class without an
	// entry is not limited by the tier.
	Classes map[string]RateLimit `yaml:"classes"`

	// MaxTokens is the token budget per Refill period for tokens tiers.
	MaxTokens int64 `yaml:"max_tokens"`

	// Refill is the period over which a drained token budget refills.
	Refill time.Duration `yaml:"refill"`

	// Backend overrides limits.backend for this tier. Token tiers are always
	// local.
	Backend string `yaml:"backend"`
}

// RateLimit is a capacity over a window.
type RateLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// StoreConfig contains Redis connection settings.
type StoreConfig struct {
	// Addresses lists the Redis instances. More than one address shards keys
	// across instances with rendezvous hashing.
	// Default: ["localhost:6379"]
	Addresses []string `yaml:"addresses"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// PoolSize is the connection pool size per instance.
	// Default: 10 x GOMAXPROCS (go-redis default) when 0
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadTimeout and WriteTimeout bound each command.
	// Default: 3s
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// KeyPrefix namespaces every key.
	// Default: "ratelimit:"
	KeyPrefix string `yaml:"key_prefix"`

	// ClockMode selects the time source: "store" or "caller".
	// Default: "store"
	ClockMode string `yaml:"clock_mode"`

	// SkewTolerance bounds caller clock drift in caller mode.
	// Default: 5s
	SkewTolerance time.Duration `yaml:"skew_tolerance"`

	// TTLMargin is how long keys outlive their window.
	// Default: 60s
	TTLMargin time.Duration `yaml:"ttl_margin"`
}

// SnapshotConfig contains snapshot persistence settings.
type SnapshotConfig struct {
	// Enabled turns on save at shutdown, periodic saves and restore at start.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects "memory" or "sqlite".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Schedule is the cron expression for periodic snapshots.
	// Default: "@every 1m"
	Schedule string `yaml:"schedule"`

	// Retention drops snapshots not refreshed within this period.
	// Default: 24h
	Retention time.Duration `yaml:"retention"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/quotaguard.db"
	Path string `yaml:"path"`

	// Driver selects "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long to wait for a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// SweeperConfig contains idle key sweep settings.
type SweeperConfig struct {
	// Enabled turns the sweeper on.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Schedule is the cron expression for sweeps.
	// Default: "@every 5m"
	Schedule string `yaml:"schedule"`
}

// IsEnabled reports whether the sweeper runs.
func (c SweeperConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ServerConfig contains the operational HTTP server settings.
type ServerConfig struct {
	// ListenAddress is where metrics and health endpoints are served.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout and WriteTimeout bound each HTTP exchange.
	// Default: 10s
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled exposes metrics on the server.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// IsEnabled reports whether metrics are exposed.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "quotaguard"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
