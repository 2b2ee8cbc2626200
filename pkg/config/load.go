package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "QUOTAGUARD_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention QUOTAGUARD_SECTION_FIELD (e.g., QUOTAGUARD_STORE_ADDRESSES) and
// always take precedence over the file.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Limits overrides
	if val := env("LIMITS_BACKEND"); val != "" {
		// Tiers that inherited the old backend follow the new one.
		for i := range cfg.Limits.Tiers {
			if cfg.Limits.Tiers[i].Backend == cfg.Limits.Backend {
				cfg.Limits.Tiers[i].Backend = val
			}
		}
		cfg.Limits.Backend = val
	}
	if val := env("LIMITS_FAILURE_POLICY"); val != "" {
		cfg.Limits.FailurePolicy = val
	}
	if val := env("LIMITS_DEFAULT_CLASS"); val != "" {
		cfg.Limits.DefaultClass = val
	}

	// Store overrides
	if val := env("STORE_ADDRESSES"); val != "" {
		cfg.Store.Addresses = splitList(val)
	}
	if val := env("STORE_USERNAME"); val != "" {
		cfg.Store.Username = val
	}
	if val := env("STORE_PASSWORD"); val != "" {
		cfg.Store.Password = val
	}
	if val := env("STORE_DB"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Store.DB = i
		}
	}
	if val := env("STORE_POOL_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Store.PoolSize = i
		}
	}
	if val := env("STORE_KEY_PREFIX"); val != "" {
		cfg.Store.KeyPrefix = val
	}
	if val := env("STORE_CLOCK_MODE"); val != "" {
		cfg.Store.ClockMode = val
	}
	if val := env("STORE_SKEW_TOLERANCE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Store.SkewTolerance = d
		}
	}

	// Snapshot overrides
	if val := env("SNAPSHOT_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Snapshot.Enabled = b
		}
	}
	if val := env("SNAPSHOT_BACKEND"); val != "" {
		cfg.Snapshot.Backend = val
	}
	if val := env("SNAPSHOT_SQLITE_PATH"); val != "" {
		cfg.Snapshot.SQLite.Path = val
	}
	if val := env("SNAPSHOT_SQLITE_DRIVER"); val != "" {
		cfg.Snapshot.SQLite.Driver = val
	}

	// Sweeper overrides
	if val := env("SWEEPER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Sweeper.Enabled = &b
		}
	}
	if val := env("SWEEPER_SCHEDULE"); val != "" {
		cfg.Sweeper.Schedule = val
	}

	// Server overrides
	if val := env("SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}

	// Telemetry overrides
	if val := env("TELEMETRY_LOGGING_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := env("TELEMETRY_LOGGING_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := env("TELEMETRY_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Metrics.Enabled = &b
		}
	}
	if val := env("TELEMETRY_TRACING_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Telemetry.Tracing.Enabled = b
		}
	}
	if val := env("TELEMETRY_TRACING_ENDPOINT"); val != "" {
		cfg.Telemetry.Tracing.Endpoint = val
	}
	if val := env("TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
