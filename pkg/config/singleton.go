package config

import (
	"fmt"
	"reflect"
	"sync"
)

// The process-wide configuration. serve publishes it at startup and replaces
// it on every successful hot reload.
var (
	current   *Config
	currentMu sync.RWMutex
	initOnce  sync.Once
)

// Initialize loads path with environment overrides and publishes the result.
// Only the first call loads; later calls return nil without reading path.
func Initialize(path string) error {
	var err error
	initOnce.Do(func() {
		var cfg *Config
		if cfg, err = LoadConfigWithEnvOverrides(path); err == nil {
			SetConfig(cfg)
		}
	})
	return err
}

// GetConfig returns the published configuration, nil before Initialize or
// SetConfig.
func GetConfig() *Config {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// SetConfig publishes cfg.
func SetConfig(cfg *Config) {
	currentMu.Lock()
	current = cfg
	currentMu.Unlock()
}

// ReloadConfig loads path again and publishes it. On failure the published
// configuration is left untouched.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	SetConfig(cfg)
	return cfg, nil
}

// RestartRequired lists the sections that differ between prev and next but
// are only read at startup. Limiter capacities are immutable once built, so
// only the classification table and log level take effect on reload.
func RestartRequired(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}

	var sections []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			sections = append(sections, name)
		}
	}
	check("limits.backend", prev.Limits.Backend, next.Limits.Backend)
	check("limits.failure_policy", prev.Limits.FailurePolicy, next.Limits.FailurePolicy)
	check("limits.tiers", prev.Limits.Tiers, next.Limits.Tiers)
	check("store", prev.Store, next.Store)
	check("snapshot", prev.Snapshot, next.Snapshot)
	check("sweeper", prev.Sweeper, next.Sweeper)
	check("server", prev.Server, next.Server)
	check("telemetry.metrics", prev.Telemetry.Metrics, next.Telemetry.Metrics)
	check("telemetry.tracing", prev.Telemetry.Tracing, next.Telemetry.Tracing)
	return sections
}
