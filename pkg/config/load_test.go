package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotaguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
limits:
  backend: redis
  failure_policy: local
  tiers:
    - name: user-model
      scope: user_model
      max_requests: 100
      window: 1h
    - name: global
      scope: model
      max_requests: 10000
      window: 1h
    - name: class
      scope: class
      classes:
        high:
          max_requests: 500
          window: 1h
    - name: tokens
      scope: tokens
      max_tokens: 100000
      refill: 1m
  classification:
    gpt-4: high
    llama-7b: low

store:
  addresses: ["redis-a:6379", "redis-b:6379"]
  key_prefix: "qg:"
  clock_mode: caller

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Limits.Backend != BackendRedis {
		t.Errorf("expected backend %q, got %q", BackendRedis, cfg.Limits.Backend)
	}
	if len(cfg.Limits.Tiers) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(cfg.Limits.Tiers))
	}
	if cfg.Limits.Tiers[0].Window != time.Hour {
		t.Errorf("expected window 1h, got %v", cfg.Limits.Tiers[0].Window)
	}
	if cfg.Limits.Tiers[1].Backend != BackendRedis {
		t.Errorf("expected tier backend to inherit %q, got %q", BackendRedis, cfg.Limits.Tiers[1].Backend)
	}
	if got := cfg.Limits.Tiers[2].Classes["high"].MaxRequests; got != 500 {
		t.Errorf("expected high class capacity 500, got %d", got)
	}
	if cfg.Limits.Tiers[3].Refill != time.Minute {
		t.Errorf("expected refill 1m, got %v", cfg.Limits.Tiers[3].Refill)
	}
	if cfg.Limits.Classification["gpt-4"] != "high" {
		t.Errorf("expected gpt-4 classified high, got %q", cfg.Limits.Classification["gpt-4"])
	}
	if cfg.Limits.DefaultClass != DefaultClass {
		t.Errorf("expected default class %q, got %q", DefaultClass, cfg.Limits.DefaultClass)
	}
	if len(cfg.Store.Addresses) != 2 {
		t.Errorf("expected 2 store addresses, got %d", len(cfg.Store.Addresses))
	}
	if cfg.Store.TTLMargin != DefaultStoreTTLMargin {
		t.Errorf("expected ttl margin %v, got %v", DefaultStoreTTLMargin, cfg.Store.TTLMargin)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Limits.Tiers) != 2 {
		t.Fatalf("expected 2 default tiers, got %d", len(cfg.Limits.Tiers))
	}
	if cfg.Limits.Tiers[0].MaxRequests != DefaultUserModelRequests {
		t.Errorf("expected %d, got %d", DefaultUserModelRequests, cfg.Limits.Tiers[0].MaxRequests)
	}
	if cfg.Limits.Tiers[1].Name != DefaultModelTierName {
		t.Errorf("expected tier name %q, got %q", DefaultModelTierName, cfg.Limits.Tiers[1].Name)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "limits: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
limits:
  tiers:
    - scope: user_model
      max_requests: -1
      window: 1h
`))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if verr.Errors[0].Field != "limits.tiers[0].max_requests" {
		t.Errorf("unexpected field %q", verr.Errors[0].Field)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
limits:
  backend: local
store:
  addresses: ["localhost:6379"]
`)

	t.Setenv("QUOTAGUARD_LIMITS_BACKEND", "redis")
	t.Setenv("QUOTAGUARD_LIMITS_FAILURE_POLICY", "open")
	t.Setenv("QUOTAGUARD_STORE_ADDRESSES", "a:6379, b:6379,")
	t.Setenv("QUOTAGUARD_STORE_DB", "3")
	t.Setenv("QUOTAGUARD_STORE_SKEW_TOLERANCE", "2s")
	t.Setenv("QUOTAGUARD_SWEEPER_ENABLED", "false")
	t.Setenv("QUOTAGUARD_TELEMETRY_TRACING_SAMPLE_RATIO", "0.5")
	t.Setenv("QUOTAGUARD_STORE_POOL_SIZE", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Limits.Backend != BackendRedis {
		t.Errorf("expected backend %q, got %q", BackendRedis, cfg.Limits.Backend)
	}
	for _, tier := range cfg.Limits.Tiers {
		if tier.Backend != BackendRedis {
			t.Errorf("tier %q: expected backend %q, got %q", tier.Name, BackendRedis, tier.Backend)
		}
	}
	if cfg.Limits.FailurePolicy != "open" {
		t.Errorf("expected failure policy %q, got %q", "open", cfg.Limits.FailurePolicy)
	}
	if len(cfg.Store.Addresses) != 2 || cfg.Store.Addresses[1] != "b:6379" {
		t.Errorf("unexpected addresses %v", cfg.Store.Addresses)
	}
	if cfg.Store.DB != 3 {
		t.Errorf("expected db 3, got %d", cfg.Store.DB)
	}
	if cfg.Store.SkewTolerance != 2*time.Second {
		t.Errorf("expected skew tolerance 2s, got %v", cfg.Store.SkewTolerance)
	}
	if cfg.Sweeper.IsEnabled() {
		t.Error("expected sweeper disabled")
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.5 {
		t.Errorf("expected sample ratio 0.5, got %v", cfg.Telemetry.Tracing.SampleRatio)
	}
	if cfg.Store.PoolSize != 0 {
		t.Errorf("expected unparsable pool size to be ignored, got %d", cfg.Store.PoolSize)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	t.Setenv("QUOTAGUARD_LIMITS_FAILURE_POLICY", "maybe")

	_, err := LoadConfigWithEnvOverrides(writeConfig(t, ""))
	if err == nil {
		t.Fatal("expected validation error after override")
	}
	if !strings.Contains(err.Error(), "limits.failure_policy") {
		t.Errorf("expected failure policy error, got %v", err)
	}
}

func TestLoadConfigWithEnvOverrides_NoPath(t *testing.T) {
	t.Setenv("QUOTAGUARD_SERVER_LISTEN_ADDRESS", "0.0.0.0:9999")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("expected listen address override, got %q", cfg.Server.ListenAddress)
	}
}

func TestLoadConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "quotaguard.yaml"))
	if err != nil {
		t.Fatalf("example config failed to load: %v", err)
	}

	if len(cfg.Limits.Tiers) != 4 {
		t.Fatalf("tiers = %d, want 4", len(cfg.Limits.Tiers))
	}
	if got := cfg.Limits.Tiers[1].Backend; got != BackendRedis {
		t.Errorf("global tier backend = %q, want %q", got, BackendRedis)
	}
	if got := cfg.Limits.Tiers[0].Backend; got != BackendLocal {
		t.Errorf("user-model tier backend = %q, want %q", got, BackendLocal)
	}
	if got := cfg.Limits.Classification["claude-2"]; got != "high" {
		t.Errorf("claude-2 class = %q, want high", got)
	}
	if !cfg.Snapshot.Enabled {
		t.Error("snapshots should be enabled in the example")
	}
}
