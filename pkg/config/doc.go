// Package config provides configuration management for quotaguard.
//
// Configuration is loaded from a YAML file, completed with defaults and
// validated before use:
//
//	cfg, err := config.LoadConfig("quotaguard.yaml")
//
// or, with environment variable overrides:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("quotaguard.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention QUOTAGUARD_SECTION_FIELD:
//
//   - QUOTAGUARD_LIMITS_BACKEND overrides limits.backend
//   - QUOTAGUARD_STORE_ADDRESSES overrides store.addresses (comma separated)
//   - QUOTAGUARD_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Values from YAML file
//  2. Default values for anything left empty
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file and calls back after a debounce
// period. Only the model classification table is applied at runtime; limiter
// capacities are fixed for the lifetime of a limiter.
package config
