package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "limits.tiers[0].window").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateLimits(&cfg.Limits)...)
	if cfg.Limits.UsesBackend(BackendRedis) {
		errs = append(errs, validateStore(&cfg.Store)...)
	}
	errs = append(errs, validateSnapshot(&cfg.Snapshot)...)
	errs = append(errs, validateSweeper(&cfg.Sweeper)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// UsesBackend reports whether any request tier runs on backend.
func (c *LimitsConfig) UsesBackend(backend string) bool {
	for _, tier := range c.Tiers {
		if tier.Scope != ScopeTokens && tier.Backend == backend {
			return true
		}
	}
	return false
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if !isOneOf(cfg.Backend, BackendLocal, BackendRedis) {
		errs = append(errs, FieldError{
			Field:   "limits.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'local' or 'redis'", cfg.Backend),
		})
	}
	if !isOneOf(cfg.FailurePolicy, "error", "open", "closed", "local") {
		errs = append(errs, FieldError{
			Field:   "limits.failure_policy",
			Message: fmt.Sprintf("invalid failure policy %q: must be 'error', 'open', 'closed' or 'local'", cfg.FailurePolicy),
		})
	}
	if len(cfg.Tiers) == 0 {
		errs = append(errs, FieldError{
			Field:   "limits.tiers",
			Message: "at least one tier is required",
		})
	}

	names := make(map[string]bool, len(cfg.Tiers))
	for i, tier := range cfg.Tiers {
		prefix := fmt.Sprintf("limits.tiers[%d]", i)

		if tier.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "tier name is required"})
		} else if names[tier.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate tier name %q", tier.Name)})
		}
		names[tier.Name] = true

		if !isOneOf(tier.Backend, BackendLocal, BackendRedis) {
			errs = append(errs, FieldError{
				Field:   prefix + ".backend",
				Message: fmt.Sprintf("invalid backend %q: must be 'local' or 'redis'", tier.Backend),
			})
		}

		switch tier.Scope {
		case ScopeUserModel, ScopeModel:
			errs = append(errs, validateRateLimit(prefix, RateLimit{MaxRequests: tier.MaxRequests, Window: tier.Window})...)
		case ScopeClass:
			if len(tier.Classes) == 0 {
				errs = append(errs, FieldError{Field: prefix + ".classes", Message: "class tier needs at least one class"})
			}
			for class, limit := range tier.Classes {
				errs = append(errs, validateRateLimit(fmt.Sprintf("%s.classes.%s", prefix, class), limit)...)
			}
		case ScopeTokens:
			if tier.MaxTokens <= 0 {
				errs = append(errs, FieldError{Field: prefix + ".max_tokens", Message: "max tokens must be positive"})
			}
			if tier.Refill <= 0 {
				errs = append(errs, FieldError{Field: prefix + ".refill", Message: "refill must be positive"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   prefix + ".scope",
				Message: fmt.Sprintf("invalid scope %q: must be 'user_model', 'model', 'class' or 'tokens'", tier.Scope),
			})
		}
	}

	for model, class := range cfg.Classification {
		if class == "" {
			errs = append(errs, FieldError{
				Field:   "limits.classification." + model,
				Message: "class must not be empty",
			})
		}
	}

	return errs
}

func validateRateLimit(prefix string, limit RateLimit) []FieldError {
	var errs []FieldError
	if limit.MaxRequests < 0 {
		errs = append(errs, FieldError{Field: prefix + ".max_requests", Message: "max requests must not be negative"})
	}
	if limit.Window <= 0 {
		errs = append(errs, FieldError{Field: prefix + ".window", Message: "window must be positive"})
	}
	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	if len(cfg.Addresses) == 0 {
		errs = append(errs, FieldError{Field: "store.addresses", Message: "at least one address is required"})
	}
	seen := make(map[string]bool, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		if addr == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("store.addresses[%d]", i), Message: "address must not be empty"})
		} else if seen[addr] {
			errs = append(errs, FieldError{Field: fmt.Sprintf("store.addresses[%d]", i), Message: fmt.Sprintf("duplicate address %q", addr)})
		}
		seen[addr] = true
	}
	if cfg.DB < 0 {
		errs = append(errs, FieldError{Field: "store.db", Message: "db must not be negative"})
	}
	if !isOneOf(cfg.ClockMode, "store", "caller") {
		errs = append(errs, FieldError{
			Field:   "store.clock_mode",
			Message: fmt.Sprintf("invalid clock mode %q: must be 'store' or 'caller'", cfg.ClockMode),
		})
	}
	if cfg.SkewTolerance < 0 {
		errs = append(errs, FieldError{Field: "store.skew_tolerance", Message: "skew tolerance must not be negative"})
	}
	if cfg.TTLMargin < 0 {
		errs = append(errs, FieldError{Field: "store.ttl_margin", Message: "ttl margin must not be negative"})
	}

	return errs
}

func validateSnapshot(cfg *SnapshotConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError
	if !isOneOf(cfg.Backend, "memory", "sqlite") {
		errs = append(errs, FieldError{
			Field:   "snapshot.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}
	if cfg.Backend == "sqlite" {
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "snapshot.sqlite.path", Message: "path is required"})
		}
		if !isOneOf(cfg.SQLite.Driver, "sqlite", "sqlite3") {
			errs = append(errs, FieldError{
				Field:   "snapshot.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
	}
	if err := validateSchedule(cfg.Schedule); err != nil {
		errs = append(errs, FieldError{Field: "snapshot.schedule", Message: err.Error()})
	}
	if cfg.Retention <= 0 {
		errs = append(errs, FieldError{Field: "snapshot.retention", Message: "retention must be positive"})
	}
	return errs
}

func validateSweeper(cfg *SweeperConfig) []FieldError {
	if !cfg.IsEnabled() {
		return nil
	}
	if err := validateSchedule(cfg.Schedule); err != nil {
		return []FieldError{{Field: "sweeper.schedule", Message: err.Error()}}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must not be negative"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if !isOneOf(cfg.Logging.Level, "debug", "info", "warn", "error") {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}
	if !isOneOf(cfg.Logging.Format, "json", "text", "console") {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text' or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.IsEnabled() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	if !isOneOf(cfg.Tracing.Sampler, "always", "never", "ratio") {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never' or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must not be negative",
		})
	}

	return errs
}

// validateSchedule accepts standard five-field cron expressions and
// descriptors such as "@every 1m".
func validateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule is required")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

func isOneOf(value string, options ...string) bool {
	for _, opt := range options {
		if value == opt {
			return true
		}
	}
	return false
}
