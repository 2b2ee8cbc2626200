package limits

import "mercator-hq/quotaguard/pkg/limits/ratelimit"

// Status is a point-in-time view of every tier, served on the ops endpoint.
type Status struct {
	// FailurePolicy is applied when the store is unavailable.
	FailurePolicy string `json:"failure_policy"`

	// Classification is the current model to class table.
	Classification map[string]string `json:"classification"`

	// DefaultClass is the class of unlisted models.
	DefaultClass string `json:"default_class"`

	// Tiers are listed in evaluation order.
	Tiers []TierStatus `json:"tiers"`
}

// TierStatus describes one tier and its counters.
type TierStatus struct {
	Name    string `json:"name"`
	Scope   string `json:"scope"`
	Backend string `json:"backend"`

	// Metrics aggregates every limiter of the tier. For the redis backend
	// only this process's admissions are counted and ActiveKeys comes from a
	// store scan.
	Metrics ratelimit.Metrics `json:"metrics"`

	// Classes breaks class tiers down per class.
	Classes map[string]ratelimit.Metrics `json:"classes,omitempty"`

	// Error is set when the store could not be scanned.
	Error string `json:"error,omitempty"`
}

// TierUsage is the current window count of the key a request maps to in
// one tier.
type TierUsage struct {
	Tier  string `json:"tier"`
	Key   string `json:"key"`
	Count int64  `json:"count"`
	Limit int64  `json:"limit"`
}
