package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// CheckFunc is a function that performs a health check for a component.
// It returns nil if the component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// Status values reported by checks and by the aggregate.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Status is "ok" or "unhealthy".
	Status string `json:"status"`

	// Critical checks make the process unready when they fail.
	Critical bool `json:"critical"`

	// Message describes the failure.
	Message string `json:"message,omitempty"`

	// DurationMS is how long the check took in milliseconds.
	DurationMS float64 `json:"duration_ms"`
}

// HealthStatus represents the overall health status of the process.
type HealthStatus struct {
	// Status is "ok" (liveness), "ready", "degraded" or "unhealthy".
	Status string `json:"status"`

	// Checks contains the status of individual components (for readiness)
	Checks map[string]CheckResult `json:"checks,omitempty"`

	// Timestamp is when the health check was performed
	Timestamp time.Time `json:"timestamp"`
}

// Ready reports whether traffic should be routed to the process. A degraded
// process is still ready: only critical failures make it unready.
func (s HealthStatus) Ready() bool {
	return s.Status == StatusReady || s.Status == StatusDegraded
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker manages health checks for system components.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck

	checkTimeout time.Duration
}

// ErrCheckTimeout is returned when a health check times out.
var ErrCheckTimeout = errors.New("health check timeout")

// New creates a new health checker with the specified check timeout.
// If timeout is 0, defaults to 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	return &Checker{
		checks:       make(map[string]registeredCheck),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck registers a health check for a named component, replacing
// any check of the same name. A failing critical check makes the process
// unhealthy; a failing non-critical one only degrades it. A store that the
// failure policy can ride out is registered as non-critical.
func (c *Checker) RegisterCheck(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registeredCheck{fn: check, critical: critical}
}

// UnregisterCheck removes a health check for a named component.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.checks, name)
}

// CheckLiveness reports that the process is running.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now(),
	}
}

// CheckReadiness runs every registered check concurrently and aggregates the
// results.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()

			result := c.runCheck(ctx, check)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}(name, check)
	}

	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	return HealthStatus{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now(),
	}
}

// runCheck executes a single health check with timeout.
func (c *Checker) runCheck(ctx context.Context, check registeredCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()

	errChan := make(chan error, 1)
	go func() {
		errChan <- check.fn(checkCtx)
	}()

	result := CheckResult{Status: StatusOK, Critical: check.critical}

	select {
	case err := <-errChan:
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
		}
	case <-checkCtx.Done():
		result.Status = StatusUnhealthy
		result.Message = ErrCheckTimeout.Error()
	}

	result.DurationMS = float64(time.Since(start).Microseconds()) / 1000
	return result
}

// ListChecks returns the sorted names of all registered health checks.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
