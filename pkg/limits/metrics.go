package limits

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/quotaguard/pkg/limits/tiered"
)

// Metrics contains Prometheus metrics for admission. It implements
// tiered.Observer.
type Metrics struct {
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	activeKeys    *prometheus.GaugeVec
	fallbacks     *prometheus.CounterVec
}

var _ tiered.Observer = (*Metrics)(nil)

// NewMetrics creates admission metrics registered with reg. A nil reg
// registers with a private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_admission_checks_total",
				Help: "Total number of tier admission checks",
			},
			[]string{"tier", "result"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotaguard_admission_check_duration_seconds",
				Help:    "Duration of tier admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to 0.5s
			},
			[]string{"tier"},
		),

		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_store_errors_total",
				Help: "Total number of failed store admissions",
			},
			[]string{"tier", "kind"},
		),

		activeKeys: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotaguard_active_keys",
				Help: "Number of keys currently tracked by a tier",
			},
			[]string{"tier"},
		),

		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_fallback_total",
				Help: "Total number of failure policy applications",
			},
			[]string{"tier", "policy"},
		),
	}
}

// ObserveCheck records one tier check.
func (m *Metrics) ObserveCheck(tier string, allowed bool, duration time.Duration) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.checks.WithLabelValues(tier, result).Inc()
	m.checkDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// ObserveStoreError records a failed store admission.
func (m *Metrics) ObserveStoreError(tier, kind string) {
	m.storeErrors.WithLabelValues(tier, kind).Inc()
}

// ObserveFallback records that a failure policy was applied.
func (m *Metrics) ObserveFallback(tier string, policy tiered.FailurePolicy) {
	m.fallbacks.WithLabelValues(tier, string(policy)).Inc()
}

// SetActiveKeys updates the tracked key count of a tier.
func (m *Metrics) SetActiveKeys(tier string, n int) {
	m.activeKeys.WithLabelValues(tier).Set(float64(n))
}
