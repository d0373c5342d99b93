package trust

import "github.com/prometheus/client_golang/prometheus"

// Metrics names as constants for consistency.
const (
	MetricDeltasApplied   = "trust_deltas_applied_total"
	MetricTierTransitions = "trust_tier_transitions_total"
)

// Metrics contains Prometheus metrics for trust scoring.
// All operations are thread-safe.
type Metrics struct {
	deltasApplied   *prometheus.CounterVec
	tierTransitions *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		deltasApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricDeltasApplied,
				Help: "Total number of trust score deltas applied by reason",
			},
			[]string{"reason"},
		),
		tierTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTierTransitions,
				Help: "Total number of autonomy tier transitions by from and to tier",
			},
			[]string{"from", "to"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.deltasApplied,
		m.tierTransitions,
	}
}
