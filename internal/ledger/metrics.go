package ledger

import "github.com/prometheus/client_golang/prometheus"

// Metrics names as constants for consistency.
const (
	MetricAppendsTotal     = "audit_ledger_appends_total"
	MetricWriteFailures    = "audit_ledger_write_failures_total"
	MetricChainCorruptions = "audit_ledger_chain_corruptions_total"
)

// Metrics contains Prometheus metrics for ledger operations.
// All operations are thread-safe.
type Metrics struct {
	appendsTotal     *prometheus.CounterVec
	writeFailures    prometheus.Counter
	chainCorruptions prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAppendsTotal,
				Help: "Total number of ledger entries appended by kind",
			},
			[]string{"kind"},
		),
		writeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricWriteFailures,
				Help: "Total number of failed ledger appends; any increase warrants an alert",
			},
		),
		chainCorruptions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricChainCorruptions,
				Help: "Total number of chain verification passes that found a corrupted entry",
			},
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
		m.appendsTotal,
		m.writeFailures,
		m.chainCorruptions,
	}
}
