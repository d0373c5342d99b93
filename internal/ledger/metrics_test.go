package ledger

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if got := len(m.Collectors()); got != 3 {
		t.Errorf("Collectors() returned %d collectors, want 3", got)
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.appendsTotal.WithLabelValues(string(KindDecision)).Inc()
	m.writeFailures.Inc()
	m.chainCorruptions.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	expectedNames := map[string]bool{
		MetricAppendsTotal:     false,
		MetricWriteFailures:    false,
		MetricChainCorruptions: false,
	}
	for _, fam := range families {
		if _, ok := expectedNames[fam.GetName()]; ok {
			expectedNames[fam.GetName()] = true
		}
	}
	for name, found := range expectedNames {
		if !found {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}
