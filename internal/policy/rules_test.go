package policy

import (
	"testing"

	"github.com/onnwee/agentgate/internal/trust"
)

func TestIrreversibleDeletion(t *testing.T) {
	tests := []struct {
		action string
		want   bool
	}{
		{"delete-file-without-backup", true},
		{"purge", true},
		{"purge-logs", true},
		{"destroy-environment", true},
		{"drop-all", true},
		{"drop-all-tables", true},
		{"wipe-disk", true},
		{"delete", false},
		{"delete-temp-file", false},
		{"purger", false},
		{"read", false},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			in := testInput(tt.action, "files/tmp", trust.TierAdvanced)
			if got := irreversibleDeletion(in, 0); got != tt.want {
				t.Errorf("irreversibleDeletion(%q) = %v, want %v", tt.action, got, tt.want)
			}
		})
	}
}

func TestUnboundedFinancialCommitment(t *testing.T) {
	tests := []struct {
		name   string
		action string
		amount float64
		want   bool
	}{
		{name: "transfer with no amount", action: "transfer", amount: 0, want: true},
		{name: "pay with negative amount", action: "pay-invoice", amount: -5, want: true},
		{name: "transfer above ceiling", action: "transfer-funds", amount: 10001, want: true},
		{name: "transfer at ceiling", action: "transfer", amount: 10000, want: false},
		{name: "small payment", action: "pay", amount: 49.99, want: false},
		{name: "refund bounded", action: "refund-order", amount: 120, want: false},
		{name: "non-financial action ignores amount", action: "read", amount: 0, want: false},
		{name: "payload is not a financial verb", action: "payload-scan", amount: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput(tt.action, "accounts/ops", trust.TierAdvanced)
			in.Request.Amount = tt.amount
			if got := unboundedFinancialCommitment(in, DefaultFinancialCeiling); got != tt.want {
				t.Errorf("unboundedFinancialCommitment(%q, %v) = %v, want %v", tt.action, tt.amount, got, tt.want)
			}
		})
	}
}

func TestAuditPathTampering(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		resource string
		want     bool
	}{
		{name: "write to audit root", action: "write", resource: "audit", want: true},
		{name: "delete under audit", action: "delete", resource: "audit/agent-1", want: true},
		{name: "read audit is fine", action: "read", resource: "audit/agent-1", want: false},
		{name: "audit prefix without slash is another resource", action: "write", resource: "auditorium", want: false},
		{name: "other resource", action: "delete", resource: "files/tmp", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput(tt.action, tt.resource, trust.TierAdvanced)
			if got := auditPathTampering(in, 0); got != tt.want {
				t.Errorf("auditPathTampering(%q, %q) = %v, want %v", tt.action, tt.resource, got, tt.want)
			}
		})
	}
}

func TestEvaluate_ConstitutionalRuleNamesRecorded(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name   string
		in     Input
		rule   string
		amount float64
	}{
		{name: "deletion", in: testInput("purge-logs", "files/tmp", trust.TierAdvanced), rule: "irreversible-deletion"},
		{name: "financial", in: testInput("transfer", "accounts/ops", trust.TierAdvanced), rule: "unbounded-financial-commitment"},
		{name: "audit", in: testInput("write", "audit/agent-1", trust.TierAdvanced), rule: "audit-path-tampering"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(tt.in)
			if d.Outcome != OutcomeDeny || d.Reason != ReasonConstraintViolated {
				t.Fatalf("decision = %s/%s, want deny/ConstraintViolated", d.Outcome, d.Reason)
			}
			if d.Rule != tt.rule {
				t.Errorf("rule = %q, want %q", d.Rule, tt.rule)
			}
		})
	}
}
