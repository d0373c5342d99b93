package policy

import "testing"

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		action string
		want   Risk
	}{
		{"read", RiskLow},
		{"list", RiskLow},
		{"search", RiskLow},
		{"read-config", RiskLow},
		{"view-dashboard", RiskLow},

		{"create", RiskMedium},
		{"update", RiskMedium},
		{"send", RiskMedium},

		{"delete", RiskHigh},
		{"delete-temp-file", RiskHigh},
		{"transfer-funds", RiskHigh},
		{"deploy", RiskHigh},
		{"execute", RiskHigh},
		{"withdraw-cash", RiskHigh},

		// Unknown verbs never classify as harmless.
		{"frobnicate", RiskMedium},
		{"", RiskMedium},

		// Case-insensitive.
		{"DELETE", RiskHigh},
		{"Read", RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			if got := ClassifyRisk(tt.action); got != tt.want {
				t.Errorf("ClassifyRisk(%q) = %s, want %s", tt.action, got, tt.want)
			}
		})
	}
}
