package policy

import "strings"

// Risk classes for requested actions.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Action verbs with a fixed classification. Anything not listed falls back to
// prefix heuristics, then to Medium: an unknown verb is never treated as
// harmless.
var actionRisk = map[string]Risk{
	"read":   RiskLow,
	"list":   RiskLow,
	"get":    RiskLow,
	"query":  RiskLow,
	"search": RiskLow,

	"create": RiskMedium,
	"write":  RiskMedium,
	"update": RiskMedium,
	"send":   RiskMedium,
	"notify": RiskMedium,

	"delete":   RiskHigh,
	"purge":    RiskHigh,
	"transfer": RiskHigh,
	"pay":      RiskHigh,
	"purchase": RiskHigh,
	"refund":   RiskHigh,
	"deploy":   RiskHigh,
	"execute":  RiskHigh,
	"revoke":   RiskHigh,
	"grant":    RiskHigh,
}

var lowPrefixes = []string{"read-", "list-", "get-", "query-", "search-", "view-"}

var highPrefixes = []string{
	"delete-", "purge-", "destroy-", "drop-",
	"transfer-", "pay-", "purchase-", "refund-", "withdraw-",
	"deploy-", "execute-", "revoke-", "grant-", "escalate-",
}

// ClassifyRisk maps an action verb to its risk class. Verbs are matched on
// the full name first, then on their leading segment, so "delete-temp-file"
// classifies the same as "delete".
func ClassifyRisk(action string) Risk {
	action = strings.ToLower(action)
	if r, ok := actionRisk[action]; ok {
		return r
	}
	for _, p := range highPrefixes {
		if strings.HasPrefix(action, p) {
			return RiskHigh
		}
	}
	for _, p := range lowPrefixes {
		if strings.HasPrefix(action, p) {
			return RiskLow
		}
	}
	return RiskMedium
}
