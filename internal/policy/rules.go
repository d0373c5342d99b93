package policy

import "strings"

// constitutionalRule is one inviolable constraint. These run before the
// capability check and the tier gate, and no grant or tier can bypass them.
type constitutionalRule struct {
	Name     string
	Violates func(in Input, ceiling float64) bool
}

// irreversibleDeletion names the action-name markers that signal a
// destructive operation with no recovery path.
func irreversibleDeletion(in Input, _ float64) bool {
	action := strings.ToLower(in.Request.Action)
	if strings.Contains(action, "without-backup") {
		return true
	}
	for _, prefix := range []string{"purge", "destroy", "drop-all", "wipe"} {
		if action == prefix || strings.HasPrefix(action, prefix+"-") {
			return true
		}
	}
	return false
}

var financialVerbs = []string{"transfer", "pay", "purchase", "refund", "withdraw"}

// unboundedFinancialCommitment rejects financial actions that carry no stated
// amount, or an amount above the hard ceiling. The ceiling applies regardless
// of any grant's own ceiling.
func unboundedFinancialCommitment(in Input, ceiling float64) bool {
	action := strings.ToLower(in.Request.Action)
	financial := false
	for _, v := range financialVerbs {
		if action == v || strings.HasPrefix(action, v+"-") {
			financial = true
			break
		}
	}
	if !financial {
		return false
	}
	if in.Request.Amount <= 0 {
		return true
	}
	return ceiling > 0 && in.Request.Amount > ceiling
}

// auditPathTampering rejects any non-read action against the audit ledger
// itself. The accountability path is not a resource agents may mutate.
func auditPathTampering(in Input, _ float64) bool {
	resource := strings.ToLower(in.Request.Resource)
	if resource != "audit" && !strings.HasPrefix(resource, "audit/") {
		return false
	}
	return ClassifyRisk(in.Request.Action) != RiskLow
}

// constitutionalRules in evaluation order. Order matters only for the rule
// name recorded as evidence; any single violation denies.
var constitutionalRules = []constitutionalRule{
	{Name: "irreversible-deletion", Violates: irreversibleDeletion},
	{Name: "unbounded-financial-commitment", Violates: unboundedFinancialCommitment},
	{Name: "audit-path-tampering", Violates: auditPathTampering},
}
