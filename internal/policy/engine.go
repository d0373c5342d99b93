package policy

import (
	"time"

	"github.com/onnwee/agentgate/internal/sanitize"
	"github.com/onnwee/agentgate/internal/trust"
)

// DefaultFinancialCeiling is the hard upper bound on any single financial
// commitment. Grants may set tighter ceilings, never looser.
const DefaultFinancialCeiling = 10000

// Engine evaluates authorization rules in strict order, first match wins.
type Engine struct {
	financialCeiling float64
	now              func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithFinancialCeiling overrides the hard financial ceiling. Zero disables
// the ceiling but not the unbounded-amount check.
func WithFinancialCeiling(ceiling float64) Option {
	return func(e *Engine) { e.financialCeiling = ceiling }
}

// NewEngine creates a policy engine with the default rule set.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		financialCeiling: DefaultFinancialCeiling,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate produces a decision for the input. Evaluation order:
//
//  1. Constitutional rules. A violation denies with ConstraintViolated and
//     cannot be bypassed by any grant or tier.
//  2. Capability scope. Out of scope denies with NoGrant.
//  3. Tier gate over the action's risk class. Supervised escalates Medium
//     and High; Guided escalates High; High escalates at every tier unless
//     an exact-pattern pre-authorization covers it.
//  4. Advisory downgrades. An anomaly signal or a Suspicious sanitizer
//     verdict turns a would-be Allow into EscalateToHuman.
func (e *Engine) Evaluate(in Input) Decision {
	d := Decision{
		RequestRef: in.Request.Nonce,
		Tier:       in.Tier,
		DecidedAt:  e.now().UTC(),
	}

	for _, rule := range constitutionalRules {
		if rule.Violates(in, e.financialCeiling) {
			d.Outcome = OutcomeDeny
			d.Reason = ReasonConstraintViolated
			d.Rule = rule.Name
			return d
		}
	}

	if !in.Capability.InScope {
		d.Outcome = OutcomeDeny
		d.Reason = ReasonNoGrant
		d.Rule = "capability-scope"
		return d
	}

	risk := ClassifyRisk(in.Request.Action)
	if escalates(in.Tier, risk, in.PreAuthorized) {
		d.Outcome = OutcomeEscalateToHuman
		d.Reason = ReasonTierEscalation
		d.Rule = "tier-gate"
		return d
	}

	if in.Anomalous {
		d.Outcome = OutcomeEscalateToHuman
		d.Reason = ReasonAnomalySignal
		d.Rule = "anomaly-downgrade"
		return d
	}

	if in.Verdict == sanitize.VerdictSuspicious {
		d.Outcome = OutcomeEscalateToHuman
		d.Reason = ReasonSuspiciousPayload
		d.Rule = "sanitizer-downgrade"
		return d
	}

	d.Outcome = OutcomeAllow
	d.Reason = ReasonApproved
	return d
}

// escalates implements the tier gate matrix.
func escalates(tier trust.Tier, risk Risk, preAuthorized bool) bool {
	if risk == RiskHigh {
		// High risk always escalates unless explicitly pre-authorized.
		return !preAuthorized
	}
	switch tier {
	case trust.TierSupervised:
		return risk != RiskLow
	default:
		// Guided, Standard and Advanced auto-approve Low and Medium.
		return false
	}
}
