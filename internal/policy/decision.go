// Package policy combines capability scope, autonomy tier, and a small set of
// inviolable rules into a single authorization decision. Evaluation is
// deterministic: the same inputs always yield the same decision, and the tier
// is read once before evaluation, never mid-flight.
package policy

import (
	"time"

	"github.com/onnwee/agentgate/internal/capability"
	"github.com/onnwee/agentgate/internal/identity"
	"github.com/onnwee/agentgate/internal/sanitize"
	"github.com/onnwee/agentgate/internal/trust"
)

// Outcome is the final disposition of an authorization decision.
type Outcome string

const (
	OutcomeAllow           Outcome = "allow"
	OutcomeDeny            Outcome = "deny"
	OutcomeEscalateToHuman Outcome = "escalate_to_human"
)

// ReasonCode explains a decision to a human operator without requiring
// ledger access.
type ReasonCode string

const (
	// Verification failures, attached by the caller before policy runs.
	ReasonSignatureInvalid ReasonCode = "SignatureInvalid"
	ReasonReplayed         ReasonCode = "Replayed"
	ReasonClockSkew        ReasonCode = "ClockSkew"
	ReasonKeyRevoked       ReasonCode = "KeyRevoked"
	ReasonUnknownAgent     ReasonCode = "UnknownAgent"

	// Sanitizer short-circuit.
	ReasonInjectionDetected ReasonCode = "InjectionDetected"

	// Policy evaluation outcomes.
	ReasonApproved           ReasonCode = "Approved"
	ReasonNoGrant            ReasonCode = "NoGrant"
	ReasonConstraintViolated ReasonCode = "ConstraintViolated"
	ReasonTierEscalation     ReasonCode = "TierEscalation"
	ReasonSuspiciousPayload  ReasonCode = "SuspiciousPayload"
	ReasonAnomalySignal      ReasonCode = "AnomalySignal"
	ReasonEscalationTimeout  ReasonCode = "EscalationTimeout"
	ReasonAuditWriteFailure  ReasonCode = "AuditWriteFailure"
	ReasonEscalationApproved ReasonCode = "EscalationApproved"
	ReasonEscalationRejected ReasonCode = "EscalationRejected"
)

// Decision is an immutable authorization decision. It is referenced by, never
// embedded in, the ledger entry that records it.
type Decision struct {
	RequestRef string     `json:"request_ref"`
	Outcome    Outcome    `json:"outcome"`
	Reason     ReasonCode `json:"reason_code"`
	Tier       trust.Tier `json:"autonomy_tier_at_decision"`

	// Rule names the matched policy rule, for audit evidence.
	Rule string `json:"rule,omitempty"`

	DecidedAt time.Time `json:"decided_at"`
}

// Input is everything a policy rule may look at. Rules are pure functions
// over this value.
type Input struct {
	Request    *identity.ActionRequest
	Capability capability.CheckResult

	// Tier is the agent's autonomy tier, read atomically before evaluation.
	Tier trust.Tier

	// Verdict is the sanitizer verdict for the request payload; VerdictClean
	// when the payload was trusted-internal and never scanned.
	Verdict sanitize.Verdict

	// PreAuthorized reports an exact-pattern high-risk pre-authorization
	// covering this (resource, action).
	PreAuthorized bool

	// Anomalous marks the request as deviating from the agent's baseline.
	// Advisory: it can force escalation of a would-be Allow, never more.
	Anomalous bool
}
