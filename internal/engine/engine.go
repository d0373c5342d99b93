// Package engine orchestrates the authorization pipeline: verification,
// sanitization, capability scope, anomaly detection, policy evaluation,
// ledger append, trust update, and event broadcast, in that order. Every
// decision is durably recorded before the caller learns it.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/agentgate/internal/anomaly"
	"github.com/onnwee/agentgate/internal/capability"
	"github.com/onnwee/agentgate/internal/escalation"
	"github.com/onnwee/agentgate/internal/events"
	"github.com/onnwee/agentgate/internal/identity"
	"github.com/onnwee/agentgate/internal/ledger"
	"github.com/onnwee/agentgate/internal/policy"
	"github.com/onnwee/agentgate/internal/sanitize"
	"github.com/onnwee/agentgate/internal/trust"
)

// ErrUnknownDecision is returned by ReportOutcome for a decision ref this
// engine never issued or has already seen an outcome for.
var ErrUnknownDecision = errors.New("unknown or already reported decision")

// DecisionResponse is what the caller receives from Authorize.
type DecisionResponse struct {
	DecisionRef string            `json:"decision_ref"`
	Outcome     policy.Outcome    `json:"outcome"`
	Reason      policy.ReasonCode `json:"reason_code"`
	Tier        trust.Tier        `json:"autonomy_tier_at_decision"`

	// EscalationID is set when the outcome is EscalateToHuman.
	EscalationID string `json:"escalation_id,omitempty"`

	// KeyGraceWindow warns the caller that the request verified under the
	// previous key epoch and should be re-signed.
	KeyGraceWindow bool `json:"key_grace_window,omitempty"`
}

// decisionRecord tracks an issued decision until its outcome is reported.
type decisionRecord struct {
	AgentID   string
	Escalated bool
	Approved  bool
	Reported  bool
}

// Engine wires the pipeline components together.
type Engine struct {
	verifier    *identity.Verifier
	scanner     *sanitize.Scanner
	sandbox     *capability.Sandbox
	policy      *policy.Engine
	ledger      *ledger.Ledger
	scorer      *trust.Scorer
	detector    *anomaly.Detector
	escalations escalation.Store
	hub         *events.Hub
	logger      *slog.Logger

	escalationWait time.Duration
	now            func() time.Time

	mu        sync.Mutex
	decisions map[string]*decisionRecord
}

// Deps carries the engine's collaborators.
type Deps struct {
	Verifier    *identity.Verifier
	Scanner     *sanitize.Scanner
	Sandbox     *capability.Sandbox
	Policy      *policy.Engine
	Ledger      *ledger.Ledger
	Scorer      *trust.Scorer
	Detector    *anomaly.Detector
	Escalations escalation.Store
	Hub         *events.Hub
	Logger      *slog.Logger

	// EscalationWait bounds how long an escalation may stay pending before
	// the sweeper expires it to a deny.
	EscalationWait time.Duration
}

// New creates an Engine.
func New(deps Deps) *Engine {
	return &Engine{
		verifier:       deps.Verifier,
		scanner:        deps.Scanner,
		sandbox:        deps.Sandbox,
		policy:         deps.Policy,
		ledger:         deps.Ledger,
		scorer:         deps.Scorer,
		detector:       deps.Detector,
		escalations:    deps.Escalations,
		hub:            deps.Hub,
		logger:         deps.Logger,
		escalationWait: deps.EscalationWait,
		now:            time.Now,
		decisions:      make(map[string]*decisionRecord),
	}
}

// decisionPayload is the ledger record of one decision.
type decisionPayload struct {
	DecisionRef string             `json:"decision_ref"`
	AgentID     string             `json:"agent_id"`
	Action      string             `json:"action"`
	Resource    string             `json:"resource"`
	Outcome     policy.Outcome     `json:"outcome"`
	Reason      policy.ReasonCode  `json:"reason_code"`
	Rule        string             `json:"rule,omitempty"`
	Tier        trust.Tier         `json:"tier"`
	Nonce       string             `json:"nonce"`
	Findings    []sanitize.Finding `json:"findings,omitempty"`
}

// Authorize runs the full pipeline for one signed request. Verification
// failures return a deny-shaped response without a ledger entry: an
// unverified request has no trustworthy agent attribution to partition
// under. Everything past verification is audited before the caller sees the
// decision.
func (e *Engine) Authorize(ctx context.Context, req *identity.ActionRequest) (DecisionResponse, error) {
	verified, err := e.verifier.Verify(ctx, req)
	if err != nil {
		return e.verificationFailure(ctx, req, err)
	}

	score, err := e.scorer.Current(ctx, req.AgentID)
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("failed to read trust score: %w", err)
	}

	// Sanitizer screen for payloads derived from untrusted external content.
	scan := sanitize.Result{Verdict: sanitize.VerdictClean}
	if req.OriginTrust == identity.OriginUntrustedExternal && req.Payload != "" {
		scan = e.scanner.Scan(req.Payload)
	}
	if scan.Blocked() {
		return e.injectionBlocked(ctx, req, score, scan, verified.GraceWindow)
	}

	capResult, err := e.sandbox.Check(ctx, req.AgentID, req.Resource, req.Action, req.Amount)
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("failed to check capability scope: %w", err)
	}

	preAuthorized := false
	if policy.ClassifyRisk(req.Action) == policy.RiskHigh {
		preAuthorized, err = e.sandbox.PreAuthorized(ctx, req.AgentID, req.Resource, req.Action)
		if err != nil {
			return DecisionResponse{}, fmt.Errorf("failed to check pre-authorization: %w", err)
		}
	}

	signals := e.detector.Observe(req.AgentID, req.Action, req.Resource)
	e.archiveSignals(ctx, req.AgentID, signals)

	decision := e.policy.Evaluate(policy.Input{
		Request:       req,
		Capability:    capResult,
		Tier:          score.Tier,
		Verdict:       scan.Verdict,
		PreAuthorized: preAuthorized,
		Anomalous:     len(signals) > 0,
	})

	decisionRef := uuid.New().String()
	payload, err := json.Marshal(decisionPayload{
		DecisionRef: decisionRef,
		AgentID:     req.AgentID,
		Action:      req.Action,
		Resource:    req.Resource,
		Outcome:     decision.Outcome,
		Reason:      decision.Reason,
		Rule:        decision.Rule,
		Tier:        decision.Tier,
		Nonce:       req.Nonce,
		Findings:    scan.Findings,
	})
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("failed to encode decision: %w", err)
	}

	if _, err := e.ledger.Append(ctx, req.AgentID, ledger.KindDecision, decisionRef, payload); err != nil {
		// The action must not proceed if it cannot be audited.
		return DecisionResponse{}, err
	}

	e.applyDecisionDeltas(ctx, req.AgentID, decision, scan, signals)

	resp := DecisionResponse{
		DecisionRef:    decisionRef,
		Outcome:        decision.Outcome,
		Reason:         decision.Reason,
		Tier:           decision.Tier,
		KeyGraceWindow: verified.GraceWindow,
	}

	if decision.Outcome == policy.OutcomeEscalateToHuman {
		escID, err := e.createEscalation(ctx, req, decisionRef, decision)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to record escalation",
				"agent_id", req.AgentID, "decision_ref", decisionRef, "error", err)
		} else {
			resp.EscalationID = escID
		}
	}

	e.trackDecision(decisionRef, req.AgentID, decision.Outcome)
	e.hub.Publish(events.Event{
		Type:        events.TypeDecision,
		AgentID:     req.AgentID,
		DecisionRef: decisionRef,
		Outcome:     string(decision.Outcome),
		Reason:      string(decision.Reason),
		Tier:        string(decision.Tier),
	})

	e.logger.InfoContext(ctx, "authorization decided",
		"agent_id", req.AgentID,
		"action", req.Action,
		"resource", req.Resource,
		"decision_ref", decisionRef,
		"outcome", string(decision.Outcome),
		"reason", string(decision.Reason),
		"tier", string(decision.Tier),
	)
	return resp, nil
}

// verificationFailure maps a verifier error to a deny-shaped response.
func (e *Engine) verificationFailure(ctx context.Context, req *identity.ActionRequest, err error) (DecisionResponse, error) {
	var reason policy.ReasonCode
	switch {
	case errors.Is(err, identity.ErrSignatureInvalid):
		reason = policy.ReasonSignatureInvalid
	case errors.Is(err, identity.ErrReplayed):
		reason = policy.ReasonReplayed
	case errors.Is(err, identity.ErrClockSkew):
		reason = policy.ReasonClockSkew
	case errors.Is(err, identity.ErrKeyRevoked):
		reason = policy.ReasonKeyRevoked
	case errors.Is(err, identity.ErrUnknownAgent):
		reason = policy.ReasonUnknownAgent
	default:
		return DecisionResponse{}, err
	}

	e.logger.WarnContext(ctx, "request verification failed",
		"agent_id", req.AgentID,
		"action", req.Action,
		"resource", req.Resource,
		"reason", string(reason),
	)
	return DecisionResponse{
		Outcome: policy.OutcomeDeny,
		Reason:  reason,
	}, nil
}

// injectionBlocked short-circuits the pipeline: deny, audit the decision and
// an anomaly signal, and charge the trust cost.
func (e *Engine) injectionBlocked(ctx context.Context, req *identity.ActionRequest, score trust.Score, scan sanitize.Result, grace bool) (DecisionResponse, error) {
	decisionRef := uuid.New().String()
	payload, err := json.Marshal(decisionPayload{
		DecisionRef: decisionRef,
		AgentID:     req.AgentID,
		Action:      req.Action,
		Resource:    req.Resource,
		Outcome:     policy.OutcomeDeny,
		Reason:      policy.ReasonInjectionDetected,
		Tier:        score.Tier,
		Nonce:       req.Nonce,
		Findings:    scan.Findings,
	})
	if err != nil {
		return DecisionResponse{}, fmt.Errorf("failed to encode decision: %w", err)
	}

	if _, err := e.ledger.Append(ctx, req.AgentID, ledger.KindDecision, decisionRef, payload); err != nil {
		return DecisionResponse{}, err
	}
	e.archiveSignals(ctx, req.AgentID, []anomaly.Signal{{
		AgentID:    req.AgentID,
		Type:       "injection_blocked",
		Severity:   1,
		Evidence:   fmt.Sprintf("sanitizer score %d across %d findings", scan.Score, len(scan.Findings)),
		ObservedAt: e.now().UTC(),
	}})

	if _, err := e.scorer.RecordSuspicious(ctx, req.AgentID); err != nil {
		e.logger.ErrorContext(ctx, "failed to apply trust delta",
			"agent_id", req.AgentID, "error", err)
	}

	e.hub.Publish(events.Event{
		Type:        events.TypeDecision,
		AgentID:     req.AgentID,
		DecisionRef: decisionRef,
		Outcome:     string(policy.OutcomeDeny),
		Reason:      string(policy.ReasonInjectionDetected),
		Tier:        string(score.Tier),
	})

	e.logger.WarnContext(ctx, "injection blocked",
		"agent_id", req.AgentID,
		"action", req.Action,
		"decision_ref", decisionRef,
		"sanitizer_score", scan.Score,
	)
	return DecisionResponse{
		DecisionRef:    decisionRef,
		Outcome:        policy.OutcomeDeny,
		Reason:         policy.ReasonInjectionDetected,
		Tier:           score.Tier,
		KeyGraceWindow: grace,
	}, nil
}

// applyDecisionDeltas charges trust costs that attach to the decision itself
// rather than its eventual outcome.
func (e *Engine) applyDecisionDeltas(ctx context.Context, agentID string, d policy.Decision, scan sanitize.Result, signals []anomaly.Signal) {
	if d.Reason == policy.ReasonConstraintViolated {
		if _, err := e.scorer.RecordConstraintViolation(ctx, agentID); err != nil {
			e.logger.ErrorContext(ctx, "failed to apply trust delta", "agent_id", agentID, "error", err)
		}
	}
	if scan.Suspicious() {
		if _, err := e.scorer.RecordSuspicious(ctx, agentID); err != nil {
			e.logger.ErrorContext(ctx, "failed to apply trust delta", "agent_id", agentID, "error", err)
		}
	}
	if len(signals) > 0 {
		if _, err := e.scorer.RecordAnomaly(ctx, agentID, anomaly.MaxSeverity(signals)); err != nil {
			e.logger.ErrorContext(ctx, "failed to apply trust delta", "agent_id", agentID, "error", err)
		}
	}
}

// archiveSignals records anomaly signals in the agent's ledger partition and
// broadcasts them. Signal archival is best-effort; it never blocks a
// decision that is otherwise already audited.
func (e *Engine) archiveSignals(ctx context.Context, agentID string, signals []anomaly.Signal) {
	for _, sig := range signals {
		payload, err := json.Marshal(sig)
		if err != nil {
			continue
		}
		if _, err := e.ledger.Append(ctx, agentID, ledger.KindSignal, "", payload); err != nil {
			e.logger.ErrorContext(ctx, "failed to archive anomaly signal",
				"agent_id", agentID, "signal_type", string(sig.Type), "error", err)
			continue
		}
		e.hub.Publish(events.Event{
			Type:    events.TypeAnomalySignal,
			AgentID: agentID,
			Reason:  string(sig.Type),
			Detail:  sig.Evidence,
		})
	}
}

// createEscalation records a pending escalation with a resolution deadline.
func (e *Engine) createEscalation(ctx context.Context, req *identity.ActionRequest, decisionRef string, d policy.Decision) (string, error) {
	now := e.now().UTC()
	rec := &escalation.Record{
		ID:          uuid.New().String(),
		AgentID:     req.AgentID,
		DecisionRef: decisionRef,
		Action:      req.Action,
		Resource:    req.Resource,
		Reason:      string(d.Reason),
		Status:      escalation.StatusPending,
		CreatedAt:   now,
		Deadline:    now.Add(e.escalationWait),
	}
	if err := e.escalations.Create(ctx, rec); err != nil {
		return "", err
	}

	e.hub.Publish(events.Event{
		Type:        events.TypeEscalationCreated,
		AgentID:     req.AgentID,
		DecisionRef: decisionRef,
		Reason:      string(d.Reason),
		Detail:      rec.ID,
	})
	return rec.ID, nil
}

// trackDecision indexes an issued decision for outcome reporting. Denies
// accept no outcome and are never tracked; tracked entries are evicted once
// reported, rejected, or expired, so the index only holds in-flight work.
func (e *Engine) trackDecision(decisionRef, agentID string, outcome policy.Outcome) {
	if outcome == policy.OutcomeDeny {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions[decisionRef] = &decisionRecord{
		AgentID:   agentID,
		Escalated: outcome == policy.OutcomeEscalateToHuman,
	}
}
