package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/agentgate/internal/ledger"
	"github.com/onnwee/agentgate/internal/trust"
)

// ErrOutcomeNotAllowed is returned for an escalated decision whose approval
// is still pending; nothing should have executed yet.
var ErrOutcomeNotAllowed = errors.New("decision does not accept an execution report yet")

// OutcomeStatus classifies how an allowed action's execution went.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// ValidOutcomeStatus reports whether the status is recognized.
func ValidOutcomeStatus(s OutcomeStatus) bool {
	return s == OutcomeSuccess || s == OutcomeError
}

// outcomePayload is the ledger record of one execution outcome.
type outcomePayload struct {
	DecisionRef string        `json:"decision_ref"`
	AgentID     string        `json:"agent_id"`
	Status      OutcomeStatus `json:"status"`
	Detail      string        `json:"detail,omitempty"`
	Escalated   bool          `json:"escalated"`
	ReportedAt  time.Time     `json:"reported_at"`
}

// ReportOutcome records the execution outcome of a previously allowed (or
// escalated-and-approved) action and applies the matching trust delta.
// Successful completions only earn points when they were never escalated.
func (e *Engine) ReportOutcome(ctx context.Context, decisionRef string, status OutcomeStatus, detail string) (trust.Score, error) {
	if !ValidOutcomeStatus(status) {
		return trust.Score{}, fmt.Errorf("invalid outcome status %q", status)
	}

	e.mu.Lock()
	rec, ok := e.decisions[decisionRef]
	if !ok || rec.Reported {
		e.mu.Unlock()
		return trust.Score{}, ErrUnknownDecision
	}
	if rec.Escalated && !rec.Approved {
		e.mu.Unlock()
		return trust.Score{}, ErrOutcomeNotAllowed
	}
	rec.Reported = true
	agentID := rec.AgentID
	escalated := rec.Escalated
	e.mu.Unlock()

	payload, err := json.Marshal(outcomePayload{
		DecisionRef: decisionRef,
		AgentID:     agentID,
		Status:      status,
		Detail:      detail,
		Escalated:   escalated,
		ReportedAt:  e.now().UTC(),
	})
	if err != nil {
		return trust.Score{}, fmt.Errorf("failed to encode outcome: %w", err)
	}
	if _, err := e.ledger.Append(ctx, agentID, ledger.KindOutcome, decisionRef, payload); err != nil {
		// Roll the report back so the caller can retry once the ledger
		// recovers; the outcome is not acknowledged until it is audited.
		e.mu.Lock()
		rec.Reported = false
		e.mu.Unlock()
		return trust.Score{}, err
	}

	// The decision is settled; drop it from the in-flight index.
	e.mu.Lock()
	delete(e.decisions, decisionRef)
	e.mu.Unlock()

	var score trust.Score
	switch {
	case status == OutcomeSuccess && !escalated:
		score, err = e.scorer.RecordSuccess(ctx, agentID)
	case status == OutcomeSuccess:
		// Escalated completions resolve without a delta.
		score, err = e.scorer.Current(ctx, agentID)
	default:
		score, err = e.scorer.RecordMinorError(ctx, agentID)
	}
	if err != nil {
		return trust.Score{}, fmt.Errorf("failed to apply trust delta: %w", err)
	}

	e.logger.InfoContext(ctx, "execution outcome recorded",
		"agent_id", agentID,
		"decision_ref", decisionRef,
		"status", string(status),
		"score", score.Value,
		"tier", string(score.Tier),
	)
	return score, nil
}
