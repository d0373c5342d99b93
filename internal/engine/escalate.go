package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/onnwee/agentgate/internal/escalation"
	"github.com/onnwee/agentgate/internal/events"
	"github.com/onnwee/agentgate/internal/ledger"
	"github.com/onnwee/agentgate/internal/policy"
)

// resolutionPayload is the ledger record of an escalation resolution.
type resolutionPayload struct {
	EscalationID string            `json:"escalation_id"`
	DecisionRef  string            `json:"decision_ref"`
	AgentID      string            `json:"agent_id"`
	Status       escalation.Status `json:"status"`
	Reason       policy.ReasonCode `json:"reason_code"`
	ResolvedBy   string            `json:"resolved_by,omitempty"`
	ResolvedAt   time.Time         `json:"resolved_at"`
}

// ResolveEscalation applies a human approve or deny to a pending escalation.
// The resolution is audited in the agent's partition before it takes effect
// for outcome reporting.
func (e *Engine) ResolveEscalation(ctx context.Context, id string, approve bool, resolvedBy string) (*escalation.Record, error) {
	status := escalation.StatusDenied
	reason := policy.ReasonEscalationRejected
	if approve {
		status = escalation.StatusApproved
		reason = policy.ReasonEscalationApproved
	}

	rec, err := e.escalations.Resolve(ctx, id, status, resolvedBy, e.now())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(resolutionPayload{
		EscalationID: rec.ID,
		DecisionRef:  rec.DecisionRef,
		AgentID:      rec.AgentID,
		Status:       rec.Status,
		Reason:       reason,
		ResolvedBy:   resolvedBy,
		ResolvedAt:   rec.ResolvedAt,
	})
	if err == nil {
		if _, appendErr := e.ledger.Append(ctx, rec.AgentID, ledger.KindSignal, rec.DecisionRef, payload); appendErr != nil {
			e.logger.ErrorContext(ctx, "failed to audit escalation resolution",
				"escalation_id", rec.ID, "error", appendErr)
		}
	}

	e.mu.Lock()
	if approve {
		if d, ok := e.decisions[rec.DecisionRef]; ok {
			d.Approved = true
		}
	} else {
		// A rejected escalation closes the decision: no outcome will follow.
		delete(e.decisions, rec.DecisionRef)
	}
	e.mu.Unlock()

	e.hub.Publish(events.Event{
		Type:        events.TypeEscalationResolved,
		AgentID:     rec.AgentID,
		DecisionRef: rec.DecisionRef,
		Outcome:     string(rec.Status),
		Reason:      string(reason),
		Detail:      rec.ID,
	})

	e.logger.InfoContext(ctx, "escalation resolved",
		"escalation_id", rec.ID,
		"agent_id", rec.AgentID,
		"status", string(rec.Status),
		"resolved_by", resolvedBy,
	)
	return rec, nil
}

// PendingEscalations lists escalations awaiting resolution.
func (e *Engine) PendingEscalations(ctx context.Context) ([]escalation.Record, error) {
	return e.escalations.ListPending(ctx)
}

// sweepInterval bounds how often the expiry sweeper runs.
const sweepInterval = 30 * time.Second

// RunEscalationSweeper expires pending escalations past their deadline until
// the context is canceled. An expired escalation is a deny: it is audited
// with EscalationTimeout and its decision stops accepting outcomes.
func (e *Engine) RunEscalationSweeper(ctx context.Context) {
	interval := sweepInterval
	if e.escalationWait > 0 && e.escalationWait/4 < interval {
		interval = e.escalationWait / 4
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepExpired(ctx)
		}
	}
}

func (e *Engine) sweepExpired(ctx context.Context) {
	expired, err := e.escalations.ExpireDue(ctx, e.now())
	if err != nil {
		e.logger.ErrorContext(ctx, "escalation sweep failed", "error", err)
		return
	}

	for i := range expired {
		rec := &expired[i]

		payload, err := json.Marshal(resolutionPayload{
			EscalationID: rec.ID,
			DecisionRef:  rec.DecisionRef,
			AgentID:      rec.AgentID,
			Status:       escalation.StatusExpired,
			Reason:       policy.ReasonEscalationTimeout,
			ResolvedAt:   rec.ResolvedAt,
		})
		if err == nil {
			if _, appendErr := e.ledger.Append(ctx, rec.AgentID, ledger.KindSignal, rec.DecisionRef, payload); appendErr != nil {
				e.logger.ErrorContext(ctx, "failed to audit escalation expiry",
					"escalation_id", rec.ID, "error", appendErr)
			}
		}

		e.mu.Lock()
		delete(e.decisions, rec.DecisionRef)
		e.mu.Unlock()

		e.hub.Publish(events.Event{
			Type:        events.TypeEscalationExpired,
			AgentID:     rec.AgentID,
			DecisionRef: rec.DecisionRef,
			Reason:      string(policy.ReasonEscalationTimeout),
			Detail:      rec.ID,
		})

		e.logger.WarnContext(ctx, "escalation expired to deny",
			"escalation_id", rec.ID,
			"agent_id", rec.AgentID,
			"decision_ref", rec.DecisionRef,
		)
	}
}
