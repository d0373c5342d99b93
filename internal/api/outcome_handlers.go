package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/agentgate/internal/engine"
	"github.com/onnwee/agentgate/internal/ledger"
	"github.com/onnwee/agentgate/internal/middleware"
	"github.com/onnwee/agentgate/internal/trust"
)

// OutcomeHandlers holds dependencies for execution outcome reporting.
type OutcomeHandlers struct {
	engine *engine.Engine
}

// NewOutcomeHandlers creates a new OutcomeHandlers instance.
func NewOutcomeHandlers(eng *engine.Engine) *OutcomeHandlers {
	return &OutcomeHandlers{engine: eng}
}

// outcomeRequest is the executor's callback body. Partial completions count
// as errors for trust purposes.
type outcomeRequest struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// outcomeResponse echoes the resulting trust position.
type outcomeResponse struct {
	DecisionRef string     `json:"decision_ref"`
	Score       int        `json:"score"`
	Tier        trust.Tier `json:"tier"`
}

// ReportOutcome handles POST /v1/outcomes/{decisionRef}.
func (h *OutcomeHandlers) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	decisionRef := r.PathValue("decisionRef")
	if decisionRef == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Decision ref is required")
		return
	}

	var body outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	var status engine.OutcomeStatus
	switch body.Status {
	case "success":
		status = engine.OutcomeSuccess
	case "failure", "partial", "error":
		status = engine.OutcomeError
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation,
			"status must be success, failure, or partial")
		return
	}

	score, err := h.engine.ReportOutcome(r.Context(), decisionRef, status, body.Detail)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownDecision):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownDecision)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeUnknownDecision,
				"No reportable decision matches this ref")
		case errors.Is(err, engine.ErrOutcomeNotAllowed):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict,
				"Decision is awaiting escalation approval")
		case errors.Is(err, ledger.ErrAuditWriteFailure):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuditWriteFailure)
			WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeAuditWriteFailure,
				"Outcome could not be audited; retry once the ledger recovers")
		default:
			slog.ErrorContext(r.Context(), "failed to record outcome",
				"decision_ref", decisionRef, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to record outcome")
		}
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, outcomeResponse{
		DecisionRef: decisionRef,
		Score:       score.Value,
		Tier:        score.Tier,
	})
}
