package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/agentgate/internal/engine"
	"github.com/onnwee/agentgate/internal/escalation"
	"github.com/onnwee/agentgate/internal/middleware"
)

// EscalationHandlers holds dependencies for human escalation resolution.
type EscalationHandlers struct {
	engine *engine.Engine
}

// NewEscalationHandlers creates a new EscalationHandlers instance.
func NewEscalationHandlers(eng *engine.Engine) *EscalationHandlers {
	return &EscalationHandlers{engine: eng}
}

// resolveRequest carries the human resolution.
type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// Resolve handles POST /v1/escalations/{id}.
// Resolution is "approve" or "deny"; the resolving admin is taken from the
// authenticated token.
func (h *EscalationHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Escalation ID is required")
		return
	}

	var body resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	var approve bool
	switch body.Resolution {
	case "approve":
		approve = true
	case "deny":
		approve = false
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "resolution must be approve or deny")
		return
	}

	resolvedBy := middleware.GetAdminSubject(r.Context())
	rec, err := h.engine.ResolveEscalation(r.Context(), id, approve, resolvedBy)
	if err != nil {
		switch {
		case errors.Is(err, escalation.ErrNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Escalation not found")
		case errors.Is(err, escalation.ErrAlreadyResolved):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeEscalationResolved)
			WriteError(w, ctx, http.StatusConflict, ErrCodeEscalationResolved, "Escalation already resolved")
		default:
			slog.ErrorContext(r.Context(), "failed to resolve escalation",
				"escalation_id", id, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve escalation")
		}
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, rec)
}

// ListPending handles GET /v1/escalations.
func (h *EscalationHandlers) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.PendingEscalations(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list pending escalations", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list escalations")
		return
	}
	if pending == nil {
		pending = []escalation.Record{}
	}

	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"escalations": pending})
}
