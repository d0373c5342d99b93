package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/agentgate/internal/capability"
	"github.com/onnwee/agentgate/internal/middleware"
)

// GrantHandlers holds dependencies for capability grant administration.
type GrantHandlers struct {
	repo capability.Repository
}

// NewGrantHandlers creates a new GrantHandlers instance.
func NewGrantHandlers(repo capability.Repository) *GrantHandlers {
	return &GrantHandlers{repo: repo}
}

// createGrantRequest is the wire form of a new grant.
type createGrantRequest struct {
	ResourcePattern       string   `json:"resource_pattern"`
	Actions               []string `json:"actions"`
	MaxAmount             float64  `json:"max_amount,omitempty"`
	StartHour             int      `json:"start_hour,omitempty"`
	EndHour               int      `json:"end_hour,omitempty"`
	ExpiresAt             string   `json:"expires_at,omitempty"`
	PreAuthorizedHighRisk bool     `json:"pre_authorized_high_risk,omitempty"`
}

// CreateGrant handles POST /v1/agents/{id}/grants.
func (h *GrantHandlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Agent ID is required")
		return
	}

	var body createGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	grant := &capability.Grant{
		AgentID:         agentID,
		ResourcePattern: body.ResourcePattern,
		Actions:         body.Actions,
		Constraints: capability.Constraints{
			MaxAmount: body.MaxAmount,
			StartHour: body.StartHour,
			EndHour:   body.EndHour,
		},
		PreAuthorizedHighRisk: body.PreAuthorizedHighRisk,
	}
	if body.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "expires_at must be RFC3339")
			return
		}
		grant.ExpiresAt = expiresAt
	}

	created, err := h.repo.Create(r.Context(), grant)
	if err != nil {
		if errors.Is(err, capability.ErrConflictingGrants) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeGrantConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeGrantConflict,
				"Grant overlaps an existing grant with different constraints")
			return
		}
		// Validation errors from the grant model read as bad input.
		if grantValidationError(err) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to create grant",
			"agent_id", agentID, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create grant")
		return
	}

	slog.InfoContext(r.Context(), "capability grant created",
		"agent_id", agentID,
		"grant_id", created.ID,
		"resource_pattern", created.ResourcePattern,
		"admin", middleware.GetAdminSubject(r.Context()),
	)
	writeJSON(w, r.Context(), http.StatusCreated, created)
}

// ListGrants handles GET /v1/agents/{id}/grants.
// Returns every grant for the agent, including revoked and expired ones.
func (h *GrantHandlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Agent ID is required")
		return
	}

	grants, err := h.repo.ListByAgent(r.Context(), agentID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list grants",
			"agent_id", agentID, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list grants")
		return
	}
	if grants == nil {
		grants = []capability.Grant{}
	}

	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"grants": grants})
}

// RevokeGrant handles DELETE /v1/agents/{id}/grants/{grantID}.
// Effective for the next authorization request.
func (h *GrantHandlers) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	grantID := r.PathValue("grantID")
	if grantID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Grant ID is required")
		return
	}

	if err := h.repo.Revoke(r.Context(), grantID); err != nil {
		if errors.Is(err, capability.ErrGrantNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Grant not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to revoke grant",
			"grant_id", grantID, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to revoke grant")
		return
	}

	slog.InfoContext(r.Context(), "capability grant revoked",
		"grant_id", grantID,
		"admin", middleware.GetAdminSubject(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

// grantValidationError reports whether the error is one of the grant model's
// structural validation failures.
func grantValidationError(err error) bool {
	for _, e := range []error{
		capability.ErrEmptyAgentID,
		capability.ErrEmptyPattern,
		capability.ErrNoActions,
		capability.ErrInvalidPattern,
		capability.ErrInvalidHourWindow,
		capability.ErrWildcardPreAuth,
		capability.ErrExpiryInPast,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
