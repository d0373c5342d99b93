package api

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/agentgate/internal/identity"
	"github.com/onnwee/agentgate/internal/middleware"
)

// AgentHandlers holds dependencies for agent identity administration. All of
// these endpoints sit behind admin authentication.
type AgentHandlers struct {
	repo identity.Repository
}

// NewAgentHandlers creates a new AgentHandlers instance.
func NewAgentHandlers(repo identity.Repository) *AgentHandlers {
	return &AgentHandlers{repo: repo}
}

// provisionRequest creates a new agent identity.
type provisionRequest struct {
	AgentID string `json:"agent_id"`
	RoleTag string `json:"role_tag"`
}

// keyMaterialResponse carries freshly generated key material. The private
// key appears here exactly once and is never stored.
type keyMaterialResponse struct {
	AgentID    string `json:"agent_id"`
	KeyEpoch   int    `json:"key_epoch"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key,omitempty"`
}

// Provision handles POST /v1/agents.
func (h *AgentHandlers) Provision(w http.ResponseWriter, r *http.Request) {
	var body provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if body.AgentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "agent_id is required")
		return
	}

	agent, priv, err := identity.Provision(body.AgentID, body.RoleTag)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate agent key pair", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to provision agent")
		return
	}

	if err := h.repo.Create(r.Context(), agent); err != nil {
		if errors.Is(err, identity.ErrAgentExists) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Agent already exists")
			return
		}
		slog.ErrorContext(r.Context(), "failed to store agent identity",
			"agent_id", body.AgentID, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to provision agent")
		return
	}

	slog.InfoContext(r.Context(), "agent provisioned",
		"agent_id", agent.AgentID,
		"role_tag", agent.RoleTag,
		"admin", middleware.GetAdminSubject(r.Context()),
	)
	writeJSON(w, r.Context(), http.StatusCreated, keyMaterialResponse{
		AgentID:    agent.AgentID,
		KeyEpoch:   agent.KeyEpoch,
		PublicKey:  base64.StdEncoding.EncodeToString(agent.PublicKey),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	})
}

// Rotate handles POST /v1/agents/{id}/rotate.
// Generates a fresh key pair server-side; the previous key stays valid for
// the rotation grace window.
func (h *AgentHandlers) Rotate(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Agent ID is required")
		return
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate rotation key pair", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to rotate key")
		return
	}

	agent, err := h.repo.Rotate(r.Context(), agentID, pub)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAgentNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAgentNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeAgentNotFound, "Agent not found")
		case errors.Is(err, identity.ErrAlreadyRevoked):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAgentRevoked)
			WriteError(w, ctx, http.StatusConflict, ErrCodeAgentRevoked, "Agent has been revoked")
		default:
			slog.ErrorContext(r.Context(), "failed to rotate agent key",
				"agent_id", agentID, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to rotate key")
		}
		return
	}

	slog.InfoContext(r.Context(), "agent key rotated",
		"agent_id", agentID,
		"key_epoch", agent.KeyEpoch,
		"admin", middleware.GetAdminSubject(r.Context()),
	)
	writeJSON(w, r.Context(), http.StatusOK, keyMaterialResponse{
		AgentID:    agent.AgentID,
		KeyEpoch:   agent.KeyEpoch,
		PublicKey:  base64.StdEncoding.EncodeToString(agent.PublicKey),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	})
}

// Revoke handles POST /v1/agents/{id}/revoke.
// Revocation is immediate and irreversible; the identity record remains as a
// tombstone.
func (h *AgentHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Agent ID is required")
		return
	}

	if err := h.repo.Revoke(r.Context(), agentID); err != nil {
		switch {
		case errors.Is(err, identity.ErrAgentNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAgentNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeAgentNotFound, "Agent not found")
		case errors.Is(err, identity.ErrAlreadyRevoked):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Agent already revoked")
		default:
			slog.ErrorContext(r.Context(), "failed to revoke agent",
				"agent_id", agentID, "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to revoke agent")
		}
		return
	}

	slog.InfoContext(r.Context(), "agent revoked",
		"agent_id", agentID,
		"admin", middleware.GetAdminSubject(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}
