// Package api provides HTTP handlers for the authorization engine.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/agentgate/internal/engine"
	"github.com/onnwee/agentgate/internal/identity"
	"github.com/onnwee/agentgate/internal/ledger"
	"github.com/onnwee/agentgate/internal/middleware"
	"github.com/onnwee/agentgate/internal/policy"
)

// AuthorizeHandlers holds dependencies for the authorization endpoints.
type AuthorizeHandlers struct {
	engine *engine.Engine
}

// NewAuthorizeHandlers creates a new AuthorizeHandlers instance.
func NewAuthorizeHandlers(eng *engine.Engine) *AuthorizeHandlers {
	return &AuthorizeHandlers{engine: eng}
}

// authorizeRequest is the wire form of a signed action request.
type authorizeRequest struct {
	AgentID       string  `json:"agent_id"`
	Action        string  `json:"action"`
	Resource      string  `json:"resource"`
	Payload       string  `json:"payload,omitempty"`
	PayloadDigest string  `json:"payload_digest"`
	OriginTrust   string  `json:"origin_trust"`
	Nonce         string  `json:"nonce"`
	Timestamp     string  `json:"timestamp"`
	KeyEpoch      int     `json:"key_epoch"`
	Signature     []byte  `json:"signature"`
	Amount        float64 `json:"amount,omitempty"`
}

// Authorize handles POST /v1/authorize.
// Runs the full pipeline synchronously and returns the decision.
func (h *AuthorizeHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, body.Timestamp)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "timestamp must be RFC3339")
		return
	}

	req := &identity.ActionRequest{
		AgentID:       body.AgentID,
		Action:        body.Action,
		Resource:      body.Resource,
		Payload:       body.Payload,
		PayloadDigest: body.PayloadDigest,
		OriginTrust:   identity.OriginTrust(body.OriginTrust),
		Nonce:         body.Nonce,
		Timestamp:     ts,
		KeyEpoch:      body.KeyEpoch,
		Signature:     body.Signature,
		Amount:        body.Amount,
	}
	if err := req.Validate(); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	ctx := middleware.SetAgentID(r.Context(), req.AgentID)
	middleware.UpdateResponseContext(w, ctx)

	resp, err := h.engine.Authorize(ctx, req)
	if err != nil {
		if errors.Is(err, ledger.ErrAuditWriteFailure) {
			slog.ErrorContext(ctx, "authorization aborted: audit write failed",
				"agent_id", req.AgentID, "error", err)
			ctx = middleware.SetErrorCode(ctx, ErrCodeAuditWriteFailure)
			WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeAuditWriteFailure,
				"Decision could not be audited; the action must not proceed")
			return
		}
		slog.ErrorContext(ctx, "authorization pipeline failed",
			"agent_id", req.AgentID, "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Authorization failed")
		return
	}

	status := http.StatusOK
	if resp.Outcome == policy.OutcomeDeny {
		status = http.StatusForbidden
	}
	writeJSON(w, ctx, status, resp)
}
