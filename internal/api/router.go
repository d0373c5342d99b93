package api

import (
	"net/http"

	"github.com/onnwee/agentgate/internal/auth"
	"github.com/onnwee/agentgate/internal/middleware"
)

// RouterDeps carries everything the router needs to wire routes.
type RouterDeps struct {
	Authorize   *AuthorizeHandlers
	Outcomes    *OutcomeHandlers
	Agents      *AgentHandlers
	Grants      *GrantHandlers
	Audit       *AuditHandlers
	Escalations *EscalationHandlers
	Events      *EventStreamHandlers
	Health      *HealthHandlers

	AdminTokens *auth.AdminTokenService

	// AuthorizeLimit applies to the submission endpoints per agent;
	// AdminLimit to everything behind admin authentication.
	AuthorizeLimit middleware.RateLimitConfig
	AdminLimit     middleware.RateLimitConfig
	RateLimits     middleware.RateLimitStore

	// MetricsHandler serves GET /metrics (promhttp over the private registry).
	MetricsHandler http.Handler
}

// NewRouter builds the full route table. Submission endpoints are
// rate-limited per agent; administration endpoints require an admin bearer
// token and are rate-limited per caller IP.
func NewRouter(deps RouterDeps) *http.ServeMux {
	mux := http.NewServeMux()

	submit := middleware.RateLimiter(deps.RateLimits, deps.AuthorizeLimit, middleware.AgentKeyFunc())
	admin := func(h http.HandlerFunc) http.Handler {
		limited := middleware.RateLimiter(deps.RateLimits, deps.AdminLimit, middleware.IPKeyFunc())
		return middleware.RequireAdmin(deps.AdminTokens)(limited(h))
	}

	// Submission pipeline.
	mux.Handle("POST /v1/authorize", submit(http.HandlerFunc(deps.Authorize.Authorize)))
	mux.Handle("POST /v1/outcomes/{decisionRef}", submit(http.HandlerFunc(deps.Outcomes.ReportOutcome)))

	// Agent identity administration.
	mux.Handle("POST /v1/agents", admin(deps.Agents.Provision))
	mux.Handle("POST /v1/agents/{id}/rotate", admin(deps.Agents.Rotate))
	mux.Handle("POST /v1/agents/{id}/revoke", admin(deps.Agents.Revoke))

	// Capability grant administration.
	mux.Handle("POST /v1/agents/{id}/grants", admin(deps.Grants.CreateGrant))
	mux.Handle("GET /v1/agents/{id}/grants", admin(deps.Grants.ListGrants))
	mux.Handle("DELETE /v1/agents/{id}/grants/{grantID}", admin(deps.Grants.RevokeGrant))

	// Audit export and verification.
	mux.Handle("GET /v1/audit/{partition}", admin(deps.Audit.Export))
	mux.Handle("GET /v1/audit/{partition}/verify", admin(deps.Audit.Verify))

	// Escalation queue.
	mux.Handle("GET /v1/escalations", admin(deps.Escalations.ListPending))
	mux.Handle("POST /v1/escalations/{id}", admin(deps.Escalations.Resolve))

	// Operator event stream.
	mux.Handle("GET /v1/events/ws", middleware.RequireAdmin(deps.AdminTokens)(http.HandlerFunc(deps.Events.Stream)))

	// Probes and metrics.
	mux.HandleFunc("GET /health", deps.Health.Health)
	mux.HandleFunc("GET /ready", deps.Health.Ready)
	if deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", deps.MetricsHandler)
	}

	return mux
}
