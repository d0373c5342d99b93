// Package middleware provides HTTP middleware components for the engine's API server.
package middleware

import (
	"net/http"
	"strings"

	"github.com/onnwee/agentgate/internal/auth"
)

// RequireAdmin is a middleware that enforces a valid admin bearer token on the
// wrapped handler. On success the admin subject is stored in the request
// context for audit attribution; on failure the request is rejected with 401.
func RequireAdmin(tokens *auth.AdminTokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				ctx := SetErrorCode(r.Context(), "auth_failed")
				UpdateResponseContext(w, ctx)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := tokens.ValidateAdminToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				ctx := SetErrorCode(r.Context(), "auth_failed")
				UpdateResponseContext(w, ctx)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := SetAdminSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
