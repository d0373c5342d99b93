package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID between the orchestrator and the
// engine. Decision logs and error envelopes echo it back.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds caller-supplied correlation IDs; anything longer
// is discarded and replaced rather than echoed into logs.
const maxRequestIDLength = 128

type requestIDKey struct{}

// RequestID injects a correlation ID into the request context and response
// headers, keeping the caller's ID when one is supplied and sane.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the correlation ID from the context, or "" when the
// middleware did not run.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
