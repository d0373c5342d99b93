package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/agentgate/internal/auth"
)

func TestRequireAdmin(t *testing.T) {
	tokens := auth.NewAdminTokenService("test-secret")
	valid, err := tokens.GenerateAdminToken("admin@ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	var gotSubject string
	handler := RequireAdmin(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = GetAdminSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{name: "valid token", authHeader: "Bearer " + valid, wantStatus: http.StatusOK},
		{name: "missing header", authHeader: "", wantStatus: http.StatusUnauthorized},
		{name: "not bearer", authHeader: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", authHeader: "Bearer not.a.token", wantStatus: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, "/v1/escalations", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotSubject != "admin@ops" {
				t.Errorf("admin subject = %q, want admin@ops", gotSubject)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if rec.Header().Get("WWW-Authenticate") != "Bearer" {
					t.Error("no WWW-Authenticate header on rejection")
				}
			}
		})
	}
}
