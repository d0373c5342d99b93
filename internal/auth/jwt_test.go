package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateAdminToken(t *testing.T) {
	svc := NewAdminTokenService("test-secret")

	token, err := svc.GenerateAdminToken("admin@ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	claims, err := svc.ValidateAdminToken(token)
	if err != nil {
		t.Fatalf("ValidateAdminToken: %v", err)
	}
	if claims.Subject != "admin@ops" {
		t.Errorf("subject = %q, want admin@ops", claims.Subject)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("role = %q, want %q", claims.Role, RoleAdmin)
	}
}

func TestGenerateAdminToken_EmptySubject(t *testing.T) {
	svc := NewAdminTokenService("test-secret")

	if _, err := svc.GenerateAdminToken(""); !errors.Is(err, ErrEmptySubject) {
		t.Errorf("err = %v, want ErrEmptySubject", err)
	}
}

func TestValidateAdminToken_WrongSecret(t *testing.T) {
	minter := NewAdminTokenService("secret-a")
	verifier := NewAdminTokenService("secret-b")

	token, err := minter.GenerateAdminToken("admin@ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	if _, err := verifier.ValidateAdminToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateAdminToken_Garbage(t *testing.T) {
	svc := NewAdminTokenService("test-secret")

	if _, err := svc.ValidateAdminToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateAdminToken_Expired(t *testing.T) {
	svc := NewAdminTokenService("test-secret")

	// Mint a token that expired well beyond the validation leeway.
	past := time.Now().Add(-2 * AdminTokenExpiry)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin@ops",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(AdminTokenExpiry)),
		},
		Role: RoleAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.ValidateAdminToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("err = %v, want ErrExpiredToken", err)
	}
}

func TestValidateAdminToken_MissingAdminRole(t *testing.T) {
	svc := NewAdminTokenService("test-secret")

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "reader@ops",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AdminTokenExpiry)),
		},
		Role: "viewer",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.ValidateAdminToken(token); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("err = %v, want ErrNotAdmin", err)
	}
}

func TestValidateAdminToken_RejectsNonHS256(t *testing.T) {
	svc := NewAdminTokenService("test-secret")

	// alg=none must never validate regardless of claims.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin@ops"},
		Role:             RoleAdmin,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.ValidateAdminToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSecretRotation(t *testing.T) {
	old := NewAdminTokenService("old-secret")
	token, err := old.GenerateAdminToken("admin@ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}

	// During rotation both the old and new secrets validate.
	rotated := NewAdminTokenServiceWithRotation("new-secret", "old-secret")
	if _, err := rotated.ValidateAdminToken(token); err != nil {
		t.Errorf("old-secret token rejected during rotation: %v", err)
	}

	fresh, err := rotated.GenerateAdminToken("admin@ops")
	if err != nil {
		t.Fatalf("GenerateAdminToken: %v", err)
	}
	if _, err := rotated.ValidateAdminToken(fresh); err != nil {
		t.Errorf("fresh token rejected: %v", err)
	}

	// Once rotation completes the old secret is dropped.
	done := NewAdminTokenService("new-secret")
	if _, err := done.ValidateAdminToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("old-secret token after rotation: err = %v, want ErrInvalidToken", err)
	}
}
