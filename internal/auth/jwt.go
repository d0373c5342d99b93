// Package auth provides bearer-token authentication for the engine's
// administration surface. Agents never authenticate this way; their requests
// carry detached signatures verified by the credential store. Admin tokens
// gate the capability administration, key rotation, escalation resolution,
// and audit export APIs, which require a higher-privilege caller.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token expiration for admin tokens. Admin tokens are short-lived; operators
// and admin services are expected to mint fresh ones per task.
const AdminTokenExpiry = 1 * time.Hour

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// RoleAdmin is the role claim value required for administration endpoints.
const RoleAdmin = "admin"

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptySubject is returned when the subject is empty.
var ErrEmptySubject = errors.New("subject cannot be empty")

// ErrNotAdmin is returned when a valid token lacks the admin role.
var ErrNotAdmin = errors.New("token does not carry the admin role")

// Claims represents the custom JWT claims for admin tokens.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokenService handles admin JWT token operations.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type AdminTokenService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewAdminTokenService creates a new AdminTokenService with the given secret.
func NewAdminTokenService(secret string) *AdminTokenService {
	return &AdminTokenService{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
	}
}

// NewAdminTokenServiceWithRotation creates a new AdminTokenService with dual-key
// support for zero-downtime secret rotation. Tokens are always signed with
// currentSecret but validate against either secret. Pass an empty previousSecret
// when no rotation is in progress.
func NewAdminTokenServiceWithRotation(currentSecret, previousSecret string) *AdminTokenService {
	svc := &AdminTokenService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// GenerateAdminToken creates a new admin token for the given subject
// (operator identity or admin service name).
func (s *AdminTokenService) GenerateAdminToken(subject string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AdminTokenExpiry)),
		},
		Role: RoleAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateAdminToken parses and validates an admin token, returning the claims
// if valid and carrying the admin role.
// Supports dual-key rotation: tries currentSecret first, then previousSecret.
func (s *AdminTokenService) ValidateAdminToken(tokenString string) (*Claims, error) {
	claims, err := s.parseWithSecret(tokenString, s.currentSecret)
	if err != nil && s.previousSecret != nil {
		var prevErr error
		claims, prevErr = s.parseWithSecret(tokenString, s.previousSecret)
		if prevErr == nil {
			err = nil
		}
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims.Role != RoleAdmin {
		return nil, ErrNotAdmin
	}
	return claims, nil
}

// parseWithSecret parses the token with the given secret, enforcing HS256.
func (s *AdminTokenService) parseWithSecret(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
