// Package identity provides agent identity management and request
// verification: signature checks, nonce replay protection, key rotation with
// epoch grace windows, and immediate revocation.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// OriginTrust classifies where a request payload originated.
type OriginTrust string

const (
	// OriginTrustedInternal marks payloads produced inside the trust boundary.
	OriginTrustedInternal OriginTrust = "trusted-internal"
	// OriginUntrustedExternal marks payloads derived from third-party content
	// (email, documents, messages) the agent processed. These are screened by
	// the input sanitizer before any policy evaluation.
	OriginUntrustedExternal OriginTrust = "untrusted-external"
)

// ValidOriginTrust reports whether the given origin trust value is recognized.
func ValidOriginTrust(o OriginTrust) bool {
	return o == OriginTrustedInternal || o == OriginUntrustedExternal
}

// AgentIdentity holds the key material and identity metadata for one agent.
// Identities are never deleted, only revoked, to preserve audit continuity.
type AgentIdentity struct {
	AgentID   string
	PublicKey ed25519.PublicKey
	KeyEpoch  int

	// PreviousKey is the public key of the prior epoch, accepted only within
	// the rotation grace window. Nil when no rotation is in progress.
	PreviousKey ed25519.PublicKey
	RotatedAt   time.Time

	RoleTag   string
	CreatedAt time.Time

	// RevokedAt is non-zero once the identity has been revoked. Revocation is
	// immediate and irreversible; revoked agents fail closed.
	RevokedAt time.Time
}

// Revoked reports whether the identity has been revoked.
func (a *AgentIdentity) Revoked() bool {
	return !a.RevokedAt.IsZero()
}

// ActionRequest is one proposed privileged action, signed by the agent.
// It exists only for the duration of a single authorization cycle.
type ActionRequest struct {
	AgentID       string      `json:"agent_id"`
	Action        string      `json:"action"`
	Resource      string      `json:"resource"`
	Payload       string      `json:"payload,omitempty"`
	PayloadDigest string      `json:"payload_digest"`
	OriginTrust   OriginTrust `json:"origin_trust"`
	Nonce         string      `json:"nonce"`
	Timestamp     time.Time   `json:"timestamp"`
	KeyEpoch      int         `json:"key_epoch"`
	Signature     []byte      `json:"signature"`

	// Amount carries the numeric magnitude of the action, when it has one
	// (e.g. a payment or quota change), for constraint ceiling checks.
	Amount float64 `json:"amount,omitempty"`
}

// SigningPayload returns the canonical byte sequence covered by the request
// signature. Field order is fixed; timestamps are RFC3339Nano in UTC.
func (r *ActionRequest) SigningPayload() []byte {
	fields := []string{
		r.AgentID,
		strconv.Itoa(r.KeyEpoch),
		r.Action,
		r.Resource,
		r.PayloadDigest,
		string(r.OriginTrust),
		r.Nonce,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return []byte(strings.Join(fields, "\n"))
}

// DigestPayload computes the hex-encoded SHA-256 digest of a payload, the
// format expected in the PayloadDigest field.
func DigestPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Validation errors for request structure. These are distinct from
// verification failures: a request that fails these checks was malformed
// before any cryptography was involved.
var (
	ErrMissingAgentID  = errors.New("agent_id is required")
	ErrMissingAction   = errors.New("action is required")
	ErrMissingResource = errors.New("resource is required")
	ErrMissingNonce    = errors.New("nonce is required")
	ErrInvalidOrigin   = errors.New("origin_trust must be trusted-internal or untrusted-external")
	ErrMissingDigest   = errors.New("payload_digest is required")
)

// Validate checks the structural fields of a request.
func (r *ActionRequest) Validate() error {
	if r.AgentID == "" {
		return ErrMissingAgentID
	}
	if r.Action == "" {
		return ErrMissingAction
	}
	if r.Resource == "" {
		return ErrMissingResource
	}
	if r.Nonce == "" {
		return ErrMissingNonce
	}
	if r.PayloadDigest == "" {
		return ErrMissingDigest
	}
	if !ValidOriginTrust(r.OriginTrust) {
		return ErrInvalidOrigin
	}
	return nil
}

// VerifiedRequest is an ActionRequest that has passed signature, freshness,
// and replay checks.
type VerifiedRequest struct {
	Request *ActionRequest

	// KeyEpochUsed is the epoch whose key verified the signature.
	KeyEpochUsed int

	// GraceWindow is true when the signature verified under the previous
	// epoch during the rotation grace window. Callers should re-sign under
	// the new epoch before the window closes.
	GraceWindow bool

	VerifiedAt time.Time
}
