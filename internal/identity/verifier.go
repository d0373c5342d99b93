package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"
)

// Verification failure taxonomy. All fail closed; the engine never retries a
// failed verification on the caller's behalf.
var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrReplayed         = errors.New("nonce already seen")
	ErrKeyRevoked       = errors.New("agent key revoked")
	ErrClockSkew        = errors.New("request timestamp outside clock-skew window")
	ErrUnknownAgent     = errors.New("unknown agent")
)

// Verifier checks that an ActionRequest was produced by the key holder
// claiming its agent_id and that the request is fresh.
type Verifier struct {
	repo   Repository
	nonces NonceStore

	// skewWindow bounds how far a request timestamp may drift from the
	// engine's clock in either direction.
	skewWindow time.Duration

	// rotationGrace bounds how long signatures under the previous key epoch
	// remain acceptable after a rotation.
	rotationGrace time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// NewVerifier creates a Verifier over the given identity repository and
// nonce store.
func NewVerifier(repo Repository, nonces NonceStore, skewWindow, rotationGrace time.Duration) *Verifier {
	return &Verifier{
		repo:          repo,
		nonces:        nonces,
		skewWindow:    skewWindow,
		rotationGrace: rotationGrace,
		now:           time.Now,
	}
}

// Verify checks signature, freshness, and replay state for the request.
// The order is deliberate: identity and revocation first (cheapest denial of
// the most dangerous case), then freshness, then signature, then replay.
// The nonce is only burned after the signature verifies, so an attacker
// cannot invalidate a legitimate nonce by submitting a forged request.
func (v *Verifier) Verify(ctx context.Context, req *ActionRequest) (*VerifiedRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	agent, err := v.repo.Get(ctx, req.AgentID)
	if errors.Is(err, ErrAgentNotFound) {
		return nil, ErrUnknownAgent
	}
	if err != nil {
		return nil, err
	}

	if agent.Revoked() {
		return nil, ErrKeyRevoked
	}

	now := v.now()
	drift := now.Sub(req.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.skewWindow {
		return nil, ErrClockSkew
	}

	// Payload consistency: if the payload itself was carried, its digest must
	// match the signed digest.
	if req.Payload != "" && DigestPayload(req.Payload) != req.PayloadDigest {
		return nil, ErrSignatureInvalid
	}

	key, grace, err := v.selectKey(agent, req.KeyEpoch, now)
	if err != nil {
		return nil, err
	}

	if !ed25519.Verify(key, req.SigningPayload(), req.Signature) {
		return nil, ErrSignatureInvalid
	}

	first, err := v.nonces.MarkSeen(ctx, req.AgentID, req.KeyEpoch, req.Nonce, 2*v.skewWindow)
	if err != nil {
		return nil, err
	}
	if !first {
		return nil, ErrReplayed
	}

	return &VerifiedRequest{
		Request:      req,
		KeyEpochUsed: req.KeyEpoch,
		GraceWindow:  grace,
		VerifiedAt:   now,
	}, nil
}

// selectKey returns the public key for the claimed epoch. The current epoch
// is always acceptable; the immediately prior epoch is acceptable only within
// the rotation grace window. Anything older is treated as revoked.
func (v *Verifier) selectKey(agent *AgentIdentity, claimedEpoch int, now time.Time) (ed25519.PublicKey, bool, error) {
	switch {
	case claimedEpoch == agent.KeyEpoch:
		return agent.PublicKey, false, nil
	case claimedEpoch == agent.KeyEpoch-1 && agent.PreviousKey != nil:
		if now.After(agent.RotatedAt.Add(v.rotationGrace)) {
			return nil, false, ErrKeyRevoked
		}
		return agent.PreviousKey, true, nil
	case claimedEpoch > agent.KeyEpoch:
		// An epoch from the future is not a revocation case; the signature
		// simply cannot be valid under any key we have published.
		return nil, false, ErrSignatureInvalid
	default:
		return nil, false, ErrKeyRevoked
	}
}
