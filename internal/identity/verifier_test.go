package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

const (
	testSkewWindow    = 5 * time.Minute
	testRotationGrace = time.Hour
)

type verifierFixture struct {
	verifier *Verifier
	repo     *InMemoryRepository
	priv     ed25519.PrivateKey
	agent    *AgentIdentity
	now      time.Time
}

func newVerifierFixture(t *testing.T) *verifierFixture {
	t.Helper()

	agent, priv, err := Provision("agent-1", "ops")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	repo := NewInMemoryRepository()
	if err := repo.Create(context.Background(), agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	f := &verifierFixture{
		repo:  repo,
		priv:  priv,
		agent: agent,
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	// Repository timestamps (RotatedAt, RevokedAt) must come from the same
	// clock the verifier reads, or grace-window arithmetic drifts.
	repo.now = func() time.Time { return f.now }
	f.verifier = NewVerifier(repo, NewInMemoryNonceStore(), testSkewWindow, testRotationGrace)
	f.verifier.now = func() time.Time { return f.now }
	return f
}

// signedRequest builds a fully valid request signed with the fixture's key.
func (f *verifierFixture) signedRequest(nonce string) *ActionRequest {
	req := &ActionRequest{
		AgentID:       "agent-1",
		Action:        "read",
		Resource:      "files/reports",
		Payload:       `{"query":"q2 totals"}`,
		OriginTrust:   OriginTrustedInternal,
		Nonce:         nonce,
		Timestamp:     f.now,
		KeyEpoch:      f.agent.KeyEpoch,
	}
	req.PayloadDigest = DigestPayload(req.Payload)
	req.Signature = ed25519.Sign(f.priv, req.SigningPayload())
	return req
}

func TestVerifier_Verify_HappyPath(t *testing.T) {
	f := newVerifierFixture(t)

	verified, err := f.verifier.Verify(context.Background(), f.signedRequest("nonce-1"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.KeyEpochUsed != 1 {
		t.Errorf("KeyEpochUsed = %d, want 1", verified.KeyEpochUsed)
	}
	if verified.GraceWindow {
		t.Error("current-epoch signature should not report a grace window")
	}
}

func TestVerifier_Verify_Replay(t *testing.T) {
	f := newVerifierFixture(t)
	req := f.signedRequest("nonce-1")

	if _, err := f.verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if _, err := f.verifier.Verify(context.Background(), req); !errors.Is(err, ErrReplayed) {
		t.Errorf("second Verify = %v, want ErrReplayed", err)
	}
}

func TestVerifier_Verify_ClockSkew(t *testing.T) {
	f := newVerifierFixture(t)

	tests := []struct {
		name    string
		drift   time.Duration
		wantErr error
	}{
		{name: "within window behind", drift: -4 * time.Minute},
		{name: "within window ahead", drift: 4 * time.Minute},
		{name: "too far behind", drift: -6 * time.Minute, wantErr: ErrClockSkew},
		{name: "too far ahead", drift: 6 * time.Minute, wantErr: ErrClockSkew},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.signedRequest("nonce-" + tt.name)
			req.Timestamp = f.now.Add(tt.drift)
			req.Signature = ed25519.Sign(f.priv, req.SigningPayload())

			_, err := f.verifier.Verify(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifier_Verify_BadSignature(t *testing.T) {
	f := newVerifierFixture(t)

	req := f.signedRequest("nonce-1")
	req.Action = "delete" // tamper after signing

	if _, err := f.verifier.Verify(context.Background(), req); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify = %v, want ErrSignatureInvalid", err)
	}

	// A forged request must not burn the nonce for the legitimate caller.
	if _, err := f.verifier.Verify(context.Background(), f.signedRequest("nonce-1")); err != nil {
		t.Errorf("legitimate request after forgery: %v", err)
	}
}

func TestVerifier_Verify_PayloadDigestMismatch(t *testing.T) {
	f := newVerifierFixture(t)

	req := f.signedRequest("nonce-1")
	req.Payload = `{"query":"tampered"}`

	if _, err := f.verifier.Verify(context.Background(), req); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifier_Verify_UnknownAgent(t *testing.T) {
	f := newVerifierFixture(t)

	req := f.signedRequest("nonce-1")
	req.AgentID = "nobody"
	req.Signature = ed25519.Sign(f.priv, req.SigningPayload())

	if _, err := f.verifier.Verify(context.Background(), req); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Verify = %v, want ErrUnknownAgent", err)
	}
}

func TestVerifier_Verify_RevokedAgent(t *testing.T) {
	f := newVerifierFixture(t)

	if err := f.repo.Revoke(context.Background(), "agent-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, err := f.verifier.Verify(context.Background(), f.signedRequest("nonce-1")); !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("Verify = %v, want ErrKeyRevoked", err)
	}
}

func TestVerifier_Verify_RotationGrace(t *testing.T) {
	f := newVerifierFixture(t)
	ctx := context.Background()

	// Request signed under epoch 1, then the key rotates to epoch 2.
	oldEpochReq := f.signedRequest("nonce-grace")

	newPub, newPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	rotated, err := f.repo.Rotate(ctx, "agent-1", newPub)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	verified, err := f.verifier.Verify(ctx, oldEpochReq)
	if err != nil {
		t.Fatalf("Verify under previous epoch: %v", err)
	}
	if !verified.GraceWindow {
		t.Error("previous-epoch signature should report the grace window")
	}
	if verified.KeyEpochUsed != 1 {
		t.Errorf("KeyEpochUsed = %d, want 1", verified.KeyEpochUsed)
	}

	// New-epoch signatures verify without grace.
	f.agent = rotated
	f.priv = newPriv
	verified, err = f.verifier.Verify(ctx, f.signedRequest("nonce-new"))
	if err != nil {
		t.Fatalf("Verify under new epoch: %v", err)
	}
	if verified.GraceWindow {
		t.Error("current-epoch signature should not report a grace window")
	}
}

func TestVerifier_Verify_RotationGraceExpired(t *testing.T) {
	f := newVerifierFixture(t)
	ctx := context.Background()

	oldEpochReq := f.signedRequest("nonce-late")

	newPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := f.repo.Rotate(ctx, "agent-1", newPub); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Move the engine clock past the grace window, keeping the request
	// timestamp fresh so the skew check does not mask the epoch check.
	f.now = f.now.Add(testRotationGrace + time.Minute)
	oldEpochReq.Timestamp = f.now
	oldEpochReq.Signature = ed25519.Sign(f.priv, oldEpochReq.SigningPayload())

	if _, err := f.verifier.Verify(ctx, oldEpochReq); !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("Verify = %v, want ErrKeyRevoked", err)
	}
}

func TestVerifier_Verify_FutureEpoch(t *testing.T) {
	f := newVerifierFixture(t)

	req := f.signedRequest("nonce-1")
	req.KeyEpoch = 7
	req.Signature = ed25519.Sign(f.priv, req.SigningPayload())

	if _, err := f.verifier.Verify(context.Background(), req); !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("Verify = %v, want ErrSignatureInvalid", err)
	}
}

func TestActionRequest_Validate(t *testing.T) {
	valid := func() ActionRequest {
		return ActionRequest{
			AgentID:       "agent-1",
			Action:        "read",
			Resource:      "files/reports",
			PayloadDigest: DigestPayload(""),
			OriginTrust:   OriginTrustedInternal,
			Nonce:         "nonce-1",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ActionRequest)
		wantErr error
	}{
		{name: "valid", mutate: func(r *ActionRequest) {}},
		{name: "missing agent", mutate: func(r *ActionRequest) { r.AgentID = "" }, wantErr: ErrMissingAgentID},
		{name: "missing action", mutate: func(r *ActionRequest) { r.Action = "" }, wantErr: ErrMissingAction},
		{name: "missing resource", mutate: func(r *ActionRequest) { r.Resource = "" }, wantErr: ErrMissingResource},
		{name: "missing nonce", mutate: func(r *ActionRequest) { r.Nonce = "" }, wantErr: ErrMissingNonce},
		{name: "missing digest", mutate: func(r *ActionRequest) { r.PayloadDigest = "" }, wantErr: ErrMissingDigest},
		{name: "bad origin", mutate: func(r *ActionRequest) { r.OriginTrust = "somewhere" }, wantErr: ErrInvalidOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			if err := r.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
