package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func TestProvision(t *testing.T) {
	agent, priv, err := Provision("agent-1", "ops")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	if agent.KeyEpoch != 1 {
		t.Errorf("KeyEpoch = %d, want 1", agent.KeyEpoch)
	}
	if agent.RoleTag != "ops" {
		t.Errorf("RoleTag = %q, want ops", agent.RoleTag)
	}
	if agent.Revoked() {
		t.Error("fresh identity reports revoked")
	}

	// The returned private key signs under the stored public key.
	msg := []byte("probe")
	if !ed25519.Verify(agent.PublicKey, msg, ed25519.Sign(priv, msg)) {
		t.Error("key pair mismatch between returned private and stored public key")
	}
}

func TestInMemoryRepository_CreateAndGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	agent, _, err := Provision("agent-1", "ops")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := repo.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, agent); !errors.Is(err, ErrAgentExists) {
		t.Errorf("duplicate Create = %v, want ErrAgentExists", err)
	}

	got, err := repo.Get(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want agent-1", got.AgentID)
	}

	if _, err := repo.Get(ctx, "nobody"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrAgentNotFound", err)
	}
}

func TestInMemoryRepository_Rotate(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	agent, _, err := Provision("agent-1", "ops")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := repo.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	newPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	rotated, err := repo.Rotate(ctx, "agent-1", newPub)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if rotated.KeyEpoch != 2 {
		t.Errorf("KeyEpoch = %d, want 2", rotated.KeyEpoch)
	}
	if !rotated.PublicKey.Equal(newPub) {
		t.Error("PublicKey not replaced")
	}
	if !rotated.PreviousKey.Equal(agent.PublicKey) {
		t.Error("PreviousKey does not hold the prior epoch's key")
	}
	if rotated.RotatedAt.IsZero() {
		t.Error("RotatedAt not set")
	}
}

func TestInMemoryRepository_Revoke(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	agent, _, err := Provision("agent-1", "ops")
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := repo.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.Revoke(ctx, "agent-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := repo.Revoke(ctx, "agent-1"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("second Revoke = %v, want ErrAlreadyRevoked", err)
	}

	// Revocation blocks rotation too.
	newPub, _, _ := ed25519.GenerateKey(rand.Reader)
	if _, err := repo.Rotate(ctx, "agent-1", newPub); !errors.Is(err, ErrAlreadyRevoked) {
		t.Errorf("Rotate after revoke = %v, want ErrAlreadyRevoked", err)
	}
}

func TestInMemoryNonceStore_MarkSeen(t *testing.T) {
	store := NewInMemoryNonceStore()
	ctx := context.Background()

	first, err := store.MarkSeen(ctx, "agent-1", 1, "nonce-1", time.Minute)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !first {
		t.Error("first sighting reported as replay")
	}

	first, err = store.MarkSeen(ctx, "agent-1", 1, "nonce-1", time.Minute)
	if err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if first {
		t.Error("replay reported as first sighting")
	}

	// The same nonce under another epoch or agent is distinct.
	if first, _ := store.MarkSeen(ctx, "agent-1", 2, "nonce-1", time.Minute); !first {
		t.Error("nonce should be scoped per key epoch")
	}
	if first, _ := store.MarkSeen(ctx, "agent-2", 1, "nonce-1", time.Minute); !first {
		t.Error("nonce should be scoped per agent")
	}
}
