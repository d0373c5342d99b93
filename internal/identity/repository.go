package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Repository errors.
var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrAgentExists    = errors.New("agent already exists")
	ErrAlreadyRevoked = errors.New("agent already revoked")
)

// Repository defines the interface for agent identity storage.
// Identities are never deleted; revocation tombstones them in place.
type Repository interface {
	// Create stores a new agent identity.
	Create(ctx context.Context, agent *AgentIdentity) error

	// Get retrieves an agent identity by ID.
	Get(ctx context.Context, agentID string) (*AgentIdentity, error)

	// Rotate replaces the agent's key material: the current public key moves
	// to PreviousKey, the new key is published under an incremented epoch,
	// and RotatedAt starts the grace window.
	Rotate(ctx context.Context, agentID string, newKey ed25519.PublicKey) (*AgentIdentity, error)

	// Revoke tombstones the agent. Immediate and irreversible.
	Revoke(ctx context.Context, agentID string) error
}

// Provision generates a key pair and builds a new identity for the given
// agent ID and role tag. The private key is returned once for distribution to
// the agent and is not retained.
func Provision(agentID, roleTag string) (*AgentIdentity, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	agent := &AgentIdentity{
		AgentID:   agentID,
		PublicKey: pub,
		KeyEpoch:  1,
		RoleTag:   roleTag,
		CreatedAt: time.Now().UTC(),
	}
	return agent, priv, nil
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	agents map[string]*AgentIdentity
	now    func() time.Time
}

// NewInMemoryRepository creates a new in-memory identity repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		agents: make(map[string]*AgentIdentity),
		now:    time.Now,
	}
}

// Create stores a new agent identity.
func (r *InMemoryRepository) Create(ctx context.Context, agent *AgentIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.AgentID]; exists {
		return ErrAgentExists
	}

	agentCopy := *agent
	r.agents[agent.AgentID] = &agentCopy
	return nil
}

// Get retrieves an agent identity by ID.
func (r *InMemoryRepository) Get(ctx context.Context, agentID string) (*AgentIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}

	// Return a copy to prevent external modification
	agentCopy := *agent
	return &agentCopy, nil
}

// Rotate replaces the agent's key material under an incremented epoch.
func (r *InMemoryRepository) Rotate(ctx context.Context, agentID string, newKey ed25519.PublicKey) (*AgentIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	if agent.Revoked() {
		return nil, ErrAlreadyRevoked
	}

	agent.PreviousKey = agent.PublicKey
	agent.PublicKey = newKey
	agent.KeyEpoch++
	agent.RotatedAt = r.now().UTC()

	agentCopy := *agent
	return &agentCopy, nil
}

// Revoke tombstones the agent.
func (r *InMemoryRepository) Revoke(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if agent.Revoked() {
		return ErrAlreadyRevoked
	}

	agent.RevokedAt = r.now().UTC()
	return nil
}
