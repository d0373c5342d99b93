package capability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository errors.
var (
	ErrGrantNotFound = errors.New("grant not found")
)

// Repository defines the interface for capability grant storage.
// Grants are mutated only through Create and Revoke, never in place.
type Repository interface {
	// Create validates and stores a new grant. Overlapping grants with
	// conflicting constraints are rejected here: ambiguity is a
	// configuration error surfaced eagerly, never resolved at decision time.
	Create(ctx context.Context, grant *Grant) (*Grant, error)

	// Revoke marks the grant revoked. Effective for the next request.
	Revoke(ctx context.Context, grantID string) error

	// ListByAgent returns all grants for the agent, including revoked and
	// expired ones; liveness is the caller's concern.
	ListByAgent(ctx context.Context, agentID string) ([]Grant, error)
}

// checkConflicts rejects a new grant that overlaps an existing live grant
// with intersecting actions but different constraints.
func checkConflicts(grant *Grant, existing []Grant, now time.Time) error {
	for i := range existing {
		g := &existing[i]
		if !g.Live(now) {
			continue
		}
		if !Overlaps(grant.ResourcePattern, g.ResourcePattern) {
			continue
		}
		if !actionsIntersect(grant.Actions, g.Actions) {
			continue
		}
		if !grant.Constraints.Equal(g.Constraints) {
			return ErrConflictingGrants
		}
	}
	return nil
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byAgent map[string][]*Grant
	byID    map[string]*Grant
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory grant repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byAgent: make(map[string][]*Grant),
		byID:    make(map[string]*Grant),
		now:     time.Now,
	}
}

// Create validates and stores a new grant.
func (r *InMemoryRepository) Create(ctx context.Context, grant *Grant) (*Grant, error) {
	now := r.now().UTC()
	if err := grant.Validate(now); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := make([]Grant, 0, len(r.byAgent[grant.AgentID]))
	for _, g := range r.byAgent[grant.AgentID] {
		existing = append(existing, *g)
	}
	if err := checkConflicts(grant, existing, now); err != nil {
		return nil, err
	}

	stored := *grant
	stored.ID = uuid.New().String()
	stored.CreatedAt = now

	r.byAgent[grant.AgentID] = append(r.byAgent[grant.AgentID], &stored)
	r.byID[stored.ID] = &stored

	result := stored
	return &result, nil
}

// Revoke marks the grant revoked.
func (r *InMemoryRepository) Revoke(ctx context.Context, grantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.byID[grantID]
	if !ok {
		return ErrGrantNotFound
	}
	if g.RevokedAt.IsZero() {
		g.RevokedAt = r.now().UTC()
	}
	return nil
}

// ListByAgent returns all grants for the agent.
func (r *InMemoryRepository) ListByAgent(ctx context.Context, agentID string) ([]Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grants := r.byAgent[agentID]
	// Return copies to prevent external modification
	result := make([]Grant, 0, len(grants))
	for _, g := range grants {
		result = append(result, *g)
	}
	return result, nil
}
