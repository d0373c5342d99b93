package trust

import (
	"context"
	"errors"
	"sync"
)

// ErrScoreNotFound is returned by Get when no record exists for the agent.
var ErrScoreNotFound = errors.New("trust score not found")

// Store holds the live score record per agent. Update is an atomic
// read-modify-write: concurrent updates to the same agent never lose a delta.
type Store interface {
	// Get returns the agent's current score record.
	Get(ctx context.Context, agentID string) (Score, error)

	// Update atomically applies fn to the agent's record and persists the
	// result. When no record exists fn receives the zero Score with only
	// AgentID set, so fn decides initial placement.
	Update(ctx context.Context, agentID string, fn func(Score) Score) (Score, error)
}

// InMemoryStore is an in-memory implementation of Store. Used for testing
// and development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu     sync.RWMutex
	scores map[string]Score
}

// NewInMemoryStore creates a new in-memory trust store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{scores: make(map[string]Score)}
}

// Get returns the agent's current score record.
func (s *InMemoryStore) Get(ctx context.Context, agentID string) (Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	score, ok := s.scores[agentID]
	if !ok {
		return Score{}, ErrScoreNotFound
	}
	return score, nil
}

// Update atomically applies fn to the agent's record.
func (s *InMemoryStore) Update(ctx context.Context, agentID string, fn func(Score) Score) (Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.scores[agentID]
	if !ok {
		current = Score{AgentID: agentID}
	}
	next := fn(current)
	next.AgentID = agentID
	s.scores[agentID] = next
	return next, nil
}
