package escalation

import (
	"context"
	"sync"
	"time"
)

// Store persists escalation records.
type Store interface {
	// Create persists a new record.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// Resolve moves a pending record to the given terminal status. Returns
	// ErrAlreadyResolved when the record is no longer pending.
	Resolve(ctx context.Context, id string, status Status, resolvedBy string, at time.Time) (*Record, error)

	// ExpireDue moves every pending record whose deadline has passed to
	// StatusExpired and returns the records it expired.
	ExpireDue(ctx context.Context, now time.Time) ([]Record, error)

	// ListPending returns all pending records, oldest first.
	ListPending(ctx context.Context) ([]Record, error)
}

// InMemoryStore is an in-memory implementation of Store. Used for testing
// and development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewInMemoryStore creates a new in-memory escalation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Create persists a new record.
func (s *InMemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	s.records[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	return nil
}

// Get returns the record by ID.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// Resolve moves a pending record to the given terminal status.
func (s *InMemoryStore) Resolve(ctx context.Context, id string, status Status, resolvedBy string, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !rec.Pending() {
		return nil, ErrAlreadyResolved
	}
	rec.Status = status
	rec.ResolvedBy = resolvedBy
	rec.ResolvedAt = at.UTC()

	copied := *rec
	return &copied, nil
}

// ExpireDue expires every pending record past its deadline.
func (s *InMemoryStore) ExpireDue(ctx context.Context, now time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Record
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Pending() && now.After(rec.Deadline) {
			rec.Status = StatusExpired
			rec.ResolvedAt = now.UTC()
			expired = append(expired, *rec)
		}
	}
	return expired, nil
}

// ListPending returns all pending records, oldest first.
func (s *InMemoryStore) ListPending(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []Record
	for _, id := range s.order {
		if rec := s.records[id]; rec.Pending() {
			pending = append(pending, *rec)
		}
	}
	return pending, nil
}
