package ledger

import (
	"context"
	"errors"
	"sync"
)

// Store errors.
var (
	// ErrSequenceConflict means another writer appended the same sequence
	// number first. The ledger writer treats this as a hard failure: appends
	// are serialized per partition, so a conflict means two writers share a
	// partition without sharing a Ledger.
	ErrSequenceConflict = errors.New("ledger sequence conflict")
)

// Store is the durable backing for ledger entries. Implementations must
// reject duplicate (partition, sequence_no) pairs.
type Store interface {
	// Insert persists an entry. The entry's hash fields are already computed.
	Insert(ctx context.Context, entry *Entry) error

	// Last returns the highest-sequence entry in the partition, or nil when
	// the partition is empty.
	Last(ctx context.Context, partition string) (*Entry, error)

	// List returns up to limit entries with sequence_no > afterSeq, in
	// ascending sequence order.
	List(ctx context.Context, partition string, afterSeq int64, limit int) ([]Entry, error)

	// Partitions returns all partition names present in the store.
	Partitions(ctx context.Context) ([]string, error)
}

// InMemoryStore is an in-memory implementation of Store. Used for testing
// and development. Thread-safe via RWMutex.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[string][]Entry
}

// NewInMemoryStore creates a new in-memory ledger store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{partitions: make(map[string][]Entry)}
}

// Insert persists an entry.
func (s *InMemoryStore) Insert(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.partitions[entry.Partition]
	if len(entries) > 0 && entries[len(entries)-1].SequenceNo >= entry.SequenceNo {
		return ErrSequenceConflict
	}
	s.partitions[entry.Partition] = append(entries, *entry)
	return nil
}

// Last returns the highest-sequence entry in the partition.
func (s *InMemoryStore) Last(ctx context.Context, partition string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.partitions[partition]
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

// List returns entries after the given sequence number.
func (s *InMemoryStore) List(ctx context.Context, partition string, afterSeq int64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.partitions[partition] {
		if e.SequenceNo <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Partitions returns all partition names.
func (s *InMemoryStore) Partitions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	return names, nil
}

// Corrupt overwrites the payload of the entry at the given sequence number.
// Test helper for chain verification; never part of the Store interface.
func (s *InMemoryStore) Corrupt(partition string, seq int64, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.partitions[partition]
	for i := range entries {
		if entries[i].SequenceNo == seq {
			entries[i].Payload = payload
			return true
		}
	}
	return false
}
