package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore records nonces that have been accepted, so a replayed request is
// rejected on its second appearance. Entries expire after the TTL: a nonce
// older than the clock-skew window is already rejected by the freshness check,
// so the store only needs to remember nonces for twice that window.
type NonceStore interface {
	// MarkSeen records the nonce and reports whether it had been seen before.
	// Returns true if this is the first sighting (the request is fresh).
	MarkSeen(ctx context.Context, agentID string, keyEpoch int, nonce string, ttl time.Duration) (first bool, err error)
}

// nonceKey builds the store key. Nonces are scoped per agent and key epoch:
// a nonce must be unseen within the epoch it was signed under.
func nonceKey(agentID string, keyEpoch int, nonce string) string {
	return fmt.Sprintf("nonce:%s:%d:%s", agentID, keyEpoch, nonce)
}

// InMemoryNonceStore is an in-memory implementation of NonceStore.
// Used for testing and development. Thread-safe via Mutex.
type InMemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time // key -> expiry
}

// NewInMemoryNonceStore creates a new in-memory nonce store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{
		seen: make(map[string]time.Time),
	}
}

// MarkSeen records the nonce and reports whether it had been seen before.
func (s *InMemoryNonceStore) MarkSeen(ctx context.Context, agentID string, keyEpoch int, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := nonceKey(agentID, keyEpoch, nonce)

	if expiry, ok := s.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

// Cleanup removes expired entries to prevent memory leaks.
// This should be called periodically in production.
func (s *InMemoryNonceStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, key)
		}
	}
}

// RedisNonceStore is a Redis-backed implementation of NonceStore, for
// deployments where multiple engine replicas must share replay state.
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore creates a new Redis nonce store.
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

// MarkSeen records the nonce using SET NX with expiry, which is atomic:
// exactly one caller observes first == true for a given nonce.
func (s *RedisNonceStore) MarkSeen(ctx context.Context, agentID string, keyEpoch int, nonce string, ttl time.Duration) (bool, error) {
	key := nonceKey(agentID, keyEpoch, nonce)
	first, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record nonce: %w", err)
	}
	return first, nil
}
