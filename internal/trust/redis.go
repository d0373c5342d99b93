package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces trust records in Redis.
const redisKeyPrefix = "trust:"

// maxCASRetries bounds the optimistic-concurrency retry loop.
const maxCASRetries = 5

// RedisStore is a Redis-backed implementation of Store. Updates use WATCH so
// a concurrent write to the same agent aborts the transaction and the
// read-modify-write is retried against the fresh value.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis trust store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(agentID string) string {
	return redisKeyPrefix + agentID
}

// Get returns the agent's current score record.
func (s *RedisStore) Get(ctx context.Context, agentID string) (Score, error) {
	data, err := s.client.Get(ctx, redisKey(agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Score{}, ErrScoreNotFound
	}
	if err != nil {
		return Score{}, fmt.Errorf("failed to read trust score: %w", err)
	}

	var score Score
	if err := json.Unmarshal(data, &score); err != nil {
		return Score{}, fmt.Errorf("failed to decode trust score: %w", err)
	}
	return score, nil
}

// Update atomically applies fn to the agent's record.
func (s *RedisStore) Update(ctx context.Context, agentID string, fn func(Score) Score) (Score, error) {
	key := redisKey(agentID)

	var result Score
	txn := func(tx *redis.Tx) error {
		current := Score{AgentID: agentID}
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read trust score: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("failed to decode trust score: %w", err)
			}
		}

		next := fn(current)
		next.AgentID = agentID
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode trust score: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Score{}, err
	}
	return Score{}, fmt.Errorf("trust score update for %s lost the race %d times", agentID, maxCASRetries)
}

// ensure RedisStore satisfies Store.
var _ Store = (*RedisStore)(nil)
