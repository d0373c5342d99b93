package identity

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresRepository is a Postgres-backed implementation of Repository.
type PostgresRepository struct {
	pool *sql.DB
}

// NewPostgresRepository creates a new Postgres identity repository.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create stores a new agent identity.
func (r *PostgresRepository) Create(ctx context.Context, agent *AgentIdentity) error {
	const q = `
		INSERT INTO agent_identities (agent_id, public_key, key_epoch, role_tag, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.ExecContext(ctx, q,
		agent.AgentID, []byte(agent.PublicKey), agent.KeyEpoch, agent.RoleTag, agent.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrAgentExists
		}
		return fmt.Errorf("failed to insert agent identity: %w", err)
	}
	return nil
}

// Get retrieves an agent identity by ID.
func (r *PostgresRepository) Get(ctx context.Context, agentID string) (*AgentIdentity, error) {
	const q = `
		SELECT agent_id, public_key, key_epoch, previous_key, rotated_at, role_tag, created_at, revoked_at
		FROM agent_identities
		WHERE agent_id = $1`

	var agent AgentIdentity
	var pub, prev []byte
	var rotatedAt, revokedAt sql.NullTime

	err := r.pool.QueryRowContext(ctx, q, agentID).Scan(
		&agent.AgentID, &pub, &agent.KeyEpoch, &prev, &rotatedAt,
		&agent.RoleTag, &agent.CreatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent identity: %w", err)
	}

	agent.PublicKey = ed25519.PublicKey(pub)
	if len(prev) > 0 {
		agent.PreviousKey = ed25519.PublicKey(prev)
	}
	if rotatedAt.Valid {
		agent.RotatedAt = rotatedAt.Time
	}
	if revokedAt.Valid {
		agent.RevokedAt = revokedAt.Time
	}
	return &agent, nil
}

// Rotate replaces the agent's key material under an incremented epoch.
// The update is conditional on the agent not being revoked, so a revocation
// racing with a rotation cannot resurrect the identity.
func (r *PostgresRepository) Rotate(ctx context.Context, agentID string, newKey ed25519.PublicKey) (*AgentIdentity, error) {
	const q = `
		UPDATE agent_identities
		SET previous_key = public_key,
		    public_key = $2,
		    key_epoch = key_epoch + 1,
		    rotated_at = now()
		WHERE agent_id = $1 AND revoked_at IS NULL`

	res, err := r.pool.ExecContext(ctx, q, agentID, []byte(newKey))
	if err != nil {
		return nil, fmt.Errorf("failed to rotate agent key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rotation result: %w", err)
	}
	if n == 0 {
		// Distinguish missing from revoked for the caller's error message.
		existing, getErr := r.Get(ctx, agentID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Revoked() {
			return nil, ErrAlreadyRevoked
		}
		return nil, ErrAgentNotFound
	}

	return r.Get(ctx, agentID)
}

// Revoke tombstones the agent.
func (r *PostgresRepository) Revoke(ctx context.Context, agentID string) error {
	const q = `
		UPDATE agent_identities
		SET revoked_at = now()
		WHERE agent_id = $1 AND revoked_at IS NULL`

	res, err := r.pool.ExecContext(ctx, q, agentID)
	if err != nil {
		return fmt.Errorf("failed to revoke agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revocation result: %w", err)
	}
	if n == 0 {
		existing, getErr := r.Get(ctx, agentID)
		if getErr != nil {
			return getErr
		}
		if existing.Revoked() {
			return ErrAlreadyRevoked
		}
		return ErrAgentNotFound
	}
	return nil
}
