package capability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresRepository is a Postgres-backed implementation of Repository.
type PostgresRepository struct {
	pool *sql.DB
}

// NewPostgresRepository creates a new Postgres grant repository.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create validates and stores a new grant. The conflict check and insert run
// in one transaction with the agent's grant rows locked, so two concurrent
// conflicting creations cannot both commit.
func (r *PostgresRepository) Create(ctx context.Context, grant *Grant) (*Grant, error) {
	now := time.Now().UTC()
	if err := grant.Validate(now); err != nil {
		return nil, err
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := listByAgentTx(ctx, tx, grant.AgentID, true)
	if err != nil {
		return nil, err
	}
	if err := checkConflicts(grant, existing, now); err != nil {
		return nil, err
	}

	stored := *grant
	stored.ID = uuid.New().String()
	stored.CreatedAt = now

	const q = `
		INSERT INTO capability_grants
			(id, agent_id, resource_pattern, actions, max_amount, start_hour, end_hour,
			 pre_authorized_high_risk, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var expiresAt any
	if !stored.ExpiresAt.IsZero() {
		expiresAt = stored.ExpiresAt
	}
	_, err = tx.ExecContext(ctx, q,
		stored.ID, stored.AgentID, stored.ResourcePattern, pq.Array(stored.Actions),
		stored.Constraints.MaxAmount, stored.Constraints.StartHour, stored.Constraints.EndHour,
		stored.PreAuthorizedHighRisk, expiresAt, stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit grant: %w", err)
	}

	result := stored
	return &result, nil
}

// Revoke marks the grant revoked.
func (r *PostgresRepository) Revoke(ctx context.Context, grantID string) error {
	const q = `
		UPDATE capability_grants
		SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL`

	res, err := r.pool.ExecContext(ctx, q, grantID)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read revocation result: %w", err)
	}
	if n == 0 {
		// Either missing or already revoked; check which.
		var exists bool
		if err := r.pool.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM capability_grants WHERE id = $1)`, grantID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check grant existence: %w", err)
		}
		if !exists {
			return ErrGrantNotFound
		}
	}
	return nil
}

// ListByAgent returns all grants for the agent.
func (r *PostgresRepository) ListByAgent(ctx context.Context, agentID string) ([]Grant, error) {
	return listByAgent(ctx, r.pool, agentID)
}

// queryer abstracts *sql.DB and *sql.Tx for shared query helpers.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listByAgent(ctx context.Context, q queryer, agentID string) ([]Grant, error) {
	return scanGrants(ctx, q, agentID, `
		SELECT id, agent_id, resource_pattern, actions, max_amount, start_hour, end_hour,
		       pre_authorized_high_risk, expires_at, created_at, revoked_at
		FROM capability_grants
		WHERE agent_id = $1
		ORDER BY created_at`)
}

func listByAgentTx(ctx context.Context, tx *sql.Tx, agentID string, forUpdate bool) ([]Grant, error) {
	query := `
		SELECT id, agent_id, resource_pattern, actions, max_amount, start_hour, end_hour,
		       pre_authorized_high_risk, expires_at, created_at, revoked_at
		FROM capability_grants
		WHERE agent_id = $1
		ORDER BY created_at`
	if forUpdate {
		query += `
		FOR UPDATE`
	}
	return scanGrants(ctx, tx, agentID, query)
}

func scanGrants(ctx context.Context, q queryer, agentID, query string) ([]Grant, error) {
	rows, err := q.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var actions pq.StringArray
		var expiresAt, revokedAt sql.NullTime

		err := rows.Scan(&g.ID, &g.AgentID, &g.ResourcePattern, &actions,
			&g.Constraints.MaxAmount, &g.Constraints.StartHour, &g.Constraints.EndHour,
			&g.PreAuthorizedHighRisk, &expiresAt, &g.CreatedAt, &revokedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}

		g.Actions = actions
		if expiresAt.Valid {
			g.ExpiresAt = expiresAt.Time
		}
		if revokedAt.Valid {
			g.RevokedAt = revokedAt.Time
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return grants, nil
}

// ensure PostgresRepository satisfies Repository.
var _ Repository = (*PostgresRepository)(nil)
