package escalation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is a Postgres-backed implementation of Store.
type PostgresStore struct {
	pool *sql.DB
}

// NewPostgresStore creates a new Postgres escalation store.
func NewPostgresStore(pool *sql.DB) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create persists a new record.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	const q = `
		INSERT INTO escalations
			(id, agent_id, decision_ref, action, resource, reason, status, created_at, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.ExecContext(ctx, q,
		rec.ID, rec.AgentID, rec.DecisionRef, rec.Action, rec.Resource,
		rec.Reason, string(rec.Status), rec.CreatedAt, rec.Deadline)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}
	return nil
}

// Get returns the record by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	const q = selectRecord + ` WHERE id = $1`

	rec, err := scanRecord(s.pool.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Resolve moves a pending record to the given terminal status.
func (s *PostgresStore) Resolve(ctx context.Context, id string, status Status, resolvedBy string, at time.Time) (*Record, error) {
	const q = `
		UPDATE escalations
		SET status = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING id, agent_id, decision_ref, action, resource, reason, status,
		          created_at, deadline, resolved_by, resolved_at`

	rec, err := scanRecord(s.pool.QueryRowContext(ctx, q, id, string(status), resolvedBy, at.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		// Either missing or already resolved; check which.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyResolved
	}
	return rec, err
}

// ExpireDue expires every pending record past its deadline.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]Record, error) {
	const q = `
		UPDATE escalations
		SET status = 'expired', resolved_at = $1
		WHERE status = 'pending' AND deadline < $1
		RETURNING id, agent_id, decision_ref, action, resource, reason, status,
		          created_at, deadline, resolved_by, resolved_at`

	rows, err := s.pool.QueryContext(ctx, q, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to expire escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// ListPending returns all pending records, oldest first.
func (s *PostgresStore) ListPending(ctx context.Context) ([]Record, error) {
	const q = selectRecord + ` WHERE status = 'pending' ORDER BY created_at`

	rows, err := s.pool.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

const selectRecord = `
	SELECT id, agent_id, decision_ref, action, resource, reason, status,
	       created_at, deadline, resolved_by, resolved_at
	FROM escalations`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var status string
	var resolvedBy sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.AgentID, &rec.DecisionRef, &rec.Action, &rec.Resource,
		&rec.Reason, &status, &rec.CreatedAt, &rec.Deadline, &resolvedBy, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan escalation: %w", err)
	}

	rec.Status = Status(status)
	if resolvedBy.Valid {
		rec.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		rec.ResolvedAt = resolvedAt.Time
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalations: %w", err)
	}
	return records, nil
}

// ensure PostgresStore satisfies Store.
var _ Store = (*PostgresStore)(nil)
