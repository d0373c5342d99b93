package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is a Postgres-backed implementation of Store. The primary
// key on (partition, sequence_no) makes duplicate appends impossible at the
// storage layer even if serialization above it fails.
type PostgresStore struct {
	pool *sql.DB
}

// NewPostgresStore creates a new Postgres ledger store.
func NewPostgresStore(pool *sql.DB) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert persists an entry.
func (s *PostgresStore) Insert(ctx context.Context, entry *Entry) error {
	const q = `
		INSERT INTO audit_ledger
			(partition, sequence_no, prev_hash, entry_hash, kind, decision_ref, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.ExecContext(ctx, q,
		entry.Partition, entry.SequenceNo, entry.PrevHash, entry.EntryHash,
		string(entry.Kind), entry.DecisionRef, entry.Payload, entry.RecordedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrSequenceConflict
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// Last returns the highest-sequence entry in the partition.
func (s *PostgresStore) Last(ctx context.Context, partition string) (*Entry, error) {
	const q = `
		SELECT partition, sequence_no, prev_hash, entry_hash, kind, decision_ref, payload, recorded_at
		FROM audit_ledger
		WHERE partition = $1
		ORDER BY sequence_no DESC
		LIMIT 1`

	var e Entry
	var kind string
	err := s.pool.QueryRowContext(ctx, q, partition).Scan(
		&e.Partition, &e.SequenceNo, &e.PrevHash, &e.EntryHash,
		&kind, &e.DecisionRef, &e.Payload, &e.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last ledger entry: %w", err)
	}
	e.Kind = Kind(kind)
	return &e, nil
}

// List returns entries after the given sequence number.
func (s *PostgresStore) List(ctx context.Context, partition string, afterSeq int64, limit int) ([]Entry, error) {
	q := `
		SELECT partition, sequence_no, prev_hash, entry_hash, kind, decision_ref, payload, recorded_at
		FROM audit_ledger
		WHERE partition = $1 AND sequence_no > $2
		ORDER BY sequence_no`
	args := []any{partition, afterSeq}
	if limit > 0 {
		q += `
		LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		err := rows.Scan(&e.Partition, &e.SequenceNo, &e.PrevHash, &e.EntryHash,
			&kind, &e.DecisionRef, &e.Payload, &e.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}
	return entries, nil
}

// Partitions returns all partition names present in the store.
func (s *PostgresStore) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.QueryContext(ctx,
		`SELECT DISTINCT partition FROM audit_ledger ORDER BY partition`)
	if err != nil {
		return nil, fmt.Errorf("failed to query partitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan partition: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate partitions: %w", err)
	}
	return names, nil
}

// ensure PostgresStore satisfies Store.
var _ Store = (*PostgresStore)(nil)
