package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAuditWriteFailure means an entry could not be durably recorded within
// the write timeout. The action being audited must not execute; this is the
// one failure that also raises a system-level alert.
var ErrAuditWriteFailure = errors.New("audit ledger write failure")

// DefaultWriteTimeout bounds a single append, including the one retry.
const DefaultWriteTimeout = 2 * time.Second

// Ledger serializes appends per partition and maintains each partition's
// hash chain. One Ledger instance must own all writes to its store.
type Ledger struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Ledger over the given store. metrics may be nil.
func New(store Store, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *Ledger {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Ledger{
		store:   store,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// partitionLock returns the mutex serializing writes to one partition.
func (l *Ledger) partitionLock(partition string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[partition]
	if !ok {
		m = &sync.Mutex{}
		l.locks[partition] = m
	}
	return m
}

// Append records a new entry at the head of the partition's chain. The write
// is bounded by the ledger's timeout with a single retry for transient store
// errors; on failure it returns ErrAuditWriteFailure and the caller must not
// let the audited action proceed.
func (l *Ledger) Append(ctx context.Context, partition string, kind Kind, decisionRef string, payload []byte) (*Entry, error) {
	lock := l.partitionLock(partition)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	last, err := l.store.Last(ctx, partition)
	if err != nil {
		return nil, l.writeFailure(ctx, partition, kind, err)
	}

	prevHash := genesisPrevHash
	var seq int64 = 1
	if last != nil {
		prevHash = last.EntryHash
		seq = last.SequenceNo + 1
	}

	entry := &Entry{
		Partition:   partition,
		SequenceNo:  seq,
		PrevHash:    prevHash,
		Kind:        kind,
		DecisionRef: decisionRef,
		Payload:     payload,
		RecordedAt:  l.now().UTC(),
	}
	entry.EntryHash, err = ComputeHash(prevHash, entry)
	if err != nil {
		return nil, l.writeFailure(ctx, partition, kind, err)
	}

	if err := l.store.Insert(ctx, entry); err != nil {
		if errors.Is(err, ErrSequenceConflict) || ctx.Err() != nil {
			return nil, l.writeFailure(ctx, partition, kind, err)
		}
		// One retry for transient store errors, still inside the deadline.
		if err := l.store.Insert(ctx, entry); err != nil {
			return nil, l.writeFailure(ctx, partition, kind, err)
		}
	}

	if l.metrics != nil {
		l.metrics.appendsTotal.WithLabelValues(string(kind)).Inc()
	}
	return entry, nil
}

func (l *Ledger) writeFailure(ctx context.Context, partition string, kind Kind, cause error) error {
	if l.metrics != nil {
		l.metrics.writeFailures.Inc()
	}
	if l.logger != nil {
		l.logger.ErrorContext(ctx, "audit ledger write failed",
			"partition", partition,
			"kind", string(kind),
			"error", cause,
		)
	}
	return fmt.Errorf("%w: %w", ErrAuditWriteFailure, cause)
}

// VerifyChain recomputes every hash and link in the partition.
func (l *Ledger) VerifyChain(ctx context.Context, partition string) (VerifyResult, error) {
	const pageSize = 500

	result := VerifyResult{Valid: true}
	prev := genesisPrevHash
	var afterSeq int64
	var nextSeq int64 = 1

	for {
		entries, err := l.store.List(ctx, partition, afterSeq, pageSize)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("failed to list entries: %w", err)
		}
		if len(entries) == 0 {
			return result, nil
		}
		for i := range entries {
			e := &entries[i]
			result.Entries++
			want, hashErr := ComputeHash(prev, e)
			if e.SequenceNo != nextSeq || !bytes.Equal(e.PrevHash, prev) ||
				hashErr != nil || !bytes.Equal(e.EntryHash, want) {
				if l.metrics != nil {
					l.metrics.chainCorruptions.Inc()
				}
				return VerifyResult{CorruptedAt: e.SequenceNo, Entries: result.Entries}, nil
			}
			prev = e.EntryHash
			nextSeq++
		}
		afterSeq = entries[len(entries)-1].SequenceNo
	}
}

// List exposes paginated reads for export. Entries come back in ascending
// sequence order.
func (l *Ledger) List(ctx context.Context, partition string, afterSeq int64, limit int) ([]Entry, error) {
	return l.store.List(ctx, partition, afterSeq, limit)
}

// Partitions lists all partitions with at least one entry.
func (l *Ledger) Partitions(ctx context.Context) ([]string, error) {
	return l.store.Partitions(ctx)
}
