package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newTestLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	l := New(store, time.Second, slog.New(slog.NewTextHandler(testWriter{t}, nil)), nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var tick time.Duration
	l.now = func() time.Time {
		tick += time.Millisecond
		return base.Add(tick)
	}
	return l
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestLedger_Append_BuildsChain(t *testing.T) {
	store := NewInMemoryStore()
	l := newTestLedger(t, store)
	ctx := context.Background()

	first, err := l.Append(ctx, "agent-1", KindDecision, "ref-1", []byte(`{"outcome":"allow"}`))
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if first.SequenceNo != 1 {
		t.Errorf("first sequence = %d, want 1", first.SequenceNo)
	}
	if !bytes.Equal(first.PrevHash, genesisPrevHash) {
		t.Errorf("first prev hash = %x, want genesis", first.PrevHash)
	}

	second, err := l.Append(ctx, "agent-1", KindOutcome, "ref-1", []byte(`{"status":"success"}`))
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if second.SequenceNo != 2 {
		t.Errorf("second sequence = %d, want 2", second.SequenceNo)
	}
	if !bytes.Equal(second.PrevHash, first.EntryHash) {
		t.Errorf("second prev hash does not match first entry hash")
	}

	want, err := ComputeHash(second.PrevHash, second)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if !bytes.Equal(second.EntryHash, want) {
		t.Errorf("entry hash does not recompute")
	}
}

func TestLedger_Append_IndependentPartitions(t *testing.T) {
	store := NewInMemoryStore()
	l := newTestLedger(t, store)
	ctx := context.Background()

	if _, err := l.Append(ctx, "agent-1", KindDecision, "ref-1", nil); err != nil {
		t.Fatalf("append agent-1: %v", err)
	}
	e, err := l.Append(ctx, "agent-2", KindDecision, "ref-2", nil)
	if err != nil {
		t.Fatalf("append agent-2: %v", err)
	}
	if e.SequenceNo != 1 {
		t.Errorf("agent-2 sequence = %d, want 1 (chains are per partition)", e.SequenceNo)
	}
	if !bytes.Equal(e.PrevHash, genesisPrevHash) {
		t.Errorf("agent-2 first entry should link to genesis")
	}
}

func TestLedger_VerifyChain_Valid(t *testing.T) {
	store := NewInMemoryStore()
	l := newTestLedger(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "agent-1", KindDecision, "ref", []byte(`{"i":1}`)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	result, err := l.VerifyChain(ctx, "agent-1")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !result.Valid {
		t.Errorf("chain reported invalid, corrupted at %d", result.CorruptedAt)
	}
	if result.Entries != 5 {
		t.Errorf("entries checked = %d, want 5", result.Entries)
	}
}

func TestLedger_VerifyChain_DetectsTamperedPayload(t *testing.T) {
	store := NewInMemoryStore()
	l := newTestLedger(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "agent-1", KindDecision, "ref", []byte(`{"outcome":"deny"}`)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if !store.Corrupt("agent-1", 3, []byte(`{"outcome":"allow"}`)) {
		t.Fatal("Corrupt did not find entry 3")
	}

	result, err := l.VerifyChain(ctx, "agent-1")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if result.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if result.CorruptedAt != 3 {
		t.Errorf("CorruptedAt = %d, want 3", result.CorruptedAt)
	}
}

func TestLedger_VerifyChain_EmptyPartition(t *testing.T) {
	l := newTestLedger(t, NewInMemoryStore())

	result, err := l.VerifyChain(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !result.Valid || result.Entries != 0 {
		t.Errorf("empty partition: valid=%v entries=%d, want valid with 0 entries", result.Valid, result.Entries)
	}
}

// failingStore fails the first N inserts, then delegates.
type failingStore struct {
	Store
	failures int
}

func (s *failingStore) Insert(ctx context.Context, entry *Entry) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.Store.Insert(ctx, entry)
}

func TestLedger_Append_RetriesTransientFailure(t *testing.T) {
	store := &failingStore{Store: NewInMemoryStore(), failures: 1}
	l := newTestLedger(t, store)

	entry, err := l.Append(context.Background(), "agent-1", KindDecision, "ref", nil)
	if err != nil {
		t.Fatalf("append with one transient failure: %v", err)
	}
	if entry.SequenceNo != 1 {
		t.Errorf("sequence = %d, want 1", entry.SequenceNo)
	}
}

func TestLedger_Append_WriteFailure(t *testing.T) {
	store := &failingStore{Store: NewInMemoryStore(), failures: 2}
	l := newTestLedger(t, store)

	_, err := l.Append(context.Background(), "agent-1", KindDecision, "ref", nil)
	if !errors.Is(err, ErrAuditWriteFailure) {
		t.Fatalf("err = %v, want ErrAuditWriteFailure", err)
	}

	// Nothing durable may remain from the failed append.
	last, lastErr := store.Last(context.Background(), "agent-1")
	if lastErr != nil {
		t.Fatalf("Last: %v", lastErr)
	}
	if last != nil {
		t.Errorf("failed append left an entry behind: %+v", last)
	}
}

func TestLedger_Append_SequenceConflictNotRetried(t *testing.T) {
	store := &conflictStore{}
	l := newTestLedger(t, store)

	_, err := l.Append(context.Background(), "agent-1", KindDecision, "ref", nil)
	if !errors.Is(err, ErrAuditWriteFailure) {
		t.Fatalf("err = %v, want ErrAuditWriteFailure", err)
	}
	if store.inserts != 1 {
		t.Errorf("inserts = %d, want 1 (conflicts are not retried)", store.inserts)
	}
}

type conflictStore struct {
	inserts int
}

func (s *conflictStore) Insert(ctx context.Context, entry *Entry) error {
	s.inserts++
	return ErrSequenceConflict
}

func (s *conflictStore) Last(ctx context.Context, partition string) (*Entry, error) {
	return nil, nil
}

func (s *conflictStore) List(ctx context.Context, partition string, afterSeq int64, limit int) ([]Entry, error) {
	return nil, nil
}

func (s *conflictStore) Partitions(ctx context.Context) ([]string, error) {
	return nil, nil
}

func TestComputeHash_Deterministic(t *testing.T) {
	e := &Entry{
		Partition:   "agent-1",
		SequenceNo:  7,
		Kind:        KindSignal,
		DecisionRef: "ref-7",
		Payload:     []byte(`{"type":"volume_spike"}`),
		RecordedAt:  time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC),
	}
	prev := bytes.Repeat([]byte{0xab}, HashSize)

	first, err := ComputeHash(prev, e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	second, err := ComputeHash(prev, e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same entry hashed to different values")
	}

	e.Payload = []byte(`{"type":"odd_hours"}`)
	changed, err := ComputeHash(prev, e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if bytes.Equal(first, changed) {
		t.Error("payload change did not change the hash")
	}
}
