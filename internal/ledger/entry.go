// Package ledger provides the append-only, hash-chained audit trail. Every
// authorization decision, execution outcome, and anomaly signal is recorded
// here before the caller sees it. Entries are partitioned per agent; each
// partition is an independent chain with its own sequence.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind classifies what a ledger entry records.
type Kind string

const (
	// KindDecision records an authorization decision.
	KindDecision Kind = "decision"
	// KindOutcome records the reported execution outcome of an allowed action.
	KindOutcome Kind = "outcome"
	// KindSignal records an anomaly signal or escalation resolution.
	KindSignal Kind = "signal"
)

// HashSize is the size of an entry hash in bytes.
const HashSize = sha256.Size

// genesisPrevHash is the previous-hash value of the first entry in a
// partition: all zeros.
var genesisPrevHash = make([]byte, HashSize)

// Entry is one immutable record in a partition's chain.
type Entry struct {
	Partition   string    `json:"partition"`
	SequenceNo  int64     `json:"sequence_no"`
	PrevHash    []byte    `json:"prev_hash"`
	EntryHash   []byte    `json:"entry_hash"`
	Kind        Kind      `json:"kind"`
	DecisionRef string    `json:"decision_ref"`
	Payload     []byte    `json:"payload"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// hashBody is the deterministic content covered by the entry hash. Field
// names are single letters to keep the encoded form stable and small; the
// timestamp is UTC nanoseconds so encoding never depends on a time zone.
type hashBody struct {
	Partition   string `cbor:"p"`
	SequenceNo  int64  `cbor:"s"`
	Kind        string `cbor:"k"`
	DecisionRef string `cbor:"d"`
	Payload     []byte `cbor:"b"`
	RecordedAt  int64  `cbor:"t"`
}

// hashEncMode is a deterministic CBOR encoder: sorted map keys, shortest
// integer forms, so the same entry always hashes the same.
var hashEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ledger: invalid CBOR encoding options: %v", err))
	}
	hashEncMode = em
}

// ComputeHash returns the entry hash: SHA-256 over the previous hash
// concatenated with the deterministic encoding of the entry body.
func ComputeHash(prevHash []byte, e *Entry) ([]byte, error) {
	body, err := hashEncMode.Marshal(hashBody{
		Partition:   e.Partition,
		SequenceNo:  e.SequenceNo,
		Kind:        string(e.Kind),
		DecisionRef: e.DecisionRef,
		Payload:     e.Payload,
		RecordedAt:  e.RecordedAt.UTC().UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry body: %w", err)
	}

	h := sha256.New()
	h.Write(prevHash)
	h.Write(body)
	return h.Sum(nil), nil
}

// VerifyResult is the outcome of a chain verification pass.
type VerifyResult struct {
	Valid bool `json:"valid"`

	// CorruptedAt is the sequence number of the first entry whose hash or
	// linkage fails, when Valid is false.
	CorruptedAt int64 `json:"corrupted_at,omitempty"`

	// Entries is the number of entries checked.
	Entries int64 `json:"entries"`
}

// HashString renders a hash for logs and export.
func HashString(h []byte) string {
	return hex.EncodeToString(h)
}
