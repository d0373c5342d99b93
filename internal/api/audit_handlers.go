package api

import (
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/agentgate/internal/ledger"
	"github.com/onnwee/agentgate/internal/middleware"
)

// Export pagination bounds.
const (
	defaultExportLimit = 100
	maxExportLimit     = 1000
)

// AuditHandlers holds dependencies for audit ledger export and verification.
type AuditHandlers struct {
	ledger *ledger.Ledger
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(l *ledger.Ledger) *AuditHandlers {
	return &AuditHandlers{ledger: l}
}

// exportEntry is the wire form of a ledger entry. Hashes are hex for
// readability in both JSON and CSV.
type exportEntry struct {
	SequenceNo  int64           `json:"sequence_no"`
	Kind        string          `json:"kind"`
	DecisionRef string          `json:"decision_ref,omitempty"`
	PrevHash    string          `json:"prev_hash"`
	EntryHash   string          `json:"entry_hash"`
	Payload     json.RawMessage `json:"payload"`
	RecordedAt  string          `json:"recorded_at"`
}

// exportResponse wraps a page of entries. Verification covers the whole
// partition, not just the exported page, so a consumer holding any page knows
// whether the chain behind it is intact.
type exportResponse struct {
	Partition    string              `json:"partition"`
	Entries      []exportEntry       `json:"entries"`
	Verification ledger.VerifyResult `json:"verification"`

	// NextAfter is the cursor for the following page, present when the page
	// was full.
	NextAfter int64 `json:"next_after,omitempty"`
}

// Export handles GET /v1/audit/{partition}.
// Query parameters: after (sequence cursor), limit, format (json|csv).
func (h *AuditHandlers) Export(w http.ResponseWriter, r *http.Request) {
	partition := r.PathValue("partition")
	if partition == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Partition is required")
		return
	}

	var afterSeq int64
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil || parsed < 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "after must be a non-negative integer")
			return
		}
		afterSeq = parsed
	}

	limit := defaultExportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		if parsed > maxExportLimit {
			parsed = maxExportLimit
		}
		limit = parsed
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "format must be json or csv")
		return
	}

	entries, err := h.ledger.List(r.Context(), partition, afterSeq, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to read audit partition",
			"partition", partition, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to read audit ledger")
		return
	}

	verification, err := h.ledger.VerifyChain(r.Context(), partition)
	if err != nil {
		slog.ErrorContext(r.Context(), "chain verification failed to run",
			"partition", partition, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to verify chain")
		return
	}
	if !verification.Valid {
		slog.ErrorContext(r.Context(), "audit chain corruption detected",
			"partition", partition, "corrupted_at", verification.CorruptedAt)
	}

	if format == "csv" {
		h.writeCSV(w, r, partition, entries, verification)
		return
	}

	resp := exportResponse{
		Partition:    partition,
		Entries:      make([]exportEntry, 0, len(entries)),
		Verification: verification,
	}
	for i := range entries {
		resp.Entries = append(resp.Entries, toExportEntry(&entries[i]))
	}
	if len(entries) == limit {
		resp.NextAfter = entries[len(entries)-1].SequenceNo
	}
	writeJSON(w, r.Context(), http.StatusOK, resp)
}

func toExportEntry(e *ledger.Entry) exportEntry {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return exportEntry{
		SequenceNo:  e.SequenceNo,
		Kind:        string(e.Kind),
		DecisionRef: e.DecisionRef,
		PrevHash:    ledger.HashString(e.PrevHash),
		EntryHash:   ledger.HashString(e.EntryHash),
		Payload:     payload,
		RecordedAt:  e.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (h *AuditHandlers) writeCSV(w http.ResponseWriter, r *http.Request, partition string, entries []ledger.Entry, verification ledger.VerifyResult) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-`+partition+`.csv"`)
	w.Header().Set("X-Chain-Valid", strconv.FormatBool(verification.Valid))
	if !verification.Valid {
		w.Header().Set("X-Chain-Corrupted-At", strconv.FormatInt(verification.CorruptedAt, 10))
	}
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"sequence_no", "kind", "decision_ref", "prev_hash", "entry_hash", "recorded_at", "payload"})
	for i := range entries {
		e := toExportEntry(&entries[i])
		record := []string{
			strconv.FormatInt(e.SequenceNo, 10),
			e.Kind,
			e.DecisionRef,
			e.PrevHash,
			e.EntryHash,
			e.RecordedAt,
			string(e.Payload),
		}
		if err := cw.Write(record); err != nil {
			slog.ErrorContext(r.Context(), "failed to write csv row", "error", err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.ErrorContext(r.Context(), "failed to flush csv export", "error", err)
	}
}

// Verify handles GET /v1/audit/{partition}/verify.
// Recomputes every hash and link in the partition's chain.
func (h *AuditHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	partition := r.PathValue("partition")
	if partition == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Partition is required")
		return
	}

	result, err := h.ledger.VerifyChain(r.Context(), partition)
	if err != nil {
		slog.ErrorContext(r.Context(), "chain verification failed to run",
			"partition", partition, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to verify chain")
		return
	}

	if !result.Valid {
		slog.ErrorContext(r.Context(), "audit chain corruption detected",
			"partition", partition, "corrupted_at", result.CorruptedAt)
	}
	writeJSON(w, r.Context(), http.StatusOK, result)
}
