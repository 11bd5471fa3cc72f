package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"batchcore/internal/infra/blob"
)

// AuditEntry captures one auditable action on a batch or QC entity.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	ActorRole  string         `json:"actor_role,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OldValue   string         `json:"old_value,omitempty"`
	NewValue   string         `json:"new_value,omitempty"`
	Note       string         `json:"note,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// AuditRecorder records audit entries. Implementations must be safe for
// concurrent use and must never block or fail the calling operation; the
// state-changing transaction has already committed when Record is invoked.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MemoryAuditRecorder retains entries in memory for tests.
type MemoryAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditRecorder constructs an empty in-memory recorder.
func NewMemoryAuditRecorder() *MemoryAuditRecorder { return &MemoryAuditRecorder{} }

// Record appends the entry.
func (r *MemoryAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (r *MemoryAuditRecorder) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// JournalingAuditRecorder forwards entries to a next recorder (typically the
// HTTP audit collaborator) and journals them to the blob store when the
// forward fails. Failures are logged, never escalated.
type JournalingAuditRecorder struct {
	next    AuditForwarder
	journal blob.Store
	logger  Logger
	prefix  string
}

// AuditForwarder is the fallible variant of AuditRecorder implemented by
// remote collaborator clients.
type AuditForwarder interface {
	Forward(ctx context.Context, entry AuditEntry) error
}

// NewJournalingAuditRecorder wraps next with a blob-store fallback journal.
// Either next or journal may be nil; a nil next journals everything.
func NewJournalingAuditRecorder(next AuditForwarder, journal blob.Store, logger Logger) *JournalingAuditRecorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &JournalingAuditRecorder{next: next, journal: journal, logger: logger, prefix: "audit-journal/"}
}

// Record forwards the entry, falling back to the local journal.
func (r *JournalingAuditRecorder) Record(ctx context.Context, entry AuditEntry) {
	if r.next != nil {
		if err := r.next.Forward(ctx, entry); err == nil {
			return
		} else {
			r.logger.Warn("audit collaborator unreachable, journaling locally",
				"entry_id", entry.ID, "action", entry.Action, "error", err)
		}
	}
	if r.journal == nil {
		r.logger.Error("audit entry dropped, no journal configured", "entry_id", entry.ID, "action", entry.Action)
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error("audit entry not serializable", "entry_id", entry.ID, "error", err)
		return
	}
	key := fmt.Sprintf("%s%s/%s.json", r.prefix, entry.OccurredAt.UTC().Format("2006-01-02"), entry.ID)
	if _, err := r.journal.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"}); err != nil {
		r.logger.Error("audit journal write failed", "entry_id", entry.ID, "key", key, "error", err)
	}
}
