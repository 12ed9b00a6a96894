package sync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
)

// AuditTrail is the append-only history of conflict transitions
type AuditTrail struct {
	store *repository.Store
	now   func() time.Time
}

// NewAuditTrail creates an audit trail over store
func NewAuditTrail(store *repository.Store, now func() time.Time) *AuditTrail {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &AuditTrail{store: store, now: now}
}

// Append writes a free-form entry in its own unit of work
func (a *AuditTrail) Append(ctx context.Context, entry *models.ConflictAuditEntry) error {
	if entry == nil {
		return ErrInvalidArgument.WithMessage("audit entry is required")
	}
	if entry.ConflictID == "" || entry.Action == "" {
		return ErrInvalidArgument.WithMessage("audit entry needs a conflict id and an action")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}
	return a.store.Commit(ctx, func(tx *repository.Store) error {
		return tx.AuditEntries.Add(ctx, entry)
	})
}

// History returns every entry of one conflict, oldest first
func (a *AuditTrail) History(ctx context.Context, conflictID string) ([]models.ConflictAuditEntry, error) {
	return a.store.AuditEntries.Find(ctx, repository.ByConflict(conflictID), repository.Chronological())
}

// record appends the entry for a transition inside the caller's unit of work
func (a *AuditTrail) record(ctx context.Context, tx *repository.Store, c *models.Conflict, action string, old models.ConflictStatus, userID *string, details string) error {
	return tx.AuditEntries.Add(ctx, &models.ConflictAuditEntry{
		ConflictID: c.ID,
		Action:     action,
		OldStatus:  old,
		NewStatus:  c.Status,
		UserID:     userID,
		Details:    details,
		Timestamp:  a.now(),
	})
}

type resolutionDetails struct {
	Reason string          `json:"reason"`
	Fields []string        `json:"fields,omitempty"`
	Patch  json.RawMessage `json:"patch,omitempty"` // RFC 7386 merge patch turning the losing copy into the winner
}

// describeResolution renders audit details for a verdict. The patch is omitted
// when either copy is not a JSON object.
func describeResolution(reason string, fields []string, losing, winning string) string {
	d := resolutionDetails{Reason: reason, Fields: fields}
	if patch, err := jsonpatch.CreateMergePatch(asDocument(losing), asDocument(winning)); err == nil {
		d.Patch = patch
	}
	out, err := json.Marshal(d)
	if err != nil {
		return reason
	}
	return string(out)
}

func asDocument(raw string) []byte {
	if strings.TrimSpace(raw) == "" {
		return []byte("{}")
	}
	return []byte(raw)
}
