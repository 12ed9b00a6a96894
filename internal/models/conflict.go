package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConflictStatus is the position of a conflict in its lifecycle
type ConflictStatus string

const (
	ConflictStatusDetected      ConflictStatus = "Detected"
	ConflictStatusAutoResolved  ConflictStatus = "AutoResolved"
	ConflictStatusPendingManual ConflictStatus = "PendingManual"
	ConflictStatusResolved      ConflictStatus = "Resolved"
	ConflictStatusIgnored       ConflictStatus = "Ignored"
)

// IsTerminal reports whether no further resolution is accepted
func (s ConflictStatus) IsTerminal() bool {
	switch s {
	case ConflictStatusAutoResolved, ConflictStatusResolved, ConflictStatusIgnored:
		return true
	default:
		return false
	}
}

// ResolutionType names the policy that picked (or will pick) the surviving payload
type ResolutionType string

const (
	ResolutionLocalWins     ResolutionType = "LocalWins"
	ResolutionRemoteWins    ResolutionType = "RemoteWins"
	ResolutionLastWriteWins ResolutionType = "LastWriteWins"
	ResolutionManual        ResolutionType = "Manual"
	ResolutionMerged        ResolutionType = "Merged"
)

// ResolutionTypes lists every known resolution type
var ResolutionTypes = []ResolutionType{
	ResolutionLocalWins,
	ResolutionRemoteWins,
	ResolutionLastWriteWins,
	ResolutionManual,
	ResolutionMerged,
}

// Valid reports whether r is a known resolution type
func (r ResolutionType) Valid() bool {
	for _, known := range ResolutionTypes {
		if r == known {
			return true
		}
	}
	return false
}

// Conflict is a detected disagreement between the terminal copy and the central copy of one record.
// Payloads are kept as text: a side may not even be valid JSON.
type Conflict struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EntityType string `gorm:"type:varchar(100);not null;index:idx_conflict_entity" json:"entityType"`
	EntityID   int64  `gorm:"not null;index:idx_conflict_entity" json:"entityId"`

	LocalData       string    `gorm:"type:text" json:"localData"`
	RemoteData      string    `gorm:"type:text" json:"remoteData"`
	LocalTimestamp  time.Time `json:"localTimestamp"`
	RemoteTimestamp time.Time `json:"remoteTimestamp"`

	ConflictingFields datatypes.JSONSlice[string] `json:"conflictingFields"`

	Status            ConflictStatus `gorm:"type:varchar(30);not null;index:idx_conflict_pending" json:"status"`
	IsResolved        bool           `gorm:"not null;default:false;index:idx_conflict_pending" json:"isResolved"`
	ResolvedAt        *time.Time     `gorm:"index" json:"resolvedAt,omitempty"`
	ResolvedByUserID  *string        `gorm:"type:varchar(255)" json:"resolvedByUserId,omitempty"`
	ResolutionNotes   string         `gorm:"type:text" json:"resolutionNotes,omitempty"`
	AppliedResolution ResolutionType `gorm:"type:varchar(30)" json:"appliedResolution,omitempty"`
	ResolvedData      string         `gorm:"type:text" json:"resolvedData,omitempty"`

	// Soft delete for retention purges; inactive conflicts are history only
	IsActive bool `gorm:"not null;default:true;index:idx_conflict_pending" json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (Conflict) TableName() string {
	return "sync_conflicts"
}

// BeforeCreate hook
func (c *Conflict) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ConflictStatusDetected
	}
	if c.ConflictingFields == nil {
		c.ConflictingFields = datatypes.JSONSlice[string]{}
	}
	return nil
}

// ErrAuditImmutable is returned when something tries to rewrite audit history
var ErrAuditImmutable = errors.New("audit entries are append-only")

// ConflictAuditEntry records one status transition of a conflict
type ConflictAuditEntry struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ConflictID string         `gorm:"type:varchar(36);not null;index:idx_audit_conflict" json:"conflictId"`
	Action     string         `gorm:"type:varchar(50);not null" json:"action"`
	OldStatus  ConflictStatus `gorm:"type:varchar(30)" json:"oldStatus,omitempty"`
	NewStatus  ConflictStatus `gorm:"type:varchar(30)" json:"newStatus"`
	UserID     *string        `gorm:"type:varchar(255)" json:"userId,omitempty"` // nil for system actions
	Details    string         `gorm:"type:text" json:"details,omitempty"`
	Timestamp  time.Time      `gorm:"not null;index:idx_audit_conflict" json:"timestamp"`
}

// TableName specifies the table name
func (ConflictAuditEntry) TableName() string {
	return "sync_conflict_audit"
}

// BeforeCreate hook
func (e *ConflictAuditEntry) BeforeCreate(tx *gorm.DB) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

// BeforeUpdate hook
func (e *ConflictAuditEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrAuditImmutable
}

// BeforeDelete hook
func (e *ConflictAuditEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrAuditImmutable
}
