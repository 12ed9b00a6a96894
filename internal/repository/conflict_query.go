package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/xelth-com/eckposgo/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ConflictQuery is the generic filter used by listings
type ConflictQuery struct {
	EntityType      string
	EntityID        *int64
	Status          models.ConflictStatus
	Resolved        *bool
	IncludeInactive bool
	ResolvedBefore  *time.Time
	Page            int // 1-based; 0 disables paging
	PageSize        int
}

// Scopes turns the query into gorm scopes
func (q ConflictQuery) Scopes() []Scope {
	var scopes []Scope
	if !q.IncludeInactive {
		scopes = append(scopes, Active())
	}
	if q.EntityType != "" {
		scopes = append(scopes, ByEntityType(q.EntityType))
	}
	if q.EntityID != nil {
		id := *q.EntityID
		scopes = append(scopes, func(db *gorm.DB) *gorm.DB {
			return db.Where("entity_id = ?", id)
		})
	}
	if q.Status != "" {
		scopes = append(scopes, ByStatus(q.Status))
	}
	if q.Resolved != nil {
		resolved := *q.Resolved
		scopes = append(scopes, func(db *gorm.DB) *gorm.DB {
			return db.Where("is_resolved = ?", resolved)
		})
	}
	if q.ResolvedBefore != nil {
		scopes = append(scopes, ResolvedBefore(*q.ResolvedBefore))
	}
	return scopes
}

// PageScopes is Scopes plus ordering and paging, for listings
func (q ConflictQuery) PageScopes() []Scope {
	scopes := append(q.Scopes(), NewestFirst())
	if q.Page > 0 {
		scopes = append(scopes, Paginate(q.Page, q.PageSize))
	}
	return scopes
}

// Active excludes purged conflicts
func Active() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("is_active = ?", true)
	}
}

// Unresolved keeps conflicts that still await a decision
func Unresolved() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("is_resolved = ?", false)
	}
}

// Resolved keeps conflicts with a final decision
func Resolved() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("is_resolved = ?", true)
	}
}

// ResolvedBySystem keeps conflicts closed by a rule rather than by a person
func ResolvedBySystem() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("is_resolved = ? AND resolved_by_user_id IS NULL AND status <> ?",
			true, models.ConflictStatusIgnored)
	}
}

// ByEntityType filters on the owning entity class
func ByEntityType(entityType string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("entity_type = ?", entityType)
	}
}

// ByStatus filters on lifecycle status
func ByStatus(status models.ConflictStatus) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", status)
	}
}

// ByIDs filters on a set of conflict ids
func ByIDs(ids ...string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id IN ?", ids)
	}
}

// ResolvedBefore keeps conflicts resolved strictly before cutoff
func ResolvedBefore(cutoff time.Time) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("resolved_at IS NOT NULL AND resolved_at < ?", cutoff.UTC())
	}
}

// ByConflict filters audit entries of one conflict
func ByConflict(conflictID string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("conflict_id = ?", conflictID)
	}
}

// Chronological orders audit entries oldest first
func Chronological() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("timestamp ASC").Order("id ASC")
	}
}

// OldestFirst orders conflicts by detection time
func OldestFirst() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC").Order("id ASC")
	}
}

// NewestFirst orders conflicts newest detection first
func NewestFirst() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at DESC").Order("id ASC")
	}
}

// Paginate applies a 1-based page window
func Paginate(page, pageSize int) Scope {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset((page - 1) * pageSize).Limit(pageSize)
	}
}

// Columns restricts the selected columns
func Columns(columns ...string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Select(columns)
	}
}

// Limit caps the number of rows
func Limit(n int) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(n)
	}
}
