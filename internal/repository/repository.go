// Package repository is the persistence contract of the conflict engine:
// a generic gorm repository per persisted type and a unit of work that
// commits a conflict mutation together with its audit entry.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/xelth-com/eckposgo/internal/models"
)

// ErrNotFound is returned by GetByID when no row matches
var ErrNotFound = errors.New("record not found")

// Scope narrows a query; scopes compose left to right
type Scope = func(*gorm.DB) *gorm.DB

// Repository provides the basic persistence operations for one model type
type Repository[T any] struct {
	db *gorm.DB
}

// New creates a repository bound to db (a plain handle or a transaction)
func New[T any](db *gorm.DB) *Repository[T] {
	return &Repository[T]{db: db}
}

// Add inserts a new record
func (r *Repository[T]) Add(ctx context.Context, entity *T) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("add %T: %w", entity, err)
	}
	return nil
}

// Update writes every column of an existing record
func (r *Repository[T]) Update(ctx context.Context, entity *T) error {
	if err := r.db.WithContext(ctx).Save(entity).Error; err != nil {
		return fmt.Errorf("update %T: %w", entity, err)
	}
	return nil
}

// GetByID loads a record by primary key
func (r *Repository[T]) GetByID(ctx context.Context, id any) (*T, error) {
	var entity T
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %T %v: %w", entity, id, err)
	}
	return &entity, nil
}

// Find returns all records matching the scopes
func (r *Repository[T]) Find(ctx context.Context, scopes ...Scope) ([]T, error) {
	var out []T
	if err := r.db.WithContext(ctx).Scopes(scopes...).Find(&out).Error; err != nil {
		var zero T
		return nil, fmt.Errorf("find %T: %w", zero, err)
	}
	return out, nil
}

// Count returns the number of records matching the scopes
func (r *Repository[T]) Count(ctx context.Context, scopes ...Scope) (int64, error) {
	var (
		zero  T
		count int64
	)
	if err := r.db.WithContext(ctx).Model(&zero).Scopes(scopes...).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count %T: %w", zero, err)
	}
	return count, nil
}

// CountBy groups the records matching the scopes by column and counts each group
func (r *Repository[T]) CountBy(ctx context.Context, column string, scopes ...Scope) (map[string]int64, error) {
	var (
		zero T
		rows []struct {
			Grp string
			N   int64
		}
	)
	err := r.db.WithContext(ctx).Model(&zero).Scopes(scopes...).
		Select(column + " AS grp, COUNT(*) AS n").Group(column).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count %T by %s: %w", zero, column, err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Grp] = row.N
	}
	return out, nil
}

// UpdateColumns sets the given columns on every record matching the scopes
// and returns the number of rows changed.
func (r *Repository[T]) UpdateColumns(ctx context.Context, values map[string]any, scopes ...Scope) (int64, error) {
	var zero T
	res := r.db.WithContext(ctx).Model(&zero).Scopes(scopes...).Updates(values)
	if res.Error != nil {
		return 0, fmt.Errorf("update columns %T: %w", zero, res.Error)
	}
	return res.RowsAffected, nil
}

// Store bundles the repositories of the conflict engine
type Store struct {
	db           *gorm.DB
	Conflicts    *Repository[models.Conflict]
	AuditEntries *Repository[models.ConflictAuditEntry]
}

// NewStore creates a store over db
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Conflicts:    New[models.Conflict](db),
		AuditEntries: New[models.ConflictAuditEntry](db),
	}
}

// Commit runs fn as one unit of work. Everything fn writes through tx lands
// atomically or not at all.
func (s *Store) Commit(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
