package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckposgo/internal/database/dbtest"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
)

func newConflict(entityType string, entityID int64) *models.Conflict {
	now := time.Now().UTC()
	return &models.Conflict{
		EntityType:      entityType,
		EntityID:        entityID,
		LocalData:       `{"a":1}`,
		RemoteData:      `{"a":2}`,
		LocalTimestamp:  now,
		RemoteTimestamp: now,
		IsActive:        true,
	}
}

func TestRepositoryAddGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(dbtest.New(t).DB)

	c := newConflict("Product", 7)
	c.ConflictingFields = []string{"a"}
	require.NoError(t, store.Conflicts.Add(ctx, c))
	require.NotEmpty(t, c.ID, "id should be assigned on create")

	got, err := store.Conflicts.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictStatusDetected, got.Status)
	assert.Equal(t, []string{"a"}, []string(got.ConflictingFields))
	assert.True(t, got.IsActive)

	got.ResolutionNotes = "checked"
	require.NoError(t, store.Conflicts.Update(ctx, got))

	again, err := store.Conflicts.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "checked", again.ResolutionNotes)
}

func TestRepositoryGetByIDNotFound(t *testing.T) {
	store := repository.NewStore(dbtest.New(t).DB)

	_, err := store.Conflicts.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConflictQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(dbtest.New(t).DB)

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, store.Conflicts.Add(ctx, newConflict("Product", i)))
	}
	receipt := newConflict("Receipt", 1)
	require.NoError(t, store.Conflicts.Add(ctx, receipt))

	_, err := store.Conflicts.UpdateColumns(ctx, map[string]any{"is_active": false}, repository.ByIDs(receipt.ID))
	require.NoError(t, err)

	products, err := store.Conflicts.Find(ctx, repository.ConflictQuery{EntityType: "Product"}.Scopes()...)
	require.NoError(t, err)
	assert.Len(t, products, 3)

	active, err := store.Conflicts.Count(ctx, repository.ConflictQuery{}.Scopes()...)
	require.NoError(t, err)
	assert.EqualValues(t, 3, active, "purged conflicts are excluded by default")

	all, err := store.Conflicts.Count(ctx, repository.ConflictQuery{IncludeInactive: true}.Scopes()...)
	require.NoError(t, err)
	assert.EqualValues(t, 4, all)

	id := int64(2)
	one, err := store.Conflicts.Find(ctx, repository.ConflictQuery{EntityType: "Product", EntityID: &id}.Scopes()...)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.EqualValues(t, 2, one[0].EntityID)

	page, err := store.Conflicts.Find(ctx, repository.ConflictQuery{Page: 2, PageSize: 2}.PageScopes()...)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestCommitRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(dbtest.New(t).DB)
	boom := errors.New("boom")

	c := newConflict("Inventory", 1)
	err := store.Commit(ctx, func(tx *repository.Store) error {
		if err := tx.Conflicts.Add(ctx, c); err != nil {
			return err
		}
		if err := tx.AuditEntries.Add(ctx, &models.ConflictAuditEntry{
			ConflictID: c.ID,
			Action:     "Detected",
			NewStatus:  models.ConflictStatusDetected,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	conflicts, err := store.Conflicts.Count(ctx)
	require.NoError(t, err)
	entries, err := store.AuditEntries.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, conflicts)
	assert.Zero(t, entries)
}

func TestAuditEntriesAreImmutable(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(dbtest.New(t).DB)

	entry := &models.ConflictAuditEntry{ConflictID: "c-1", Action: "TestAction", NewStatus: models.ConflictStatusDetected}
	require.NoError(t, store.AuditEntries.Add(ctx, entry))
	assert.False(t, entry.Timestamp.IsZero())

	entry.Details = "rewritten"
	err := store.AuditEntries.Update(ctx, entry)
	assert.ErrorIs(t, err, models.ErrAuditImmutable)

	history, err := store.AuditEntries.Find(ctx, repository.ByConflict("c-1"), repository.Chronological())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].Details)
}

func TestResolvedBeforeIsStrict(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(dbtest.New(t).DB)
	cutoff := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	old := newConflict("Receipt", 1)
	oldAt := cutoff.Add(-time.Hour)
	old.IsResolved, old.ResolvedAt = true, &oldAt
	atCutoff := newConflict("Receipt", 2)
	atCutoff.IsResolved, atCutoff.ResolvedAt = true, &cutoff
	require.NoError(t, store.Conflicts.Add(ctx, old))
	require.NoError(t, store.Conflicts.Add(ctx, atCutoff))

	found, err := store.Conflicts.Find(ctx, repository.Resolved(), repository.ResolvedBefore(cutoff))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, old.ID, found[0].ID)
}

func TestCountByGroupsActiveRows(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(dbtest.New(t).DB)

	for i := int64(1); i <= 2; i++ {
		require.NoError(t, store.Conflicts.Add(ctx, newConflict("Product", i)))
	}
	require.NoError(t, store.Conflicts.Add(ctx, newConflict("Receipt", 1)))
	gone := newConflict("Receipt", 2)
	require.NoError(t, store.Conflicts.Add(ctx, gone))
	_, err := store.Conflicts.UpdateColumns(ctx, map[string]any{"is_active": false}, repository.ByIDs(gone.ID))
	require.NoError(t, err)

	byType, err := store.Conflicts.CountBy(ctx, "entity_type", repository.Active())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Product": 2, "Receipt": 1}, byType)

	byStatus, err := store.Conflicts.CountBy(ctx, "status", repository.Active())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{string(models.ConflictStatusDetected): 3}, byStatus)
}
