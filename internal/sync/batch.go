package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
)

// DefaultBatchSize is the page size of sweeps and purges
const DefaultBatchSize = 100

// BatchCoordinator runs the resolution engine over many conflicts at once.
// A failing member never aborts the batch; errors are collected and returned together.
type BatchCoordinator struct {
	resolver  *ConflictResolver
	batchSize int
}

// NewBatchCoordinator creates a coordinator over resolver
func NewBatchCoordinator(resolver *ConflictResolver, batchSize int) *BatchCoordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchCoordinator{resolver: resolver, batchSize: batchSize}
}

// AutoResolveAll applies the rules to every active unresolved conflict, oldest
// first, and returns how many reached AutoResolved. Conflicts parked for
// manual review are retried so that rule changes take effect.
func (b *BatchCoordinator) AutoResolveAll(ctx context.Context) (int, error) {
	store := b.resolver.store
	log := b.resolver.log

	ids, err := b.snapshot(ctx, repository.Active(), repository.Unresolved())
	if err != nil {
		return 0, fmt.Errorf("auto-resolve sweep: %w", err)
	}

	var (
		resolved int
		deferred int
		errs     error
	)
	for _, chunk := range chunks(ids, b.batchSize) {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		conflicts, err := store.Conflicts.Find(ctx,
			repository.ByIDs(chunk...), repository.Unresolved(), repository.OldestFirst())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		for i := range conflicts {
			res, err := b.resolver.Resolve(ctx, &conflicts[i])
			switch {
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("conflict %s: %w", conflicts[i].ID, err))
			case res.Success && res.NewStatus == models.ConflictStatusAutoResolved:
				resolved++
			case res.Deferred():
				deferred++
			}
		}
	}

	log.Info("auto-resolve sweep finished",
		zap.Int("candidates", len(ids)),
		zap.Int("auto_resolved", resolved),
		zap.Int("pending_manual", deferred),
		zap.Int("errors", len(multierr.Errors(errs))))
	return resolved, errs
}

// BulkResolve applies one operator verdict to many conflicts through the
// manual path. Missing and already resolved members are skipped.
func (b *BatchCoordinator) BulkResolve(ctx context.Context, ids []string, resolution models.ResolutionType, userID, notes string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidArgument.WithMessage("acting user id is required")
	}
	switch resolution {
	case models.ResolutionLocalWins, models.ResolutionRemoteWins, models.ResolutionLastWriteWins:
	default:
		return 0, ErrInvalidResolution.WithMessagef("%q cannot be applied in bulk", resolution)
	}

	var (
		count int
		errs  error
	)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		res, err := b.resolver.ManualResolve(ctx, &ManualResolveRequest{
			ConflictID: id,
			Resolution: resolution,
			UserID:     userID,
			Notes:      notes,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("conflict %s: %w", id, err))
			continue
		}
		if res.Success {
			count++
			continue
		}
		switch res.Code {
		case ErrNotFound.Code, ErrAlreadyResolved.Code:
			b.resolver.log.Debug("bulk resolve skipped conflict",
				zap.String("conflict_id", id), zap.String("reason", res.Message))
		default:
			errs = multierr.Append(errs, fmt.Errorf("conflict %s: %w", id, res.Failure()))
		}
	}

	b.resolver.log.Info("bulk resolve finished",
		zap.String("resolution", string(resolution)),
		zap.String("user_id", userID),
		zap.Int("requested", len(seen)),
		zap.Int("resolved", count))
	return count, errs
}

// PurgeResolved deactivates active conflicts resolved strictly before cutoff
// and returns how many were purged. Rows and audit history are kept.
func (b *BatchCoordinator) PurgeResolved(ctx context.Context, cutoff time.Time) (int, error) {
	r := b.resolver

	ids, err := b.snapshot(ctx, repository.Active(), repository.Resolved(), repository.ResolvedBefore(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge resolved conflicts: %w", err)
	}

	var (
		purged int
		errs   error
	)
	details := fmt.Sprintf("retention purge, resolved before %s", cutoff.UTC().Format(time.RFC3339))
	for _, chunk := range chunks(ids, b.batchSize) {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}

		var n int64
		err := r.store.Commit(ctx, func(tx *repository.Store) error {
			conflicts, err := tx.Conflicts.Find(ctx, repository.ByIDs(chunk...), repository.Active())
			if err != nil {
				return err
			}
			n, err = tx.Conflicts.UpdateColumns(ctx, map[string]any{"is_active": false},
				repository.ByIDs(chunk...), repository.Active())
			if err != nil {
				return err
			}
			for i := range conflicts {
				c := &conflicts[i]
				if err := r.audit.record(ctx, tx, c, ActionPurged, c.Status, nil, details); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		purged += int(n)
	}

	if purged > 0 {
		r.metrics.addPurged(purged)
		r.notifier.Publish(Event{Type: EventPurged, Count: purged, At: r.now()})
	}
	r.log.Info("purged resolved conflicts",
		zap.Time("cutoff", cutoff.UTC()),
		zap.Int("purged", purged))
	return purged, errs
}

// GetConflictSummary aggregates active conflicts
func (b *BatchCoordinator) GetConflictSummary(ctx context.Context) (*Summary, error) {
	store := b.resolver.store

	byStatus, err := store.Conflicts.CountBy(ctx, "status", repository.Active())
	if err != nil {
		return nil, fmt.Errorf("conflict summary: %w", err)
	}
	byEntity, err := store.Conflicts.CountBy(ctx, "entity_type", repository.Active())
	if err != nil {
		return nil, fmt.Errorf("conflict summary: %w", err)
	}
	bySystem, err := store.Conflicts.Count(ctx, repository.Active(), repository.ResolvedBySystem())
	if err != nil {
		return nil, fmt.Errorf("conflict summary: %w", err)
	}

	s := &Summary{
		PendingManual: byStatus[string(models.ConflictStatusPendingManual)],
		AutoResolved:  bySystem,
		Detected:      byStatus[string(models.ConflictStatusDetected)],
		Resolved:      byStatus[string(models.ConflictStatusResolved)],
		Ignored:       byStatus[string(models.ConflictStatusIgnored)],
		ByEntityType:  byEntity,
	}
	for _, n := range byStatus {
		s.Total += n
	}
	return s, nil
}

// snapshot returns the ids matching scopes, oldest first, so that paging is
// not disturbed by the rows the batch itself changes.
func (b *BatchCoordinator) snapshot(ctx context.Context, scopes ...repository.Scope) ([]string, error) {
	scopes = append(scopes, repository.Columns("id", "created_at"), repository.OldestFirst())
	rows, err := b.resolver.store.Conflicts.Find(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, c := range rows {
		ids[i] = c.ID
	}
	return ids, nil
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
