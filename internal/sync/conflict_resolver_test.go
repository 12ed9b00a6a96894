package sync

import (
	"encoding/json"
	stdsync "sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
)

func TestDetectConflictIgnoresFormattingOnlyChanges(t *testing.T) {
	f := newFixture(t)

	c, err := f.resolver.DetectConflict(f.ctx, DetectRequest{
		EntityType: EntityProduct,
		EntityID:   1,
		LocalData:  `{"name":"Cola","price":2.50}`,
		RemoteData: `{ "price": 2.5, "name": "Cola" }`,
	})
	require.NoError(t, err)
	assert.Nil(t, c)

	n, err := f.store.Conflicts.Count(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing may be persisted")
	assert.Empty(t, f.events.Types())
}

func TestDetectConflictRequiresEntityType(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.DetectConflict(f.ctx, DetectRequest{EntityType: "  ", LocalData: `{"a":1}`, RemoteData: `{"a":2}`})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDetectConflictPersistsAndAudits(t *testing.T) {
	f := newFixture(t)

	c := f.detect(t, EntityProduct, 42, `{"name":"Cola","price":2.5}`, `{"name":"Cola","price":2.9,"sku":"C1"}`, 0, time.Minute)

	got := f.reload(t, c.ID)
	assert.Equal(t, models.ConflictStatusDetected, got.Status)
	assert.False(t, got.IsResolved)
	assert.True(t, got.IsActive)
	assert.Equal(t, []string{"price", "sku"}, []string(got.ConflictingFields))
	assert.True(t, t0.Add(time.Minute).Equal(got.RemoteTimestamp))

	assert.Equal(t, []string{ActionDetected}, f.actions(t, c.ID))
	assert.Equal(t, []EventType{EventDetected}, f.events.Types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.detected.WithLabelValues(EntityProduct)))
}

func TestResolveReceiptKeepsTerminalCopy(t *testing.T) {
	f := newFixture(t)
	local := `{"total":19.90,"status":"paid"}`
	c := f.detect(t, EntityReceipt, 1001, local, `{"total":19.90,"status":"open"}`, 0, time.Hour)

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ConflictStatusDetected, res.OldStatus)
	assert.Equal(t, models.ConflictStatusAutoResolved, res.NewStatus)
	assert.Equal(t, models.ResolutionLocalWins, res.AppliedResolution)
	assert.Equal(t, local, res.ResultingData)

	got := f.reload(t, c.ID)
	assert.True(t, got.IsResolved)
	assert.Nil(t, got.ResolvedByUserID)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, t0.Equal(*got.ResolvedAt))
	assert.Equal(t, local, got.ResolvedData)

	history, err := f.resolver.Audit().History(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(models.ResolutionLocalWins), history[1].Action)
	assert.Equal(t, models.ConflictStatusDetected, history[1].OldStatus)
	assert.Equal(t, models.ConflictStatusAutoResolved, history[1].NewStatus)

	var details resolutionDetails
	require.NoError(t, json.Unmarshal([]byte(history[1].Details), &details))
	assert.Equal(t, []string{"status"}, details.Fields)
	assert.JSONEq(t, `{"status":"paid"}`, string(details.Patch))

	assert.Equal(t, []EventType{EventDetected, EventAutoResolved}, f.events.Types())
}

func TestResolveCatalogConflictTakesCentralCopy(t *testing.T) {
	f := newFixture(t)
	remote := `{"name":"Remote","price":15}`
	c := f.detect(t, EntityProduct, 1, `{"name":"Local","price":10}`, remote, 0, 0)
	assert.Equal(t, []string{"name", "price"}, []string(c.ConflictingFields))

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ConflictStatusAutoResolved, res.NewStatus)
	assert.Equal(t, models.ResolutionRemoteWins, res.AppliedResolution)
	assert.Equal(t, remote, res.ResultingData)
	assert.Equal(t, []string{ActionDetected, string(models.ResolutionRemoteWins)}, f.actions(t, c.ID))
}

func TestResolveInventoryNewerLocalCountWins(t *testing.T) {
	f := newFixture(t)
	local := `{"onHand":12}`
	c := f.detect(t, EntityInventory, 3, local, `{"onHand":9}`, time.Hour, 0)

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ResolutionLastWriteWins, res.AppliedResolution)
	assert.Equal(t, local, res.ResultingData)
	assert.Equal(t, local, f.reload(t, c.ID).ResolvedData)
}

func TestResolveProductPriceTakesCentralCopy(t *testing.T) {
	f := newFixture(t)
	remote := `{"name":"Cola","price":2.9}`
	c := f.detect(t, EntityProduct, 7, `{"name":"Cola","price":2.5}`, remote, time.Hour, 0)

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ResolutionRemoteWins, res.AppliedResolution)
	assert.Equal(t, remote, res.ResultingData, "remote wins even though local is newer")
}

func TestResolveLoyaltyPointsNeedsHuman(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityCustomer, 5, `{"name":"Ada","PointsBalance":120}`, `{"name":"Ada","PointsBalance":80}`, time.Hour, 0)

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Deferred())
	assert.Equal(t, models.ResolutionManual, res.AppliedResolution)
	assert.Empty(t, res.ResultingData)
	assert.Contains(t, res.Message, "Customer.PointsBalance")

	got := f.reload(t, c.ID)
	assert.Equal(t, models.ConflictStatusPendingManual, got.Status)
	assert.False(t, got.IsResolved)
	assert.Empty(t, got.ResolvedData)
	assert.Equal(t, []string{ActionDetected, ActionPendingManual}, f.actions(t, c.ID))

	// a human settles it
	res, err = f.resolver.ManualResolve(f.ctx, &ManualResolveRequest{
		ConflictID: c.ID,
		Resolution: models.ResolutionLocalWins,
		UserID:     "manager-1",
		Notes:      "till receipt shows 120 points",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ConflictStatusPendingManual, res.OldStatus)
	assert.Equal(t, models.ConflictStatusResolved, res.NewStatus)

	got = f.reload(t, c.ID)
	assert.Equal(t, models.ConflictStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedByUserID)
	assert.Equal(t, "manager-1", *got.ResolvedByUserID)
	assert.Equal(t, "till receipt shows 120 points", got.ResolutionNotes)
	assert.Equal(t, `{"name":"Ada","PointsBalance":120}`, got.ResolvedData)
	assert.Equal(t, []string{ActionDetected, ActionPendingManual, string(models.ResolutionLocalWins)}, f.actions(t, c.ID))

	// a verdict is final
	res, err = f.resolver.ManualResolve(f.ctx, &ManualResolveRequest{
		ConflictID: c.ID,
		Resolution: models.ResolutionRemoteWins,
		UserID:     "manager-2",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrAlreadyResolved.Code, res.Code)
	assert.Contains(t, res.Message, "already resolved")
	assert.Equal(t, "manager-1", *f.reload(t, c.ID).ResolvedByUserID)
}

func TestResolveLoyaltyPointsNeedsHumanWhateverTheKeyCase(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityCustomer, 8, `{"pointsBalance":120}`, `{"pointsBalance":80}`, time.Hour, 0)

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.Deferred())
	assert.Contains(t, res.Message, "Customer.PointsBalance")
	assert.Equal(t, models.ConflictStatusPendingManual, f.reload(t, c.ID).Status)
}

func TestResolveCustomerContactDetailsLastWriteWins(t *testing.T) {
	f := newFixture(t)
	local := `{"email":"ada@new.example","PointsBalance":80}`
	c := f.detect(t, EntityCustomer, 6, local, `{"email":"ada@old.example","PointsBalance":80}`, time.Hour, 0)

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Success, "points agree, so no review is needed")
	assert.Equal(t, models.ResolutionLastWriteWins, res.AppliedResolution)
	assert.Equal(t, local, res.ResultingData)
}

func TestLastWriteWinsTieGoesToCentralCopy(t *testing.T) {
	f := newFixture(t)
	remote := `{"onHand":4}`
	c := f.detect(t, EntityInventory, 9, `{"onHand":5}`, remote, time.Minute, time.Minute)

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, remote, res.ResultingData)
}

func TestResolveGiftCardAndUnknownTypes(t *testing.T) {
	f := newFixture(t)

	card := f.detect(t, EntityGiftCard, 1, `{"balance":10}`, `{"balance":25}`, 0, 0)
	res, err := f.resolver.Resolve(f.ctx, card)
	require.NoError(t, err)
	assert.True(t, res.Deferred())

	remote := `{"code":"B"}`
	voucher := f.detect(t, "Voucher", 1, `{"code":"A"}`, remote, time.Hour, 0)
	res, err = f.resolver.Resolve(f.ctx, voucher)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.ResolutionRemoteWins, res.AppliedResolution)
	assert.Equal(t, remote, res.ResultingData)
	assert.Contains(t, res.Message, "Default rule: remote wins")
}

func TestResolveHonoursRuntimeRuleChanges(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityProduct, 3, `{"price":1}`, `{"price":2}`, 0, 0)

	require.NoError(t, f.rules.AddOrUpdateRule(&Rule{
		EntityType:          EntityProduct,
		DefaultResolution:   models.ResolutionRemoteWins,
		RequireManualReview: true,
	}))

	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.True(t, res.Deferred(), "manual review flag overrides the resolution type")
}

func TestResolveRejectsNilAndClosedConflicts(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(f.ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c := f.detect(t, EntityReceipt, 1, `{"a":1}`, `{"a":2}`, 0, 0)
	res, err := f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.resolver.Resolve(f.ctx, c)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrAlreadyResolved.Code, res.Code)
	assert.Equal(t, models.ConflictStatusAutoResolved, res.NewStatus)

	// a stale in-memory copy is stopped by the conditional write
	stale := f.reload(t, c.ID)
	stale.IsResolved = false
	stale.Status = models.ConflictStatusDetected
	res, err = f.resolver.Resolve(f.ctx, stale)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrAlreadyResolved.Code, res.Code)
	assert.Len(t, f.actions(t, c.ID), 2)
}

func TestResolveByID(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.ResolveByID(f.ctx, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ErrNotFound.Code, res.Code)
	assert.ErrorIs(t, res.Failure(), ErrNotFound)

	c := f.detect(t, EntityShift, 1, `{"start":"08:00"}`, `{"start":"09:00"}`, time.Hour, 0)
	res, err = f.resolver.ResolveByID(f.ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NoError(t, res.Failure())
}

func TestManualResolveValidation(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityGiftCard, 1, `{"balance":10}`, `{"balance":25}`, 0, 0)

	_, err := f.resolver.ManualResolve(f.ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.resolver.ManualResolve(f.ctx, &ManualResolveRequest{ConflictID: c.ID, Resolution: models.ResolutionLocalWins})
	assert.ErrorIs(t, err, ErrInvalidArgument, "acting user is required")

	tests := []struct {
		name string
		req  ManualResolveRequest
		code string
		msg  string
	}{
		{"missing conflict", ManualResolveRequest{ConflictID: "nope", Resolution: models.ResolutionLocalWins}, ErrNotFound.Code, "not found"},
		{"manual is not a verdict", ManualResolveRequest{ConflictID: c.ID, Resolution: models.ResolutionManual}, ErrInvalidResolution.Code, "invalid resolution"},
		{"unknown verdict", ManualResolveRequest{ConflictID: c.ID, Resolution: "CoinFlip"}, ErrInvalidResolution.Code, "invalid resolution"},
		{"merged without data", ManualResolveRequest{ConflictID: c.ID, Resolution: models.ResolutionMerged}, ErrInvalidArgument.Code, "merged data required"},
		{"merged malformed", ManualResolveRequest{ConflictID: c.ID, Resolution: models.ResolutionMerged, MergedData: `{"balance":`}, ErrInvalidArgument.Code, "malformed merged data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.UserID = "clerk"
			res, err := f.resolver.ManualResolve(f.ctx, &req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, res.Code)
			assert.Contains(t, res.Message, tt.msg)
		})
	}

	got := f.reload(t, c.ID)
	assert.False(t, got.IsResolved, "rejected verdicts leave the conflict untouched")
	assert.Equal(t, []string{ActionDetected}, f.actions(t, c.ID))
}

func TestManualResolveMerged(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityGiftCard, 2, `{"balance":10,"holder":"A"}`, `{"balance":25,"holder":"B"}`, 0, 0)

	merged := `{"balance":25,"holder":"A"}`
	res, err := f.resolver.ManualResolve(f.ctx, &ManualResolveRequest{
		ConflictID: c.ID,
		Resolution: models.ResolutionMerged,
		UserID:     "manager-1",
		MergedData: merged,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, merged, res.ResultingData)

	got := f.reload(t, c.ID)
	assert.Equal(t, models.ResolutionMerged, got.AppliedResolution)
	assert.Equal(t, merged, got.ResolvedData)
	assert.Equal(t, []EventType{EventDetected, EventResolved}, f.events.Types())
}

func TestManualResolveConcurrentVerdicts(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityGiftCard, 3, `{"balance":10}`, `{"balance":25}`, 0, 0)

	const workers = 6
	results := make([]*Result, workers)
	var wg stdsync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.resolver.ManualResolve(f.ctx, &ManualResolveRequest{
				ConflictID: c.ID,
				Resolution: models.ResolutionRemoteWins,
				UserID:     "clerk",
			})
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, res := range results {
		require.NotNil(t, res)
		if res.Success {
			wins++
		} else {
			assert.Equal(t, ErrAlreadyResolved.Code, res.Code)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, f.actions(t, c.ID), 2)
}

func TestIgnore(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityProduct, 8, `{"name":"A"}`, `{"name":"B"}`, 0, 0)

	ok, err := f.resolver.Ignore(f.ctx, c.ID, "clerk", "duplicate submission")
	require.NoError(t, err)
	assert.True(t, ok)

	got := f.reload(t, c.ID)
	assert.Equal(t, models.ConflictStatusIgnored, got.Status)
	assert.True(t, got.IsResolved)
	assert.Equal(t, "[IGNORED] duplicate submission", got.ResolutionNotes)
	assert.Empty(t, got.ResolvedData)
	assert.Empty(t, got.AppliedResolution)

	ok, err = f.resolver.Ignore(f.ctx, c.ID, "clerk", "again")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.resolver.Ignore(f.ctx, "missing", "clerk", "")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := f.resolver.Resolve(f.ctx, got)
	require.NoError(t, err)
	assert.Equal(t, ErrAlreadyResolved.Code, res.Code)

	assert.Equal(t, []string{ActionDetected, ActionIgnored}, f.actions(t, c.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ignored.WithLabelValues(EntityProduct)))
}

func TestAuditAppend(t *testing.T) {
	f := newFixture(t)
	c := f.detect(t, EntityProduct, 8, `{"name":"A"}`, `{"name":"B"}`, 0, 0)

	assert.ErrorIs(t, f.resolver.Audit().Append(f.ctx, nil), ErrInvalidArgument)
	assert.ErrorIs(t, f.resolver.Audit().Append(f.ctx, &models.ConflictAuditEntry{ConflictID: c.ID}), ErrInvalidArgument)

	require.NoError(t, f.resolver.Audit().Append(f.ctx, &models.ConflictAuditEntry{
		ConflictID: c.ID,
		Action:     "Commented",
		NewStatus:  c.Status,
		Details:    "called the store",
	}))
	assert.Equal(t, []string{ActionDetected, "Commented"}, f.actions(t, c.ID))

	entries, err := f.store.AuditEntries.Find(f.ctx, repository.ByConflict(c.ID))
	require.NoError(t, err)
	assert.ErrorIs(t, f.store.AuditEntries.Update(f.ctx, &entries[0]), models.ErrAuditImmutable)
}

func TestDescribeResolutionWithoutObjects(t *testing.T) {
	out := describeResolution("manual LocalWins", []string{"a"}, `not json`, `{"a":1}`)

	var d resolutionDetails
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "manual LocalWins", d.Reason)
	assert.Empty(t, d.Patch)
}
