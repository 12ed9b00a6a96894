package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xelth-com/eckposgo/internal/database/dbtest"
	"github.com/xelth-com/eckposgo/internal/models"
	"github.com/xelth-com/eckposgo/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  stdsync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     stdsync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) Types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	ctx      context.Context
	store    *repository.Store
	rules    *RuleTable
	clock    *testClock
	events   *eventLog
	metrics  *Metrics
	resolver *ConflictResolver
	batch    *BatchCoordinator
}

func newFixture(t *testing.T, seed ...Rule) *fixture {
	t.Helper()

	f := &fixture{
		ctx:     context.Background(),
		store:   repository.NewStore(dbtest.New(t).DB),
		rules:   NewRuleTable(seed...),
		clock:   &testClock{now: t0},
		events:  &eventLog{},
		metrics: NewMetrics(nil),
	}
	f.resolver = NewConflictResolver(f.store, f.rules,
		WithClock(f.clock.Now),
		WithNotifier(f.events),
		WithMetrics(f.metrics),
	)
	f.batch = NewBatchCoordinator(f.resolver, 2)
	return f
}

// detect records a conflict between local and remote, local written at localAt
// and remote at remoteAt (both relative to t0)
func (f *fixture) detect(t *testing.T, entityType string, entityID int64, local, remote string, localAt, remoteAt time.Duration) *models.Conflict {
	t.Helper()

	c, err := f.resolver.DetectConflict(f.ctx, DetectRequest{
		EntityType:      entityType,
		EntityID:        entityID,
		LocalData:       local,
		RemoteData:      remote,
		LocalTimestamp:  t0.Add(localAt),
		RemoteTimestamp: t0.Add(remoteAt),
	})
	require.NoError(t, err)
	require.NotNil(t, c, "expected a conflict to be recorded")
	return c
}

func (f *fixture) reload(t *testing.T, id string) *models.Conflict {
	t.Helper()

	c, err := f.store.Conflicts.GetByID(f.ctx, id)
	require.NoError(t, err)
	return c
}

func (f *fixture) actions(t *testing.T, id string) []string {
	t.Helper()

	history, err := f.resolver.Audit().History(f.ctx, id)
	require.NoError(t, err)
	out := make([]string, len(history))
	for i, e := range history {
		out[i] = e.Action
	}
	return out
}
