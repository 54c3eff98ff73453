package providence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"providence/internal/bus"
	"providence/internal/cache"
	xerrors "providence/internal/errors"
	"providence/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignHeightStampsWholeCohort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := memoryCache(t)
	svc := f.service(c)
	ids := f.spawn(t, svc, 4)

	for _, id := range ids {
		_, err := svc.Iterate(ctx, id, 1)
		require.NoError(t, err)
	}
	require.NoError(t, svc.SignalExit(ctx, ids[3]))
	_, err := svc.Iterate(ctx, ids[3], 2)
	require.NoError(t, err)

	stamp, err := svc.AssignHeight(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:3], stamp.RunIDs)

	for _, id := range ids[:3] {
		r := f.run(t, id)
		require.NotNil(t, r.Height)
		assert.Equal(t, stamp.Height, *r.Height)
		assert.False(t, r.ExitRun)

		_, ok, err := c.Get(ctx, cache.RunStateKey(id))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	exited := f.run(t, ids[3])
	assert.Nil(t, exited.Height)
	assert.True(t, exited.ExitRun)

	next, err := svc.AssignHeight(ctx)
	require.NoError(t, err)
	assert.Greater(t, next.Height, stamp.Height)

	// iterating after the stamp keeps the height
	f.market.push(101)
	_, err = svc.Iterate(ctx, ids[0], 2)
	require.NoError(t, err)
	r := f.run(t, ids[0])
	require.NotNil(t, r.Height)
	assert.Equal(t, next.Height, *r.Height)
}

type failingStamp struct {
	*store.Store
	err   error
	calls atomic.Int32
}

func (s *failingStamp) StampHeight(ctx context.Context) (store.Stamp, error) {
	s.calls.Add(1)
	if s.err != nil {
		return store.Stamp{}, s.err
	}
	return s.Store.StampHeight(ctx)
}

func TestHeightTaskReportsResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	st := &failingStamp{Store: f.store}
	svc := f.serviceWith(st, nil)
	f.spawn(t, svc, 2)

	task, wait := svc.HeightTask("take-profit")
	assert.Equal(t, bus.LaneHigh, task.Lane)
	assert.Equal(t, "height", task.Name)
	require.NoError(t, task.Run(ctx))
	require.NoError(t, wait(ctx))

	st.err = xerrors.Transient(errors.New("store down"))
	task, wait = svc.HeightTask("take-profit")
	require.NoError(t, task.Run(ctx))
	assert.True(t, xerrors.IsTransient(wait(ctx)))
}

func TestAbandonedHeightTaskDoesNotStamp(t *testing.T) {
	f := newFixture(t)
	st := &failingStamp{Store: f.store}
	svc := f.serviceWith(st, nil)

	task, wait := svc.HeightTask("take-profit")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, wait(ctx), context.Canceled)

	require.NoError(t, task.Run(context.Background()))
	assert.Zero(t, st.calls.Load())
}

func TestApplyHeightFailureIsReported(t *testing.T) {
	f := newFixture(t)
	st := &failingStamp{Store: f.store, err: xerrors.Transient(errors.New("store down"))}
	svc := f.serviceWith(st, nil)

	router := bus.NewRouter(bus.Config{HighCapacity: 4, LowCapacity: 4, Workers: 1, MaxAttempts: 3}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	c := NewController(svc, nil, router, Intervals{})
	err := c.ApplyHeight(ctx, "take-profit:seq-1")
	assert.True(t, xerrors.IsTransient(err))
	assert.EqualValues(t, 1, st.calls.Load())

	st.err = nil
	require.NoError(t, c.ApplyHeight(ctx, "take-profit:seq-1"))
	assert.EqualValues(t, 2, st.calls.Load())
}

func TestPurgeDeletesOnlyExitedPastGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := memoryCache(t)
	svc := f.service(c)
	ids := f.spawn(t, svc, 3)

	for _, id := range ids[:2] {
		require.NoError(t, svc.SignalExit(ctx, id))
		_, err := svc.Iterate(ctx, id, 1)
		require.NoError(t, err)
	}

	// nothing is past the grace period yet
	n, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = svc.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range ids[:2] {
		_, ok, err := c.Get(ctx, cache.RunExitKey(id))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.False(t, f.run(t, ids[2]).ExitRun)

	n, err = svc.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeExitsStaleRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service(nil)
	svc.cfg.StaleAfter = time.Minute
	svc.cfg.PurgeGrace = 0
	ids := f.spawn(t, svc, 2)

	_, err := svc.Iterate(ctx, ids[0], 1)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = svc.Purge(ctx)
	require.NoError(t, err)

	// the flat, never-traded run is exited; the long one stays
	n, err := f.store.CountActive(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.False(t, f.run(t, ids[0]).ExitRun)
}
