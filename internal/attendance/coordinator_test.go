package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
	"liveattend/internal/feed"
	"liveattend/internal/queue"
	"liveattend/internal/store/memstore"
)

type fixture struct {
	store  *memstore.Store
	broker *feed.Memory
	jobs   *queue.InMemory
	coord  *attendance.Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memstore.New(),
		broker: feed.NewMemory(),
		jobs:   queue.NewInMemory(64),
	}
	f.coord = attendance.NewCoordinator(f.store, f.broker,
		attendance.WithJobs(f.jobs),
		attendance.WithWatchOptions(feed.WatchOptions{MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}),
	)
	return f
}

func nextSnap[T any](t *testing.T, s *feed.Stream[T]) feed.Snapshot[T] {
	t.Helper()
	select {
	case snap, ok := <-s.C:
		require.True(t, ok, "stream closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return feed.Snapshot[T]{}
}

func TestStartSession_ConflictWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.coord.StartSession(ctx, "")
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, "teacher", s.CreatedBy)

	_, err = f.coord.StartSession(ctx, "teacher")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestStopSession_SecondStopFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)

	require.NoError(t, f.coord.StopSession(ctx, s.ID))
	assert.ErrorIs(t, f.coord.StopSession(ctx, s.ID), common.ErrNotFound)
	assert.ErrorIs(t, f.coord.StopSession(ctx, "unknown"), common.ErrNotFound)
	assert.ErrorIs(t, f.coord.StopSession(ctx, ""), common.ErrNotFound)
}

func TestSessionSequences_AtMostOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		s, err := f.coord.StartSession(ctx, "teacher")
		require.NoError(t, err)
		_, err = f.coord.StartSession(ctx, "teacher")
		require.ErrorIs(t, err, common.ErrConflict)

		active, err := f.store.ActiveSessions(ctx, 0)
		require.NoError(t, err)
		require.Len(t, active, 1)

		require.NoError(t, f.coord.StopSession(ctx, s.ID))
		ids = append(ids, s.ID)
	}
	active, err := f.store.ActiveSessions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Len(t, ids, 5)
}

func TestStartSession_ConcurrentStartsCreateOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.StartSession(ctx, "teacher")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, common.ErrConflict)
	}
	assert.Equal(t, 1, ok)
}

func TestMarkAttendance_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)

	rec, err := f.coord.MarkAttendance(ctx, s.ID, "Alice", true)
	require.NoError(t, err)
	assert.Equal(t, "Alice", rec.StudentName)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.True(t, rec.Verified)

	_, err = f.coord.MarkAttendance(ctx, s.ID, "Alice", true)
	assert.ErrorIs(t, err, common.ErrDuplicate)

	_, err = f.coord.MarkAttendance(ctx, s.ID, "  Alice ", true)
	assert.ErrorIs(t, err, common.ErrDuplicate, "names are trimmed before comparison")
}

func TestMarkAttendance_EmptyNameAlwaysValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := f.coord.MarkAttendance(ctx, "no-such-session", name, true)
		assert.ErrorIs(t, err, common.ErrValidation)
		_, err = f.coord.MarkAttendance(ctx, "no-such-session", name, false)
		assert.ErrorIs(t, err, common.ErrValidation)
	}

	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)
	_, err = f.coord.MarkAttendance(ctx, s.ID, " ", true)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestMarkAttendance_UnverifiedWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)

	_, err = f.coord.MarkAttendance(ctx, s.ID, "Alice", false)
	assert.ErrorIs(t, err, common.ErrVerificationFailed)

	records, err := f.coord.Roster(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMarkAttendance_InactiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.MarkAttendance(ctx, "missing", "Alice", true)
	assert.ErrorIs(t, err, common.ErrInactiveSession)

	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)
	require.NoError(t, f.coord.StopSession(ctx, s.ID))

	_, err = f.coord.MarkAttendance(ctx, s.ID, "Alice", true)
	assert.ErrorIs(t, err, common.ErrInactiveSession)
}

func TestMarkAttendance_StoreOutagePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)

	f.store.SetUnavailable(errors.New("offline"))
	_, err = f.coord.MarkAttendance(ctx, s.ID, "Alice", true)
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)

	f.store.SetUnavailable(nil)
	records, err := f.coord.Roster(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, records, "failed writes leave no record behind")
}

func TestScenario_StartMarkStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)

	roster := f.coord.SubscribeRoster(ctx, s.ID)
	defer roster.Close()

	first := nextSnap(t, roster)
	assert.False(t, first.Degraded)
	assert.Empty(t, first.Value)

	_, err = f.coord.MarkAttendance(ctx, s.ID, "Alice", true)
	require.NoError(t, err)

	second := nextSnap(t, roster)
	require.Len(t, second.Value, 1)
	assert.Equal(t, "Alice", second.Value[0].StudentName)

	require.NoError(t, f.coord.StopSession(ctx, s.ID))
	active, err := f.coord.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRoster_OrderedMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	clock := t1
	f.store.SetClock(func() time.Time { return clock })

	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)
	_, err = f.coord.MarkAttendance(ctx, s.ID, "Alice", true)
	require.NoError(t, err)
	clock = t1.Add(time.Minute)
	_, err = f.coord.MarkAttendance(ctx, s.ID, "Bob", true)
	require.NoError(t, err)

	roster, err := f.coord.Roster(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "Bob", roster[0].StudentName)
	assert.Equal(t, "Alice", roster[1].StudentName)
}

func TestSortRoster_MissingTimestampIsOldest(t *testing.T) {
	t1 := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	records := []attendance.Record{
		{StudentName: "Pending"},
		{StudentName: "Alice", MarkedAt: t1},
		{StudentName: "Bob", MarkedAt: t1.Add(time.Second)},
	}
	attendance.SortRoster(records)

	names := []string{records[0].StudentName, records[1].StudentName, records[2].StudentName}
	assert.Equal(t, []string{"Bob", "Alice", "Pending"}, names)
}

func TestSubscribeActive_FollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stream := f.coord.SubscribeActive(ctx)
	defer stream.Close()
	assert.Nil(t, nextSnap(t, stream).Value)

	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)
	started := nextSnap(t, stream)
	require.NotNil(t, started.Value)
	assert.Equal(t, s.ID, started.Value.ID)

	require.NoError(t, f.coord.StopSession(ctx, s.ID))
	assert.Nil(t, nextSnap(t, stream).Value)
}

func TestRun_ReconciledActiveSession(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.coord.Run(ctx)

	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)

	active, err := f.coord.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, s.ID, active.ID)

	require.Eventually(t, func() bool {
		// Once the view is live it answers without touching the store.
		f.store.SetUnavailable(errors.New("offline"))
		defer f.store.SetUnavailable(nil)
		a, err := f.coord.ActiveSession(ctx)
		return err == nil && a != nil && a.ID == s.ID
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.coord.StopSession(ctx, s.ID))
	active, err = f.coord.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestLifecycleJobsArePublished(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := f.coord.StartSession(ctx, "teacher")
	require.NoError(t, err)
	rec, err := f.coord.MarkAttendance(ctx, s.ID, "Alice", true)
	require.NoError(t, err)
	require.NoError(t, f.coord.StopSession(ctx, s.ID))

	ch, err := f.jobs.Consume(ctx)
	require.NoError(t, err)
	var kinds []string
	for i := 0; i < 3; i++ {
		select {
		case job := <-ch:
			kinds = append(kinds, job.Kind)
			assert.Equal(t, s.ID, job.SessionID)
			assert.False(t, job.At.IsZero())
			if job.Kind == queue.KindAttendanceMarked {
				assert.Equal(t, rec.ID, job.RecordID)
			}
		case <-time.After(time.Second):
			t.Fatal("missing job")
		}
	}
	assert.Equal(t, []string{queue.KindSessionStarted, queue.KindAttendanceMarked, queue.KindSessionStopped}, kinds)
}

func TestPing_ReportsStoreAndBroker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.NoError(t, f.coord.Ping(ctx))

	f.store.SetUnavailable(errors.New("down"))
	assert.ErrorIs(t, f.coord.Ping(ctx), common.ErrStoreUnavailable)
	f.store.SetUnavailable(nil)

	require.NoError(t, f.broker.Close())
	assert.Error(t, f.coord.Ping(ctx))
}
