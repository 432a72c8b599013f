package memstore

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
)

func TestStore_SingleActiveSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "teacher")
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.False(t, first.StartedAt.IsZero())

	_, err = s.CreateSession(ctx, "teacher")
	assert.ErrorIs(t, err, common.ErrConflict)

	ended, err := s.EndSession(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, ended.Active)
	require.NotNil(t, ended.EndedAt)

	_, err = s.EndSession(ctx, first.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = s.CreateSession(ctx, "teacher")
	assert.NoError(t, err)
}

func TestStore_ConcurrentCreateYieldsOneActive(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSession(ctx, "t")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, common.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 19, conflicts)
	active, err := s.ActiveSessions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestStore_RecordsUniquePerSessionAndName(t *testing.T) {
	s := New()
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return clock })

	sess, err := s.CreateSession(ctx, "t")
	require.NoError(t, err)

	rec, err := s.InsertRecord(ctx, attendance.Record{SessionID: sess.ID, StudentName: "Alice", Verified: true})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, clock, rec.MarkedAt)

	_, err = s.InsertRecord(ctx, attendance.Record{SessionID: sess.ID, StudentName: "Alice"})
	assert.ErrorIs(t, err, common.ErrDuplicate)

	_, err = s.InsertRecord(ctx, attendance.Record{SessionID: sess.ID, StudentName: "alice"})
	assert.NoError(t, err, "names compare case-sensitively")

	found, err := s.FindRecord(ctx, sess.ID, "Alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)

	missing, err := s.FindRecord(ctx, sess.ID, "Bob")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := s.ListRecords(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_InsertIntoEndedSession(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "t")
	require.NoError(t, err)
	_, err = s.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	_, err = s.InsertRecord(ctx, attendance.Record{SessionID: sess.ID, StudentName: "Alice"})
	assert.ErrorIs(t, err, common.ErrInactiveSession)
}

func TestStore_Unavailable(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetUnavailable(errors.New("network partition"))

	_, err := s.CreateSession(ctx, "t")
	assert.ErrorIs(t, err, common.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), common.ErrStoreUnavailable)

	s.SetUnavailable(nil)
	assert.NoError(t, s.Ping(ctx))
}
