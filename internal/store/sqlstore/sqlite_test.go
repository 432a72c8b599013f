package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "attend.db")+"?_foreign_keys=on&_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s := New(db, SQLite)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLite_SessionLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "teacher")
	require.NoError(t, err)
	assert.True(t, sess.Active)
	assert.False(t, sess.StartedAt.IsZero())

	_, err = s.CreateSession(ctx, "teacher")
	assert.ErrorIs(t, err, common.ErrConflict)

	active, err := s.ActiveSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, sess.ID, active[0].ID)

	ended, err := s.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ended.Active)
	require.NotNil(t, ended.EndedAt)

	_, err = s.EndSession(ctx, sess.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	next, err := s.CreateSession(ctx, "teacher")
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, next.ID)
}

func TestSQLite_Records(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "teacher")
	require.NoError(t, err)

	rec, err := s.InsertRecord(ctx, attendance.Record{SessionID: sess.ID, StudentName: "Alice", Verified: true})
	require.NoError(t, err)
	assert.False(t, rec.MarkedAt.IsZero())

	_, err = s.InsertRecord(ctx, attendance.Record{SessionID: sess.ID, StudentName: "Alice", Verified: true})
	assert.ErrorIs(t, err, common.ErrDuplicate)

	found, err := s.FindRecord(ctx, sess.ID, "Alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)
	assert.True(t, found.Verified)
	assert.Equal(t, attendance.StatusPresent, found.Status)

	missing, err := s.FindRecord(ctx, sess.ID, "Bob")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	_, err = s.InsertRecord(ctx, attendance.Record{SessionID: sess.ID, StudentName: "Bob", Verified: true})
	assert.ErrorIs(t, err, common.ErrInactiveSession)

	list, err := s.ListRecords(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Alice", list[0].StudentName)
}

func TestSQLite_ConcurrentStartsOneWinner(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSession(ctx, "teacher")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if assert.ErrorIs(t, err, common.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, 7, conflicts)
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
