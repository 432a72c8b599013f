package teacher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
	"liveattend/internal/feed"
	"liveattend/internal/store/memstore"
	"liveattend/internal/teacher"
)

func newCoordinator() *attendance.Coordinator {
	return attendance.NewCoordinator(memstore.New(), feed.NewMemory(),
		attendance.WithWatchOptions(feed.WatchOptions{MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}))
}

func rosterNames(v teacher.View) []string {
	var names []string
	for _, r := range v.Roster {
		names = append(names, r.StudentName)
	}
	return names
}

func TestController_StopWithoutSessionIsNoop(t *testing.T) {
	coord := newCoordinator()
	c := teacher.New(coord, "teacher", nil, nil)
	defer c.Close()

	s, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, c.Stop(context.Background()))
	assert.Nil(t, c.Current())
}

func TestController_StartObserveStop(t *testing.T) {
	ctx := context.Background()
	coord := newCoordinator()
	c := teacher.New(coord, "teacher", nil, nil)
	defer c.Close()

	s, err := c.Start(ctx)
	require.NoError(t, err)
	require.NotNil(t, c.Current())
	assert.Equal(t, s.ID, c.Current().ID)

	_, err = coord.MarkAttendance(ctx, s.ID, "Alice", true)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Alice"}, rosterNames(c.View()))
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop(ctx))
	assert.Nil(t, c.Current())
	active, err := coord.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestController_ResumesActiveSession(t *testing.T) {
	ctx := context.Background()
	coord := newCoordinator()
	existing, err := coord.StartSession(ctx, "other-desk")
	require.NoError(t, err)
	_, err = coord.MarkAttendance(ctx, existing.ID, "Bob", true)
	require.NoError(t, err)

	views := make(chan teacher.View, 16)
	c := teacher.New(coord, "teacher", nil, func(v teacher.View) {
		select {
		case views <- v:
		default:
		}
	})
	defer c.Close()

	s, err := c.Resume(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, existing.ID, s.ID)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Bob"}, rosterNames(c.View()))
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, views)

	_, err = c.Start(ctx)
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, existing.ID, c.Current().ID)
}

func TestController_StopAfterExternalStop(t *testing.T) {
	ctx := context.Background()
	coord := newCoordinator()
	c := teacher.New(coord, "teacher", nil, nil)
	defer c.Close()

	s, err := c.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, coord.StopSession(ctx, s.ID))

	assert.ErrorIs(t, c.Stop(ctx), common.ErrNotFound)
	assert.Nil(t, c.Current())
	assert.NoError(t, c.Stop(ctx))
}
