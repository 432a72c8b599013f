package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveattend/internal/attendance"
	"liveattend/internal/queue"
)

type fakeSource struct {
	session  attendance.Session
	records  []attendance.Record
	failures int
	calls    int
}

func (f *fakeSource) Session(ctx context.Context, id string) (attendance.Session, error) {
	f.calls++
	if f.calls <= f.failures {
		return attendance.Session{}, errors.New("store down")
	}
	return f.session, nil
}

func (f *fakeSource) Roster(ctx context.Context, id string) ([]attendance.Record, error) {
	return f.records, nil
}

func TestWorker_ExportsStoppedSession(t *testing.T) {
	up := &fakeUploader{}
	src := &fakeSource{
		session: session,
		records: []attendance.Record{{StudentName: "Alice", MarkedAt: session.StartedAt.Add(time.Minute), Verified: true}},
	}
	w := NewWorker(src, New(up, "bucket", "rosters", nil), nil)

	require.NoError(t, w.Handle(context.Background(), queue.Job{Kind: queue.KindSessionStarted, SessionID: "s-1"}))
	assert.Nil(t, up.in)

	require.NoError(t, w.Handle(context.Background(), queue.Job{Kind: queue.KindSessionStopped, SessionID: "s-1"}))
	require.NotNil(t, up.in)
	assert.Equal(t, "rosters/2024/09/02/s-1.csv", *up.in.Key)
	assert.Contains(t, up.body, "Alice,2024-09-02T23:31:00Z,true")
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	up := &fakeUploader{}
	src := &fakeSource{session: session, failures: 2}
	w := NewWorker(src, New(up, "bucket", "rosters", nil), nil)
	w.backoff = time.Millisecond

	require.NoError(t, w.Handle(context.Background(), queue.Job{Kind: queue.KindSessionStopped, SessionID: "s-1"}))
	assert.Equal(t, 3, src.calls)
	assert.NotNil(t, up.in)
}

func TestWorker_GivesUp(t *testing.T) {
	src := &fakeSource{session: session, failures: 10}
	w := NewWorker(src, New(&fakeUploader{}, "bucket", "rosters", nil), nil)
	w.backoff = time.Millisecond

	err := w.Handle(context.Background(), queue.Job{Kind: queue.KindSessionStopped, SessionID: "s-1"})
	assert.EqualError(t, err, "store down")
	assert.Equal(t, 3, src.calls)
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	up := &fakeUploader{}
	w := NewWorker(&fakeSource{session: session}, New(up, "bucket", "rosters", nil), nil)

	jobs := make(chan queue.Job, 2)
	jobs <- queue.Job{Kind: queue.KindAttendanceMarked, SessionID: "s-1", RecordID: "r-1"}
	jobs <- queue.Job{Kind: queue.KindSessionStopped, SessionID: "s-1"}
	close(jobs)

	w.Run(context.Background(), jobs)
	require.NotNil(t, up.in)
	assert.Equal(t, "bucket", *up.in.Bucket)
}
