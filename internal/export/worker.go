package export

import (
	"context"
	"time"

	"liveattend/internal/attendance"
	"liveattend/internal/logging"
	"liveattend/internal/metrics"
	"liveattend/internal/queue"
)

// Source loads the data an export needs.
type Source interface {
	Session(ctx context.Context, id string) (attendance.Session, error)
	Roster(ctx context.Context, sessionID string) ([]attendance.Record, error)
}

// Worker turns lifecycle jobs into roster exports.
type Worker struct {
	src      Source
	exp      *Exporter
	log      logging.Logger
	attempts int
	backoff  time.Duration
}

func NewWorker(src Source, exp *Exporter, log logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{src: src, exp: exp, log: log.With("module", "worker"), attempts: 3, backoff: time.Second}
}

// Run handles jobs until the channel closes or ctx is cancelled.
func (w *Worker) Run(ctx context.Context, jobs <-chan queue.Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			outcome := "ok"
			if err := w.Handle(ctx, job); err != nil {
				outcome = "error"
				w.log.Error(ctx, "job failed", "kind", job.Kind, "session_id", job.SessionID, "err", err)
			}
			metrics.JobsProcessed.WithLabelValues(job.Kind, outcome).Inc()
		}
	}
}

// Handle processes one job. Only session.stopped does real work.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindSessionStopped:
		return w.retry(ctx, func() error { return w.export(ctx, job.SessionID) })
	case queue.KindSessionStarted, queue.KindAttendanceMarked:
		w.log.Debug(ctx, "job received", "kind", job.Kind, "session_id", job.SessionID, "record_id", job.RecordID)
	default:
		w.log.Warn(ctx, "unknown job kind", "kind", job.Kind)
	}
	return nil
}

func (w *Worker) export(ctx context.Context, sessionID string) error {
	s, err := w.src.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	records, err := w.src.Roster(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = w.exp.Export(ctx, s, records)
	return err
}

func (w *Worker) retry(ctx context.Context, fn func() error) error {
	var err error
	delay := w.backoff
	for i := 0; i < w.attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == w.attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
