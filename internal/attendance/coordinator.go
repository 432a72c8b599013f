// Package attendance owns the session lifecycle and attendance marking rules:
// at most one active session at a time, and at most one record per student
// name within a session.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"liveattend/internal/common"
	"liveattend/internal/feed"
	"liveattend/internal/logging"
	"liveattend/internal/metrics"
	"liveattend/internal/queue"
)

// Jobs receives lifecycle jobs for background processing.
type Jobs interface {
	Publish(ctx context.Context, job queue.Job) error
}

// Coordinator mediates every write to the store and serves live views.
type Coordinator struct {
	store  Store
	broker feed.Broker
	jobs   Jobs
	log    logging.Logger
	watch  feed.WatchOptions
	now    func() time.Time

	// reconciled active-session view, maintained by Run
	mu     sync.RWMutex
	active *Session
	live   bool
	gen    uint64
}

type Option func(*Coordinator)

func WithJobs(j Jobs) Option { return func(c *Coordinator) { c.jobs = j } }

func WithLogger(l logging.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithWatchOptions(o feed.WatchOptions) Option { return func(c *Coordinator) { c.watch = o } }

// NewCoordinator creates a coordinator over store. Change notifications are
// published on broker.
func NewCoordinator(store Store, broker feed.Broker, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		broker: broker,
		log:    logging.Nop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("module", "coordinator")
	return c
}

// Run keeps the reconciled active-session view in sync with the store until
// ctx is cancelled. Without Run, ActiveSession always reads the store.
func (c *Coordinator) Run(ctx context.Context) {
	type view struct {
		session *Session
		gen     uint64
	}
	query := func(ctx context.Context) (view, error) {
		c.mu.RLock()
		gen := c.gen
		c.mu.RUnlock()
		s, err := c.readActive(ctx)
		return view{session: s, gen: gen}, err
	}
	stream := feed.Watch(ctx, c.broker, feed.TopicSessions, query, c.watch)
	defer stream.Close()

	for snap := range stream.C {
		c.mu.Lock()
		switch {
		case snap.Degraded:
			if c.live {
				c.log.Warn(ctx, "active session view degraded", "err", snap.Err)
			}
			c.live = false
		case snap.Value.gen == c.gen:
			// Results of queries that raced with a local write are discarded;
			// the write's own notification brings a fresh one.
			c.active = snap.Value.session
			c.live = true
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.live = false
	c.mu.Unlock()
}

// ActiveSession returns the active session, or nil when there is none.
func (c *Coordinator) ActiveSession(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	if c.live {
		s := c.active
		c.mu.RUnlock()
		if s == nil {
			return nil, nil
		}
		cp := *s
		return &cp, nil
	}
	c.mu.RUnlock()
	return c.readActive(ctx)
}

func (c *Coordinator) readActive(ctx context.Context) (*Session, error) {
	list, err := c.store.ActiveSessions(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (c *Coordinator) setActive(s *Session) {
	c.mu.Lock()
	c.active = s
	c.gen++
	c.mu.Unlock()
}

// StartSession opens a new session. It fails with common.ErrConflict while
// another session is active; the store's uniqueness constraint closes the
// window between the check and the insert.
func (c *Coordinator) StartSession(ctx context.Context, createdBy string) (Session, error) {
	if createdBy == "" {
		createdBy = "teacher"
	}
	current, err := c.readActive(ctx)
	if err != nil {
		return Session{}, err
	}
	if current != nil {
		return Session{}, fmt.Errorf("%w (session %s)", common.ErrConflict, current.ID)
	}

	s, err := c.store.CreateSession(ctx, createdBy)
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			c.log.Info(ctx, "concurrent session start rejected", "created_by", createdBy)
		}
		return Session{}, err
	}
	cp := s
	c.setActive(&cp)
	metrics.SessionsStarted.Inc()
	c.log.Info(ctx, "session started", "session_id", s.ID, "created_by", createdBy)

	c.notify(ctx, feed.TopicSessions)
	c.enqueue(ctx, queue.Job{Kind: queue.KindSessionStarted, SessionID: s.ID})
	return s, nil
}

// StopSession ends the session with the given id. Stopping an unknown or
// already stopped session fails with common.ErrNotFound.
func (c *Coordinator) StopSession(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: session id is required", common.ErrNotFound)
	}
	s, err := c.store.EndSession(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == id {
		c.active = nil
	}
	c.gen++
	c.mu.Unlock()
	metrics.SessionsStopped.Inc()
	c.log.Info(ctx, "session stopped", "session_id", s.ID)

	c.notify(ctx, feed.TopicSessions)
	c.enqueue(ctx, queue.Job{Kind: queue.KindSessionStopped, SessionID: s.ID})
	return nil
}

// MarkAttendance records a verified student's presence in the active session.
// Checks run in order: name, verification, session state, uniqueness.
func (c *Coordinator) MarkAttendance(ctx context.Context, sessionID, studentName string, verified bool) (Record, error) {
	name := strings.TrimSpace(studentName)
	if name == "" {
		return Record{}, c.reject(ctx, "validation", fmt.Errorf("%w: student name is required", common.ErrValidation))
	}
	if !verified {
		return Record{}, c.reject(ctx, "verification", common.ErrVerificationFailed)
	}

	s, err := c.store.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, common.ErrNotFound), err == nil && !s.Active:
		return Record{}, c.reject(ctx, "inactive", fmt.Errorf("%w: %s", common.ErrInactiveSession, sessionID))
	case err != nil:
		return Record{}, err
	}

	existing, err := c.store.FindRecord(ctx, sessionID, name)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		return Record{}, c.reject(ctx, "duplicate", common.ErrDuplicate)
	}

	rec, err := c.store.InsertRecord(ctx, Record{
		SessionID:   sessionID,
		StudentName: name,
		Verified:    true,
		Status:      StatusPresent,
	})
	switch {
	case errors.Is(err, common.ErrDuplicate):
		return Record{}, c.reject(ctx, "duplicate", err)
	case errors.Is(err, common.ErrInactiveSession):
		return Record{}, c.reject(ctx, "inactive", err)
	case err != nil:
		return Record{}, err
	}

	metrics.AttendanceMarked.Inc()
	c.log.Info(ctx, "attendance marked", "session_id", sessionID, "record_id", rec.ID)
	c.notify(ctx, feed.RosterTopic(sessionID))
	c.enqueue(ctx, queue.Job{Kind: queue.KindAttendanceMarked, SessionID: sessionID, RecordID: rec.ID})
	return rec, nil
}

func (c *Coordinator) reject(ctx context.Context, reason string, err error) error {
	metrics.AttendanceRejected.WithLabelValues(reason).Inc()
	c.log.Debug(ctx, "attendance rejected", "reason", reason, "err", err)
	return err
}

// Session returns a session by id.
func (c *Coordinator) Session(ctx context.Context, id string) (Session, error) {
	return c.store.GetSession(ctx, id)
}

// Roster returns the ordered roster of a session.
func (c *Coordinator) Roster(ctx context.Context, sessionID string) ([]Record, error) {
	records, err := c.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	SortRoster(records)
	return records, nil
}

// SubscribeRoster streams the full ordered roster of a session, starting with
// the current state and again after every change.
func (c *Coordinator) SubscribeRoster(ctx context.Context, sessionID string) *feed.Stream[[]Record] {
	query := func(ctx context.Context) ([]Record, error) { return c.Roster(ctx, sessionID) }
	return track("roster", feed.Watch(ctx, c.broker, feed.RosterTopic(sessionID), query, c.watch))
}

// SubscribeActive streams the active session (nil when none).
func (c *Coordinator) SubscribeActive(ctx context.Context) *feed.Stream[*Session] {
	return track("active", feed.Watch(ctx, c.broker, feed.TopicSessions, c.readActive, c.watch))
}

func track[T any](kind string, s *feed.Stream[T]) *feed.Stream[T] {
	g := metrics.StreamSubscribers.WithLabelValues(kind)
	g.Inc()
	go func() {
		<-s.Done()
		g.Dec()
	}()
	return s
}

// Ping checks the store and the broker.
func (c *Coordinator) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return err
	}
	return c.broker.Ping(ctx)
}

// notify only logs failures; the write it announces is already committed.
func (c *Coordinator) notify(ctx context.Context, topic string) {
	if err := c.broker.Publish(ctx, topic); err != nil {
		c.log.Warn(ctx, "change notification failed", "topic", topic, "err", err)
	}
}

func (c *Coordinator) enqueue(ctx context.Context, job queue.Job) {
	if c.jobs == nil {
		return
	}
	job.At = c.now().UTC()
	if err := c.jobs.Publish(ctx, job); err != nil {
		c.log.Warn(ctx, "job publish failed", "kind", job.Kind, "session_id", job.SessionID, "err", err)
	}
}
