// Package teacher drives one teacher's attendance session: start, stop and
// a live view of the roster.
package teacher

import (
	"context"
	"errors"
	"sync"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
	"liveattend/internal/feed"
	"liveattend/internal/logging"
)

// Coordinator is the part of the attendance API the controller needs.
type Coordinator interface {
	StartSession(ctx context.Context, createdBy string) (attendance.Session, error)
	StopSession(ctx context.Context, id string) error
	ActiveSession(ctx context.Context) (*attendance.Session, error)
	SubscribeRoster(ctx context.Context, sessionID string) *feed.Stream[[]attendance.Record]
}

// View is what a teacher screen renders.
type View struct {
	Session  *attendance.Session
	Roster   []attendance.Record
	Degraded bool
	Err      error
}

type Controller struct {
	coord     Coordinator
	createdBy string
	log       logging.Logger
	onView    func(View)

	mu       sync.Mutex
	session  *attendance.Session
	roster   feed.Snapshot[[]attendance.Record]
	stream   *feed.Stream[[]attendance.Record]
	observer sync.WaitGroup
}

// New creates a controller. onView, if set, is called from a background
// goroutine after every state change.
func New(coord Coordinator, createdBy string, log logging.Logger, onView func(View)) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{
		coord:     coord,
		createdBy: createdBy,
		log:       log.With("module", "teacher"),
		onView:    onView,
	}
}

// Resume picks up a session that is already active, if any, and starts
// observing its roster.
func (c *Controller) Resume(ctx context.Context) (*attendance.Session, error) {
	s, err := c.coord.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	c.track(*s)
	c.log.Info(ctx, "resumed session", "session_id", s.ID)
	return s, nil
}

// Start opens a new session and observes its roster.
func (c *Controller) Start(ctx context.Context) (attendance.Session, error) {
	s, err := c.coord.StartSession(ctx, c.createdBy)
	if err != nil {
		return attendance.Session{}, err
	}
	c.track(s)
	return s, nil
}

// Stop ends the tracked session. Without one it does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	err := c.coord.StopSession(ctx, s.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	// ErrNotFound: someone else already stopped it; stop tracking all the same.
	c.untrack()
	c.emit()
	return err
}

// Current returns the tracked session, or nil.
func (c *Controller) Current() *attendance.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

// View returns the current screen state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	v := View{Roster: c.roster.Value, Degraded: c.roster.Degraded, Err: c.roster.Err}
	if c.session != nil {
		cp := *c.session
		v.Session = &cp
	}
	return v
}

// Close stops observing the roster.
func (c *Controller) Close() {
	c.untrack()
}

func (c *Controller) track(s attendance.Session) {
	c.untrack()

	stream := c.coord.SubscribeRoster(context.Background(), s.ID)
	c.mu.Lock()
	c.session = &s
	c.roster = feed.Snapshot[[]attendance.Record]{}
	c.stream = stream
	c.mu.Unlock()
	c.emit()

	c.observer.Add(1)
	go func() {
		defer c.observer.Done()
		for snap := range stream.C {
			c.mu.Lock()
			if c.stream != stream {
				c.mu.Unlock()
				return
			}
			c.roster = snap
			c.mu.Unlock()
			if snap.Degraded {
				c.log.Warn(context.Background(), "roster feed degraded", "session_id", s.ID, "err", snap.Err)
			}
			c.emit()
		}
	}()
}

func (c *Controller) untrack() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.session = nil
	c.roster = feed.Snapshot[[]attendance.Record]{}
	c.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
	c.observer.Wait()
}

func (c *Controller) emit() {
	if c.onView == nil {
		return
	}
	c.onView(c.View())
}
