// Package student implements the student side: watch for a live session,
// verify, and mark attendance once.
package student

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
	"liveattend/internal/feed"
	"liveattend/internal/logging"
	"liveattend/internal/verify"
)

// DefaultNoticeTTL is how long a notice stays visible.
const DefaultNoticeTTL = 5 * time.Second

// Coordinator is the part of the attendance API the flow needs.
type Coordinator interface {
	SubscribeActive(ctx context.Context) *feed.Stream[*attendance.Session]
	MarkAttendance(ctx context.Context, sessionID, studentName string, verified bool) (attendance.Record, error)
}

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a transient message. At most one is visible at a time.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

// State is what a student screen renders.
type State struct {
	Session  *attendance.Session
	Degraded bool
	Marked   bool
	Name     string
	Notice   *Notice
}

type Options struct {
	NoticeTTL time.Duration
	Logger    logging.Logger
	// OnChange is called after every state change, from whichever goroutine
	// caused it.
	OnChange func(State)
}

type Flow struct {
	coord Coordinator
	gate  verify.Verifier
	ttl   time.Duration
	log   logging.Logger
	on    func(State)

	mu       sync.Mutex
	session  *attendance.Session
	degraded bool
	marked   bool
	name     string
	notice   *Notice
	noticeN  uint64
	timer    *time.Timer
}

func New(coord Coordinator, gate verify.Verifier, opts Options) *Flow {
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Flow{
		coord: coord,
		gate:  gate,
		ttl:   opts.NoticeTTL,
		log:   opts.Logger.With("module", "student"),
		on:    opts.OnChange,
	}
}

// Run follows the active session until ctx is cancelled.
func (f *Flow) Run(ctx context.Context) {
	stream := f.coord.SubscribeActive(ctx)
	defer stream.Close()
	for snap := range stream.C {
		f.apply(ctx, snap)
	}
}

func (f *Flow) apply(ctx context.Context, snap feed.Snapshot[*attendance.Session]) {
	f.mu.Lock()
	f.degraded = snap.Degraded
	if snap.Degraded {
		f.mu.Unlock()
		f.log.Warn(ctx, "active session feed degraded", "err", snap.Err)
		f.changed()
		return
	}
	next := snap.Value
	if next == nil || (f.session != nil && f.session.ID != next.ID) {
		// The session ended: the next one starts with a clean form.
		f.marked = false
		f.name = ""
	}
	f.session = next
	f.mu.Unlock()
	f.changed()
}

// SetName updates the name field of the form.
func (f *Flow) SetName(name string) {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
	f.changed()
}

// Submit marks attendance for the name in the form. Every failure is also
// published as a notice; the form keeps its contents.
func (f *Flow) Submit(ctx context.Context) (attendance.Record, error) {
	f.mu.Lock()
	session, marked, name := f.session, f.marked, strings.TrimSpace(f.name)
	f.mu.Unlock()

	switch {
	case session == nil:
		return f.fail(fmt.Errorf("%w: no active attendance session", common.ErrInactiveSession), "No active attendance session")
	case marked:
		return f.fail(common.ErrDuplicate, "You have already marked your attendance for this session")
	case name == "":
		return f.fail(fmt.Errorf("%w: name is required", common.ErrValidation), "Please enter your name")
	}

	if err := f.gate.Attempt(ctx, name); err != nil {
		return f.fail(err, gateMessage(err))
	}

	rec, err := f.coord.MarkAttendance(ctx, session.ID, name, true)
	if err != nil {
		if errors.Is(err, common.ErrDuplicate) {
			f.mu.Lock()
			f.marked = f.session != nil && f.session.ID == session.ID
			f.mu.Unlock()
		}
		return f.fail(err, markMessage(err))
	}

	f.mu.Lock()
	if f.session != nil && f.session.ID == session.ID {
		f.marked = true
	}
	f.mu.Unlock()
	f.log.Info(ctx, "attendance marked", "session_id", session.ID, "record_id", rec.ID)
	f.publish(&Notice{Kind: NoticeSuccess, Message: "Attendance marked for " + name})
	return rec, nil
}

func gateMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrAlreadyInProgress):
		return "Verification is already in progress"
	case errors.Is(err, common.ErrDeviceUnavailable):
		return "Camera access denied or not available"
	case errors.Is(err, context.Canceled):
		return "Verification cancelled"
	}
	return "Face verification failed. Please try again."
}

func markMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrDuplicate):
		return "You have already marked your attendance for this session"
	case errors.Is(err, common.ErrInactiveSession):
		return "The attendance session has ended"
	}
	return "Failed to mark attendance. Please try again."
}

func (f *Flow) fail(err error, msg string) (attendance.Record, error) {
	f.publish(&Notice{Kind: NoticeError, Message: msg, Err: err})
	return attendance.Record{}, err
}

// publish replaces the visible notice and schedules its dismissal.
func (f *Flow) publish(n *Notice) {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.noticeN++
	seq := f.noticeN
	f.notice = n
	f.timer = time.AfterFunc(f.ttl, func() { f.dismiss(seq) })
	f.mu.Unlock()
	f.changed()
}

func (f *Flow) dismiss(seq uint64) {
	f.mu.Lock()
	if f.noticeN != seq {
		f.mu.Unlock()
		return
	}
	f.notice = nil
	f.timer = nil
	f.mu.Unlock()
	f.changed()
}

// State returns a copy of the current screen state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := State{Degraded: f.degraded, Marked: f.marked, Name: f.name}
	if f.session != nil {
		cp := *f.session
		st.Session = &cp
	}
	if f.notice != nil {
		n := *f.notice
		st.Notice = &n
	}
	return st
}

// Close cancels a pending notice dismissal.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.mu.Unlock()
}

func (f *Flow) changed() {
	if f.on != nil {
		f.on(f.State())
	}
}
