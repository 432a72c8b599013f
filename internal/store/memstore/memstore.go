// Package memstore is an in-process attendance.Store used for development and
// tests. Every operation runs under one mutex, so both invariants hold
// atomically.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
)

type Store struct {
	mu       sync.Mutex
	sessions map[string]attendance.Session
	records  map[string][]attendance.Record
	now      func() time.Time
	down     error
}

var _ attendance.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[string]attendance.Session),
		records:  make(map[string][]attendance.Record),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the server clock.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetUnavailable makes every operation fail with err wrapped as a
// connectivity failure. nil restores the store.
func (s *Store) SetUnavailable(err error) {
	s.mu.Lock()
	s.down = err
	s.mu.Unlock()
}

func (s *Store) check(op string) error {
	if s.down != nil {
		return common.Unavailable(op, s.down)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, createdBy string) (attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("sessions.insert"); err != nil {
		return attendance.Session{}, err
	}
	for _, existing := range s.sessions {
		if existing.Active {
			return attendance.Session{}, fmt.Errorf("%w (session %s)", common.ErrConflict, existing.ID)
		}
	}
	sess := attendance.Session{
		ID:        uuid.NewString(),
		Active:    true,
		StartedAt: s.now(),
		CreatedBy: createdBy,
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) EndSession(ctx context.Context, id string) (attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("sessions.update"); err != nil {
		return attendance.Session{}, err
	}
	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return attendance.Session{}, fmt.Errorf("%w: no active session %s", common.ErrNotFound, id)
	}
	ended := s.now()
	sess.Active = false
	sess.EndedAt = &ended
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("sessions.get"); err != nil {
		return attendance.Session{}, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return attendance.Session{}, fmt.Errorf("%w: session %s", common.ErrNotFound, id)
	}
	return sess, nil
}

func (s *Store) ActiveSessions(ctx context.Context, limit int) ([]attendance.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("sessions.query"); err != nil {
		return nil, err
	}
	var out []attendance.Session
	for _, sess := range s.sessions {
		if sess.Active {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("records.insert"); err != nil {
		return attendance.Record{}, err
	}
	if sess, ok := s.sessions[rec.SessionID]; !ok || !sess.Active {
		return attendance.Record{}, fmt.Errorf("%w: %s", common.ErrInactiveSession, rec.SessionID)
	}
	for _, r := range s.records[rec.SessionID] {
		if r.StudentName == rec.StudentName {
			return attendance.Record{}, common.ErrDuplicate
		}
	}
	rec.ID = uuid.NewString()
	rec.MarkedAt = s.now()
	s.records[rec.SessionID] = append(s.records[rec.SessionID], rec)
	return rec, nil
}

func (s *Store) FindRecord(ctx context.Context, sessionID, studentName string) (*attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("records.query"); err != nil {
		return nil, err
	}
	for _, r := range s.records[sessionID] {
		if r.StudentName == studentName {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) ListRecords(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("records.query"); err != nil {
		return nil, err
	}
	return append([]attendance.Record(nil), s.records[sessionID]...), nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check("ping")
}

func (s *Store) Close() error { return nil }
