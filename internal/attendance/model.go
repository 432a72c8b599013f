package attendance

import (
	"cmp"
	"slices"
	"time"
)

// StatusPresent is the only status a record is ever created with.
const StatusPresent = "present"

// Session is a time-bounded attendance-taking window.
type Session struct {
	ID        string     `json:"id"`
	Active    bool       `json:"active"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedBy string     `json:"created_by"`
}

// Record is one student's claim of presence within a session.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	StudentName string    `json:"student_name"`
	MarkedAt    time.Time `json:"marked_at"`
	Verified    bool      `json:"verified"`
	Status      string    `json:"status"`
}

// SortRoster orders records most recent first. Records without a timestamp
// sort as the oldest; ties keep a stable name order.
func SortRoster(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		if c := b.MarkedAt.Compare(a.MarkedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.StudentName, b.StudentName)
	})
}
