package attendance

import "context"

// Store is the persistence capability the Coordinator depends on. Backends
// assign ids and timestamps and must enforce both invariants atomically:
//
//   - CreateSession fails with common.ErrConflict while another session is active;
//   - InsertRecord fails with common.ErrDuplicate for an existing
//     (session, student name) pair.
//
// Connectivity failures are reported wrapped in common.ErrStoreUnavailable.
type Store interface {
	// CreateSession inserts an active session.
	CreateSession(ctx context.Context, createdBy string) (Session, error)
	// EndSession deactivates the session if, and only if, it is active.
	// Otherwise it returns common.ErrNotFound.
	EndSession(ctx context.Context, id string) (Session, error)
	// GetSession returns common.ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (Session, error)
	// ActiveSessions returns at most limit active sessions, newest first.
	ActiveSessions(ctx context.Context, limit int) ([]Session, error)

	// InsertRecord stores a record. Backends that can check it atomically
	// return common.ErrInactiveSession when the session is not active.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	// FindRecord returns nil when no record matches (session, name).
	FindRecord(ctx context.Context, sessionID, studentName string) (*Record, error)
	// ListRecords returns every record of a session in no particular order.
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)

	Ping(ctx context.Context) error
	Close() error
}
