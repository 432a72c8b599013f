// Package sqlstore persists sessions and attendance records in Postgres or
// SQLite. Both invariants are enforced by the schema: a partial unique index
// allows one active session, and (session_id, student_name) is unique.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Dialect captures the differences between the supported databases.
type Dialect struct {
	name    string
	goose   string
	now     string
	ordinal bool
}

var (
	Postgres = Dialect{name: "postgres", goose: "postgres", now: "NOW()"}
	SQLite   = Dialect{name: "sqlite", goose: "sqlite3", now: "strftime('%Y-%m-%d %H:%M:%f', 'now')", ordinal: true}
)

func (d Dialect) String() string { return d.name }

// rebind rewrites $n placeholders to SQLite's ?n form.
func (d Dialect) rebind(query string) string {
	if !d.ordinal {
		return query
	}
	return strings.ReplaceAll(query, "$", "?")
}

const sessionColumns = `id, active, started_at, ended_at, created_by`
const recordColumns = `id, session_id, student_name, marked_at, verified, status`

// Store implements attendance.Store over database/sql.
type Store struct {
	db *sql.DB
	d  Dialect
}

var _ attendance.Store = (*Store)(nil)

// New creates a store. The schema is created by Migrate.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Migrate applies the embedded migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrations, "migrations/"+s.d.name)
	if err != nil {
		return err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(s.d.goose); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (s *Store) q(query string) string { return s.d.rebind(query) }

func (s *Store) CreateSession(ctx context.Context, createdBy string) (attendance.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO sessions (id, active, created_by)
		VALUES ($1, TRUE, $2)
		RETURNING `+sessionColumns), uuid.NewString(), createdBy)
	sess, err := scanSession(row)
	if err != nil {
		if isUniqueViolation(err) {
			return attendance.Session{}, fmt.Errorf("%w: a session is already active", common.ErrConflict)
		}
		return attendance.Session{}, common.Failed(ctx, "sessions.insert", err)
	}
	return sess, nil
}

func (s *Store) EndSession(ctx context.Context, id string) (attendance.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		UPDATE sessions
		SET active = FALSE, ended_at = `+s.d.now+`
		WHERE id = $1 AND active
		RETURNING `+sessionColumns), id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Session{}, fmt.Errorf("%w: no active session %s", common.ErrNotFound, id)
		}
		return attendance.Session{}, common.Failed(ctx, "sessions.update", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (attendance.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`), id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Session{}, fmt.Errorf("%w: session %s", common.ErrNotFound, id)
		}
		return attendance.Session{}, common.Failed(ctx, "sessions.get", err)
	}
	return sess, nil
}

func (s *Store) ActiveSessions(ctx context.Context, limit int) ([]attendance.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE active ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, common.Failed(ctx, "sessions.query", err)
	}
	defer rows.Close()
	var res []attendance.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, common.Failed(ctx, "sessions.query", err)
		}
		res = append(res, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Failed(ctx, "sessions.query", err)
	}
	return res, nil
}

// InsertRecord only inserts while the session is active; zero affected rows
// means it was not.
func (s *Store) InsertRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = attendance.StatusPresent
	}
	row := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO attendance_records (id, session_id, student_name, verified, status)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS TEXT), CAST($4 AS BOOLEAN), CAST($5 AS TEXT)
		WHERE EXISTS (SELECT 1 FROM sessions WHERE id = $2 AND active)
		RETURNING marked_at`), rec.ID, rec.SessionID, rec.StudentName, rec.Verified, rec.Status)
	var at dbTime
	if err := row.Scan(&at); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return attendance.Record{}, fmt.Errorf("%w: %s", common.ErrInactiveSession, rec.SessionID)
		case isUniqueViolation(err):
			return attendance.Record{}, common.ErrDuplicate
		}
		return attendance.Record{}, common.Failed(ctx, "records.insert", err)
	}
	rec.MarkedAt = at.Time
	return rec, nil
}

func (s *Store) FindRecord(ctx context.Context, sessionID, studentName string) (*attendance.Record, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_id = $1 AND student_name = $2
		LIMIT 1`), sessionID, studentName)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, common.Failed(ctx, "records.find", err)
	}
	return &rec, nil
}

func (s *Store) ListRecords(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY marked_at DESC`), sessionID)
	if err != nil {
		return nil, common.Failed(ctx, "records.query", err)
	}
	defer rows.Close()
	var res []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, common.Failed(ctx, "records.query", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, common.Failed(ctx, "records.query", err)
	}
	return res, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return common.Failed(ctx, "ping", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (attendance.Session, error) {
	var (
		sess    attendance.Session
		started dbTime
		ended   dbTime
	)
	if err := row.Scan(&sess.ID, &sess.Active, &started, &ended, &sess.CreatedBy); err != nil {
		return attendance.Session{}, err
	}
	sess.StartedAt = started.Time
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}

func scanRecord(row scanner) (attendance.Record, error) {
	var (
		rec attendance.Record
		at  dbTime
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentName, &at, &rec.Verified, &rec.Status); err != nil {
		return attendance.Record{}, err
	}
	rec.MarkedAt = at.Time
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// dbTime scans timestamps from either driver. SQLite hands back text for
// computed columns such as RETURNING expressions.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: x.UTC(), Valid: true}
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	case int64:
		*t = dbTime{Time: time.Unix(x, 0).UTC(), Valid: true}
		return nil
	}
	return fmt.Errorf("sqlstore: cannot scan %T into timestamp", v)
}

func (t *dbTime) parse(s string) error {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = dbTime{Time: ts.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("sqlstore: bad timestamp %s", strconv.Quote(s))
}
