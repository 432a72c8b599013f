// Package mongostore persists sessions and attendance records in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"liveattend/internal/attendance"
	"liveattend/internal/common"
)

const (
	sessionsCollection = "sessions"
	recordsCollection  = "attendance_records"
)

type sessionDoc struct {
	ID        string     `bson:"_id"`
	Active    bool       `bson:"active"`
	StartedAt time.Time  `bson:"started_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty"`
	CreatedBy string     `bson:"created_by"`
}

func (d sessionDoc) model() attendance.Session {
	s := attendance.Session{
		ID:        d.ID,
		Active:    d.Active,
		StartedAt: d.StartedAt.UTC(),
		CreatedBy: d.CreatedBy,
	}
	if d.EndedAt != nil {
		t := d.EndedAt.UTC()
		s.EndedAt = &t
	}
	return s
}

type recordDoc struct {
	ID          string    `bson:"_id"`
	SessionID   string    `bson:"session_id"`
	StudentName string    `bson:"student_name"`
	MarkedAt    time.Time `bson:"marked_at"`
	Verified    bool      `bson:"verified"`
	Status      string    `bson:"status"`
}

func (d recordDoc) model() attendance.Record {
	return attendance.Record{
		ID:          d.ID,
		SessionID:   d.SessionID,
		StudentName: d.StudentName,
		MarkedAt:    d.MarkedAt.UTC(),
		Verified:    d.Verified,
		Status:      d.Status,
	}
}

type Store struct {
	db       *mongo.Database
	sessions *mongo.Collection
	records  *mongo.Collection
}

var _ attendance.Store = (*Store)(nil)

func New(db *mongo.Database) *Store {
	return &Store{
		db:       db,
		sessions: db.Collection(sessionsCollection),
		records:  db.Collection(recordsCollection),
	}
}

// EnsureIndexes creates the unique indexes both invariants rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "active", Value: 1}},
		Options: options.Index().
			SetName("sessions_one_active").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"active": true}),
	})
	if err != nil {
		return fmt.Errorf("sessions index: %w", err)
	}
	_, err = s.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "student_name", Value: 1}},
		Options: options.Index().SetName("records_one_per_student").SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("records index: %w", err)
	}
	return nil
}

// upsertNew inserts a document under a fresh id and lets the server stamp
// the time field.
func upsertNew(ctx context.Context, coll *mongo.Collection, id string, fields bson.M, timeField string, out any) error {
	return coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{
			"$setOnInsert": fields,
			"$currentDate": bson.M{timeField: true},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(out)
}

func (s *Store) CreateSession(ctx context.Context, createdBy string) (attendance.Session, error) {
	var doc sessionDoc
	err := upsertNew(ctx, s.sessions, uuid.NewString(), bson.M{"active": true, "created_by": createdBy}, "started_at", &doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return attendance.Session{}, fmt.Errorf("%w: a session is already active", common.ErrConflict)
		}
		return attendance.Session{}, common.Failed(ctx, "sessions.insert", err)
	}
	return doc.model(), nil
}

func (s *Store) EndSession(ctx context.Context, id string) (attendance.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "active": true},
		bson.M{
			"$set":         bson.M{"active": false},
			"$currentDate": bson.M{"ended_at": true},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return attendance.Session{}, fmt.Errorf("%w: no active session %s", common.ErrNotFound, id)
	}
	if err != nil {
		return attendance.Session{}, common.Failed(ctx, "sessions.update", err)
	}
	return doc.model(), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (attendance.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return attendance.Session{}, fmt.Errorf("%w: session %s", common.ErrNotFound, id)
	}
	if err != nil {
		return attendance.Session{}, common.Failed(ctx, "sessions.get", err)
	}
	return doc.model(), nil
}

func (s *Store) ActiveSessions(ctx context.Context, limit int) ([]attendance.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.sessions.Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, common.Failed(ctx, "sessions.query", err)
	}
	defer cursor.Close(ctx)

	var res []attendance.Session
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		res = append(res, doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, common.Failed(ctx, "sessions.query", err)
	}
	return res, nil
}

// InsertRecord checks the session before inserting. The compound unique
// index rejects a second record for the same student. A stop can land between
// the check and the insert, so the session is read again afterwards and a
// record stamped after the session ended is removed.
func (s *Store) InsertRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	sess, err := s.GetSession(ctx, rec.SessionID)
	switch {
	case errors.Is(err, common.ErrNotFound), err == nil && !sess.Active:
		return attendance.Record{}, fmt.Errorf("%w: %s", common.ErrInactiveSession, rec.SessionID)
	case err != nil:
		return attendance.Record{}, err
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = attendance.StatusPresent
	}
	var doc recordDoc
	err = upsertNew(ctx, s.records, rec.ID, bson.M{
		"session_id":   rec.SessionID,
		"student_name": rec.StudentName,
		"verified":     rec.Verified,
		"status":       rec.Status,
	}, "marked_at", &doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return attendance.Record{}, common.ErrDuplicate
		}
		return attendance.Record{}, common.Failed(ctx, "records.insert", err)
	}
	if err := s.discardIfLate(ctx, doc); err != nil {
		return attendance.Record{}, err
	}
	return doc.model(), nil
}

func (s *Store) discardIfLate(ctx context.Context, doc recordDoc) error {
	sess, err := s.GetSession(ctx, doc.SessionID)
	if err != nil {
		return err
	}
	if sess.Active || sess.EndedAt == nil || !doc.MarkedAt.After(*sess.EndedAt) {
		return nil
	}
	if _, err := s.records.DeleteOne(ctx, bson.M{"_id": doc.ID}); err != nil {
		return common.Failed(ctx, "records.delete", err)
	}
	return fmt.Errorf("%w: %s", common.ErrInactiveSession, doc.SessionID)
}

func (s *Store) FindRecord(ctx context.Context, sessionID, studentName string) (*attendance.Record, error) {
	var doc recordDoc
	err := s.records.FindOne(ctx, bson.M{"session_id": sessionID, "student_name": studentName}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Failed(ctx, "records.find", err)
	}
	rec := doc.model()
	return &rec, nil
}

func (s *Store) ListRecords(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	cursor, err := s.records.Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "marked_at", Value: -1}}),
	)
	if err != nil {
		return nil, common.Failed(ctx, "records.query", err)
	}
	defer cursor.Close(ctx)

	var res []attendance.Record
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		res = append(res, doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, common.Failed(ctx, "records.query", err)
	}
	return res, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return common.Failed(ctx, "ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}
