// Package store opens the configured attendance store and the shared Redis
// client.
package store

import (
	"context"
	"fmt"

	"liveattend/internal/attendance"
	"liveattend/internal/config"
	"liveattend/internal/store/memstore"
	"liveattend/internal/store/mongostore"
	"liveattend/internal/store/sqlstore"
)

// Backends accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

// Open connects to the store selected by cfg and prepares its schema.
func Open(ctx context.Context, cfg config.App) (attendance.Store, error) {
	switch cfg.StoreBackend {
	case BackendMemory, "":
		return memstore.New(), nil
	case BackendPostgres:
		return openSQL(ctx, "pgx", cfg.DatabaseURL, sqlstore.Postgres)
	case BackendSQLite:
		return openSQL(ctx, "sqlite3", cfg.SQLitePath+"?_foreign_keys=on&_busy_timeout=5000", sqlstore.SQLite)
	case BackendMongo:
		db, err := NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		s := mongostore.New(db)
		if err := s.EnsureIndexes(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openSQL(ctx context.Context, driver, dsn string, d sqlstore.Dialect) (attendance.Store, error) {
	db, err := NewDB(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	s := sqlstore.New(db.Client, d)
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
