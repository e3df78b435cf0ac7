package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore persists users, communities and threads in Postgres or SQLite.
type SQLStore struct {
	db  *DB
	c   conn
	now func() time.Time
}

func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{
		db:  db,
		c:   conn{q: db.DB, dialect: db.Dialect},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLStore) DB() *DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction. On a single-connection pool every query
// inside fn must go through the conn it is given.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx conn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(conn{q: tx, dialect: s.db.Dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func orderBy(sort SortOrder) string {
	if sort == SortAsc {
		return "created_at ASC, id ASC"
	}
	return "created_at DESC, id DESC"
}
