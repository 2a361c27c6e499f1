package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists audit entries to a local SQLite file, the
// lightweight default for single-node/dev deployments -- no external
// database required, following the same "just a file" spirit as the
// teacher's FileStateStore/FileSeenStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the SQLite database at
// path and ensures the audit table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS task_audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task       TEXT NOT NULL,
	backend    TEXT NOT NULL,
	success    BOOLEAN NOT NULL,
	duration_ms INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);`

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_audit (task, backend, success, duration_ms, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		e.Task, e.Backend, e.Success, e.Duration.Milliseconds(), e.Timestamp,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
