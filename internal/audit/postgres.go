package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists audit entries to a Postgres database via pgx's
// database/sql driver, the production-scale alternative to SQLiteStore
// for deployments that already run Postgres for everything else.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and ensures the
// audit table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS task_audit (
	id          BIGSERIAL PRIMARY KEY,
	task        TEXT NOT NULL,
	backend     TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);`

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_audit (task, backend, success, duration_ms, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		e.Task, e.Backend, e.Success, e.Duration.Milliseconds(), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
