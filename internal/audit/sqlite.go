package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the audit database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// sqlite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	createTable := `
	CREATE TABLE IF NOT EXISTS request_audit (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		status INTEGER NOT NULL,
		kind TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL,
		prompt_sha256 TEXT NOT NULL,
		output_sha256 TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);`

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	prepare(&e)

	_, err := s.db.ExecContext(ctx, `INSERT INTO request_audit
		(id, request_id, model, status, kind, strategy, duration_ms, prompt_sha256, output_sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.RequestID, e.Model, e.Status, e.Kind, e.Strategy,
		e.DurationMS, e.PromptSHA256, e.OutputSHA256, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM request_audit WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_audit").Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
