// Package audit keeps a per-request trail of generate calls. Entries hold
// hashes of prompt and answer, never their text and never the credential.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hanna4328/chat-bot/internal/database"
)

type Entry struct {
	ID           uuid.UUID
	RequestID    string
	Model        string
	Status       int
	Kind         string
	Strategy     string
	DurationMS   int64
	PromptSHA256 string
	OutputSHA256 string
	CreatedAt    time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Store is a Recorder that can also be purged and closed.
type Store interface {
	Recorder
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// NopStore discards entries. It is used when no audit DSN is configured.
type NopStore struct{}

func (NopStore) Record(context.Context, Entry) error { return nil }
func (NopStore) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (NopStore) Close() error { return nil }

// Open picks a store from dsn: "" → NopStore, "postgres://…" → Postgres
// (migrations applied), "sqlite://path" → SQLite.
func Open(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NopStore{}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := database.NewPostgresPool(dsn)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(pool, database.Migrations()); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported audit DSN scheme")
	}
}

// prepare fills the generated fields of e.
func prepare(e *Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}
