package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record lookup finds nothing. Callers treat
// it as an absent value, not a failure.
var ErrNotFound = errors.New("store: not found")

// Store is the typed facade over the persisted log. Implementations must be
// safe for concurrent use; every operation is atomic on a single record.
type Store interface {
	// Messages (append-only).
	AppendMessage(ctx context.Context, m Message) (*Message, error)
	ListMessages(ctx context.Context) ([]Message, error)

	// Notables.
	AppendNotable(ctx context.Context, n Notable) (*Notable, error)
	ListNotables(ctx context.Context) ([]Notable, error)

	// Background tasks. CompleteTask/FailTask are no-ops when the task is
	// already terminal.
	CreateTask(ctx context.Context, toolName, input string) (string, error)
	CompleteTask(ctx context.Context, id, result string) error
	FailTask(ctx context.Context, id, errMsg string) error
	GetTask(ctx context.Context, id string) (*BackgroundTask, error)

	// KV state (upsert semantics).
	GetState(ctx context.Context, key, def string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Sessions. StartSession leaves the new session open; the facade keeps
	// the invariant that at most one session is open.
	StartSession(ctx context.Context, handoffSummary string) (*Session, error)
	EndCurrentSession(ctx context.Context) error
	CurrentSession(ctx context.Context) (*Session, error)

	Close() error
}

// Open creates a Store for the given driver. Supported drivers are "sqlite"
// (dsn is a file path) and "postgres" (dsn is a pgx connection string).
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
