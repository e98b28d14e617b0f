package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migpgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/postgres/*.sql
var pgMigrations embed.FS

// PostgresStore implements Store backed by Postgres via pgx. Used when
// store_driver is "postgres"; functionally identical to the sqlite backend.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to the given DSN and runs schema migrations.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	if err := migratePostgres(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

func migratePostgres(db *sql.DB) error {
	src, err := iofs.New(pgMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}
	drv, err := migpgx.WithInstance(db, &migpgx.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx", drv)
	if err != nil {
		return fmt.Errorf("store: init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) AppendMessage(ctx context.Context, m Message) (*Message, error) {
	m.Timestamp = time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (source, content, tool_name, tool_input, timestamp, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		m.Source, m.Content, nilStr(m.ToolName), nilStr(m.ToolInput), m.Timestamp, nilStr(m.Metadata),
	).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, content, tool_name, tool_input, timestamp, metadata
		 FROM messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var m Message
		var toolName, toolInput, metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.Source, &m.Content, &toolName, &toolInput, &m.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.ToolName = toolName.String
		m.ToolInput = toolInput.String
		m.Metadata = metadata.String
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) AppendNotable(ctx context.Context, n Notable) (*Notable, error) {
	n.Timestamp = time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO notables (label, content, reason, timestamp, message_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		n.Label, n.Content, nilStr(n.Reason), n.Timestamp, nilInt64(n.MessageID),
	).Scan(&n.ID)
	if err != nil {
		return nil, fmt.Errorf("store: append notable: %w", err)
	}
	return &n, nil
}

func (s *PostgresStore) ListNotables(ctx context.Context) ([]Notable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, content, reason, timestamp, message_id
		 FROM notables ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list notables: %w", err)
	}
	defer rows.Close()

	var result []Notable
	for rows.Next() {
		var n Notable
		var reason sql.NullString
		var messageID sql.NullInt64
		if err := rows.Scan(&n.ID, &n.Label, &n.Content, &reason, &n.Timestamp, &messageID); err != nil {
			return nil, fmt.Errorf("store: scan notable: %w", err)
		}
		n.Reason = reason.String
		n.MessageID = messageID.Int64
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateTask(ctx context.Context, toolName, input string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO background_tasks (id, tool_name, input, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, toolName, input, TaskRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("store: create task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, id, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = $1, result = $2, completed_at = $3
		 WHERE id = $4 AND status = $5`,
		TaskCompleted, result, time.Now().UTC(), id, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("store: complete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailTask(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = $1, error = $2, completed_at = $3
		 WHERE id = $4 AND status = $5`,
		TaskFailed, errMsg, time.Now().UTC(), id, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("store: fail task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*BackgroundTask, error) {
	var t BackgroundTask
	var result, errMsg sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tool_name, input, status, result, error, created_at, completed_at
		 FROM background_tasks WHERE id = $1`, id,
	).Scan(&t.ID, &t.ToolName, &t.Input, &t.Status, &result, &errMsg, &t.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	t.Result = result.String
	t.Error = errMsg.String
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func (s *PostgresStore) GetState(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get state: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_state (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: set state: %w", err)
	}
	return nil
}

func (s *PostgresStore) StartSession(ctx context.Context, handoffSummary string) (*Session, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = $1 WHERE ended_at IS NULL`, now); err != nil {
		return nil, fmt.Errorf("store: close open sessions: %w", err)
	}

	sess := &Session{
		ID:             uuid.Must(uuid.NewV7()).String(),
		StartedAt:      now,
		HandoffSummary: handoffSummary,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, handoff_summary) VALUES ($1, $2, $3)`,
		sess.ID, sess.StartedAt, nilStr(handoffSummary),
	)
	if err != nil {
		return nil, fmt.Errorf("store: start session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) EndCurrentSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = $1 WHERE ended_at IS NULL`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}

func (s *PostgresStore) CurrentSession(ctx context.Context) (*Session, error) {
	var sess Session
	var summary sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, handoff_summary, ended_at
		 FROM sessions WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`,
	).Scan(&sess.ID, &sess.StartedAt, &summary, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: current session: %w", err)
	}
	sess.HandoffSummary = summary.String
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	return &sess, nil
}
