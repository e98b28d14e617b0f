package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migsqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore implements Store backed by a local sqlite database. This is the
// default backend; the database lives under the workspace.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sqlite database at path and runs
// schema migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("store: load migrations: %w", err)
	}
	drv, err := migsqlite.WithInstance(db, &migsqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("store: init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AppendMessage(ctx context.Context, m Message) (*Message, error) {
	m.Timestamp = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (source, content, tool_name, tool_input, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.Source, m.Content, nilStr(m.ToolName), nilStr(m.ToolInput), m.Timestamp, nilStr(m.Metadata),
	)
	if err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: append message: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context) ([]Message, error) {
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

func (s *SQLiteStore) AppendNotable(ctx context.Context, n Notable) (*Notable, error) {
	n.Timestamp = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notables (label, content, reason, timestamp, message_id)
		 VALUES (?, ?, ?, ?, ?)`,
		n.Label, n.Content, nilStr(n.Reason), n.Timestamp, nilInt64(n.MessageID),
	)
	if err != nil {
		return nil, fmt.Errorf("store: append notable: %w", err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: append notable: %w", err)
	}
	return &n, nil
}

func (s *SQLiteStore) ListNotables(ctx context.Context) ([]Notable, error) {
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

func (s *SQLiteStore) CreateTask(ctx context.Context, toolName, input string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO background_tasks (id, tool_name, input, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, toolName, input, TaskRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("store: create task: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, id, result string) error {
	// Guarded by status: terminal states are final, repeated calls are no-ops.
	_, err := s.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = ?, result = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		TaskCompleted, result, time.Now().UTC(), id, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("store: complete task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailTask(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE background_tasks SET status = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		TaskFailed, errMsg, time.Now().UTC(), id, TaskRunning,
	)
	if err != nil {
		return fmt.Errorf("store: fail task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*BackgroundTask, error) {
	var t BackgroundTask
	var result, errMsg sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tool_name, input, status, result, error, created_at, completed_at
		 FROM background_tasks WHERE id = ?`, id,
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

func (s *SQLiteStore) GetState(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get state: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: set state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StartSession(ctx context.Context, handoffSummary string) (*Session, error) {
	// Close any session left open so the single-open-session invariant holds
	// even after a crash mid-handoff.
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL`, now); err != nil {
		return nil, fmt.Errorf("store: close open sessions: %w", err)
	}

	sess := &Session{
		ID:             uuid.Must(uuid.NewV7()).String(),
		StartedAt:      now,
		HandoffSummary: handoffSummary,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, handoff_summary) VALUES (?, ?, ?)`,
		sess.ID, sess.StartedAt, nilStr(handoffSummary),
	)
	if err != nil {
		return nil, fmt.Errorf("store: start session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) EndCurrentSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE ended_at IS NULL`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: end session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CurrentSession(ctx context.Context) (*Session, error) {
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

// --- helpers ---

func nilStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nilInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
