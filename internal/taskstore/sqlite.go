package taskstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/manumartinm/ps3-worker/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. The ledger is local
// state; operators delete the file to adopt a new schema.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const taskColumns = "id, filename, minio_path, status, created_at, updated_at, processing_started_at, completed_at, parquet_path, explanations_path, error_message"

// SQLiteStore keeps task documents in a local SQLite ledger.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the ledger at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", services.ErrConfiguration)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the ledger file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Apply upserts the task in one statement. The DO UPDATE branch is guarded by
// the current status; when the guard fails no row is returned.
func (s *SQLiteStore) Apply(ctx context.Context, id string, patch Patch) (*Task, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	now := formatTime(patch.timestamp())

	insertStatus := patch.Status
	if insertStatus == "" {
		insertStatus = StatusQueued
	}
	var startedAt, completedAt any
	switch {
	case patch.Status == StatusProcessing:
		startedAt = now
	case patch.Status.IsTerminal():
		completedAt = now
	}

	blocked := blockedFrom(patch.Status)
	query := `INSERT INTO tasks (` + taskColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            filename = COALESCE(excluded.filename, tasks.filename),
            minio_path = COALESCE(excluded.minio_path, tasks.minio_path),
            status = COALESCE(?, tasks.status),
            updated_at = excluded.updated_at,
            processing_started_at = COALESCE(excluded.processing_started_at, tasks.processing_started_at),
            completed_at = COALESCE(excluded.completed_at, tasks.completed_at),
            parquet_path = COALESCE(excluded.parquet_path, tasks.parquet_path),
            explanations_path = COALESCE(excluded.explanations_path, tasks.explanations_path),
            error_message = COALESCE(excluded.error_message, tasks.error_message)
        WHERE tasks.status NOT IN (` + makePlaceholders(len(blocked)) + `)
        RETURNING ` + taskColumns

	args := []any{
		id,
		nullableString(patch.Filename),
		nullableString(patch.MinioPath),
		string(insertStatus),
		now,
		now,
		startedAt,
		completedAt,
		nullableString(patch.ParquetPath),
		nullableString(patch.ExplanationsPath),
		nullableString(patch.ErrorMessage),
		nullableString(string(patch.Status)),
	}
	for _, status := range blocked {
		args = append(args, string(status))
	}

	var task *Task
	err := retryOnBusy(ctx, func() error {
		var scanErr error
		task, scanErr = scanTask(s.db.QueryRowContext(ctx, query, args...))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s cannot move to %q", ErrInvalidTransition, id, patch.Status)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "persistence", "update task", id, err)
	}
	return task, nil
}

// Get fetches a task by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "persistence", "get task", id, err)
	}
	return task, nil
}

// List returns tasks ordered by most recent update.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if len(opts.Statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(opts.Statuses)) + `)`
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY updated_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "persistence", "list tasks", "", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// Ping verifies the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close(context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
