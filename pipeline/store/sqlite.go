package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend is a SQLite implementation of Backend.
//
// It stores every run and stage in a single-file database. Designed for:
//   - Local caches where thousands of small stage files are unwanted
//   - Copying a whole cache around as one file
//
// SQLiteBackend uses WAL mode for concurrent reads and upserts for stage writes,
// so a stage row is always either the previous or the new payload.
//
// Schema:
//   - pipeline_runs: one row per (input path, content hash)
//   - pipeline_stages: one row per (run, stage name) holding the JSON payload
type SQLiteBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteBackend creates a new SQLite-backed stage backend.
//
// The path parameter specifies the database file location:
//   - "./cache.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The backend creates the file and its tables on first use.
//
// Example:
//
//	backend, err := store.NewSQLiteBackend("./cache.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	b := &SQLiteBackend{db: db, path: path}
	if err := b.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT NOT NULL PRIMARY KEY,
			input_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`
	if _, err := b.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create pipeline_runs table: %w", err)
	}

	stagesTable := `
		CREATE TABLE IF NOT EXISTS pipeline_stages (
			run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, name)
		)
	`
	if _, err := b.db.ExecContext(ctx, stagesTable); err != nil {
		return fmt.Errorf("failed to create pipeline_stages table: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// FindOrCreateRun implements Backend.
func (b *SQLiteBackend) FindOrCreateRun(ctx context.Context, inputPath, contentHash string) (Run, error) {
	if err := b.checkOpen(); err != nil {
		return Run{}, err
	}

	id := RunID(inputPath, contentHash)
	insert := `
		INSERT INTO pipeline_runs (id, input_path, content_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := b.db.ExecContext(ctx, insert, id, inputPath, contentHash, now); err != nil {
		return Run{}, fmt.Errorf("failed to create run: %w", err)
	}
	return b.loadRun(ctx, id)
}

func (b *SQLiteBackend) loadRun(ctx context.Context, id string) (Run, error) {
	var (
		run     Run
		created string
	)
	query := `SELECT id, input_path, content_hash, created_at FROM pipeline_runs WHERE id = ?`
	err := b.db.QueryRowContext(ctx, query, id).Scan(&run.ID, &run.InputPath, &run.ContentHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	run.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	run.Dir = "sqlite:" + run.ID
	return run, nil
}

// ReadStage implements Backend.
func (b *SQLiteBackend) ReadStage(ctx context.Context, run Run, name string) ([]byte, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var value string
	query := `SELECT value FROM pipeline_stages WHERE run_id = ? AND name = ?`
	err := b.db.QueryRowContext(ctx, query, run.ID, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stage %s: %w", name, err)
	}
	return []byte(value), nil
}

// WriteStage implements Backend.
func (b *SQLiteBackend) WriteStage(ctx context.Context, run Run, name string, data []byte) error {
	if err := ValidateStageName(name); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO pipeline_stages (run_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, name) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := b.db.ExecContext(ctx, query, run.ID, name, string(data)); err != nil {
		return fmt.Errorf("failed to write stage %s: %w", name, err)
	}
	return nil
}

// DeleteStage implements Backend.
func (b *SQLiteBackend) DeleteStage(ctx context.Context, run Run, name string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	query := `DELETE FROM pipeline_stages WHERE run_id = ? AND name = ?`
	if _, err := b.db.ExecContext(ctx, query, run.ID, name); err != nil {
		return fmt.Errorf("failed to delete stage %s: %w", name, err)
	}
	return nil
}

// ListStages implements Backend.
func (b *SQLiteBackend) ListStages(ctx context.Context, run Run) ([]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := b.loadRun(ctx, run.ID); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `SELECT name FROM pipeline_stages WHERE run_id = ? ORDER BY name`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan stage row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage rows: %w", err)
	}
	return names, nil
}

// ListRuns implements Backend.
func (b *SQLiteBackend) ListRuns(ctx context.Context) ([]Run, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, input_path, content_hash, created_at
		FROM pipeline_runs
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			created string
		)
		if err := rows.Scan(&run.ID, &run.InputPath, &run.ContentHash, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if run.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		run.Dir = "sqlite:" + run.ID
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Path returns the database file path.
func (b *SQLiteBackend) Path() string {
	return b.path
}
