package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLBackend is a MySQL/MariaDB implementation of Backend.
//
// Designed for:
//   - Caches shared by several machines running the same pipeline
//   - Keeping cached stages across ephemeral containers
//
// Schema:
//   - pipeline_runs: one row per (input path, content hash)
//   - pipeline_stages: one row per (run, stage name), payload in a JSON column
type MySQLBackend struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLBackend creates a new MySQL-backed stage backend.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Security Warning:
//
//	Never hardcode credentials. Pass the DSN through configuration, e.g.
//	the CHATPIPE_DSN environment variable.
//
// Example:
//
//	backend, err := store.NewMySQLBackend("user:pass@tcp(localhost:3306)/chatpipe")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
func NewMySQLBackend(dsn string) (*MySQLBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	b := &MySQLBackend{db: db}
	if err := b.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return b, nil
}

func (b *MySQLBackend) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id VARCHAR(128) NOT NULL PRIMARY KEY,
			input_path TEXT NOT NULL,
			content_hash VARCHAR(128) NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_runs_created (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := b.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create pipeline_runs table: %w", err)
	}

	stagesTable := `
		CREATE TABLE IF NOT EXISTS pipeline_stages (
			run_id VARCHAR(128) NOT NULL,
			name VARCHAR(255) NOT NULL,
			value LONGTEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := b.db.ExecContext(ctx, stagesTable); err != nil {
		return fmt.Errorf("failed to create pipeline_stages table: %w", err)
	}
	return nil
}

func (b *MySQLBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// FindOrCreateRun implements Backend.
func (b *MySQLBackend) FindOrCreateRun(ctx context.Context, inputPath, contentHash string) (Run, error) {
	if err := b.checkOpen(); err != nil {
		return Run{}, err
	}

	id := RunID(inputPath, contentHash)
	insert := `
		INSERT IGNORE INTO pipeline_runs (id, input_path, content_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := b.db.ExecContext(ctx, insert, id, inputPath, contentHash, time.Now().UTC().UnixNano()); err != nil {
		return Run{}, fmt.Errorf("failed to create run: %w", err)
	}
	return b.loadRun(ctx, id)
}

func (b *MySQLBackend) loadRun(ctx context.Context, id string) (Run, error) {
	var (
		run     Run
		created int64
	)
	query := `SELECT id, input_path, content_hash, created_at FROM pipeline_runs WHERE id = ?`
	err := b.db.QueryRowContext(ctx, query, id).Scan(&run.ID, &run.InputPath, &run.ContentHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to load run: %w", err)
	}
	run.CreatedAt = time.Unix(0, created).UTC()
	run.Dir = "mysql:" + run.ID
	return run, nil
}

// ReadStage implements Backend.
func (b *MySQLBackend) ReadStage(ctx context.Context, run Run, name string) ([]byte, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var value []byte
	query := `SELECT value FROM pipeline_stages WHERE run_id = ? AND name = ?`
	err := b.db.QueryRowContext(ctx, query, run.ID, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stage %s: %w", name, err)
	}
	return value, nil
}

// WriteStage implements Backend.
func (b *MySQLBackend) WriteStage(ctx context.Context, run Run, name string, data []byte) error {
	if err := ValidateStageName(name); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO pipeline_stages (run_id, name, value)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)
	`
	if _, err := b.db.ExecContext(ctx, query, run.ID, name, string(data)); err != nil {
		return fmt.Errorf("failed to write stage %s: %w", name, err)
	}
	return nil
}

// DeleteStage implements Backend.
func (b *MySQLBackend) DeleteStage(ctx context.Context, run Run, name string) error {
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
func (b *MySQLBackend) ListStages(ctx context.Context, run Run) ([]string, error) {
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
func (b *MySQLBackend) ListRuns(ctx context.Context) ([]Run, error) {
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
			created int64
		)
		if err := rows.Scan(&run.ID, &run.InputPath, &run.ContentHash, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.CreatedAt = time.Unix(0, created).UTC()
		run.Dir = "mysql:" + run.ID
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// Close closes the database connection pool. Calling Close twice is a no-op.
func (b *MySQLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
