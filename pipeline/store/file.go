package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// runMetaFile is the per-run metadata file written next to the stage files.
const runMetaFile = "run.json"

// FileBackend is a filesystem implementation of Backend.
//
// Layout:
//
//	{Root}/
//	  {runID}/
//	    run.json        (Run metadata)
//	    {stage}.json    (one JSON document per stage)
//
// Stage files are human-inspectable. Writes go to a temp file in the same
// directory and are renamed into place, so a crash never leaves a truncated
// stage file at its canonical path.
type FileBackend struct {
	root   string
	mu     sync.Mutex // serializes run creation
	closed bool
}

// NewFileBackend creates a filesystem backend rooted at dir, creating the
// directory if needed.
//
// Example:
//
//	backend, err := store.NewFileBackend("/home/me/.cache/chatpipe")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stages := store.NewStageStore(backend)
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileBackend{root: dir}, nil
}

// Root returns the cache root directory.
func (b *FileBackend) Root() string {
	return b.root
}

// FindOrCreateRun implements Backend.
func (b *FileBackend) FindOrCreateRun(ctx context.Context, inputPath, contentHash string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Run{}, ErrClosed
	}

	id := RunID(inputPath, contentHash)
	dir := filepath.Join(b.root, id)
	metaPath := filepath.Join(dir, runMetaFile)

	if data, err := os.ReadFile(metaPath); err == nil { // #nosec G304 -- path built from cache root
		var run Run
		if json.Unmarshal(data, &run) == nil && run.ContentHash == contentHash {
			run.Dir = dir
			return run, nil
		}
		// Unreadable metadata is rewritten below; stage files are kept.
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Run{}, fmt.Errorf("failed to create run directory: %w", err)
	}

	run := Run{
		ID:          id,
		InputPath:   inputPath,
		ContentHash: contentHash,
		Dir:         dir,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return Run{}, fmt.Errorf("failed to marshal run metadata: %w", err)
	}
	if err := writeFileAtomic(metaPath, data); err != nil {
		return Run{}, fmt.Errorf("failed to write run metadata: %w", err)
	}
	return run, nil
}

// ReadStage implements Backend.
func (b *FileBackend) ReadStage(ctx context.Context, run Run, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.stagePath(run, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path built from cache root and validated name
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stage %s: %w", name, err)
	}
	return data, nil
}

// WriteStage implements Backend.
func (b *FileBackend) WriteStage(ctx context.Context, run Run, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.stagePath(run, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write stage %s: %w", name, err)
	}
	return nil
}

// DeleteStage implements Backend.
func (b *FileBackend) DeleteStage(ctx context.Context, run Run, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.stagePath(run, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete stage %s: %w", name, err)
	}
	return nil
}

// ListStages implements Backend.
func (b *FileBackend) ListStages(ctx context.Context, run Run) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(b.root, run.ID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || n == runMetaFile || !strings.HasSuffix(n, ".json") || strings.HasPrefix(n, ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(n, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// ListRuns implements Backend.
func (b *FileBackend) ListRuns(ctx context.Context) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var runs []Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(b.root, e.Name())
		data, err := os.ReadFile(filepath.Join(dir, runMetaFile)) // #nosec G304 -- path built from cache root
		if err != nil {
			continue
		}
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}
		run.Dir = dir
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Close implements Backend. The file backend holds no handles; Close only
// marks the backend unusable for run creation.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *FileBackend) stagePath(run Run, name string) (string, error) {
	if err := ValidateStageName(name); err != nil {
		return "", err
	}
	if run.ID == "" {
		return "", fmt.Errorf("run has no ID")
	}
	return filepath.Join(b.root, run.ID, name+".json"), nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it, and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
