package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemBackend is an in-memory implementation of Backend.
//
// Designed for:
//   - Testing and development
//   - Single-process pipelines that do not need resumption
//
// MemBackend is thread-safe. Data is lost when the process terminates.
type MemBackend struct {
	mu     sync.RWMutex
	runs   map[string]Run               // runID -> run
	stages map[string]map[string][]byte // runID -> stage -> payload
	closed bool
}

// NewMemBackend creates an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		runs:   make(map[string]Run),
		stages: make(map[string]map[string][]byte),
	}
}

// FindOrCreateRun implements Backend.
func (m *MemBackend) FindOrCreateRun(_ context.Context, inputPath, contentHash string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Run{}, ErrClosed
	}

	id := RunID(inputPath, contentHash)
	if run, ok := m.runs[id]; ok {
		return run, nil
	}

	run := Run{
		ID:          id,
		InputPath:   inputPath,
		ContentHash: contentHash,
		Dir:         "mem:" + id,
		CreatedAt:   time.Now().UTC(),
	}
	m.runs[id] = run
	m.stages[id] = make(map[string][]byte)
	return run, nil
}

// ReadStage implements Backend.
func (m *MemBackend) ReadStage(_ context.Context, run Run, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.stages[run.ID][name]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteStage implements Backend.
func (m *MemBackend) WriteStage(_ context.Context, run Run, name string, data []byte) error {
	if err := ValidateStageName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.stages[run.ID]; !ok {
		m.stages[run.ID] = make(map[string][]byte)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.stages[run.ID][name] = buf
	return nil
}

// DeleteStage implements Backend.
func (m *MemBackend) DeleteStage(_ context.Context, run Run, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.stages[run.ID], name)
	return nil
}

// ListStages implements Backend.
func (m *MemBackend) ListStages(_ context.Context, run Run) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	stages, ok := m.stages[run.ID]
	if !ok {
		return nil, ErrNotFound
	}
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListRuns implements Backend.
func (m *MemBackend) ListRuns(_ context.Context) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	runs := make([]Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

// Close implements Backend.
func (m *MemBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
