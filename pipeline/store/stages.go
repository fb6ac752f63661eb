package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/chatpipe/pipeline/emit"
)

// StageStore is the per-run key/value cache consulted and filled by pipeline steps.
//
// It layers cache-validity rules on top of a Backend:
//   - Read failures and corrupt JSON are cache misses, never errors.
//   - Write failures are returned to the caller.
//   - A primary stage X is only complete once its marker MarkerName(X) exists.
//   - In no-cache mode every lookup misses while writes still persist, so a
//     forced recompute refreshes the cache for later invocations.
//
// StageStore is safe for concurrent use when its Backend is.
type StageStore struct {
	backend Backend
	emitter emit.Emitter
	noCache bool
	marked  *markedStages
}

// markedStages holds the primary stages guarded by a completion marker.
type markedStages struct {
	mu    sync.RWMutex
	names map[string]bool
}

func (m *markedStages) add(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.names[n] = true
	}
}

func (m *markedStages) has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names[name]
}

// StageOption configures a StageStore.
type StageOption func(*StageStore)

// WithEmitter sets the emitter receiving run and stage events.
func WithEmitter(e emit.Emitter) StageOption {
	return func(s *StageStore) {
		s.emitter = emit.Or(e)
	}
}

// WithNoCache makes every lookup miss while still writing results through.
func WithNoCache(noCache bool) StageOption {
	return func(s *StageStore) {
		s.noCache = noCache
	}
}

// WithMarkedStages declares primary stages that are only valid alongside
// their completion marker. SetStageWithMarker declares its stage as well.
func WithMarkedStages(names ...string) StageOption {
	return func(s *StageStore) {
		s.marked.add(names...)
	}
}

// NewStageStore wraps backend with the stage cache rules.
func NewStageStore(backend Backend, opts ...StageOption) *StageStore {
	s := &StageStore{
		backend: backend,
		emitter: emit.NewNullEmitter(),
		marked:  &markedStages{names: make(map[string]bool)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *StageStore) Backend() Backend {
	return s.backend
}

// NoCache reports whether lookups are bypassed.
func (s *StageStore) NoCache() bool {
	return s.noCache
}

// Bypass returns a view of the store that ignores existing entries but still
// writes results. The receiver is not modified.
func (s *StageStore) Bypass() *StageStore {
	clone := *s
	clone.noCache = true
	return &clone
}

// FindOrCreateRun returns the run for (inputPath, contentHash), creating it if needed.
func (s *StageStore) FindOrCreateRun(ctx context.Context, inputPath, contentHash string) (Run, error) {
	if contentHash == "" {
		return Run{}, fmt.Errorf("content hash is required")
	}
	known := s.knownRun(ctx, inputPath, contentHash)

	run, err := s.backend.FindOrCreateRun(ctx, inputPath, contentHash)
	if err != nil {
		return Run{}, fmt.Errorf("failed to find or create run: %w", err)
	}

	msg := emit.MsgRunCreated
	if known {
		msg = emit.MsgRunReused
	}
	s.emitter.Emit(emit.Event{
		RunID: run.ID,
		Msg:   msg,
		Meta: map[string]interface{}{
			"input":        inputPath,
			"content_hash": contentHash,
			"dir":          run.Dir,
		},
	})
	return run, nil
}

// knownRun is best effort and only used to label the run event.
func (s *StageStore) knownRun(ctx context.Context, inputPath, contentHash string) bool {
	runs, err := s.backend.ListRuns(ctx)
	if err != nil {
		return false
	}
	id := RunID(inputPath, contentHash)
	for _, r := range runs {
		if r.ID == id {
			return true
		}
	}
	return false
}

// HasStage reports whether the stage holds a readable JSON payload and, for
// a marked stage, whether its completion marker does too. A primary written
// without its marker is therefore absent. Always false in no-cache mode.
func (s *StageStore) HasStage(ctx context.Context, run Run, name string) bool {
	if !s.hasPayload(ctx, run, name) {
		return false
	}
	if s.marked.has(name) {
		return s.hasPayload(ctx, run, MarkerName(name))
	}
	return true
}

// IsMarked reports whether name is declared as a marker-guarded stage.
func (s *StageStore) IsMarked(name string) bool {
	return s.marked.has(name)
}

func (s *StageStore) hasPayload(ctx context.Context, run Run, name string) bool {
	data, ok := s.read(ctx, run, name)
	if !ok {
		return false
	}
	if !json.Valid(data) {
		s.readError(run, name, errors.New("invalid JSON payload"))
		return false
	}
	return true
}

// IsComplete reports whether both the primary stage and its completion marker exist.
func (s *StageStore) IsComplete(ctx context.Context, run Run, name string) bool {
	return s.hasPayload(ctx, run, MarkerName(name)) && s.hasPayload(ctx, run, name)
}

// GetStage decodes the stage into out. It returns false, leaving out in an
// unspecified state, if the stage is missing, unreadable, or does not decode
// into out's type.
func (s *StageStore) GetStage(ctx context.Context, run Run, name string, out any) bool {
	data, ok := s.read(ctx, run, name)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.readError(run, name, fmt.Errorf("failed to decode stage: %w", err))
		return false
	}
	return true
}

// Get decodes the stage into a value of type T.
//
// Example:
//
//	msgs, ok := store.Get[[]chat.Message](ctx, stages, run, "messages")
//	if !ok {
//	    // recompute
//	}
func Get[T any](ctx context.Context, s *StageStore, run Run, name string) (T, bool) {
	var v T
	if !s.GetStage(ctx, run, name, &v) {
		var zero T
		return zero, false
	}
	return v, true
}

// SetStage serializes value and persists it under name, replacing any prior value.
func (s *StageStore) SetStage(ctx context.Context, run Run, name string, value any) error {
	if err := ValidateStageName(name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stage %s: %w", name, err)
	}
	if err := s.backend.WriteStage(ctx, run, name, data); err != nil {
		return fmt.Errorf("failed to persist stage %s: %w", name, err)
	}
	s.emitter.Emit(emit.Event{
		RunID: run.ID,
		Msg:   emit.MsgStageWrite,
		Meta: map[string]interface{}{
			"stage": name,
			"bytes": len(data),
		},
	})
	return nil
}

// SetStageWithMarker writes the primary stage and then its completion marker.
// If the primary write fails the marker is not written.
func (s *StageStore) SetStageWithMarker(ctx context.Context, run Run, name string, value, marker any) error {
	s.marked.add(name)
	if err := s.SetStage(ctx, run, name, value); err != nil {
		return err
	}
	return s.SetStage(ctx, run, MarkerName(name), marker)
}

// Invalidate removes the completion marker and then the primary stage.
func (s *StageStore) Invalidate(ctx context.Context, run Run, name string) error {
	if err := s.backend.DeleteStage(ctx, run, MarkerName(name)); err != nil {
		return err
	}
	return s.backend.DeleteStage(ctx, run, name)
}

// ReadRaw returns the stored payload regardless of no-cache mode. Intended for
// inspection tools.
func (s *StageStore) ReadRaw(ctx context.Context, run Run, name string) ([]byte, error) {
	return s.backend.ReadStage(ctx, run, name)
}

// ListStages returns the stage names stored for run.
func (s *StageStore) ListStages(ctx context.Context, run Run) ([]string, error) {
	return s.backend.ListStages(ctx, run)
}

// ListRuns returns every run known to the backend.
func (s *StageStore) ListRuns(ctx context.Context) ([]Run, error) {
	return s.backend.ListRuns(ctx)
}

// Close closes the underlying backend.
func (s *StageStore) Close() error {
	return s.backend.Close()
}

func (s *StageStore) read(ctx context.Context, run Run, name string) ([]byte, bool) {
	if s.noCache {
		return nil, false
	}
	data, err := s.backend.ReadStage(ctx, run, name)
	if errors.Is(err, ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.readError(run, name, err)
		return nil, false
	}
	return data, true
}

func (s *StageStore) readError(run Run, name string, err error) {
	s.emitter.Emit(emit.Event{
		RunID: run.ID,
		Msg:   emit.MsgStageReadError,
		Meta: map[string]interface{}{
			"stage":       name,
			"error":       err.Error(),
			"recoverable": true,
		},
	})
}
