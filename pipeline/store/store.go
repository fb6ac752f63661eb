// Package store provides the content-addressed stage store used by pipeline steps.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned by a Backend when a requested run or stage does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by a Backend after Close has been called.
var ErrClosed = errors.New("store is closed")

// Run identifies one processing session for one input artifact.
//
// A Run is keyed by (InputPath, ContentHash). Changing the bytes of the input
// yields a different ContentHash and therefore a different Run; the previous
// Run is left untouched on the backend.
type Run struct {
	// ID is derived deterministically from InputPath and ContentHash.
	// It doubles as the run directory name for the file backend and is
	// shown to operators as the cache identifier.
	ID string `json:"id"`

	// InputPath is the original file/location identifier.
	InputPath string `json:"input_path"`

	// ContentHash is the digest of the input's byte content.
	ContentHash string `json:"content_hash"`

	// Dir is the backend location of the run. For the file backend this is
	// the run directory; database backends report "<backend>:<id>".
	Dir string `json:"dir"`

	// CreatedAt is the time the run was first created.
	CreatedAt time.Time `json:"created_at"`
}

// Backend provides durable storage for runs and their stage payloads.
//
// Implementations store opaque, already-serialized payloads. Cache validity
// rules (completion markers, bypass mode, corrupt payload handling) live in
// StageStore, so a Backend only has to be a faithful key/value store.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// FindOrCreateRun returns the run for (inputPath, contentHash), creating
	// it when absent. Calling it twice with identical arguments returns the
	// same run.
	FindOrCreateRun(ctx context.Context, inputPath, contentHash string) (Run, error)

	// ReadStage returns the raw payload of a stage.
	// Returns ErrNotFound if the stage was never written.
	ReadStage(ctx context.Context, run Run, name string) ([]byte, error)

	// WriteStage persists the raw payload of a stage, replacing any prior
	// value. A write is all-or-nothing: readers never observe a partial payload.
	WriteStage(ctx context.Context, run Run, name string, data []byte) error

	// DeleteStage removes a stage. Deleting a missing stage is not an error.
	DeleteStage(ctx context.Context, run Run, name string) error

	// ListStages returns the names of all stages written for a run, sorted.
	ListStages(ctx context.Context, run Run) ([]string, error)

	// ListRuns returns every run known to the backend, oldest first.
	ListRuns(ctx context.Context) ([]Run, error)

	// Close releases backend resources. Calling Close twice is a no-op.
	Close() error
}

// MarkerSuffix is appended to a primary stage name to form its completion marker.
const MarkerSuffix = "_stats"

// MarkerName returns the completion-marker stage name for a primary stage.
//
//	MarkerName("scan")            // "scan_stats"
//	MarkerName("classifications") // "classifications_stats"
func MarkerName(primary string) string {
	return primary + MarkerSuffix
}

var stageNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateStageName rejects names that cannot be stored safely as a file name.
func ValidateStageName(name string) error {
	if !stageNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid stage name %q", name)
	}
	return nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// RunID derives the stable run identifier for an input.
//
// The identifier combines a readable slug of the input's base name with the
// first 16 hex characters of sha256(absPath + "\x00" + contentHash), so that
// re-invoking on unchanged content always yields the same ID while editing
// the file (new hash) yields a new one.
func RunID(inputPath, contentHash string) string {
	abs := inputPath
	if p, err := filepath.Abs(inputPath); err == nil {
		abs = p
	}
	sum := sha256.Sum256([]byte(abs + "\x00" + contentHash))
	digest := hex.EncodeToString(sum[:])[:16]

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(base), "-"), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		return digest
	}
	return slug + "-" + digest
}
