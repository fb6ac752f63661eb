package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// backendFactories returns every backend that can run without external services.
func backendFactories(t *testing.T) map[string]func(t *testing.T) Backend {
	t.Helper()
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemBackend()
		},
		"file": func(t *testing.T) Backend {
			b, err := NewFileBackend(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileBackend failed: %v", err)
			}
			return b
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "cache.db"))
			if err != nil {
				t.Fatalf("NewSQLiteBackend failed: %v", err)
			}
			return b
		},
	}
}

// TestBackend_Contract runs the same behavioural checks against every backend.
func TestBackend_Contract(t *testing.T) {
	for name, factory := range backendFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			testBackendContract(t, factory)
		})
	}
}

func testBackendContract(t *testing.T, factory func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("find or create is idempotent", func(t *testing.T) {
		b := factory(t)
		defer func() { _ = b.Close() }()

		first, err := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc123")
		if err != nil {
			t.Fatalf("FindOrCreateRun failed: %v", err)
		}
		second, err := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc123")
		if err != nil {
			t.Fatalf("FindOrCreateRun failed: %v", err)
		}
		if first.ID != second.ID {
			t.Errorf("expected same run ID, got %q and %q", first.ID, second.ID)
		}
		if first.Dir != second.Dir {
			t.Errorf("expected same run dir, got %q and %q", first.Dir, second.Dir)
		}
		if second.ContentHash != "abc123" {
			t.Errorf("expected ContentHash = 'abc123', got %q", second.ContentHash)
		}
	})

	t.Run("new content hash creates new run", func(t *testing.T) {
		b := factory(t)
		defer func() { _ = b.Close() }()

		r1, _ := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "hash-1")
		r2, err := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "hash-2")
		if err != nil {
			t.Fatalf("FindOrCreateRun failed: %v", err)
		}
		if r1.ID == r2.ID {
			t.Fatalf("expected distinct runs, both are %q", r1.ID)
		}

		runs, err := b.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Errorf("expected 2 runs, got %d", len(runs))
		}
	})

	t.Run("write read overwrite delete", func(t *testing.T) {
		b := factory(t)
		defer func() { _ = b.Close() }()

		run, _ := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")

		if _, err := b.ReadStage(ctx, run, "scan"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound before write, got %v", err)
		}

		if err := b.WriteStage(ctx, run, "scan", []byte(`[1,2]`)); err != nil {
			t.Fatalf("WriteStage failed: %v", err)
		}
		if err := b.WriteStage(ctx, run, "scan", []byte(`[3]`)); err != nil {
			t.Fatalf("WriteStage overwrite failed: %v", err)
		}
		data, err := b.ReadStage(ctx, run, "scan")
		if err != nil {
			t.Fatalf("ReadStage failed: %v", err)
		}
		if string(data) != `[3]` {
			t.Errorf("expected last write to win, got %s", data)
		}

		if err := b.DeleteStage(ctx, run, "scan"); err != nil {
			t.Fatalf("DeleteStage failed: %v", err)
		}
		if err := b.DeleteStage(ctx, run, "scan"); err != nil {
			t.Fatalf("deleting a missing stage should succeed, got %v", err)
		}
		if _, err := b.ReadStage(ctx, run, "scan"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("list stages sorted", func(t *testing.T) {
		b := factory(t)
		defer func() { _ = b.Close() }()

		run, _ := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")
		for _, name := range []string{"scrapes", "messages", "scrapes_stats"} {
			if err := b.WriteStage(ctx, run, name, []byte(`{}`)); err != nil {
				t.Fatalf("WriteStage(%s) failed: %v", name, err)
			}
		}

		names, err := b.ListStages(ctx, run)
		if err != nil {
			t.Fatalf("ListStages failed: %v", err)
		}
		want := []string{"messages", "scrapes", "scrapes_stats"}
		if fmt.Sprint(names) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, names)
		}
	})

	t.Run("runs are isolated", func(t *testing.T) {
		b := factory(t)
		defer func() { _ = b.Close() }()

		r1, _ := b.FindOrCreateRun(ctx, "/tmp/a.txt", "h")
		r2, _ := b.FindOrCreateRun(ctx, "/tmp/b.txt", "h")
		_ = b.WriteStage(ctx, r1, "messages", []byte(`"a"`))

		if _, err := b.ReadStage(ctx, r2, "messages"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected stage to be scoped to its run, got %v", err)
		}
	})

	t.Run("rejects unsafe stage names", func(t *testing.T) {
		b := factory(t)
		defer func() { _ = b.Close() }()

		run, _ := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")
		for _, name := range []string{"", "../escape", "a/b", ".hidden"} {
			if err := b.WriteStage(ctx, run, name, []byte(`1`)); err == nil {
				t.Errorf("expected error writing stage %q", name)
			}
		}
	})

	t.Run("concurrent writes to distinct stages", func(t *testing.T) {
		b := factory(t)
		defer func() { _ = b.Close() }()

		run, _ := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := b.WriteStage(ctx, run, fmt.Sprintf("stage-%02d", i), []byte(fmt.Sprint(i))); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent WriteStage failed: %v", err)
		}

		names, err := b.ListStages(ctx, run)
		if err != nil {
			t.Fatalf("ListStages failed: %v", err)
		}
		if len(names) != 20 {
			t.Errorf("expected 20 stages, got %d", len(names))
		}
	})
}

// TestFileBackend_Persistence verifies a reopened file backend sees earlier runs and stages.
func TestFileBackend_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b1, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	run, _ := b1.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")
	if err := b1.WriteStage(ctx, run, "messages", []byte(`["hi"]`)); err != nil {
		t.Fatalf("WriteStage failed: %v", err)
	}
	_ = b1.Close()

	b2, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	again, err := b2.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")
	if err != nil {
		t.Fatalf("FindOrCreateRun failed: %v", err)
	}
	if !again.CreatedAt.Equal(run.CreatedAt) {
		t.Errorf("expected reused run to keep CreatedAt %v, got %v", run.CreatedAt, again.CreatedAt)
	}
	data, err := b2.ReadStage(ctx, again, "messages")
	if err != nil {
		t.Fatalf("ReadStage failed: %v", err)
	}
	if string(data) != `["hi"]` {
		t.Errorf("unexpected payload %s", data)
	}

	if again.Dir != filepath.Join(dir, again.ID) {
		t.Errorf("expected Dir under cache root, got %q", again.Dir)
	}
}

// TestSQLiteBackend_Persistence verifies data survives closing and reopening the database file.
func TestSQLiteBackend_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	b1, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	run, _ := b1.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")
	_ = b1.WriteStage(ctx, run, "scan", []byte(`{"n":1}`))
	if err := b1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b1.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := b1.ReadStage(ctx, run, "scan"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}

	b2, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = b2.Close() }()

	data, err := b2.ReadStage(ctx, run, "scan")
	if err != nil {
		t.Fatalf("ReadStage after reopen failed: %v", err)
	}
	if string(data) != `{"n":1}` {
		t.Errorf("unexpected payload %s", data)
	}
	if b2.Path() != path {
		t.Errorf("expected Path() = %q, got %q", path, b2.Path())
	}
}

// TestMemBackend_Closed verifies operations fail after Close.
func TestMemBackend_Closed(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	run, _ := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc")
	_ = b.Close()

	if _, err := b.FindOrCreateRun(ctx, "/tmp/chat.txt", "abc"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := b.WriteStage(ctx, run, "scan", []byte(`1`)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
