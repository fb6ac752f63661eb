package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/chatpipe/pipeline/emit"
)

// DefaultPoolConcurrency is the worker count used when none is configured.
const DefaultPoolConcurrency = 4

// Progress describes one successfully completed pool task.
type Progress[R any] struct {
	Index     int
	Total     int
	Completed int
	Value     R
	Duration  time.Duration
}

// TaskFailure describes one failed pool task.
type TaskFailure[T any] struct {
	Task      T
	Index     int
	Total     int
	Completed int
	Err       error
}

// PoolOptions configures RunPool.
type PoolOptions[T, R any] struct {
	// Concurrency is the number of workers. Values <= 0 use
	// DefaultPoolConcurrency; values above the task count are clamped.
	Concurrency int

	// OnProgress is called after each successful task, in completion order.
	OnProgress func(Progress[R])

	// OnError is called after each failed task. Returning false stops all
	// workers from claiming further tasks; in-flight tasks still finish.
	// A nil OnError continues past every failure.
	OnError func(TaskFailure[T]) bool

	// Name labels events and metrics for this pool.
	Name string

	// RunID is copied onto emitted events.
	RunID string

	Emitter emit.Emitter
	Metrics *Metrics
}

// PoolResult holds the outcome of RunPool.
type PoolResult[R any] struct {
	// Results is aligned with the input: Results[i] belongs to tasks[i].
	// Entries for failed or unclaimed tasks hold the zero value.
	Results []R

	// Present[i] reports whether Results[i] holds a successful value.
	Present []bool

	// Successes holds the successful values in input order.
	Successes []R

	// Errors holds the failed tasks sorted by index.
	Errors []TaskError

	Total        int
	SuccessCount int
	ErrorCount   int

	// Stopped is true when OnError requested a stop or ctx was cancelled
	// before every task was claimed.
	Stopped bool
}

// Result returns the value for task i and whether the task succeeded.
func (p *PoolResult[R]) Result(i int) (R, bool) {
	if i < 0 || i >= len(p.Results) || !p.Present[i] {
		var zero R
		return zero, false
	}
	return p.Results[i], true
}

// PoolFactory carries the runner's pool defaults into steps.
type PoolFactory struct {
	Concurrency int
	RunID       string
	Emitter     emit.Emitter
	Metrics     *Metrics
}

// PoolOptionsFor returns pool options pre-filled from f, labelled name.
//
//	opts := pipeline.PoolOptionsFor[string, Page](sc.Pool, "scrape")
//	opts.OnProgress = func(p pipeline.Progress[Page]) { ... }
func PoolOptionsFor[T, R any](f PoolFactory, name string) PoolOptions[T, R] {
	return PoolOptions[T, R]{
		Concurrency: f.Concurrency,
		Name:        name,
		RunID:       f.RunID,
		Emitter:     f.Emitter,
		Metrics:     f.Metrics,
	}
}

// RunPool processes tasks with bounded concurrency and returns results in input order.
//
// Workers claim the next unclaimed index from a shared cursor until the
// tasks are exhausted, OnError returns false, or ctx is cancelled. A failing
// or panicking task never aborts its siblings. OnProgress and OnError are
// never called concurrently.
func RunPool[T, R any](ctx context.Context, tasks []T, process func(ctx context.Context, task T, index int) (R, error), opts PoolOptions[T, R]) *PoolResult[R] {
	total := len(tasks)
	res := &PoolResult[R]{
		Results:   make([]R, total),
		Present:   make([]bool, total),
		Successes: []R{},
		Errors:    []TaskError{},
		Total:     total,
	}
	if total == 0 {
		return res
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = DefaultPoolConcurrency
	}
	if workers > total {
		workers = total
	}

	emitter := emit.Or(opts.Emitter)
	emitter.Emit(emit.Event{
		RunID: opts.RunID,
		Step:  opts.Name,
		Msg:   emit.MsgPoolStart,
		Meta: map[string]interface{}{
			"total":       total,
			"concurrency": workers,
		},
	})
	started := time.Now()

	var (
		cursor    atomic.Int64
		stop      atomic.Bool
		mu        sync.Mutex // guards res, completed and callbacks
		completed int
		wg        sync.WaitGroup
	)

	worker := func() {
		defer wg.Done()
		for {
			if stop.Load() || ctx.Err() != nil {
				return
			}
			i := int(cursor.Add(1) - 1)
			if i >= total {
				return
			}

			opts.Metrics.TaskStarted()
			t0 := time.Now()
			val, err := runTask(ctx, process, tasks[i], i)
			elapsed := time.Since(t0)

			mu.Lock()
			if err == nil {
				opts.Metrics.TaskFinished(opts.Name, elapsed, "success")
				res.Results[i] = val
				res.Present[i] = true
				completed++
				if opts.OnProgress != nil {
					opts.OnProgress(Progress[R]{
						Index:     i,
						Total:     total,
						Completed: completed,
						Value:     val,
						Duration:  elapsed,
					})
				}
			} else {
				opts.Metrics.TaskFinished(opts.Name, elapsed, "error")
				res.Errors = append(res.Errors, TaskError{Index: i, Err: err})
				emitter.Emit(emit.Event{
					RunID: opts.RunID,
					Step:  opts.Name,
					Msg:   emit.MsgTaskError,
					Meta: map[string]interface{}{
						"index":       i,
						"error":       err.Error(),
						"recoverable": true,
					},
				})
				if opts.OnError != nil && !opts.OnError(TaskFailure[T]{
					Task:      tasks[i],
					Index:     i,
					Total:     total,
					Completed: completed,
					Err:       err,
				}) {
					stop.Store(true)
				}
			}
			mu.Unlock()
		}
	}

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go worker()
	}
	wg.Wait()

	sort.Slice(res.Errors, func(a, b int) bool {
		return res.Errors[a].Index < res.Errors[b].Index
	})
	for i, ok := range res.Present {
		if ok {
			res.Successes = append(res.Successes, res.Results[i])
		}
	}
	res.SuccessCount = completed
	res.ErrorCount = len(res.Errors)
	res.Stopped = stop.Load() || (ctx.Err() != nil && int(cursor.Load()) < total)

	meta := map[string]interface{}{
		"total":       total,
		"successes":   res.SuccessCount,
		"errors":      res.ErrorCount,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if res.Stopped {
		emitter.Emit(emit.Event{RunID: opts.RunID, Step: opts.Name, Msg: emit.MsgPoolStopped, Meta: meta})
	}
	emitter.Emit(emit.Event{RunID: opts.RunID, Step: opts.Name, Msg: emit.MsgPoolEnd, Meta: meta})
	return res
}

func runTask[T, R any](ctx context.Context, process func(context.Context, T, int) (R, error), task T, index int) (val R, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero R
			val, err = zero, fmt.Errorf("task panicked: %v", p)
		}
	}()
	return process(ctx, task, index)
}
