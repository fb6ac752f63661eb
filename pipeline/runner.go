package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/chatpipe/pipeline/emit"
	"github.com/dshills/chatpipe/pipeline/store"
)

// Runner executes named steps at most once per invocation.
//
// Completed outputs are memoized for the lifetime of the Runner. Concurrent
// requests for a step that is already executing wait for that execution
// instead of starting another one. Failures are not memoized: the next Run
// of a failed step executes it again.
//
// A Runner is scoped to one stage-store run and is safe for concurrent use.
type Runner struct {
	stages *store.StageStore
	run    store.Run

	emitter         emit.Emitter
	metrics         *Metrics
	poolConcurrency int
	invocationID    string

	mu        sync.Mutex
	steps     map[string]Step
	completed map[string]any
	pending   map[string]*call
	outcomes  map[string]Outcome
}

// call is one in-flight step execution shared by every caller.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// Outcome summarizes the last execution of a step.
type Outcome struct {
	Step     string        `json:"step"`
	Cached   bool          `json:"cached"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// NewRunner creates a Runner for run backed by stages.
func NewRunner(stages *store.StageStore, run store.Run, opts ...Option) *Runner {
	r := &Runner{
		stages:          stages,
		run:             run,
		emitter:         emit.NewNullEmitter(),
		poolConcurrency: DefaultPoolConcurrency,
		invocationID:    uuid.NewString(),
		steps:           make(map[string]Step),
		completed:       make(map[string]any),
		pending:         make(map[string]*call),
		outcomes:        make(map[string]Outcome),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InvocationID returns the identifier attached to this runner's events.
func (r *Runner) InvocationID() string {
	return r.invocationID
}

// RunInfo returns the stage-store run this runner processes.
func (r *Runner) RunInfo() store.Run {
	return r.run
}

// Register adds a step. Steps must be registered before they are run.
func (r *Runner) Register(step Step) error {
	if step.Name == "" {
		return &EngineError{Message: "step name cannot be empty", Code: "INVALID_STEP"}
	}
	if step.Run == nil {
		return fmt.Errorf("%w: %s", ErrNoExecutor, step.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[step.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, step.Name)
	}
	step.Deps = append([]string(nil), step.Deps...)
	r.steps[step.Name] = step
	return nil
}

// Steps returns the registered step names, sorted.
func (r *Runner) Steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Completed reports whether name finished successfully during this invocation.
func (r *Runner) Completed(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.completed[name]
	return ok
}

// Outcomes returns the recorded outcome of every step that has finished,
// sorted by step name.
func (r *Runner) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Outcome, 0, len(r.outcomes))
	for _, o := range r.outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

// Run returns the output of the named step, executing it if it has not
// completed during this invocation.
//
// If the step is already executing, Run waits for that execution and returns
// its result; if ctx is done first, Run returns ctx.Err() while the execution
// continues for other callers. Run returns ErrCycle when the step is already
// on the current call path.
func (r *Runner) Run(ctx context.Context, name string) (any, error) {
	chain := chainFrom(ctx)
	if chain.contains(name) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrCycle, chain, name)
	}

	r.mu.Lock()
	if v, ok := r.completed[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	if c, ok := r.pending[name]; ok {
		r.mu.Unlock()
		return wait(ctx, c)
	}
	step, ok := r.steps[name]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	c := &call{done: make(chan struct{})}
	r.pending[name] = c
	r.mu.Unlock()

	c.val, c.err = r.execute(context.WithValue(ctx, chainKey{}, chain.with(name)), step)

	r.mu.Lock()
	delete(r.pending, name)
	if c.err == nil {
		r.completed[name] = c.val
	}
	r.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

func wait(ctx context.Context, c *call) (any, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Runner) execute(ctx context.Context, step Step) (val any, err error) {
	sc := &StepContext{
		Step:    step.Name,
		Store:   r.stages,
		RunInfo: r.run,
		Emitter: r.emitter,
		Metrics: r.metrics,
		Pool: PoolFactory{
			Concurrency: r.poolConcurrency,
			RunID:       r.run.ID,
			Emitter:     r.emitter,
			Metrics:     r.metrics,
		},
		runner: r,
	}

	r.emit(step.Name, emit.MsgStepStart, nil)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			val, err = nil, &StepError{Step: step.Name, Err: fmt.Errorf("panic: %v", p)}
		}

		outcome := Outcome{Step: step.Name, Cached: sc.cached.Load(), Duration: time.Since(start)}
		meta := map[string]interface{}{
			"duration_ms": outcome.Duration.Milliseconds(),
			"cached":      outcome.Cached,
		}
		switch {
		case err != nil:
			outcome.Error = err.Error()
			meta["error"] = err.Error()
			r.metrics.RecordStep(step.Name, OutcomeError)
			r.emit(step.Name, emit.MsgStepError, meta)
		case outcome.Cached:
			r.metrics.RecordStep(step.Name, OutcomeCached)
			r.emit(step.Name, emit.MsgStepEnd, meta)
		default:
			r.metrics.RecordStep(step.Name, OutcomeExecuted)
			r.emit(step.Name, emit.MsgStepEnd, meta)
		}

		r.mu.Lock()
		r.outcomes[step.Name] = outcome
		r.mu.Unlock()
	}()

	val, err = step.Run(ctx, sc)
	if err != nil && !isOwnError(err, step.Name) {
		err = &StepError{Step: step.Name, Err: err}
	}
	return val, err
}

// isOwnError reports whether err is already a StepError for step.
func isOwnError(err error, step string) bool {
	se, ok := err.(*StepError)
	return ok && se.Step == step
}

func (r *Runner) emit(step, msg string, meta map[string]interface{}) {
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["invocation_id"] = r.invocationID
	r.emitter.Emit(emit.Event{
		RunID: r.run.ID,
		Step:  step,
		Msg:   msg,
		Meta:  meta,
	})
}
