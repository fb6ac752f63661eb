package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dshills/chatpipe/pipeline/emit"
	"github.com/dshills/chatpipe/pipeline/store"
)

// StepFunc is the executor of a step. It may call sc.Run to obtain the
// outputs of other steps before doing its own work.
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// Step is a named unit of pipeline work.
type Step struct {
	// Name uniquely identifies the step within a Runner.
	Name string

	// Deps lists the steps the executor requests through StepContext.Run.
	// Declared dependencies are used by Validate and Plan; they are not run
	// automatically, so a step with a valid cache entry can skip them.
	Deps []string

	// Run is the executor.
	Run StepFunc
}

// StepContext is handed to a step executor.
type StepContext struct {
	// Step is the name of the executing step.
	Step string

	// Store is the stage store for this invocation.
	Store *store.StageStore

	// RunInfo identifies the stage-store run being processed.
	RunInfo store.Run

	// Emitter receives step-scoped events.
	Emitter emit.Emitter

	// Metrics may be nil.
	Metrics *Metrics

	// Pool carries default worker pool settings; see PoolOptionsFor.
	Pool PoolFactory

	runner *Runner
	cached atomic.Bool
}

// Run returns the output of another step, executing it if needed.
func (sc *StepContext) Run(ctx context.Context, name string) (any, error) {
	return sc.runner.Run(ctx, name)
}

// MarkCached records that the step was satisfied from the stage store.
func (sc *StepContext) MarkCached() {
	sc.cached.Store(true)
}

// Await runs a dependency from inside a step and asserts its output type.
func Await[T any](ctx context.Context, sc *StepContext, name string) (T, error) {
	return RunAs[T](ctx, sc.runner, name)
}

// RunAs runs a step and asserts its output type.
func RunAs[T any](ctx context.Context, r *Runner, name string) (T, error) {
	var zero T
	v, err := r.Run(ctx, name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, &EngineError{
			Message: fmt.Sprintf("step %s returned %T, want %T", name, v, zero),
			Code:    "OUTPUT_TYPE_MISMATCH",
		}
	}
	return out, nil
}

type chainKey struct{}

// callChain is the list of steps currently executing on this call path.
type callChain []string

func chainFrom(ctx context.Context) callChain {
	c, _ := ctx.Value(chainKey{}).(callChain)
	return c
}

func (c callChain) contains(name string) bool {
	for _, n := range c {
		if n == name {
			return true
		}
	}
	return false
}

func (c callChain) with(name string) callChain {
	next := make(callChain, len(c), len(c)+1)
	copy(next, c)
	return append(next, name)
}

func (c callChain) String() string {
	return strings.Join(c, " -> ")
}
