package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnknownStep is returned when a step name has no registered executor.
var ErrUnknownStep = errors.New("unknown step")

// ErrDuplicateStep is returned when a step name is registered twice.
var ErrDuplicateStep = errors.New("step already registered")

// ErrCycle is returned when a step transitively depends on itself, either
// through declared dependencies or through re-entrant Run calls.
var ErrCycle = errors.New("step dependency cycle")

// ErrNoExecutor is returned when a step is registered without a function.
var ErrNoExecutor = errors.New("step has no executor")

// EngineError reports a misuse of the runner API.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// StepError wraps a failure returned (or panicked) by a step executor.
// Every concurrent caller of the failed step receives the same StepError.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// TaskError records a failed worker pool task and its position in the input.
type TaskError struct {
	Index int
	Err   error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}
