package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when an operation is attempted against an
// execution whose status does not allow it, for example cancelling an
// execution that already finished.
var ErrInvalidState = errors.New("execution is not in a valid state for this operation")

// ErrCancelled is returned by Run when the execution context was cancelled
// before all steps completed.
var ErrCancelled = errors.New("execution cancelled")

// ValidationError reports a workflow definition problem detected before any
// step runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s: %s", e.Field, e.Reason)
}

// StepError wraps the final failure of a step after all retry attempts were
// exhausted.
type StepError struct {
	StepID   string
	StepName string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.StepName, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
