package task

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kernel's error taxonomy. Collaborator packages
// (process, manager) define their own kinds that wrap or sit alongside
// these.
var (
	// ErrShutdown indicates an operation was attempted after the owning
	// manager stopped accepting work.
	ErrShutdown = errors.New("taskkernel: manager shut down")
)

// StateError reports an illegal API sequence: double-start, schedule after
// stop, configure after start, and similar ordering violations.
type StateError struct {
	// Op is the operation that was rejected (e.g. "Start", "Configure").
	Op string
	// State is the task's state at the time of the violation.
	State State
}

// NewStateError creates a StateError for op at the given state.
func NewStateError(op string, state State) *StateError {
	return &StateError{Op: op, State: state}
}

func (e *StateError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("taskkernel: cannot %s task in state %s", e.Op, e.State)
}

// DependencyError indicates a child never ran because its predicate did not
// match its parent's terminal state.
type DependencyError struct {
	// Parent is the name of the task whose terminal state caused the skip.
	Parent string
	// ParentState is the parent's terminal state.
	ParentState State
	// Predicate is the edge predicate that failed to match.
	Predicate Predicate
}

func (e *DependencyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("taskkernel: dependency failed: parent %q ended %s, edge requires %s",
		e.Parent, e.ParentState, e.Predicate)
}

// CancellationError indicates cooperative cancellation was observed before
// or during the task body.
type CancellationError struct {
	// Err is the underlying context error (context.Canceled or
	// context.DeadlineExceeded), if any.
	Err error
}

func (e *CancellationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("taskkernel: canceled: %v", e.Err)
	}
	return "taskkernel: canceled"
}

func (e *CancellationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TaskBodyError wraps an error raised by user task-body code, preserving an
// optional inner cause the way ProcessTask chains a prior error it
// superseded.
type TaskBodyError struct {
	// Task is the name of the task whose body raised the error.
	Task string
	// Err is the error the body returned.
	Err error
	// Cause is an earlier, superseded error, if any (chained message).
	Cause error
}

func (e *TaskBodyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("taskkernel: %s: %v (previously: %v)", e.Task, e.Err, e.Cause)
	}
	return fmt.Sprintf("taskkernel: %s: %v", e.Task, e.Err)
}

func (e *TaskBodyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// isDependencyCanceled reports whether err marks a Canceled state as a
// dependency failure, as opposed to cooperative cancellation — the
// distinction predicateMatches needs for OnFailure edges.
func isDependencyCanceled(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr)
}
