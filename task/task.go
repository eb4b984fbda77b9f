package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/forgekit/taskkernel/scheduler"
)

var idCounter int64

func nextID() int64 {
	return atomic.AddInt64(&idCounter, 1)
}

// Input is what a task body receives at run time: whether the (possibly
// absent) parent matched the edge on success, and the parent's typed
// result when the chain carries one.
type Input struct {
	// SuccessFromParent is true when there is no parent, or the parent
	// reached Succeeded.
	SuccessFromParent bool
	// Value is the parent's result, present only when the parent
	// Succeeded and the edge carries typed data.
	Value any
	// HasValue reports whether Value is meaningful.
	HasValue bool
}

// bodyFunc is the type-erased task body every constructor ultimately
// builds. It returns the task's result (any for action tasks) and an
// error.
type bodyFunc func(ctx context.Context, in Input) (any, error)

// Dispatcher schedules a task onto the execution surface implied by its
// Affinity. manager.Manager is the production implementation; defined here
// (not in manager) so task does not import manager and manager can import
// task.
type Dispatcher interface {
	Dispatch(t *Task, in Input)
}

// continuation is one parent→child edge.
type continuation struct {
	child     *Task
	predicate Predicate
}

// Task is the single concrete record every task body variant (action,
// func, func2, stream) is built from; process-ness and other capabilities
// are added by wrapping, not subclassing.
type Task struct {
	// Name is a stable, human-readable identity. It does not need to be
	// unique.
	Name string

	affinity scheduler.Affinity
	id       int64
	hasID    bool

	body bodyFunc

	mu                 sync.RWMutex
	state              State
	err                error
	previousException  error
	result             any
	hasResult          bool
	input              Input
	progress           Progress
	reporter           ProgressReporter
	cancelFn           context.CancelFunc

	// parent is a relation only, not ownership: used to find the chain
	// head and never used to keep a task alive.
	parent *Task

	contMu        sync.Mutex
	continuations []continuation

	faultMu       sync.Mutex
	faultHandlers []func(error) bool

	onStart    observerList[func(*Task)]
	onEnd      observerList[func(*Task, bool, error)]
	onProgress observerList[func(*Task, Progress)]

	streamMu       sync.Mutex
	streamItems    []any
	streamHandlers []func(any)

	startOnce  sync.Once
	dispatcher Dispatcher

	done     chan struct{}
	doneOnce sync.Once
}

func newTask(name string, affinity scheduler.Affinity, body bodyFunc) *Task {
	return &Task{
		Name:     name,
		affinity: affinity,
		body:     body,
		done:     make(chan struct{}),
	}
}

// NewAction creates an action task: no typed result, just a side effect.
func NewAction(name string, affinity scheduler.Affinity, fn func(ctx context.Context, successFromParent bool) error) *Task {
	return newTask(name, affinity, func(ctx context.Context, in Input) (any, error) {
		return nil, fn(ctx, in.SuccessFromParent)
	})
}

// NewFunc creates a Task[T]: produces a single typed result, consumes no
// typed input from its parent (only SuccessFromParent).
func NewFunc[T any](name string, affinity scheduler.Affinity, fn func(ctx context.Context, successFromParent bool) (T, error)) *Task {
	return newTask(name, affinity, func(ctx context.Context, in Input) (any, error) {
		return fn(ctx, in.SuccessFromParent)
	})
}

// NewFunc2 creates a Task[T,U]: consumes the parent's typed result T and
// produces U. If the parent did not succeed, the zero value of T is
// passed and SuccessFromParent is false.
func NewFunc2[T, U any](name string, affinity scheduler.Affinity, fn func(ctx context.Context, successFromParent bool, in T) (U, error)) *Task {
	return newTask(name, affinity, func(ctx context.Context, in Input) (any, error) {
		var v T
		if in.HasValue {
			tv, ok := in.Value.(T)
			if !ok {
				return nil, &TaskBodyError{Err: fmt.Errorf("input type mismatch: got %T, want %T", in.Value, v)}
			}
			v = tv
		}
		return fn(ctx, in.SuccessFromParent, v)
	})
}

// NewStream creates a Task[TData, Agg]: the body streams TData items
// through emit and returns the accumulated Agg. Every emitted item is both
// buffered (read back with StreamItems) and fanned out live to any handler
// registered with OnItem, so a subscriber does not have to wait for the
// task to finish to see early items.
func NewStream[TData, Agg any](name string, affinity scheduler.Affinity, fn func(ctx context.Context, successFromParent bool, emit func(TData)) (Agg, error)) *Task {
	var t *Task
	t = newTask(name, affinity, func(ctx context.Context, in Input) (any, error) {
		return fn(ctx, in.SuccessFromParent, func(item TData) {
			t.emitItem(item)
		})
	})
	return t
}

// emitItem records item and notifies every OnItem handler, in order.
func (t *Task) emitItem(item any) {
	t.streamMu.Lock()
	t.streamItems = append(t.streamItems, item)
	handlers := append([]func(any){}, t.streamHandlers...)
	t.streamMu.Unlock()

	for _, h := range handlers {
		h(item)
	}
}

// OnItem subscribes h to every item a NewStream task's body emits, in
// arrival order. Handlers registered after some items were already
// emitted only see later ones; use StreamItems for the full backlog.
func OnItem[TData any](t *Task, h func(TData)) {
	t.streamMu.Lock()
	t.streamHandlers = append(t.streamHandlers, func(v any) {
		tv, ok := v.(TData)
		if ok {
			h(tv)
		}
	})
	t.streamMu.Unlock()
}

// StreamItems returns every item a NewStream task's body has emitted so
// far, in arrival order. Items whose type does not match TData are
// omitted.
func StreamItems[TData any](t *Task) []TData {
	t.streamMu.Lock()
	defer t.streamMu.Unlock()
	out := make([]TData, 0, len(t.streamItems))
	for _, v := range t.streamItems {
		if tv, ok := v.(TData); ok {
			out = append(out, tv)
		}
	}
	return out
}

// Result extracts a Task's typed result. It returns the task's error (if
// any) alongside the zero value when the task did not succeed, or when T
// does not match the stored result's type.
func Result[T any](t *Task) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	if t.err != nil {
		return zero, t.err
	}
	if !t.hasResult {
		return zero, nil
	}
	v, ok := t.result.(T)
	if !ok {
		return zero, fmt.Errorf("taskkernel: result type mismatch: got %T, want %T", t.result, zero)
	}
	return v, nil
}

// ID returns the task's id, assigned the instant it was started. A task
// that has not yet started reports 0.
func (t *Task) ID() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

// Affinity returns the task's execution-surface tag.
func (t *Task) Affinity() scheduler.Affinity {
	return t.affinity
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Err returns the task's fault or cancellation cause, if any.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// PreviousException returns the most-upstream unhandled fault carried
// forward along Always/OnFailure edges.
func (t *Task) PreviousException() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.previousException
}

// Successful reports whether the task reached Succeeded.
func (t *Task) Successful() bool {
	return t.State() == Succeeded
}

// Catch adds a fault handler, run in registration order when the task
// faults, until one returns true. Returns t so calls can chain.
func (t *Task) Catch(h func(error) bool) *Task {
	t.faultMu.Lock()
	t.faultHandlers = append(t.faultHandlers, h)
	t.faultMu.Unlock()
	return t
}

// OnStart subscribes h to the task's single transition to Running. The
// returned func unsubscribes h; calling it after the task has already
// fired (or been cleared on terminal transition) is a harmless no-op.
func (t *Task) OnStart(h func(*Task)) func() {
	id := t.onStart.add(h)
	return func() { t.onStart.remove(id) }
}

// OnEnd subscribes h to the task's single terminal transition. successFlag
// is true only for Succeeded; err is non-nil for Faulted and for Canceled
// with a recorded cause. The returned func unsubscribes h.
func (t *Task) OnEnd(h func(task *Task, successFlag bool, err error)) func() {
	id := t.onEnd.add(h)
	return func() { t.onEnd.remove(id) }
}

// Wait blocks until the task reaches a terminal state.
func (t *Task) Wait() {
	<-t.done
}

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel requests cooperative cancellation. It has no effect before the
// task starts running; the task observes it via ctx passed to the body.
func (t *Task) Cancel() {
	t.mu.RLock()
	fn := t.cancelFn
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// setReporter attaches the manager's progress aggregator. Internal: called
// through AttachReporter by manager.Manager.Dispatch.
func (t *Task) setReporter(r ProgressReporter) {
	t.mu.Lock()
	t.reporter = r
	t.mu.Unlock()
}

// AttachReporter is the manager package's hook to install its progress
// aggregator on a task before dispatch, without exporting the task/field
// internals this package otherwise keeps private.
func AttachReporter(t *Task, r ProgressReporter) {
	t.setReporter(r)
}

// RunForDispatch is the Dispatcher implementation's hook to actually
// execute a task's body; it is exported solely for manager.Manager (the
// only intended caller) and must not be invoked from task-body code.
func (t *Task) RunForDispatch(ctx context.Context, in Input) {
	t.run(ctx, in)
}

// root walks parent links to find the chain's unique ancestor with no
// parent.
func (t *Task) root() *Task {
	cur := t
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Start finds the chain's head and starts it via d. Calling Start a second
// time on an already-started chain is a silent no-op, matching the rest of
// this package's idempotent-by-default lifecycle operations; calling it
// the first time on a head that somehow is not Created (should not happen
// outside races) returns a StateError.
func (t *Task) Start(d Dispatcher) error {
	head := t.root()
	var startErr error
	head.startOnce.Do(func() {
		head.mu.Lock()
		if head.state != Created {
			startErr = NewStateError("Start", head.state)
			head.mu.Unlock()
			return
		}
		head.id = nextID()
		head.hasID = true
		head.dispatcher = d
		head.state = Started
		head.mu.Unlock()
		d.Dispatch(head, Input{SuccessFromParent: true})
	})
	return startErr
}

// run executes the task body on whatever goroutine the scheduler handed
// control to. It is only ever called by a Dispatcher implementation, once,
// immediately after Dispatch accepts the task.
func (t *Task) run(parentCtx context.Context, in Input) {
	ctx, cancel := context.WithCancel(parentCtx)

	t.mu.Lock()
	if t.id == 0 && !t.hasID {
		t.id = nextID()
		t.hasID = true
	}
	t.cancelFn = cancel
	t.input = in
	t.state = Running
	reporter := t.reporter
	id := t.id
	t.mu.Unlock()

	if reporter != nil {
		reporter.Reset(id)
	}

	for _, h := range t.onStart.snapshot() {
		h(t)
	}

	if err := ctx.Err(); err != nil {
		t.finish(Canceled, nil, &CancellationError{Err: err})
		return
	}

	result, bodyErr := t.body(ctx, in)
	if bodyErr != nil {
		if ctx.Err() != nil {
			t.finish(Canceled, nil, &CancellationError{Err: ctx.Err()})
			return
		}
		t.handleFault(bodyErr)
		return
	}

	t.finish(Succeeded, result, nil)
}

// handleFault runs the fault-handler chain and finalizes the task as
// either Faulted (unhandled) or Succeeded (handled and therefore
// recovered — see DESIGN.md "Catch-handled fault → Succeeded" for why a handled fault
// finishes Succeeded rather than some separate Recovered state).
func (t *Task) handleFault(bodyErr error) {
	wrapped := &TaskBodyError{Task: t.Name, Err: bodyErr}

	t.faultMu.Lock()
	handlers := make([]func(error) bool, len(t.faultHandlers))
	copy(handlers, t.faultHandlers)
	t.faultMu.Unlock()

	for _, h := range handlers {
		if h(wrapped) {
			// Handled: the fault is recovered, not retained. Clear
			// PreviousException so it does not keep propagating past
			// the point it was caught.
			t.mu.Lock()
			t.previousException = nil
			t.mu.Unlock()
			t.finish(Succeeded, nil, nil)
			return
		}
	}

	t.finish(Faulted, nil, wrapped)
}

// finish performs the single terminal transition, fires OnEnd, schedules
// continuations, and clears event/fault-handler lists so closures that
// captured the task itself (and anything they in turn hold) are released
// once it is done.
func (t *Task) finish(state State, result any, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	t.previousException = firstNonNil(err, t.previousException)
	if result != nil {
		t.result = result
		t.hasResult = true
	}
	t.mu.Unlock()

	t.markDone()

	for _, h := range t.onEnd.snapshot() {
		h(t, state == Succeeded, err)
	}

	t.onStart.clear()
	t.onEnd.clear()
	t.onProgress.clear()
	t.faultMu.Lock()
	t.faultHandlers = nil
	t.faultMu.Unlock()

	t.dispatchContinuations()
}

func (t *Task) markDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
