package task

import "context"

// Then attaches child to t with the given predicate and returns child, so
// calls compose left-to-right. If t has already reached a terminal state,
// the edge is evaluated immediately instead of waiting for a future
// transition.
func (t *Task) Then(child *Task, predicate Predicate) *Task {
	child.parent = t

	t.mu.RLock()
	terminal := t.state.Terminal()
	t.mu.RUnlock()

	if terminal {
		t.fireEdge(continuation{child: child, predicate: predicate})
		return child
	}

	t.contMu.Lock()
	t.continuations = append(t.continuations, continuation{child: child, predicate: predicate})
	t.contMu.Unlock()
	return child
}

// Finally attaches child unconditionally — equivalent to Then(child, Always).
func (t *Task) Finally(child *Task) *Task {
	return t.Then(child, Always)
}

// ThenFunc2 is the typed-data-flow composition helper: it builds a
// Task[T,U] from fn, attaches it to t with predicate, and returns the new
// task. t's result (type T) is delivered to fn when the edge fires and t
// Succeeded; otherwise fn sees the zero value of T and
// successFromParent=false.
func ThenFunc2[T, U any](t *Task, name string, predicate Predicate, fn func(ctx context.Context, successFromParent bool, in T) (U, error)) *Task {
	child := NewFunc2(name, t.affinity, fn)
	return t.Then(child, predicate)
}

// dispatchContinuations fires every continuation edge registered on t. It
// is called exactly once, from finish, after t's terminal transition.
func (t *Task) dispatchContinuations() {
	t.contMu.Lock()
	edges := make([]continuation, len(t.continuations))
	copy(edges, t.continuations)
	t.continuations = nil
	t.contMu.Unlock()

	for _, c := range edges {
		t.fireEdge(c)
	}
}

// fireEdge evaluates a single continuation edge against t's terminal
// state: if the predicate matches, the child is scheduled; otherwise it
// transitions Canceled-as-dependency-failed and its own continuations are
// visited with the same rule.
func (t *Task) fireEdge(c continuation) {
	t.mu.RLock()
	state := t.state
	tErr := t.err
	tPrev := t.previousException
	result := t.result
	hasResult := t.hasResult
	dispatcher := t.dispatcher
	reporter := t.reporter
	t.mu.RUnlock()

	child := c.child
	child.mu.Lock()
	child.previousException = firstNonNil(tErr, tPrev)
	child.reporter = reporter
	child.mu.Unlock()

	if !predicateMatches(c.predicate, state, tErr) {
		child.skipAsDependencyFailure(t.Name, state, c.predicate)
		return
	}

	in := Input{SuccessFromParent: state == Succeeded}
	if state == Succeeded && hasResult {
		in.Value = result
		in.HasValue = true
	}

	child.mu.Lock()
	child.id = nextID()
	child.hasID = true
	child.dispatcher = dispatcher
	child.state = Started
	child.mu.Unlock()

	if dispatcher != nil {
		dispatcher.Dispatch(child, in)
	}
}

// skipAsDependencyFailure short-circuits child straight to Canceled without
// ever running its body, then recurses into its own continuations via the
// finish→dispatchContinuations path.
func (t *Task) skipAsDependencyFailure(parentName string, parentState State, pred Predicate) {
	depErr := &DependencyError{Parent: parentName, ParentState: parentState, Predicate: pred}
	t.finish(Canceled, nil, depErr)
}

// predicateMatches decides whether a continuation edge fires: predicate
// matching is purely local to the immediate parent, not any ancestor
// further up the chain (see DESIGN.md for why).
func predicateMatches(pred Predicate, parentState State, parentErr error) bool {
	switch pred {
	case Always:
		return true
	case OnSuccess:
		return parentState == Succeeded
	case OnFailure:
		return parentState == Faulted || (parentState == Canceled && isDependencyCanceled(parentErr))
	default:
		return false
	}
}
