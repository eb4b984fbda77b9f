// Package task implements the task graph / chained-execution engine: task
// states, parent→child continuation edges, condition predicates, typed
// result marshalling between chain stages, and the progress/lifecycle event
// model.
//
// A Task is created detached (State Created). Attaching it as a
// continuation of another task via Then transfers scheduling ownership to
// the parent; the task still only runs once its own Start (direct or via a
// manager.Dispatcher) reaches it through the chain. Composition reads
// left-to-right:
//
//	head := task.NewAction("clean", scheduler.Concurrent, cleanFn)
//	build := task.NewAction("build", scheduler.Concurrent, buildFn)
//	report := task.NewAction("report-failure", scheduler.Concurrent, reportFn)
//
//	head.Then(build, task.OnSuccess)
//	head.Then(report, task.OnFailure)
//
// Typed data flow between stages uses the generic helpers (NewFunc, NewFunc2,
// ThenFunc2) rather than the untyped Task fields directly; see chain.go.
package task
