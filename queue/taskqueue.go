// Package queue implements TaskQueue: a task whose body drains a
// homogeneous sequence of sub-tasks one at a time on the Concurrent lane,
// projecting each input item to an output item and accumulating the
// results.
package queue

import (
	"context"
	"sync"

	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

// TaskQueue drains TIn items through projection, producing a []TOut.
type TaskQueue[TIn, TOut any] struct {
	name       string
	dispatcher task.Dispatcher
	projection func(ctx context.Context, item TIn) (TOut, error)
	onItem     func(TOut)

	mu       sync.Mutex
	items    []TIn
	failFast bool
}

// New creates a TaskQueue. dispatcher is the manager (or any
// task.Dispatcher) used to schedule each item's sub-task.
func New[TIn, TOut any](name string, dispatcher task.Dispatcher, projection func(context.Context, TIn) (TOut, error)) *TaskQueue[TIn, TOut] {
	return &TaskQueue[TIn, TOut]{name: name, dispatcher: dispatcher, projection: projection}
}

// WithFailFast makes the queue abort remaining items after the first
// sub-task fault, transitioning the queue's own task Faulted with that
// fault. Without it (the default), the queue continues past sub-task
// faults as if each item were attached with an Always edge.
func (q *TaskQueue[TIn, TOut]) WithFailFast() *TaskQueue[TIn, TOut] {
	q.failFast = true
	return q
}

// OnItem installs a callback invoked synchronously, in order, as each
// item's result becomes available — the queue's analogue of a streaming
// task's incremental results.
func (q *TaskQueue[TIn, TOut]) OnItem(h func(TOut)) *TaskQueue[TIn, TOut] {
	q.onItem = h
	return q
}

// Add appends an item to the queue. Safe to call before AsTask's returned
// task has started; has no effect once it has.
func (q *TaskQueue[TIn, TOut]) Add(item TIn) *TaskQueue[TIn, TOut] {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return q
}

// AsTask returns the Concurrent-affinity task.Task that drains the queue
// when started.
func (q *TaskQueue[TIn, TOut]) AsTask() *task.Task {
	return task.NewFunc[[]TOut]("queue:"+q.name, scheduler.Concurrent, func(ctx context.Context, _ bool) ([]TOut, error) {
		q.mu.Lock()
		items := make([]TIn, len(q.items))
		copy(items, q.items)
		q.mu.Unlock()

		agg := make([]TOut, 0, len(items))
		var firstErr error

		for _, item := range items {
			if ctx.Err() != nil {
				return agg, ctx.Err()
			}

			it := item
			sub := task.NewFunc[TOut](q.name+"-item", scheduler.Concurrent, func(subCtx context.Context, _ bool) (TOut, error) {
				return q.projection(subCtx, it)
			})

			if err := sub.Start(q.dispatcher); err != nil {
				return agg, err
			}
			sub.Wait()

			out, subErr := task.Result[TOut](sub)
			if subErr != nil {
				if firstErr == nil {
					firstErr = subErr
				}
				if q.failFast {
					return agg, firstErr
				}
				continue
			}

			agg = append(agg, out)
			if q.onItem != nil {
				q.onItem(out)
			}
		}

		return agg, nil
	})
}
