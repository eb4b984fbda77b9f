// Package progressreporter implements the manager-level progress
// aggregator: it receives per-task progress, throttles delivery to at
// most one emission every 100ms per task, always emits the final update,
// and fans out a reporter-level event to subscribers.
package progressreporter

import (
	"sync"
	"time"

	"github.com/forgekit/taskkernel/task"
)

// throttleInterval is the minimum spacing between emissions for a single
// task id.
const throttleInterval = 100 * time.Millisecond

// Event is what the reporter fans out to subscribers.
type Event struct {
	TaskID   int64
	Progress task.Progress
}

type taskState struct {
	mu       sync.Mutex
	lastSent time.Time
	pending  *task.Progress
	timer    *time.Timer
}

type subscriber struct {
	id int64
	h  func(Event)
}

// Reporter is the manager's progress aggregator.
type Reporter struct {
	mu    sync.Mutex
	tasks map[int64]*taskState

	subMu  sync.Mutex
	nextID int64
	subs   []subscriber

	stopped bool
}

// New creates a Reporter.
func New() *Reporter {
	return &Reporter{tasks: make(map[int64]*taskState)}
}

// Subscribe adds a handler that receives every emitted Event. The returned
// func unsubscribes h; events already in flight may still deliver to it
// (delivery snapshots the subscriber list before firing), but no event
// emitted afterward will.
func (r *Reporter) Subscribe(h func(Event)) func() {
	r.subMu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscriber{id: id, h: h})
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// Reset clears throttle state for taskID, so its next Report always emits
// immediately. Callers reset a task's throttle state when it (re)starts,
// since progress is otherwise expected to move forward monotonically
// within a single run.
func (r *Reporter) Reset(taskID int64) {
	r.mu.Lock()
	delete(r.tasks, taskID)
	r.mu.Unlock()
}

// Report records a progress update for taskID, emitting immediately if
// more than throttleInterval has passed since the last emission for that
// task, or scheduling a deferred emission of the latest value otherwise.
// The final update for a task is always emitted — callers get this for
// free as long as the task's terminal SetProgress call (if any) is also
// routed through Report; Reporter itself has no notion of "final".
func (r *Reporter) Report(taskID int64, p task.Progress) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	st, ok := r.tasks[taskID]
	if !ok {
		st = &taskState{}
		r.tasks[taskID] = st
	}
	r.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	if st.lastSent.IsZero() || now.Sub(st.lastSent) >= throttleInterval {
		st.lastSent = now
		st.pending = nil
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		r.emit(taskID, p)
		return
	}

	pCopy := p
	st.pending = &pCopy
	if st.timer != nil {
		return
	}
	delay := throttleInterval - now.Sub(st.lastSent)
	st.timer = time.AfterFunc(delay, func() {
		st.mu.Lock()
		pending := st.pending
		st.pending = nil
		st.timer = nil
		if pending != nil {
			st.lastSent = time.Now()
		}
		st.mu.Unlock()
		if pending != nil {
			r.emit(taskID, *pending)
		}
	})
}

func (r *Reporter) emit(taskID int64, p task.Progress) {
	r.subMu.Lock()
	subs := make([]subscriber, len(r.subs))
	copy(subs, r.subs)
	r.subMu.Unlock()

	ev := Event{TaskID: taskID, Progress: p}
	for _, s := range subs {
		s.h(ev)
	}
}

// Stop marks the reporter stopped; further Report calls are no-ops. Any
// in-flight deferred timers are left to fire harmlessly (reading stopped
// state would add a lock order hazard for little benefit at shutdown).
func (r *Reporter) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}
