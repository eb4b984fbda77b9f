package scheduler

import "sync"

// LongRunningPool runs jobs expected to block a worker for a while (a
// ProcessTask's process lifetime, for instance) on fresh goroutines, in
// parallel, bounded only by an optional MaxWorkers.
//
// Spec §4.3 point 3 requires that dispatch "refuses to place a runnable
// onto the thread recorded as the UI thread" and, if deferral is needed,
// leaves the bound on that deferral unspecified (§9 "do not guess"). This
// pool sidesteps the question structurally rather than guessing at a
// bound: every submission spawns a brand-new goroutine, and the UI
// goroutine is never one of the goroutines this pool creates, so no
// submission can ever land on it and no deferral is ever necessary.
// MarkUIWorker layers a defensive assertion on top of that structural
// guarantee: it records the goroutine id the owning manager captured as
// the UI thread, and Submit panics if a job is ever about to run on it.
// This should never trip given the structural guarantee above — the one
// way it could is a freshly spawned goroutine reusing a dead goroutine's
// id, and the UI goroutine lives for the process's lifetime so it never
// dies for its id to be reused — but recording it costs nothing and
// documents the invariant where a reader would expect to find it
// enforced.
type LongRunningPool struct {
	sem chan struct{}

	mu         sync.Mutex
	closed     bool
	uiWorkerID uint64
	uiWorkerOK bool
	wg         sync.WaitGroup
}

// NewLongRunningPool creates a pool. maxWorkers <= 0 means unbounded.
func NewLongRunningPool(maxWorkers int) *LongRunningPool {
	p := &LongRunningPool{}
	if maxWorkers > 0 {
		p.sem = make(chan struct{}, maxWorkers)
	}
	return p
}

// MarkUIWorker records id as the goroutine this pool must never dispatch a
// job onto. Managers call this with the same id they captured on
// Initialize.
func (p *LongRunningPool) MarkUIWorker(id uint64) {
	p.mu.Lock()
	p.uiWorkerID = id
	p.uiWorkerOK = true
	p.mu.Unlock()
}

// Submit runs job on a new goroutine. Returns false if the pool has been
// completed.
func (p *LongRunningPool) Submit(job func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	uiID, uiOK := p.uiWorkerID, p.uiWorkerOK
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
		}
		if uiOK && CurrentGoroutineID() == uiID {
			panic("scheduler: LongRunningPool dispatched a job onto the UI goroutine")
		}
		job()
	}()
	return true
}

// Complete refuses new submissions.
func (p *LongRunningPool) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Wait blocks until every submitted job has returned.
func (p *LongRunningPool) Wait() {
	p.wg.Wait()
}
