package scheduler

import "sync"

// UIPoster is the capability a host injects to marshal work onto whatever
// single thread owns its UI surface. Implementations post runnables onto
// that thread — a GUI toolkit's main loop, a terminal event loop, etc. —
// rather than running them wherever Post happens to be called from.
type UIPoster interface {
	// Post schedules job to run on the UI thread. Post must not block the
	// caller waiting for job to finish.
	Post(job func())
}

// LoopPoster is a UIPoster backed by a job queue drained in submission
// order by whichever goroutine calls Run — the stand-in used when a host
// has no native main-loop posting primitive (tests, headless embedding,
// and the default before a real host surface calls Initialize).
//
// LoopPoster does not spawn its own worker: Run must be called, exactly
// once, by the goroutine that is meant to be the UI thread. That goroutine
// is then blocked draining jobs until Stop is called from elsewhere,
// mirroring the single-threaded main-loop surface real hosts (an event
// pump, a GUI toolkit's main thread) already own. Spawning an internal
// worker goroutine instead would make every job run somewhere other than
// the goroutine Initialize recorded as the UI thread, defeating the UI
// affinity's whole point.
type LoopPoster struct {
	jobs chan func()

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewLoopPoster creates a poster with no worker yet running. Call Run on
// the UI-owning goroutine to start draining it.
func NewLoopPoster() *LoopPoster {
	return &LoopPoster{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
}

// Run drains the job queue on the calling goroutine until Stop is called.
// Call this, once, from the goroutine that is to be the UI thread.
func (lp *LoopPoster) Run() {
	lp.mu.Lock()
	lp.started = true
	lp.mu.Unlock()

	defer close(lp.done)
	for job := range lp.jobs {
		job()
	}
}

// Post implements UIPoster.
func (lp *LoopPoster) Post(job func()) {
	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		return
	}
	lp.mu.Unlock()
	lp.jobs <- job
}

// Stop closes the job queue. If Run was ever called it waits for the
// worker to drain; if not (nothing ever called Run, so no jobs could have
// been posted or would ever be drained), it returns immediately rather
// than waiting on a done channel nothing will ever close.
func (lp *LoopPoster) Stop() {
	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		return
	}
	lp.closed = true
	started := lp.started
	close(lp.jobs)
	lp.mu.Unlock()
	if started {
		<-lp.done
	}
}
