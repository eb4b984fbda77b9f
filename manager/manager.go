// Package manager implements the TaskManager façade: it owns the
// scheduler lanes, the root cancellation source, the progress aggregator,
// and the identity of the UI thread.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/forgekit/taskkernel/progressreporter"
	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

// FaultLogger receives the error of every task passed to Schedule that
// ends unsuccessfully with a non-nil error (Faulted, or Canceled with a
// recorded cause), so it is not silently dropped. It is called whether or
// not a continuation edge handles that outcome downstream; tasks reached
// only through continuation edges are not reported.
type FaultLogger interface {
	LogUnobservedFault(taskName string, taskID int64, err error)
}

// nopFaultLogger is used when no logger is configured.
type nopFaultLogger struct{}

func (nopFaultLogger) LogUnobservedFault(string, int64, error) {}

// Manager is the TaskManager façade. It implements task.Dispatcher.
type Manager struct {
	exclusive   *scheduler.ExclusivePair
	longRunning *scheduler.LongRunningPool
	reporter    *progressreporter.Reporter
	logger      FaultLogger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu          sync.RWMutex
	uiThreadID  uint64
	uiThreadSet bool
	uiPoster    scheduler.UIPoster
	uiLoop      *scheduler.LoopPoster
	initialized bool
	stopped     bool
}

// Options configures a Manager.
type Options struct {
	// LongRunningMaxWorkers bounds the LongRunning pool; 0 is unbounded.
	LongRunningMaxWorkers int
	// Logger receives unobserved faults. Defaults to a no-op.
	Logger FaultLogger
	// UIPoster is the host's UI-thread posting capability. If nil,
	// Initialize installs a scheduler.LoopPoster.
	UIPoster scheduler.UIPoster
}

// New creates a Manager. The manager owns its scheduler lanes and root
// cancellation source exclusively; callers should not share them outside
// the manager's own API.
func New(opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger
	if logger == nil {
		logger = nopFaultLogger{}
	}
	return &Manager{
		exclusive:   scheduler.NewExclusivePair(),
		longRunning: scheduler.NewLongRunningPool(opts.LongRunningMaxWorkers),
		reporter:    progressreporter.New(),
		logger:      logger,
		rootCtx:     ctx,
		rootCancel:  cancel,
		uiPoster:    opts.UIPoster,
	}
}

// Token returns the manager's root cancellation context. It is canceled by
// Stop and should not be canceled by callers directly.
func (m *Manager) Token() context.Context {
	return m.rootCtx
}

// Initialize captures the calling goroutine as the UI thread and installs
// the UI scheduler surface. It must be called exactly once, before any UI
// affinity task is scheduled.
//
// When the host supplies no Options.UIPoster, Initialize installs a
// scheduler.LoopPoster but does not start it: the calling goroutine must
// go on to call RunUILoop, on itself, to actually drain UI-affinity jobs.
// Anything else — spawning an internal worker goroutine to drain the
// queue, say — would mean UI-affinity job bodies run on a goroutine other
// than the one Initialize recorded as the UI thread, breaking InUIThread
// for exactly the tasks it exists to identify.
func (m *Manager) Initialize() error {
	return m.InitializeWithContext(nil)
}

// InitializeWithContext is Initialize, but if post is non-nil the capture
// itself is posted through it synchronously first — for hosts that must
// run the capture on their own main-loop goroutine even though Initialize
// was called from elsewhere.
func (m *Manager) InitializeWithContext(post func(func())) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return task.NewStateError("Initialize", task.Created)
	}
	m.initialized = true
	m.mu.Unlock()

	capture := func() {
		m.mu.Lock()
		m.uiThreadID = scheduler.CurrentGoroutineID()
		m.uiThreadSet = true
		if m.uiPoster == nil {
			lp := scheduler.NewLoopPoster()
			m.uiPoster = lp
			m.uiLoop = lp
		}
		m.mu.Unlock()
		m.longRunning.MarkUIWorker(m.uiThreadID)
	}

	if post != nil {
		post(capture)
	} else {
		capture()
	}
	return nil
}

// RunUILoop drains UI-affinity jobs on the calling goroutine until Stop is
// called. Call this, once, on the same goroutine that called Initialize
// (or InitializeWithContext with post == nil), and only when the manager
// was built without an Options.UIPoster — a host that injects its own
// UIPoster owns its own main loop and must not call this. It is a no-op
// if Initialize installed no LoopPoster (a host UIPoster was supplied, or
// Initialize was never called).
func (m *Manager) RunUILoop() {
	m.mu.RLock()
	lp := m.uiLoop
	m.mu.RUnlock()
	if lp != nil {
		lp.Run()
	}
}

// InUIThread reports whether the calling goroutine is the one that called
// Initialize.
func (m *Manager) InUIThread() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.uiThreadSet {
		return false
	}
	return m.uiThreadID == scheduler.CurrentGoroutineID()
}

// Reporter exposes the manager's progress aggregator, mainly for
// subscribing to reporter-level events from host UI code.
func (m *Manager) Reporter() *progressreporter.Reporter {
	return m.reporter
}

// Schedule chooses a scheduler for t per its Affinity, wires the
// unobserved-fault logger, and starts t. Calling Schedule on an
// already-started task is idempotent (delegates to task.Start's own
// idempotence).
func (m *Manager) Schedule(t *task.Task) (*task.Task, error) {
	m.mu.RLock()
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return nil, task.ErrShutdown
	}

	t.OnEnd(func(tt *task.Task, success bool, err error) {
		if !success && err != nil {
			m.logger.LogUnobservedFault(tt.Name, tt.ID(), err)
		}
	})

	if err := t.Start(m); err != nil {
		return nil, err
	}
	return t, nil
}

// Run wraps action in a Concurrent-affinity action task, sets its progress
// message, and schedules it.
func (m *Manager) Run(action func(ctx context.Context) error, msg string) (*task.Task, error) {
	t := task.NewAction("run", scheduler.Concurrent, func(ctx context.Context, _ bool) error {
		return action(ctx)
	})
	if msg != "" {
		t.SetProgress(0, 0, msg)
	}
	return m.Schedule(t)
}

// RunInUI is Run with UI affinity.
func (m *Manager) RunInUI(action func(ctx context.Context) error, msg string) (*task.Task, error) {
	t := task.NewAction("run-ui", scheduler.UI, func(ctx context.Context, _ bool) error {
		return action(ctx)
	})
	if msg != "" {
		t.SetProgress(0, 0, msg)
	}
	return m.Schedule(t)
}

// Dispatch implements task.Dispatcher: it picks the scheduler lane implied
// by t's Affinity and submits a runnable that executes t's body.
func (m *Manager) Dispatch(t *task.Task, in task.Input) {
	task.AttachReporter(t, m.reporter)

	run := func() { t.RunForDispatch(m.rootCtx, in) }

	switch t.Affinity() {
	case scheduler.Exclusive:
		m.exclusive.SubmitExclusive(run)
	case scheduler.Concurrent:
		m.exclusive.SubmitConcurrent(run)
	case scheduler.LongRunning:
		m.longRunning.Submit(run)
	case scheduler.UI:
		m.mu.RLock()
		poster := m.uiPoster
		m.mu.RUnlock()
		if poster == nil {
			// Initialize was never called: there is no UI-owning goroutine
			// to drain a LoopPoster, so fall back to a poster that simply
			// runs jobs where it's posted from rather than leaving them
			// queued forever.
			poster = inlinePoster{}
			m.mu.Lock()
			if m.uiPoster == nil {
				m.uiPoster = poster
			}
			poster = m.uiPoster
			m.mu.Unlock()
		}
		poster.Post(run)
	default:
		m.exclusive.SubmitConcurrent(run)
	}
}

// Stop refuses new submissions, cancels the root token, and awaits the
// exclusive/concurrent pair's drain for up to 500ms before returning
// regardless.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.exclusive.Complete()
	m.longRunning.Complete()
	m.rootCancel()
	m.exclusive.Stop(500 * time.Millisecond)
	m.reporter.Stop()

	m.mu.RLock()
	lp := m.uiLoop
	m.mu.RUnlock()
	if lp != nil {
		lp.Stop()
	}
}

// inlinePoster runs jobs synchronously on whichever goroutine posts them.
// Used only when a UI-affinity task is dispatched before Initialize was
// ever called, so there is no recorded UI goroutine to defer to.
type inlinePoster struct{}

func (inlinePoster) Post(job func()) { job() }
