package task

// Progress is a task's most recent progress report.
type Progress struct {
	// Current is the amount of work completed so far.
	Current int64
	// Total is the amount of work expected; 0 means indeterminate.
	Total int64
	// Message is a short human-readable status string.
	Message string
}

// Progress returns the task's last published progress snapshot.
func (t *Task) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

// SetProgress publishes a new progress snapshot and notifies subscribers,
// both the task's own OnProgress handlers and (if the task was scheduled
// through one) the manager's progress reporter.
func (t *Task) SetProgress(current, total int64, message string) {
	p := Progress{Current: current, Total: total, Message: message}

	t.mu.Lock()
	t.progress = p
	reporter := t.reporter
	t.mu.Unlock()

	for _, h := range t.onProgress.snapshot() {
		h(t, p)
	}

	if reporter != nil {
		reporter.Report(t.ID(), p)
	}
}

// OnProgress subscribes h to progress updates. The returned func
// unsubscribes h.
func (t *Task) OnProgress(h func(*Task, Progress)) func() {
	id := t.onProgress.add(h)
	return func() { t.onProgress.remove(id) }
}

// ProgressReporter is the minimal surface Task needs from the manager's
// aggregator; defined here, not in progressreporter, to avoid an import
// cycle (manager depends on task, task must not depend on manager or
// progressreporter).
type ProgressReporter interface {
	Report(taskID int64, p Progress)
	Reset(taskID int64)
}
