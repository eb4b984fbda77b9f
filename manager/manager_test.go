package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

func TestScheduleRunsConcurrentTask(t *testing.T) {
	m := New(Options{})
	defer m.Stop()

	var ran atomic.Bool
	tt := task.NewAction("a", scheduler.Concurrent, func(ctx context.Context, _ bool) error {
		ran.Store(true)
		return nil
	})

	if _, err := m.Schedule(tt); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	tt.Wait()

	if !ran.Load() {
		t.Error("body did not run")
	}
	if tt.State() != task.Succeeded {
		t.Errorf("State() = %v, want Succeeded", tt.State())
	}
}

func TestScheduleRunsExclusiveTasksSerially(t *testing.T) {
	m := New(Options{})
	defer m.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		tt := task.NewAction("excl", scheduler.Exclusive, func(ctx context.Context, _ bool) error {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		if _, err := m.Schedule(tt); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("exclusive tasks ran out of submission order: %v", order)
		}
	}
}

func TestScheduleLogsUnobservedFault(t *testing.T) {
	logger := &recordingLogger{}
	m := New(Options{Logger: logger})
	defer m.Stop()

	boom := errors.New("boom")
	tt := task.NewAction("faulty", scheduler.Concurrent, func(ctx context.Context, _ bool) error {
		return boom
	})
	if _, err := m.Schedule(tt); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	tt.Wait()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.faults) != 1 {
		t.Fatalf("logged %d faults, want 1", len(logger.faults))
	}
	if logger.faults[0].name != "faulty" {
		t.Errorf("logged fault for %q, want %q", logger.faults[0].name, "faulty")
	}
}

func TestScheduleAfterStopReturnsErrShutdown(t *testing.T) {
	m := New(Options{})
	m.Stop()

	tt := task.NewAction("a", scheduler.Concurrent, func(ctx context.Context, _ bool) error { return nil })
	if _, err := m.Schedule(tt); !errors.Is(err, task.ErrShutdown) {
		t.Errorf("Schedule after Stop = %v, want task.ErrShutdown", err)
	}
}

func TestRunWrapsActionAndSchedules(t *testing.T) {
	m := New(Options{})
	defer m.Stop()

	var ran atomic.Bool
	tt, err := m.Run(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, "doing work")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tt.Wait()

	if !ran.Load() {
		t.Error("Run's action did not execute")
	}
	if tt.Progress().Message != "doing work" {
		t.Errorf("Progress().Message = %q", tt.Progress().Message)
	}
}

func TestInitializeAndInUIThread(t *testing.T) {
	m := New(Options{})
	defer m.Stop()

	done := make(chan bool, 1)
	go func() {
		if err := m.Initialize(); err != nil {
			t.Error(err)
		}
		done <- m.InUIThread()
	}()

	if !<-done {
		t.Error("InUIThread() = false on the goroutine that called Initialize")
	}
	if m.InUIThread() {
		t.Error("InUIThread() = true on a goroutine that never called Initialize")
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	m := New(Options{})
	defer m.Stop()

	if err := m.Initialize(); err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	if err := m.Initialize(); err == nil {
		t.Error("second Initialize succeeded, want a StateError")
	}
}

func TestDispatchRoutesUITaskThroughPoster(t *testing.T) {
	m := New(Options{})
	defer m.Stop()

	var ran atomic.Bool
	tt := task.NewAction("ui", scheduler.UI, func(ctx context.Context, _ bool) error {
		ran.Store(true)
		return nil
	})
	if _, err := m.Schedule(tt); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case <-tt.Done():
	case <-time.After(time.Second):
		t.Fatal("UI-affinity task never completed")
	}
	if !ran.Load() {
		t.Error("UI task body did not run")
	}
}

func TestUIAffinityTaskBodyRunsOnInitializeGoroutine(t *testing.T) {
	m := New(Options{})
	defer m.Stop()

	initialized := make(chan struct{})
	go func() {
		if err := m.Initialize(); err != nil {
			t.Error(err)
		}
		close(initialized)
		m.RunUILoop()
	}()
	<-initialized

	var inUIThread atomic.Bool
	tt := task.NewAction("ui", scheduler.UI, func(ctx context.Context, _ bool) error {
		inUIThread.Store(m.InUIThread())
		return nil
	})
	if _, err := m.Schedule(tt); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case <-tt.Done():
	case <-time.After(time.Second):
		t.Fatal("UI-affinity task never completed")
	}
	if !inUIThread.Load() {
		t.Error("InUIThread() = false from inside a UI-affinity task body")
	}
}

func TestStopCancelsLongRunningTaskInFlight(t *testing.T) {
	m := New(Options{})

	started := make(chan struct{})
	tt := task.NewAction("poll-cancel", scheduler.LongRunning, func(ctx context.Context, _ bool) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if _, err := m.Schedule(tt); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("long-running task body never started")
	}

	stopDone := make(chan time.Duration, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		stopStart := time.Now()
		m.Stop()
		stopDone <- time.Since(stopStart)
	}()

	select {
	case <-tt.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task never reached a terminal state after Stop")
	}
	if tt.State() != task.Canceled {
		t.Errorf("State() = %v, want Canceled", tt.State())
	}

	select {
	case elapsed := <-stopDone:
		if elapsed > 1500*time.Millisecond {
			t.Errorf("Stop took %v, want well under its drain deadline", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop never returned")
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	faults []faultRecord
}

type faultRecord struct {
	name string
	id   int64
	err  error
}

func (l *recordingLogger) LogUnobservedFault(name string, id int64, err error) {
	l.mu.Lock()
	l.faults = append(l.faults, faultRecord{name: name, id: id, err: err})
	l.mu.Unlock()
}
