package process

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/forgekit/taskkernel/manager"
	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	m := manager.New(manager.Options{})
	t.Cleanup(func() { m.Stop() })
	return m
}

func TestProcessTaskSucceedsAndCapturesStdout(t *testing.T) {
	m := newTestManager(t)

	pt := New("echo", scheduler.Concurrent, DefaultEnvironment())
	if err := pt.Configure(StartSpec{Program: "echo", Args: []string{"hello"}}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var started, ended bool
	var pid int
	pt.OnStartProcess(func(p int) { started = true; pid = p })
	pt.OnEndProcess(func() { ended = true })

	if _, err := m.Schedule(pt.Task); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	pt.Task.Wait()

	if !pt.Task.Successful() {
		t.Fatalf("expected success, got state=%v err=%v", pt.Task.State(), pt.Task.Err())
	}
	if !started || pid == 0 {
		t.Errorf("OnStartProcess did not fire with a pid")
	}
	if !ended {
		t.Error("OnEndProcess did not fire")
	}
	if pt.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", pt.ExitCode())
	}
	got, _ := task.Result[any](pt.Task)
	if s, ok := got.(string); !ok || !strings.Contains(s, "hello") {
		t.Errorf("Result = %v, want string containing %q", got, "hello")
	}
}

func TestOnEndProcessUnsubscribeYieldsNoInvocation(t *testing.T) {
	m := newTestManager(t)

	pt := New("echo", scheduler.Concurrent, DefaultEnvironment())
	if err := pt.Configure(StartSpec{Program: "echo", Args: []string{"hello"}}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var invoked bool
	unsubscribe := pt.OnEndProcess(func() { invoked = true })
	unsubscribe()

	if _, err := m.Schedule(pt.Task); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	pt.Task.Wait()

	if invoked {
		t.Error("unsubscribed OnEndProcess handler was invoked")
	}
}

func TestProcessTaskNonZeroExitFaults(t *testing.T) {
	m := newTestManager(t)

	pt := New("false", scheduler.Concurrent, DefaultEnvironment())
	if err := pt.Configure(StartSpec{Program: "false"}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if _, err := m.Schedule(pt.Task); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	pt.Task.Wait()

	if pt.Task.State() != task.Faulted {
		t.Fatalf("state = %v, want Faulted", pt.Task.State())
	}
	var exitErr *ExitError
	if err := pt.Task.Err(); err == nil || !asExitError(err, &exitErr) {
		t.Fatalf("Err() = %v, want *ExitError", pt.Task.Err())
	}
	if exitErr.ExitCode == 0 {
		t.Error("ExitError.ExitCode is 0, want non-zero")
	}
}

func TestProcessTaskOnOutputAndStderr(t *testing.T) {
	m := newTestManager(t)

	pt := New("sh", scheduler.Concurrent, DefaultEnvironment())
	err := pt.Configure(StartSpec{
		Program: "sh",
		Args:    []string{"-c", "echo out-line; echo err-line 1>&2"},
	}, nil)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	var outLines, errLines []string
	pt.OnOutput(func(l string) { outLines = append(outLines, l) })
	pt.OnErrorData(func(l string) { errLines = append(errLines, l) })

	if _, err := m.Schedule(pt.Task); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	pt.Task.Wait()

	if len(outLines) != 1 || outLines[0] != "out-line" {
		t.Errorf("outLines = %v", outLines)
	}
	if len(errLines) != 1 || errLines[0] != "err-line" {
		t.Errorf("errLines = %v", errLines)
	}
	if got := pt.Errors(); len(got) != 1 || got[0] != "err-line" {
		t.Errorf("Errors() = %v", got)
	}
}

func TestProcessTaskStandardInput(t *testing.T) {
	m := newTestManager(t)

	pt := New("cat", scheduler.Concurrent, DefaultEnvironment())
	if err := pt.Configure(StartSpec{Program: "cat"}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	ready := make(chan struct{})
	pt.OnStartProcess(func(int) { close(ready) })

	if _, err := m.Schedule(pt.Task); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	<-ready
	stdin := pt.StandardInput()
	if stdin == nil {
		t.Fatal("StandardInput() is nil after OnStartProcess")
	}
	_, _ = stdin.Write([]byte("piped\n"))
	_ = stdin.Close()

	pt.Task.Wait()
	if !pt.Task.Successful() {
		t.Fatalf("expected success, got %v (%v)", pt.Task.State(), pt.Task.Err())
	}
	got, _ := task.Result[any](pt.Task)
	if s, ok := got.(string); !ok || !strings.Contains(s, "piped") {
		t.Errorf("Result = %v, want string containing %q", got, "piped")
	}
}

func TestProcessTaskDetachSucceedsImmediately(t *testing.T) {
	m := newTestManager(t)

	pt := New("sleep", scheduler.LongRunning, DefaultEnvironment())
	if err := pt.Configure(StartSpec{Program: "sleep", Args: []string{"5"}}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	started := make(chan struct{})
	pt.OnStartProcess(func(int) { close(started) })

	if _, err := m.Schedule(pt.Task); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	<-started
	pt.Detach()

	select {
	case <-pt.Task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish promptly after Detach")
	}
	if !pt.Task.Successful() {
		t.Fatalf("expected success after Detach, got %v (%v)", pt.Task.State(), pt.Task.Err())
	}
}

func TestProcessTaskStopKillsProcess(t *testing.T) {
	m := newTestManager(t)

	pt := New("sleep", scheduler.LongRunning, DefaultEnvironment())
	if err := pt.Configure(StartSpec{Program: "sleep", Args: []string{"30"}}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	started := make(chan struct{})
	pt.OnStartProcess(func(int) { close(started) })

	if _, err := m.Schedule(pt.Task); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	<-started

	done := make(chan struct{})
	go func() {
		pt.Stop()
		close(done)
	}()

	select {
	case <-pt.Task.Done():
	case <-time.After(stopGracePeriod + 3*time.Second):
		t.Fatal("task did not terminate after Stop")
	}
	<-done

	if pt.Task.State() == task.Succeeded {
		t.Errorf("expected a non-success terminal state after Stop, got Succeeded")
	}
}

func TestProblemMatcherClassifiesLines(t *testing.T) {
	matcher, err := NewProblemMatcher(
		`^(?P<file>[\w./]+):(?P<line>\d+):(?P<column>\d+): (?P<severity>\w+): (?P<message>.*)$`,
		SeverityError,
	)
	if err != nil {
		t.Fatalf("NewProblemMatcher: %v", err)
	}

	p, ok := matcher.Match("main.go:10:5: error: undefined: foo")
	if !ok {
		t.Fatal("expected a match")
	}
	if p.File != "main.go" || p.Line != 10 || p.Column != 5 || p.Severity != SeverityError || p.Message != "undefined: foo" {
		t.Errorf("Match = %+v", p)
	}

	if _, ok := matcher.Match("not a diagnostic line"); ok {
		t.Error("expected no match for a non-diagnostic line")
	}
	if len(matcher.Problems()) != 1 {
		t.Errorf("Problems() len = %d, want 1", len(matcher.Problems()))
	}
}

func TestExpandVariables(t *testing.T) {
	env := Environment{WorkingDirectory: "/repo"}
	got := ExpandVariables("${workspaceFolder}/bin/${tool}", env, map[string]string{"tool": "lint"})
	want := "/repo/bin/lint"
	if got != want {
		t.Errorf("ExpandVariables = %q, want %q", got, want)
	}

	got = ExpandVariables("no tokens here", env, nil)
	if got != "no tokens here" {
		t.Errorf("ExpandVariables with no tokens changed the string: %q", got)
	}
}

func asExitError(err error, target **ExitError) bool {
	return errors.As(err, target)
}
