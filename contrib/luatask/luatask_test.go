package luatask

import (
	"context"
	"testing"

	"github.com/forgekit/taskkernel/manager"
	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

func TestNewFuncTaskSucceeds(t *testing.T) {
	m := manager.New(manager.Options{})
	defer m.Stop()

	tk := NewFuncTask("greet", scheduler.Concurrent, `result = "hello from lua"`)
	if _, err := m.Schedule(tk); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	tk.Wait()

	if !tk.Successful() {
		t.Fatalf("expected success, got %v (%v)", tk.State(), tk.Err())
	}
	got, _ := task.Result[string](tk)
	if got != "hello from lua" {
		t.Errorf("Result = %q, want %q", got, "hello from lua")
	}
}

func TestNewFuncTaskFaults(t *testing.T) {
	m := manager.New(manager.Options{})
	defer m.Stop()

	tk := NewFuncTask("boom", scheduler.Concurrent, `error("kaboom")`)
	if _, err := m.Schedule(tk); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	tk.Wait()

	if tk.State() != task.Faulted {
		t.Fatalf("state = %v, want Faulted", tk.State())
	}
}

func TestCatchHandlerSuppressesFault(t *testing.T) {
	m := manager.New(manager.Options{})
	defer m.Stop()

	tk := NewFuncTask("boom", scheduler.Concurrent, `error("transient")`)
	tk.Catch(CatchHandler(`handled = string.find(err, "transient") ~= nil`))

	if _, err := m.Schedule(tk); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	tk.Wait()

	if !tk.Successful() {
		t.Fatalf("expected the handled fault to resolve to success, got %v (%v)", tk.State(), tk.Err())
	}
}

func TestSandboxBlocksFilesystemAccess(t *testing.T) {
	res, err := run(context.Background(), `result = tostring(dofile)`, true, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := res.String(); got != "nil" {
		t.Errorf("tostring(dofile) = %q, want %q", got, "nil")
	}
}

func TestSelectPredicate(t *testing.T) {
	pred, err := SelectPredicate(context.Background(), `
if success then
  predicate = "on_success"
else
  predicate = "on_failure"
end
`, true)
	if err != nil {
		t.Fatalf("SelectPredicate: %v", err)
	}
	if pred != task.OnSuccess {
		t.Errorf("pred = %v, want OnSuccess", pred)
	}

	pred, err = SelectPredicate(context.Background(), `predicate = "on_failure"`, false)
	if err != nil {
		t.Fatalf("SelectPredicate: %v", err)
	}
	if pred != task.OnFailure {
		t.Errorf("pred = %v, want OnFailure", pred)
	}
}
