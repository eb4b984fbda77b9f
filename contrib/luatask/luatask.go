// Package luatask lets embedding code define a task body, a fault
// handler, or a predicate-selecting decision as a Lua script instead of
// compiled Go. Each invocation runs its script on a fresh *lua.LState;
// gopher-lua states are not goroutine-safe and a task body may run on any
// scheduler worker, so sharing one state across calls would require a
// dedicated goroutine per VM — unwarranted here since scripts are short
// and stateless across runs.
package luatask

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

// ErrScriptFailed wraps a Lua runtime or compile error.
type ErrScriptFailed struct {
	Script string
	Err    error
}

func (e *ErrScriptFailed) Error() string {
	return fmt.Sprintf("luatask: script failed: %v", e.Err)
}

func (e *ErrScriptFailed) Unwrap() error { return e.Err }

// newSandboxedState creates an *lua.LState with filesystem access
// disabled: no dofile/loadfile/load/loadstring, no io or os library
// (removed from the globals and from package.loaded), and an empty
// package.path/cpath so scripts cannot reach the filesystem or load
// arbitrary native modules.
func newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "io", "os"} {
		L.SetGlobal(name, lua.LNil)
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
		if loaded, ok := L.GetField(pkg, "loaded").(*lua.LTable); ok {
			L.SetField(loaded, "io", lua.LNil)
			L.SetField(loaded, "os", lua.LNil)
		}
	}
	return L
}

// run compiles and executes script on a fresh sandboxed state, with input
// bound to the Lua global "input" and successFromParent bound to
// "success". It returns the Lua global "result" converted to a Go value.
func run(ctx context.Context, script string, success bool, input any) (lua.LValue, error) {
	L := newSandboxedState()
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("success", lua.LBool(success))
	L.SetGlobal("input", goToLua(L, input))

	if err := L.DoString(script); err != nil {
		return lua.LNil, &ErrScriptFailed{Script: script, Err: err}
	}
	return L.GetGlobal("result"), nil
}

// goToLua converts a subset of Go values (the ones a task Input.Value can
// hold) into Lua values: strings, numbers, bools, and string-keyed maps.
// Anything else becomes Lua nil.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch tv := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(tv)
	case bool:
		return lua.LBool(tv)
	case int:
		return lua.LNumber(tv)
	case int64:
		return lua.LNumber(tv)
	case float64:
		return lua.LNumber(tv)
	case map[string]string:
		t := L.NewTable()
		for k, sv := range tv {
			t.RawSetString(k, lua.LString(sv))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, sv := range tv {
			t.RawSetString(k, goToLua(L, sv))
		}
		return t
	default:
		return lua.LNil
	}
}

// NewFuncTask builds a Task[string] whose body is a
// Lua script. The script reads `success` (bool) and `input` (the parent's
// result, converted per goToLua), and must set a global `result` (string)
// on success, or call `error("message")` to fault the task.
func NewFuncTask(name string, affinity scheduler.Affinity, script string) *task.Task {
	return task.NewFunc[string](name, affinity, func(ctx context.Context, successFromParent bool) (string, error) {
		lv, err := run(ctx, script, successFromParent, nil)
		if err != nil {
			return "", err
		}
		return lua.LVAsString(lv), nil
	})
}

// NewFuncTask2 is NewFuncTask generalized to typed data flow: the
// parent's result T is bound to the Lua global "input" via goToLua.
func NewFuncTask2[T any](name string, affinity scheduler.Affinity, script string) *task.Task {
	return task.NewFunc2(name, affinity, func(ctx context.Context, successFromParent bool, in T) (string, error) {
		lv, err := run(ctx, script, successFromParent, in)
		if err != nil {
			return "", err
		}
		return lua.LVAsString(lv), nil
	})
}

// CatchHandler compiles script into a fault handler suitable for
// *task.Task.Catch. The script sees the faulting error's message as the
// Lua global "err" and must set a global "handled" (bool) to report
// whether it suppressed the fault.
func CatchHandler(script string) func(error) bool {
	return func(cause error) bool {
		L := newSandboxedState()
		defer L.Close()

		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		L.SetGlobal("err", lua.LString(msg))

		if runErr := L.DoString(script); runErr != nil {
			return false
		}
		handled, ok := L.GetGlobal("handled").(lua.LBool)
		return ok && bool(handled)
	}
}

// Predicate mirrors task.Predicate's three values for scripted edge
// selection; luatask cannot introduce a fourth kind since the engine's
// own edge-matching logic only recognizes task.Predicate's values.
type Predicate = task.Predicate

// SelectPredicate runs script to choose which of Always/OnSuccess/
// OnFailure an edge should use, given the parent's terminal outcome — for
// hosts that want chain topology itself to be data-driven. The script
// sees `success` (bool) and must set a string global `predicate` to one of
// "always", "on_success", "on_failure".
func SelectPredicate(ctx context.Context, script string, success bool) (Predicate, error) {
	L := newSandboxedState()
	defer L.Close()
	L.SetContext(ctx)
	L.SetGlobal("success", lua.LBool(success))

	if err := L.DoString(script); err != nil {
		return task.Always, &ErrScriptFailed{Script: script, Err: err}
	}
	switch lua.LVAsString(L.GetGlobal("predicate")) {
	case "on_success":
		return task.OnSuccess, nil
	case "on_failure":
		return task.OnFailure, nil
	case "always", "":
		return task.Always, nil
	default:
		return task.Always, errors.New("luatask: predicate script set an unrecognized predicate value")
	}
}
