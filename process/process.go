// Package process wraps an OS process as a task body with streamed
// stdout/stderr, a stdin writer, exit-code-driven success, cancellation,
// and detach semantics.
package process

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

var osEnviron = os.Environ

// stopGracePeriod is how long Stop waits after closing stdin before it
// forcefully kills the process.
const stopGracePeriod = 3 * time.Second

// StartSpec describes how to launch a process: program, arguments,
// redirects (implicit: stdout/stderr/stdin are always piped), and a
// window flag the host's platform layer may consult.
type StartSpec struct {
	// Program is the executable to run; resolved against Environment
	// before spawn.
	Program string
	// Args are the process arguments; each is variable-expanded.
	Args []string
	// Dir overrides Environment.WorkingDirectory for this process.
	Dir string
	// Env overlays Environment.EnvironmentVariables for this process.
	Env map[string]string
	// HideWindow is consulted by GUI hosts on platforms with a console
	// window concept; the core never interprets it.
	HideWindow bool
	// OutputBufferSize bounds the per-line scan buffer; 0 uses bufio's
	// default.
	OutputBufferSize int
}

// subList is a mutex-guarded, unsubscribable handler list, the process
// package's analogue of task.observerList (kept local since the two
// packages do not share unexported types).
type subList[F any] struct {
	mu       sync.Mutex
	nextID   int64
	handlers []subEntry[F]
}

type subEntry[F any] struct {
	id int64
	h  F
}

func (s *subList[F]) add(h F) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, subEntry[F]{id: id, h: h})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.handlers {
			if e.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

func (s *subList[F]) snapshot() []F {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]F, len(s.handlers))
	for i, e := range s.handlers {
		out[i] = e.h
	}
	return out
}

type procEventLists struct {
	onStartProcess subList[func(pid int)]
	onEndProcess   subList[func()]
	onErrorData    subList[func(line string)]
	onOutput       subList[func(line string)]
}

func (e *procEventLists) fireStart(pid int) {
	for _, h := range e.onStartProcess.snapshot() {
		h(pid)
	}
}

func (e *procEventLists) fireEnd() {
	for _, h := range e.onEndProcess.snapshot() {
		h()
	}
}

func (e *procEventLists) fireError(line string) {
	for _, h := range e.onErrorData.snapshot() {
		h(line)
	}
}

func (e *procEventLists) fireOutput(line string) {
	for _, h := range e.onOutput.snapshot() {
		h(line)
	}
}

// ProcessTask wraps an OS process as a first-class task. Process-ness is a
// capability added around a *task.Task, not a subclass.
type ProcessTask struct {
	// Task is the underlying engine task; use it for Then/Catch/OnEnd and
	// to Start the process. A ProcessTask composes exactly like any other
	// task.
	Task *task.Task

	env     Environment
	spec    StartSpec
	matcher *ProblemMatcher

	events procEventLists

	mu        sync.Mutex
	processor OutputProcessor
	cmd       *osexec.Cmd
	stdin     *stdinWriter
	exitCode  int
	errs      []string
	detached  bool
	detachCh  chan struct{}
	problems  []Problem
}

// New creates a ProcessTask. Configure must be called before Start.
func New(name string, affinity scheduler.Affinity, env Environment) *ProcessTask {
	pt := &ProcessTask{
		env:      env,
		exitCode: -1,
		detachCh: make(chan struct{}),
	}
	pt.Task = task.NewFunc[any](name, affinity, pt.run)
	return pt
}

// Configure sets the start spec and, optionally, the output processor. It
// must be called before Start; calling it afterward returns a StateError.
func (pt *ProcessTask) Configure(spec StartSpec, processor OutputProcessor) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.Task.State() != task.Created {
		return task.NewStateError("Configure", pt.Task.State())
	}
	pt.spec = spec
	if processor == nil {
		processor = NewLineOutputProcessor()
	}
	pt.processor = processor
	return nil
}

// WithProblemMatcher installs an optional regex classifier applied to
// every line as it arrives.
func (pt *ProcessTask) WithProblemMatcher(m *ProblemMatcher) *ProcessTask {
	pt.mu.Lock()
	pt.matcher = m
	pt.mu.Unlock()
	return pt
}

// OnStartProcess subscribes h, called once the OS reports a PID. The
// returned func unsubscribes h.
func (pt *ProcessTask) OnStartProcess(h func(pid int)) func() {
	return pt.events.onStartProcess.add(h)
}

// OnEndProcess subscribes h, called exactly once when the process wrapper
// finishes (including on Detach). The returned func unsubscribes h.
func (pt *ProcessTask) OnEndProcess(h func()) func() {
	return pt.events.onEndProcess.add(h)
}

// OnErrorData subscribes h to stderr lines. The returned func unsubscribes
// h.
func (pt *ProcessTask) OnErrorData(h func(line string)) func() {
	return pt.events.onErrorData.add(h)
}

// OnOutput subscribes h to stdout lines. The returned func unsubscribes h.
func (pt *ProcessTask) OnOutput(h func(line string)) func() {
	return pt.events.onOutput.add(h)
}

// StandardInput returns the process's stdin writer. It is valid from
// OnStartProcess through the task's terminal state; before the process
// spawns it returns nil.
func (pt *ProcessTask) StandardInput() *stdinWriter {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.stdin
}

// ExitCode returns the process's exit code, or -1 if it has not exited.
func (pt *ProcessTask) ExitCode() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.exitCode
}

// Errors returns the accumulated stderr lines.
func (pt *ProcessTask) Errors() []string {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]string, len(pt.errs))
	copy(out, pt.errs)
	return out
}

// Problems returns every line the configured ProblemMatcher classified, in
// arrival order.
func (pt *ProcessTask) Problems() []Problem {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]Problem, len(pt.problems))
	copy(out, pt.problems)
	return out
}

// Detach causes the task to transition Succeeded immediately, leaving the
// OS process running; the manager never kills a detached process on
// shutdown.
func (pt *ProcessTask) Detach() {
	pt.mu.Lock()
	if pt.detached {
		pt.mu.Unlock()
		return
	}
	pt.detached = true
	close(pt.detachCh)
	pt.mu.Unlock()
}

// Stop requests termination: closes stdin, waits a short grace period,
// then cancels the task's context, which forcefully kills the process.
func (pt *ProcessTask) Stop() {
	pt.mu.Lock()
	stdin := pt.stdin
	pt.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-pt.Task.Done():
		return
	case <-time.After(stopGracePeriod):
	}
	pt.Task.Cancel()
}

// run is the task body Configure/New wires into the underlying task.Task.
func (pt *ProcessTask) run(ctx context.Context, _ bool) (any, error) {
	pt.mu.Lock()
	spec := pt.spec
	processor := pt.processor
	env := pt.env
	matcher := pt.matcher
	pt.mu.Unlock()

	program := env.Resolve(ExpandVariables(spec.Program, env, spec.Env))
	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = ExpandVariables(a, env, spec.Env)
	}
	dir := spec.Dir
	if dir == "" {
		dir = env.WorkingDirectory
	}
	dir = ExpandVariables(dir, env, spec.Env)

	cmd := osexec.Command(program, args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(env, spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Program: program, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Program: program, Err: err}
	}
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Program: program, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Program: program, Err: err}
	}

	pt.mu.Lock()
	pt.cmd = cmd
	pt.stdin = &stdinWriter{w: stdinPipe}
	pt.mu.Unlock()

	pid := cmd.Process.Pid
	pt.events.fireStart(pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = scanStream(stdoutPipe, Stdout, spec.OutputBufferSize, func(line string) {
			pt.handleLine(processor, matcher, Stdout, line)
		})
	}()
	go func() {
		defer wg.Done()
		_ = scanStream(stderrPipe, Stderr, spec.OutputBufferSize, func(line string) {
			pt.handleLine(processor, matcher, Stderr, line)
			pt.mu.Lock()
			pt.errs = append(pt.errs, line)
			pt.mu.Unlock()
			pt.events.fireError(line)
		})
	}()

	// cmd.Wait closes the pipes once the process exits, so it must not run
	// until both readers have reached EOF, or trailing lines are lost.
	waitDone := make(chan error, 1)
	go func() {
		wg.Wait()
		waitDone <- cmd.Wait()
	}()

	select {
	case err = <-waitDone:
		wg.Wait()
	case <-pt.detachCh:
		pt.events.fireEnd()
		res, ok := processor.Result()
		if !ok {
			res = "Process running"
		}
		return res, nil
	case <-ctx.Done():
		// Setpgid above put the process in its own group; kill the whole
		// group (negative pid) so grandchildren die too, matching Stop's
		// "forcefully kills the process" promise. Plain exec.Command gives
		// us no automatic kill-on-cancel, unlike exec.CommandContext.
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-waitDone
		wg.Wait()
		pt.events.fireEnd()
		return nil, &task.CancellationError{Err: ctx.Err()}
	}

	processor.Close()
	pt.events.fireEnd()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*osexec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	pt.mu.Lock()
	pt.exitCode = exitCode
	pt.mu.Unlock()

	if exitCode != 0 {
		return nil, &ExitError{Program: program, ExitCode: exitCode, Errors: pt.Errors()}
	}

	res, _ := processor.Result()
	return res, nil
}

func (pt *ProcessTask) handleLine(processor OutputProcessor, matcher *ProblemMatcher, stream Stream, content string) {
	processor.OnEntry(Line{Content: content, Stream: stream})
	if stream == Stdout {
		pt.events.fireOutput(content)
	}
	if matcher != nil {
		if problem, ok := matcher.Match(content); ok {
			pt.mu.Lock()
			pt.problems = append(pt.problems, problem)
			pt.mu.Unlock()
		}
	}
}

// buildEnv merges the process's environment, lowest precedence first:
// os.Environ(), then Environment.EnvironmentVariables, then extra
// (Configure's per-spec overrides).
func buildEnv(env Environment, extra map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range osEnviron() {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range env.EnvironmentVariables {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(merged))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, merged[k]))
	}
	return out
}
