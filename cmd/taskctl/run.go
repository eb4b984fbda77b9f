package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgekit/taskkernel/manager"
	"github.com/forgekit/taskkernel/process"
	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

var runCmd = &cobra.Command{
	Use:   "run <program> [args...]",
	Short: "Run a ProcessTask on the LongRunning lane and stream its output",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := initLogging()
	defer func() { _ = logger.Sync() }()

	cfg, env, err := loadHostConfig()
	if err != nil {
		return err
	}

	m := manager.New(manager.Options{Logger: logger, LongRunningMaxWorkers: cfg.LongRunningMaxWorkers})
	defer m.Stop()

	pt := process.New(args[0], scheduler.LongRunning, env)
	if err := pt.Configure(process.StartSpec{Program: args[0], Args: args[1:]}, nil); err != nil {
		return err
	}
	pt.OnOutput(func(line string) { fmt.Fprintln(os.Stdout, line) })
	pt.OnErrorData(func(line string) { fmt.Fprintln(os.Stderr, line) })

	if _, err := m.Schedule(pt.Task); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	pt.Task.Wait()

	if pt.Task.State() != task.Succeeded {
		os.Exit(exitCodeFor(pt))
	}
	return nil
}

func exitCodeFor(pt *process.ProcessTask) int {
	if code := pt.ExitCode(); code > 0 {
		return code
	}
	return 1
}
