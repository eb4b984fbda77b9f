package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgekit/taskkernel/manager"
	"github.com/forgekit/taskkernel/scheduler"
	"github.com/forgekit/taskkernel/task"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Build the a.Then(b, OnFailure).Then(c, OnSuccess) demo chain and print the resulting states",
	RunE:  runChain,
}

func runChain(cmd *cobra.Command, args []string) error {
	logger := initLogging()
	defer func() { _ = logger.Sync() }()

	m := manager.New(manager.Options{Logger: logger})
	defer m.Stop()

	a := task.NewAction("a", scheduler.Concurrent, func(ctx context.Context, _ bool) error {
		return errors.New("boom")
	})
	b := task.NewAction("b", scheduler.Concurrent, func(ctx context.Context, _ bool) error {
		fmt.Println("b ran")
		return nil
	})
	c := task.NewAction("c", scheduler.Concurrent, func(ctx context.Context, _ bool) error {
		fmt.Println("c ran")
		return nil
	})

	a.Then(b, task.OnFailure).Then(c, task.OnSuccess)

	if _, err := m.Schedule(a); err != nil {
		return err
	}
	a.Wait()
	b.Wait()
	c.Wait()

	fmt.Printf("a: %s (%v)\n", a.State(), a.Err())
	fmt.Printf("b: %s (%v)\n", b.State(), b.Err())
	fmt.Printf("c: %s (%v)\n", c.State(), c.Err())
	return nil
}
