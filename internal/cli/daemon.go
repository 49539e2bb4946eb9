package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TaskClaw/TaskClaw/internal/config"
	"github.com/TaskClaw/TaskClaw/internal/dispatch"
	"github.com/TaskClaw/TaskClaw/internal/registry"
	"github.com/TaskClaw/TaskClaw/internal/scheduler"
	"github.com/TaskClaw/TaskClaw/internal/snapshot"
	"github.com/TaskClaw/TaskClaw/internal/task"
	"github.com/TaskClaw/TaskClaw/internal/timeline"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler loop with the interactive command console",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := config.SaveIfMissing(cfg); err != nil {
		slog.Warn("Could not write default config", "error", err)
	}

	reg, err := registry.Load(cfg.Paths.ClaudeConfig)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d MCP server(s) from %s\n", len(reg.Names()), cfg.Paths.ClaudeConfig)

	history, err := timeline.New(cfg.Paths.TimelineDB)
	if err != nil {
		// Run history is an observability layer; the schedule still works
		// without it.
		slog.Warn("Run history unavailable", "error", err)
		history = nil
	}
	defer history.Close()

	store := task.NewStore()
	tasks, err := snapshot.Load(cfg.Paths.SnapshotFile)
	if err != nil {
		if errors.Is(err, snapshot.ErrMalformed) {
			return fmt.Errorf("refusing to start over a corrupt snapshot (%w); move %s aside to start fresh",
				err, cfg.Paths.SnapshotFile)
		}
		return err
	}
	if len(tasks) > 0 {
		store.Restore(tasks)
		fmt.Printf("Loaded %d task(s) from %s\n", len(tasks), cfg.Paths.SnapshotFile)
	}

	runner := dispatch.NewCLIRunner(cfg.Agent.Binary, cfg.Agent.Model, cfg.Scheduler.DispatchTimeout)
	loop := scheduler.New(scheduler.Config{
		PollInterval:  cfg.Scheduler.PollInterval,
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
	}, store, reg, runner, history)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()
	fmt.Println("Task scheduler running.")

	con := &console{
		cfg:     cfg,
		store:   store,
		reg:     reg,
		history: history,
	}

	// Ctrl+C shuts down the same way the exit command does.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		con.run(os.Stdin, os.Stdout)
	}()
	select {
	case <-sig:
		fmt.Println("\nInterrupted. Shutting down gracefully...")
	case <-consoleDone:
	}

	cancel()
	<-loopDone
	if !loop.Wait(cfg.Scheduler.ShutdownWait) {
		color.Yellow("Some dispatches were still running and were abandoned.")
	}

	if err := snapshot.Save(cfg.Paths.SnapshotFile, store.List()); err != nil {
		return fmt.Errorf("final save failed: %w", err)
	}
	fmt.Printf("Saved %d task(s) to %s\n", store.Len(), cfg.Paths.SnapshotFile)
	fmt.Println("Goodbye!")
	return nil
}
