// Package scheduler runs the background loop that fires due tasks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TaskClaw/TaskClaw/internal/dispatch"
	"github.com/TaskClaw/TaskClaw/internal/permission"
	"github.com/TaskClaw/TaskClaw/internal/registry"
	"github.com/TaskClaw/TaskClaw/internal/task"
	"github.com/TaskClaw/TaskClaw/internal/timeline"
)

// Config holds loop settings.
type Config struct {
	PollInterval  time.Duration // how often the store is scanned for due tasks
	MaxConcurrent int           // cap on in-flight dispatches
}

// DefaultConfig returns the loop defaults: a 1s poll, finer than the
// coarsest supported schedule granularity, coarse enough not to spin.
func DefaultConfig() Config {
	return Config{
		PollInterval:  time.Second,
		MaxConcurrent: 8,
	}
}

// Loop polls the store and dispatches due tasks. One-shot tasks settle to
// a terminal status; periodic tasks return to pending with their next fire
// time advanced by exactly one interval, whatever the outcome.
type Loop struct {
	cfg        Config
	store      *task.Store
	resolver   registry.Resolver
	dispatcher dispatch.Dispatcher
	history    *timeline.Service
	sem        *Semaphore
	wg         sync.WaitGroup

	// now is injected so due-time logic is testable without real time.
	now func() time.Time
}

// New creates a loop. history may be nil.
func New(cfg Config, store *task.Store, resolver registry.Resolver, dispatcher dispatch.Dispatcher, history *timeline.Service) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Loop{
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		dispatcher: dispatcher,
		history:    history,
		sem:        NewSemaphore(cfg.MaxConcurrent),
		now:        time.Now,
	}
}

// Run drives the poll loop until ctx is cancelled. Cancellation stops new
// ticks only; call Wait to drain in-flight dispatches.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("Scheduler loop started", "poll", l.cfg.PollInterval, "tasks", l.store.Len())
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// Wait blocks until in-flight dispatches settle or the timeout elapses.
// Returns false if dispatches were still outstanding and abandoned.
func (l *Loop) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		slog.Warn("Abandoning in-flight dispatches after shutdown timeout", "timeout", timeout)
		return false
	}
}

// tick selects due pending tasks in (due time, id) order and dispatches
// each asynchronously. A failing task never halts the scan of the others.
func (l *Loop) tick(ctx context.Context) {
	now := l.now()
	for _, t := range l.store.DueBefore(now) {
		if !l.sem.TryAcquire() {
			// Leave the task pending; the next tick retries.
			slog.Warn("Dispatch skipped: concurrency limit", "task", t.ID)
			continue
		}
		// The pending->running transition is the dispatch guard: a task
		// already running is never selected again.
		if !l.store.MarkRunning(t.ID) {
			l.sem.Release()
			continue
		}
		l.wg.Add(1)
		go func(t task.Task) {
			defer l.wg.Done()
			defer l.sem.Release()
			l.dispatchOne(ctx, t)
		}(t)
	}
}

// dispatchOne runs a single task dispatch end to end and applies the
// task-kind end-of-life rule.
func (l *Loop) dispatchOne(ctx context.Context, t task.Task) {
	traceID := uuid.NewString()
	started := l.now()
	runID, err := l.history.RecordStart(t.ID, traceID, t.Prompt, started)
	if err != nil {
		slog.Warn("Run history insert failed", "task", t.ID, "error", err)
	}

	slog.Info("Dispatching task", "task", t.ID, "trace", traceID, "kind", t.Schedule.Kind)
	status, detail := l.execute(ctx, t, traceID)

	// A task removed mid-flight is gone from the store; its late outcome
	// is discarded by these no-ops.
	if t.Schedule.Kind == task.KindEvery {
		l.store.Reschedule(t.ID, detail)
	} else {
		l.store.Settle(t.ID, status, detail)
	}

	if err := l.history.RecordFinish(runID, status, detail, l.now()); err != nil {
		slog.Warn("Run history update failed", "task", t.ID, "error", err)
	}
	slog.Info("Dispatch settled", "task", t.ID, "trace", traceID, "status", status)
}

// execute resolves integrations, compiles the allowlist and invokes the
// dispatcher. Every failure is captured as the outcome, never propagated.
func (l *Loop) execute(ctx context.Context, t task.Task, traceID string) (status, detail string) {
	servers, err := l.resolver.Resolve(t.Integrations)
	if err != nil {
		return task.StatusFailed, err.Error()
	}

	// Patterns are validated when the task is created; recompiling here
	// keeps a stale snapshot from crashing the loop.
	matcher, err := permission.Compile(t.AllowPatterns)
	if err != nil {
		return task.StatusFailed, err.Error()
	}

	outcome, err := l.dispatcher.Execute(ctx, dispatch.Request{
		Prompt:        t.Prompt,
		WorkingDir:    t.WorkingDir,
		Model:         t.Model,
		Servers:       servers,
		Authorize:     matcher.Allows,
		AllowPatterns: t.AllowPatterns,
		TraceID:       traceID,
	})
	if err != nil {
		return task.StatusFailed, err.Error()
	}
	if !outcome.OK {
		return task.StatusFailed, outcome.Detail
	}
	return task.StatusCompleted, outcome.Detail
}
