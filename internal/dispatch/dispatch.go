// Package dispatch defines the agent execution contract consumed by the
// scheduler loop, plus the subprocess-based implementation.
package dispatch

import (
	"context"

	"github.com/TaskClaw/TaskClaw/internal/permission"
	"github.com/TaskClaw/TaskClaw/internal/registry"
)

// Request carries everything one dispatch needs.
type Request struct {
	Prompt     string
	WorkingDir string
	// Model overrides the dispatcher's configured model when non-empty.
	Model   string
	Servers map[string]registry.ServerConfig
	// Authorize answers runtime tool-authorization questions. Denial is
	// final in unattended mode; the dispatcher must fail rather than wait
	// for interactive confirmation.
	Authorize func(permission.Request) bool
	// AllowPatterns are the raw patterns Authorize was compiled from, for
	// dispatchers that pass an allowlist down instead of calling back.
	AllowPatterns []string
	TraceID       string
}

// Outcome is the result of one dispatch.
type Outcome struct {
	OK     bool
	Detail string
}

// Dispatcher executes a task's instruction. Implementations are invoked
// from their own goroutine, one per due task, and must honor ctx.
type Dispatcher interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}
