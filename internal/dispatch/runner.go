package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/TaskClaw/TaskClaw/internal/registry"
)

// CLIRunner executes tasks by shelling out to the agent CLI in
// non-interactive print mode.
type CLIRunner struct {
	Binary  string        // agent binary, default "claude"
	Model   string        // optional model override
	Timeout time.Duration // per-run cap, default 10m
}

// NewCLIRunner creates a runner with defaults filled in.
func NewCLIRunner(binary, model string, timeout time.Duration) *CLIRunner {
	if binary == "" {
		binary = "claude"
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CLIRunner{Binary: binary, Model: model, Timeout: timeout}
}

// Execute runs the agent CLI once. The run is unattended: the allowlist is
// handed down in the CLI's own pattern form and anything outside it fails
// instead of prompting.
func (r *CLIRunner) Execute(ctx context.Context, req Request) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	args := []string{"-p", "--output-format", "text"}
	if model := r.model(req); model != "" {
		args = append(args, "--model", model)
	}
	if allowed := AllowedToolArgs(req.AllowPatterns, req.Servers); len(allowed) > 0 {
		args = append(args, "--allowedTools", strings.Join(allowed, ","))
	}

	if len(req.Servers) > 0 {
		mcpFile, err := writeServerConfig(req.Servers)
		if err != nil {
			return Outcome{}, err
		}
		defer os.Remove(mcpFile)
		args = append(args, "--mcp-config", mcpFile)
	}

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = req.WorkingDir
	cmd.Stdin = strings.NewReader(buildPromptContext(req) + req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("Dispatching agent run", "trace", req.TraceID, "binary", r.Binary, "servers", len(req.Servers))

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return Outcome{OK: false, Detail: detail}, nil
	}
	return Outcome{OK: true, Detail: truncate(strings.TrimSpace(stdout.String()), 500)}, nil
}

// model resolves the effective model: a per-task override beats the
// runner's configured default.
func (r *CLIRunner) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return r.Model
}

// AllowedToolArgs converts raw allow-patterns to the agent CLI's tool
// pattern form:
//
//	mail:          -> mcp__mail__*
//	mail:send      -> mcp__mail__send
//	mail:send_*    -> mcp__mail__send_*
//	Bash           -> Bash
//	*              -> mcp__<name>__* for every loaded server
func AllowedToolArgs(patterns []string, servers map[string]registry.ServerConfig) []string {
	var out []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == "*":
			for _, name := range sortedNames(servers) {
				out = append(out, fmt.Sprintf("mcp__%s__*", name))
			}
		case strings.Contains(p, ":"):
			name, tool, _ := strings.Cut(p, ":")
			if tool == "" {
				tool = "*"
			}
			out = append(out, fmt.Sprintf("mcp__%s__%s", name, tool))
		default:
			out = append(out, p)
		}
	}
	return out
}

func buildPromptContext(req Request) string {
	var b strings.Builder
	b.WriteString("[Context]\n")
	b.WriteString("Current time: " + time.Now().Format("Monday, January 2, 2006, 3:04 PM") + "\n")
	if req.WorkingDir != "" {
		b.WriteString("Working directory: " + req.WorkingDir + "\n")
	}
	if len(req.Servers) > 0 {
		b.WriteString("Available MCPs: " + strings.Join(sortedNames(req.Servers), ", ") + "\n")
	}
	b.WriteString("\n[Task]\n")
	return b.String()
}

func writeServerConfig(servers map[string]registry.ServerConfig) (string, error) {
	payload, err := json.Marshal(map[string]any{"mcpServers": servers})
	if err != nil {
		return "", fmt.Errorf("dispatch: marshal mcp config: %w", err)
	}
	f, err := os.CreateTemp("", "taskclaw-mcp-*.json")
	if err != nil {
		return "", fmt.Errorf("dispatch: mcp config temp file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("dispatch: write mcp config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}

func sortedNames(servers map[string]registry.ServerConfig) []string {
	names := make([]string, 0, len(servers))
	for n := range servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
