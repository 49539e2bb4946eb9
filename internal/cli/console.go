package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/TaskClaw/TaskClaw/internal/config"
	"github.com/TaskClaw/TaskClaw/internal/permission"
	"github.com/TaskClaw/TaskClaw/internal/registry"
	"github.com/TaskClaw/TaskClaw/internal/snapshot"
	"github.com/TaskClaw/TaskClaw/internal/task"
	"github.com/TaskClaw/TaskClaw/internal/timeline"
)

const consoleHelp = `Commands:
  schedule <HH:MMAM/PM> [options] <prompt...>   schedule a one-shot task
  periodic <seconds> [options] <prompt...>      schedule a recurring task
  list [id]                                     list tasks / show one task
  run <id>                                      fire a task on the next tick
  unschedule <id>                               remove a task
  save-prompt <id> <path>                       export a task's prompt text
  save                                          snapshot the schedule to disk
  reload                                        reload the schedule from disk
  mcps [--verbose]                              list available MCP servers
  history [n]                                   show recent dispatch runs
  help                                          show this help
  exit                                          save and quit

Options:
  --mcps name1,name2     load the named MCP servers
  --cwd /path            working directory for the agent
                         (inherits that project's MCP servers)
  --model name           agent model override for this task
  --prompt-file <path>   read the prompt from a file
  --allow                pre-authorize all loaded MCPs (unattended)
  --allow patterns       pre-authorize specific tools, e.g.
                         mail:  mail:send  mail:send_*  Bash,Edit`

// console is the interactive front end sharing the store with the loop.
type console struct {
	cfg     *config.Config
	store   *task.Store
	reg     *registry.Registry
	history *timeline.Service
	now     func() time.Time
}

func (c *console) run(in io.Reader, out io.Writer) {
	if c.now == nil {
		c.now = time.Now
	}
	fmt.Fprintln(out, "Commands: schedule, periodic, list, run, unschedule, save-prompt, save, reload, mcps, history, help, exit")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		if !c.handle(tokens, out) {
			return
		}
	}
}

// handle executes one command line. Returns false when the console should
// exit.
func (c *console) handle(tokens []string, out io.Writer) bool {
	switch tokens[0] {
	case "schedule":
		c.cmdSchedule(tokens[1:], out)
	case "periodic":
		c.cmdPeriodic(tokens[1:], out)
	case "list":
		c.cmdList(tokens[1:], out)
	case "run":
		c.cmdRun(tokens[1:], out)
	case "unschedule":
		c.cmdUnschedule(tokens[1:], out)
	case "save-prompt":
		c.cmdSavePrompt(tokens[1:], out)
	case "save":
		c.cmdSave(out)
	case "reload":
		c.cmdReload(out)
	case "mcps":
		c.cmdMCPs(tokens[1:], out)
	case "history":
		c.cmdHistory(tokens[1:], out)
	case "help":
		fmt.Fprintln(out, consoleHelp)
	case "exit", "quit":
		return false
	default:
		c.errorf(out, "unknown command %q (try 'help')", tokens[0])
	}
	return true
}

func (c *console) cmdSchedule(tokens []string, out io.Writer) {
	if len(tokens) < 2 {
		c.errorf(out, "usage: schedule <HH:MMAM/PM> [--mcps ...] [--allow ...] <prompt>")
		return
	}
	fireAt, err := task.ParseClockTime(tokens[0], c.now())
	if err != nil {
		c.errorf(out, "%v", err)
		return
	}

	t, ok := c.buildTask(tokens[1:], out)
	if !ok {
		return
	}
	once, err := task.NewOnceTask(fireAt, t.Prompt)
	if err != nil {
		c.errorf(out, "%v", err)
		return
	}
	once.WorkingDir = t.WorkingDir
	once.Model = t.Model
	once.Integrations = t.Integrations
	once.AllowPatterns = t.AllowPatterns

	id := c.store.Add(once)
	fmt.Fprintf(out, "Scheduled task %d: %q at %s\n", id, once.Prompt, fireAt.Format("3:04PM"))
	c.describeTask(once, out)
}

func (c *console) cmdPeriodic(tokens []string, out io.Writer) {
	if len(tokens) < 2 {
		c.errorf(out, "usage: periodic <seconds> [--mcps ...] [--allow ...] <prompt>")
		return
	}
	seconds, err := strconv.Atoi(tokens[0])
	if err != nil {
		c.errorf(out, "period must be an integer")
		return
	}

	t, ok := c.buildTask(tokens[1:], out)
	if !ok {
		return
	}
	every, err := task.NewEveryTask(time.Duration(seconds)*time.Second, t.Prompt, c.now())
	if err != nil {
		c.errorf(out, "%v", err)
		return
	}
	every.WorkingDir = t.WorkingDir
	every.Model = t.Model
	every.Integrations = t.Integrations
	every.AllowPatterns = t.AllowPatterns

	id := c.store.Add(every)
	fmt.Fprintf(out, "Scheduled task %d: %q every %d seconds\n", id, every.Prompt, seconds)
	c.describeTask(every, out)
}

// buildTask parses the shared option flags and resolves the prompt text.
// Allow-patterns are compiled here so malformed entries are rejected at
// creation, not at dispatch.
func (c *console) buildTask(tokens []string, out io.Writer) (task.Task, bool) {
	opts, promptTokens := parseTaskArgs(tokens)

	var prompt string
	if opts.PromptFile != "" {
		data, err := os.ReadFile(expandUser(opts.PromptFile))
		if err != nil {
			c.errorf(out, "failed to read prompt file: %v", err)
			return task.Task{}, false
		}
		prompt = strings.TrimSpace(string(data))
	} else {
		prompt = strings.Join(promptTokens, " ")
	}
	if prompt == "" {
		c.errorf(out, "no prompt provided (use inline text or --prompt-file)")
		return task.Task{}, false
	}

	patterns := resolveAllowPatterns(opts)
	if _, err := permission.Compile(patterns); err != nil {
		c.errorf(out, "%v", err)
		return task.Task{}, false
	}

	// A working directory inherits the MCP servers its project declares in
	// the agent config, on top of any explicitly requested ones.
	mcps := opts.MCPs
	if opts.Cwd != "" {
		if project := c.reg.ProjectServers(opts.Cwd); len(project) > 0 {
			mcps = mergeProjectMCPs(mcps, project)
			fmt.Fprintf(out, "Inherited %d project MCP(s) from %s\n", len(project), opts.Cwd)
		}
	}

	// Unknown integrations are a dispatch-time failure; flag them now so
	// the user can fix the name before the task fires.
	if _, err := c.reg.Resolve(mcps); err != nil {
		c.errorf(out, "%v (task scheduled anyway; it will fail at dispatch, see 'mcps')", err)
	}

	return task.Task{
		Prompt:        prompt,
		WorkingDir:    opts.Cwd,
		Model:         opts.Model,
		Integrations:  mcps,
		AllowPatterns: patterns,
	}, true
}

// mergeProjectMCPs unions project-scoped server names into the explicit
// list. Explicit names keep their position and are never duplicated;
// inherited names follow in sorted order.
func mergeProjectMCPs(explicit []string, project map[string]registry.ServerConfig) []string {
	seen := make(map[string]bool, len(explicit))
	for _, n := range explicit {
		seen[n] = true
	}
	var inherited []string
	for n := range project {
		if !seen[n] {
			inherited = append(inherited, n)
		}
	}
	sort.Strings(inherited)
	return append(append([]string(nil), explicit...), inherited...)
}

func (c *console) describeTask(t *task.Task, out io.Writer) {
	if len(t.Integrations) > 0 {
		fmt.Fprintf(out, "  MCPs: %s\n", strings.Join(t.Integrations, ", "))
	}
	if len(t.AllowPatterns) > 0 {
		fmt.Fprintf(out, "  Pre-authorized: %s\n", strings.Join(t.AllowPatterns, ", "))
	}
	if t.WorkingDir != "" {
		fmt.Fprintf(out, "  Working dir: %s\n", t.WorkingDir)
	}
	if t.Model != "" {
		fmt.Fprintf(out, "  Model: %s\n", t.Model)
	}
}

func (c *console) cmdList(tokens []string, out io.Writer) {
	tasks := c.store.List()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks scheduled.")
		return
	}

	if len(tokens) > 0 {
		id, err := strconv.ParseInt(tokens[0], 10, 64)
		if err != nil {
			c.errorf(out, "id must be an integer")
			return
		}
		t, err := c.store.Get(id)
		if err != nil {
			c.errorf(out, "%v", err)
			return
		}
		fmt.Fprintf(out, "Task %d details:\n", t.ID)
		if t.Schedule.Kind == task.KindEvery {
			fmt.Fprintf(out, "  Schedule: every %ds (next %s)\n",
				int(t.Schedule.Interval/time.Second), t.Schedule.NextFireAt.Format(time.Kitchen))
		} else {
			fmt.Fprintf(out, "  Schedule: at %s\n", t.Schedule.FireAt.Format(time.Kitchen))
		}
		fmt.Fprintf(out, "  Status: %s\n", t.Status)
		if t.LastOutcome != "" {
			fmt.Fprintf(out, "  Last outcome: %s\n", t.LastOutcome)
		}
		if t.WorkingDir != "" {
			fmt.Fprintf(out, "  Working dir: %s\n", t.WorkingDir)
		}
		if t.Model != "" {
			fmt.Fprintf(out, "  Model: %s\n", t.Model)
		}
		if len(t.Integrations) > 0 {
			fmt.Fprintf(out, "  MCPs: %s\n", strings.Join(t.Integrations, ", "))
		}
		if len(t.AllowPatterns) > 0 {
			fmt.Fprintf(out, "  Allowed tools: %s\n", strings.Join(t.AllowPatterns, ", "))
		}
		fmt.Fprintf(out, "\n  Prompt:\n  %s\n", strings.ReplaceAll(t.Prompt, "\n", "\n  "))
		return
	}

	fmt.Fprintln(out, "Scheduled tasks:")
	for _, t := range tasks {
		fmt.Fprintf(out, "  %d> %s\n", t.ID, t.Summary())
	}
}

func (c *console) cmdRun(tokens []string, out io.Writer) {
	if len(tokens) < 1 {
		c.errorf(out, "usage: run <id>")
		return
	}
	id, err := strconv.ParseInt(tokens[0], 10, 64)
	if err != nil {
		c.errorf(out, "id must be an integer")
		return
	}
	if err := c.store.MakeDue(id, c.now()); err != nil {
		c.errorf(out, "%v", err)
		return
	}
	fmt.Fprintf(out, "Task %d will run on the next tick.\n", id)
}

func (c *console) cmdUnschedule(tokens []string, out io.Writer) {
	if len(tokens) < 1 {
		c.errorf(out, "usage: unschedule <id>")
		return
	}
	id, err := strconv.ParseInt(tokens[0], 10, 64)
	if err != nil {
		c.errorf(out, "id must be an integer")
		return
	}
	if err := c.store.Remove(id); err != nil {
		c.errorf(out, "%v", err)
		return
	}
	fmt.Fprintf(out, "Removed task %d\n", id)
}

func (c *console) cmdSavePrompt(tokens []string, out io.Writer) {
	if len(tokens) < 2 {
		c.errorf(out, "usage: save-prompt <id> <filepath>")
		return
	}
	id, err := strconv.ParseInt(tokens[0], 10, 64)
	if err != nil {
		c.errorf(out, "id must be an integer")
		return
	}
	t, err := c.store.Get(id)
	if err != nil {
		c.errorf(out, "%v", err)
		return
	}
	path := expandUser(tokens[1])
	if err := os.WriteFile(path, []byte(t.Prompt), 0600); err != nil {
		c.errorf(out, "failed to save prompt: %v", err)
		return
	}
	fmt.Fprintf(out, "Saved prompt to %s (%d chars)\n", path, len(t.Prompt))
}

func (c *console) cmdSave(out io.Writer) {
	if err := snapshot.Save(c.cfg.Paths.SnapshotFile, c.store.List()); err != nil {
		c.errorf(out, "%v", err)
		return
	}
	fmt.Fprintf(out, "Saved %d task(s) to %s\n", c.store.Len(), c.cfg.Paths.SnapshotFile)
}

func (c *console) cmdReload(out io.Writer) {
	tasks, err := snapshot.Load(c.cfg.Paths.SnapshotFile)
	if err != nil {
		if errors.Is(err, snapshot.ErrMalformed) {
			c.errorf(out, "%v (keeping the in-memory schedule)", err)
			return
		}
		c.errorf(out, "%v", err)
		return
	}
	c.store.Restore(tasks)
	fmt.Fprintf(out, "Reloaded %d task(s) from %s\n", len(tasks), c.cfg.Paths.SnapshotFile)
}

func (c *console) cmdMCPs(tokens []string, out io.Writer) {
	verbose := false
	for _, t := range tokens {
		if t == "--verbose" || t == "-v" {
			verbose = true
		}
	}
	lines := c.reg.Describe(verbose)
	if len(lines) == 0 {
		fmt.Fprintf(out, "No MCP servers found in %s\n", c.cfg.Paths.ClaudeConfig)
		return
	}
	fmt.Fprintf(out, "Available MCP servers (%d):\n", len(lines))
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}

func (c *console) cmdHistory(tokens []string, out io.Writer) {
	limit := 20
	if len(tokens) > 0 {
		if n, err := strconv.Atoi(tokens[0]); err == nil {
			limit = n
		}
	}
	runs, err := c.history.RecentRuns(limit)
	if err != nil {
		c.errorf(out, "%v", err)
		return
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No dispatch runs recorded.")
		return
	}
	for _, r := range runs {
		fmt.Fprintln(out, formatRun(r))
	}
}

func (c *console) errorf(out io.Writer, format string, args ...any) {
	fmt.Fprintln(out, color.RedString("Error: "+fmt.Sprintf(format, args...)))
}

func formatRun(r timeline.Run) string {
	line := fmt.Sprintf("  #%d task %d [%s] %s", r.RunID, r.TaskID, r.Status, r.StartedAt.Local().Format("Jan 2 15:04:05"))
	if r.Detail != "" {
		detail := r.Detail
		if len(detail) > 60 {
			detail = detail[:60] + "..."
		}
		line += ": " + detail
	}
	return line
}

func expandUser(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
