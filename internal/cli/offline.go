package cli

// Read-only subcommands for inspecting state without starting the daemon.
// They work against the snapshot file, the run history db and the agent
// config directly; mutations go through the daemon console.

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TaskClaw/TaskClaw/internal/config"
	"github.com/TaskClaw/TaskClaw/internal/registry"
	"github.com/TaskClaw/TaskClaw/internal/snapshot"
	"github.com/TaskClaw/TaskClaw/internal/timeline"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks from the saved schedule snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tasks, err := snapshot.Load(cfg.Paths.SnapshotFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(tasks) == 0 {
			fmt.Fprintln(out, "No tasks in the saved schedule.")
			return nil
		}
		fmt.Fprintf(out, "Saved schedule (%s):\n", cfg.Paths.SnapshotFile)
		for i := range tasks {
			fmt.Fprintf(out, "  %d> %s\n", tasks[i].ID, tasks[i].Summary())
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent dispatch runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		svc, err := timeline.New(cfg.Paths.TimelineDB)
		if err != nil {
			return err
		}
		defer svc.Close()
		runs, err := svc.RecentRuns(limit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, "No dispatch runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Fprintln(out, formatRun(r))
		}
		return nil
	},
}

var mcpsCmd = &cobra.Command{
	Use:   "mcps",
	Short: "List available MCP servers from the agent config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		reg, err := registry.Load(cfg.Paths.ClaudeConfig)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		lines := reg.Describe(verbose)
		if len(lines) == 0 {
			fmt.Fprintf(out, "No MCP servers found in %s\n", cfg.Paths.ClaudeConfig)
			return nil
		}
		fmt.Fprintf(out, "Available MCP servers (%d):\n", len(lines))
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum runs to show")
	mcpsCmd.Flags().BoolP("verbose", "v", false, "Show config details and source paths")
}
