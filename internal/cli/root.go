// Package cli implements the taskclaw command front end.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/TaskClaw/TaskClaw/internal/cli.version=1.2.3"
	version = "1.0.0"
	logo    = "\n" +
		"  _____         _     ____ _\n" +
		" |_   _|_ _ ___| | __/ ___| | __ ___      __\n" +
		"   | |/ _` / __| |/ / |   | |/ _` \\ \\ /\\ / /\n" +
		"   | | (_| \\__ \\   <| |___| | (_| |\\ V  V /\n" +
		"   |_|\\__,_|___/_|\\_\\\\____|_|\\__,_| \\_/\\_/\n"
)

var rootCmd = &cobra.Command{
	Use:   "taskclaw",
	Short: "TaskClaw - unattended agent task scheduler",
	Long:  color.CyanString(logo) + "\nSchedule agent runs at wall-clock times or on fixed intervals.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskclaw version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "taskclaw", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mcpsCmd)
}
