// Package main is the entry point for the taskclaw CLI.
package main

import (
	"os"

	"github.com/TaskClaw/TaskClaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
