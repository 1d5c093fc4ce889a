package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/launcher"
)

// launchCmd is the detaching half of the start path: it spawns the target
// in its own process group with streams redirected, records the pid, and
// exits. Exit 0 means the process was spawned and its pid file written;
// anything that went wrong lands on stderr.
var launchCmd = &cobra.Command{
	Use:    "launch workdir pidfile stdoutfile stderrfile command [args...]",
	Short:  "Spawn a daemon detached (internal)",
	Hidden: true,
	Args:   cobra.MinimumNArgs(5),

	// Daemon args must reach the daemon untouched, dashes and all.
	DisableFlagParsing: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := launcher.ParseArgs(args)
		if err != nil {
			return err
		}
		pid, err := spec.Launch()
		if err != nil {
			return err
		}
		fmt.Println(pid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(launchCmd)
}
