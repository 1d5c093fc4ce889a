package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop name",
	Short: "Stop a running daemon",
	Long:  "Send SIGTERM to the daemon's process group, escalate to SIGKILL after the grace period, and wait for the process to go away.",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

var (
	stopGrace   time.Duration
	stopTimeout time.Duration
)

func init() {
	stopCmd.Flags().DurationVar(&stopGrace, "grace", daemon.DefaultGracePeriod, "SIGTERM grace before SIGKILL")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", daemon.DefaultStopTimeout, "Bound on the whole stop operation")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	var opts []daemon.Option
	if cmd.Flags().Changed("grace") {
		opts = append(opts, daemon.WithGracePeriod(stopGrace))
	}
	if cmd.Flags().Changed("timeout") {
		opts = append(opts, daemon.WithStopTimeout(stopTimeout))
	}

	m, err := attachManager(workDir, opts...)
	if err != nil {
		return err
	}
	if err := m.Stop(args[0]); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", args[0])
	return nil
}
