package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start name command [args...]",
	Short: "Start one daemon",
	Long:  "Start a daemon detached, with stdout and stderr captured to files in the scenario directory. Blocks until the daemon is confirmed running, or listening when --port is given.",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runStart,
}

var (
	startPort        int
	startAdvisory    bool
	startTimeoutFlag time.Duration
	portTimeoutFlag  time.Duration
	stopGraceFlag    time.Duration
)

func init() {
	startCmd.Flags().IntVarP(&startPort, "port", "p", 0, "TCP port to wait on for readiness")
	startCmd.Flags().BoolVar(&startAdvisory, "advisory", false, "Log readiness failure instead of failing the start")
	startCmd.Flags().DurationVar(&startTimeoutFlag, "start-timeout", 0, "Bound on the spawn confirmation wait (default 10s)")
	startCmd.Flags().DurationVar(&portTimeoutFlag, "port-timeout", 0, "Bound on the readiness probe (default 5s)")
	startCmd.Flags().DurationVar(&stopGraceFlag, "stop-grace", 0, "SIGTERM grace before SIGKILL when this daemon is stopped")

	// Flags after the command name belong to the daemon.
	startCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	launch, err := selfLauncher()
	if err != nil {
		return err
	}

	opts := []daemon.Option{launch}
	if portTimeoutFlag > 0 {
		opts = append(opts, daemon.WithPortTimeout(portTimeoutFlag))
	}
	m, err := attachManager(workDir, opts...)
	if err != nil {
		return err
	}

	h, err := m.Start(cmd.Context(), daemon.StartSpec{
		Name:         args[0],
		Command:      args[1],
		Args:         args[2:],
		Port:         startPort,
		Advisory:     startAdvisory,
		StartTimeout: startTimeoutFlag,
		StopGrace:    stopGraceFlag,
	})
	if err != nil {
		return err
	}

	fmt.Printf("started %s (pid %d)\n", h.Name, h.PID)
	return nil
}
