package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/daemon"
	"github.com/benaskins/stagehand/internal/scenario"
)

var scenarioFile string

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start every daemon in a scenario file",
	Long:  "Load a scenario file and start its daemons in order. A failed start tears down the daemons already started.",
	RunE:  runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop every running daemon in a scenario file",
	RunE:  runDown,
}

func init() {
	upCmd.Flags().StringVarP(&scenarioFile, "file", "f", "scenario.yaml", "Scenario file")
	downCmd.Flags().StringVarP(&scenarioFile, "file", "f", "scenario.yaml", "Scenario file")
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	sc, err := scenario.Load(scenarioFile)
	if err != nil {
		return err
	}

	launch, err := selfLauncher()
	if err != nil {
		return err
	}

	m, err := attachManager(sc.Workdir, launch)
	if err != nil {
		return err
	}

	var started []string
	for _, d := range sc.Daemons {
		h, err := m.Start(cmd.Context(), daemon.StartSpec{
			Name:         d.Name,
			Command:      d.Command,
			Args:         d.Args,
			Port:         d.Port,
			Advisory:     d.Advisory(),
			StartTimeout: d.StartTimeout.Duration,
			StopGrace:    d.StopGrace.Duration,
		})
		if err != nil {
			teardown(m, started)
			return fmt.Errorf("scenario failed at daemon %q: %w", d.Name, err)
		}
		fmt.Printf("started %s (pid %d)\n", h.Name, h.PID)
		started = append(started, d.Name)
	}

	return nil
}

// teardown stops already-started daemons in reverse order after a partial
// scenario start.
func teardown(m *daemon.Manager, started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := m.Stop(started[i]); err != nil {
			slog.Warn("teardown stop failed", "daemon", started[i], "error", err)
		}
	}
}

func runDown(cmd *cobra.Command, args []string) error {
	sc, err := scenario.Load(scenarioFile)
	if err != nil {
		return err
	}

	m, err := attachManager(sc.Workdir)
	if err != nil {
		return err
	}

	var failed int
	for i := len(sc.Daemons) - 1; i >= 0; i-- {
		name := sc.Daemons[i].Name
		h, err := m.Handle(name)
		if err != nil || h.State != daemon.StateRunning {
			continue
		}
		if err := m.Stop(name); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "stopping %s: %v\n", name, err)
			failed++
			continue
		}
		fmt.Printf("stopped %s\n", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d daemon(s) failed to stop", failed)
	}
	return nil
}
