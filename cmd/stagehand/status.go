package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/daemon"
	"github.com/benaskins/stagehand/internal/probe"
)

type statusRow struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port,omitempty"`
	Listening string    `json:"listening,omitempty"` // "yes"/"no" for running daemons with a port
	Command   string    `json:"command,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// listeningLabel probes a running daemon's readiness port right now:
// "yes", "no", or "-" when there is nothing to probe.
func listeningLabel(h daemon.Handle) string {
	if h.State != daemon.StateRunning || h.Port == 0 {
		return "-"
	}
	if probe.PortOpen("localhost", h.Port, time.Second) {
		return "yes"
	}
	return "no"
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status for the scenario",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	m, err := attachManager(workDir)
	if err != nil {
		return err
	}

	handles := m.Handles()

	if jsonOut {
		rows := make([]statusRow, 0, len(handles))
		for _, h := range handles {
			listening := ""
			if l := listeningLabel(h); l != "-" {
				listening = l
			}
			rows = append(rows, statusRow{
				Name:      h.Name,
				State:     string(h.State),
				PID:       h.PID,
				Port:      h.Port,
				Listening: listening,
				Command:   h.Command(),
				StartedAt: h.StartedAt,
				Error:     h.StartErr,
			})
		}
		return printJSON(rows)
	}

	if len(handles) == 0 {
		fmt.Println("No daemons")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DAEMON\tSTATE\tPID\tPORT\tLISTENING\tUPTIME")
	for _, h := range handles {
		pid := "-"
		if h.PID > 0 {
			pid = fmt.Sprintf("%d", h.PID)
		}
		port := "-"
		if h.Port > 0 {
			port = fmt.Sprintf("%d", h.Port)
		}
		uptime := "-"
		if h.State == daemon.StateRunning && !h.StartedAt.IsZero() {
			uptime = time.Since(h.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", h.Name, h.State, pid, port, listeningLabel(h), uptime)
	}
	w.Flush()

	// Show details for failed daemons
	for _, h := range handles {
		if h.State == daemon.StateStartFailed && h.StartErr != "" {
			fmt.Printf("\n%s: %s\n", h.Name, h.StartErr)
		}
	}

	return nil
}
