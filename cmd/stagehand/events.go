package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the scenario's lifecycle event log",
	Long:  "Replay the append-only record of daemon transitions (started, start_failed, stopped, killed) for the scenario directory.",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	m, err := attachManager(workDir)
	if err != nil {
		return err
	}

	entries, err := events.Read(m.EventLogPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Println("No events")
			return nil
		}
		return err
	}

	if jsonOut {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No events")
		return nil
	}
	renderEvents(os.Stdout, entries)
	return nil
}

func renderEvents(w io.Writer, entries []events.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tDAEMON\tPID\tDETAIL")
	for _, e := range entries {
		pid := "-"
		if e.PID > 0 {
			pid = fmt.Sprintf("%d", e.PID)
		}
		detail := e.Reason
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("15:04:05"), e.Action, e.Daemon, pid, detail)
	}
	tw.Flush()
}
