package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/logbuf"
)

var logsCmd = &cobra.Command{
	Use:   "logs name",
	Short: "Show the tail of a daemon's captured output",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var (
	logsLines  int
	logsStderr bool
)

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 10, "Number of lines to show")
	logsCmd.Flags().BoolVar(&logsStderr, "stderr", false, "Show the stderr capture instead of stdout")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	m, err := attachManager(workDir)
	if err != nil {
		return err
	}

	h, err := m.Handle(args[0])
	if err != nil {
		return err
	}

	path := h.Files.StdoutPath
	if logsStderr {
		path = h.Files.StderrPath
	}

	lines, err := logbuf.TailFile(path, logsLines)
	if err != nil {
		return fmt.Errorf("reading capture for %s: %w", args[0], err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
