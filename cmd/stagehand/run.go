package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/runcmd"
)

// runCmd is the client half of a scenario: daemons come up through start
// or up, then foreground commands run against them from here.
var runCmd = &cobra.Command{
	Use:   "run command [args...]",
	Short: "Run a foreground command in the scenario directory",
	Long:  "Run a client command against the scenario's daemons: working directory set to the scenario dir, captured output passed through, exit code propagated.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

var (
	runEnv  []string
	runPath []string
)

func init() {
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "Extra KEY=VALUE environment entries")
	runCmd.Flags().StringArrayVar(&runPath, "path", nil, "Directories to prepend to PATH")

	// Flags after the command name belong to the command.
	runCmd.Flags().SetInterspersed(false)

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	r := &runcmd.Runner{Dir: workDir, Env: runEnv, PathPrepend: runPath}

	code, err := executeRun(cmd.Context(), r, args, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		// The command ran; its exit code is the verdict, not a usage
		// problem.
		os.Exit(code)
	}
	return nil
}

// executeRun runs argv through the runner and copies the captured streams
// out, returning the command's exit code.
func executeRun(ctx context.Context, r *runcmd.Runner, argv []string, stdout, stderr io.Writer) (int, error) {
	res, err := r.Run(ctx, argv...)
	if err != nil {
		return 0, err
	}
	stdout.Write(res.Stdout)
	stderr.Write(res.Stderr)
	return res.ExitCode, nil
}
