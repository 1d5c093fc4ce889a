package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/scenario"
)

type checkResult struct {
	Path    string `json:"path"`
	Daemons int    `json:"daemons,omitempty"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [file-or-dir]",
	Short: "Validate scenario files",
	Long:  "Parse and validate YAML scenario files. Checks a specific file, or every scenario in a directory. Defaults to the current directory.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := "."
	if len(args) > 0 {
		target = args[0]
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", target, err)
	}

	var files []string
	if info.IsDir() {
		yamlFiles, _ := filepath.Glob(filepath.Join(target, "*.yaml"))
		ymlFiles, _ := filepath.Glob(filepath.Join(target, "*.yml"))
		files = append(yamlFiles, ymlFiles...)
		if len(files) == 0 {
			return fmt.Errorf("no YAML files found in %s", target)
		}
	} else {
		files = []string{target}
	}

	var results []checkResult
	var failed int
	for _, path := range files {
		sc, err := scenario.Load(path)
		if err != nil {
			results = append(results, checkResult{Path: path, Valid: false, Error: err.Error()})
			failed++
		} else {
			results = append(results, checkResult{Path: path, Daemons: len(sc.Daemons), Valid: true})
		}
	}

	if jsonOut {
		return printJSON(results)
	}

	for _, r := range results {
		if r.Valid {
			fmt.Printf("OK    %s (%d daemons)\n", r.Path, r.Daemons)
		} else {
			fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", r.Path, r.Error)
		}
	}

	if len(files) > 1 {
		fmt.Printf("\n%d/%d scenarios valid\n", len(files)-failed, len(files))
	}

	if failed > 0 {
		return fmt.Errorf("%d scenario(s) failed validation", failed)
	}
	return nil
}
