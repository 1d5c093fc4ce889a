package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/stagehand/internal/config"
	"github.com/benaskins/stagehand/internal/daemon"
)

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Daemon lifecycle manager for acceptance-test scenarios",
}

var workDir string

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "d", ".", "Scenario working directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// attachManager opens a manager on the given scenario directory, creating
// the directory when absent and restoring persisted daemon records.
// Options derived from the user's config file come first, so explicit
// flags passed by the caller win.
func attachManager(dir string, opts ...daemon.Option) (*daemon.Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating scenario dir: %w", err)
	}
	return daemon.Attach(dir, append(configOptions(), opts...)...)
}

// configOptions translates the config file's set fields into manager
// options. A broken config file is reported but never blocks a scenario.
func configOptions() []daemon.Option {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: ignoring config: %v\n", err)
		return nil
	}

	var opts []daemon.Option
	if d := cfg.StartTimeout.Duration; d > 0 {
		opts = append(opts, daemon.WithStartTimeout(d))
	}
	if d := cfg.PortTimeout.Duration; d > 0 {
		opts = append(opts, daemon.WithPortTimeout(d))
	}
	if d := cfg.GracePeriod.Duration; d > 0 {
		opts = append(opts, daemon.WithGracePeriod(d))
	}
	if d := cfg.StopTimeout.Duration; d > 0 {
		opts = append(opts, daemon.WithStopTimeout(d))
	}
	return opts
}

// selfLauncher spawns daemons through this binary's hidden launch
// subcommand, so daemons are never children of the managing process and
// survive its exit cleanly.
func selfLauncher() (daemon.Option, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating own executable: %w", err)
	}
	return daemon.WithLauncher(exe, "launch"), nil
}
