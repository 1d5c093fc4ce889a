// Package config loads persistent harness defaults, so a test suite can
// set its timeouts once instead of repeating flags on every invocation.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/benaskins/stagehand/internal/scenario"
)

// Config holds harness defaults loaded from ~/.stagehand/config.yaml (or
// $STAGEHAND_CONFIG). Zero fields leave the built-in defaults in place.
type Config struct {
	StartTimeout scenario.Duration `yaml:"start_timeout,omitempty"`
	PortTimeout  scenario.Duration `yaml:"port_timeout,omitempty"`
	GracePeriod  scenario.Duration `yaml:"grace_period,omitempty"`
	StopTimeout  scenario.Duration `yaml:"stop_timeout,omitempty"`
}

// DefaultPath returns the config file path: $STAGEHAND_CONFIG when set,
// otherwise ~/.stagehand/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("STAGEHAND_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".stagehand", "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
