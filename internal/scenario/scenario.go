// Package scenario loads and validates scenario files: the YAML
// description of the daemons an acceptance-test scenario brings up.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var daemonNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Readiness policies for the post-start port probe.
const (
	// ReadinessStrict fails the start when the readiness port never
	// opens. The default.
	ReadinessStrict = "strict"

	// ReadinessAdvisory logs the probe failure and reports the daemon
	// running anyway.
	ReadinessAdvisory = "advisory"
)

// Scenario is the top-level structure of a scenario file.
type Scenario struct {
	// Workdir is where pid and capture files land. Defaults to the
	// scenario file's directory.
	Workdir string `yaml:"workdir,omitempty"`

	Daemons []Daemon `yaml:"daemons"`
}

// Daemon describes one daemon the scenario starts.
type Daemon struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`

	// Port, when nonzero, is probed for TCP readiness after the start.
	Port int `yaml:"port,omitempty"`

	// Readiness is "strict" (default) or "advisory".
	Readiness string `yaml:"readiness,omitempty"`

	StartTimeout Duration `yaml:"start_timeout,omitempty"`
	StopGrace    Duration `yaml:"stop_grace,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "10s", "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Load reads, parses, and validates a scenario file. A relative or empty
// workdir is resolved against the file's directory.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("validating scenario %s: %w", path, err)
	}

	base := filepath.Dir(path)
	if sc.Workdir == "" {
		sc.Workdir = base
	} else if !filepath.IsAbs(sc.Workdir) {
		sc.Workdir = filepath.Join(base, sc.Workdir)
	}

	return &sc, nil
}

// Validate checks that a scenario is well-formed.
func (s *Scenario) Validate() error {
	if len(s.Daemons) == 0 {
		return fmt.Errorf("scenario defines no daemons")
	}

	seen := make(map[string]bool, len(s.Daemons))
	for i := range s.Daemons {
		d := &s.Daemons[i]

		if d.Name == "" {
			return fmt.Errorf("daemons[%d]: name is required", i)
		}
		if !daemonNameRe.MatchString(d.Name) {
			return fmt.Errorf("daemon name %q is invalid: must match %s", d.Name, daemonNameRe)
		}
		if seen[d.Name] {
			return fmt.Errorf("daemon name %q appears more than once", d.Name)
		}
		seen[d.Name] = true

		if d.Command == "" {
			return fmt.Errorf("daemon %q: command is required", d.Name)
		}

		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("daemon %q: port %d out of range", d.Name, d.Port)
		}
		if d.Readiness != "" && d.Port == 0 {
			return fmt.Errorf("daemon %q: readiness set without a port", d.Name)
		}
		switch d.Readiness {
		case "", ReadinessStrict, ReadinessAdvisory:
		default:
			return fmt.Errorf("daemon %q: readiness must be %q or %q, got %q",
				d.Name, ReadinessStrict, ReadinessAdvisory, d.Readiness)
		}

		if d.StartTimeout.Duration < 0 {
			return fmt.Errorf("daemon %q: start_timeout must not be negative", d.Name)
		}
		if d.StopGrace.Duration < 0 {
			return fmt.Errorf("daemon %q: stop_grace must not be negative", d.Name)
		}
	}

	return nil
}

// Advisory reports whether the daemon's readiness probe is advisory.
func (d *Daemon) Advisory() bool {
	return d.Readiness == ReadinessAdvisory
}
