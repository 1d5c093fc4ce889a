// Package daemon manages the lifecycle of external daemon processes for
// acceptance-test scenarios: start detached with captured streams, wait
// for TCP readiness, expose output, stop with escalation. One Manager
// covers one scenario working directory.
package daemon

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/stagehand/internal/capture"
	"github.com/benaskins/stagehand/internal/events"
	"github.com/benaskins/stagehand/internal/launcher"
	"github.com/benaskins/stagehand/internal/logbuf"
	"github.com/benaskins/stagehand/internal/probe"
	"github.com/benaskins/stagehand/internal/proc"
)

const (
	// DefaultStartTimeout bounds the wait for the launcher to confirm the
	// spawn.
	DefaultStartTimeout = 10 * time.Second

	// DefaultPidFileTimeout bounds the poll for the pid file to be
	// populated after the launcher exits.
	DefaultPidFileTimeout = 10 * time.Second

	// DefaultPortTimeout bounds the TCP readiness probe.
	DefaultPortTimeout = probe.DefaultTimeout

	// DefaultGracePeriod is how long a stopped daemon gets to exit on
	// SIGTERM before SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// DefaultStopTimeout bounds the whole stop operation. A daemon that
	// survives it is reported loudly instead of hanging the test run.
	DefaultStopTimeout = 30 * time.Second

	// defaultPollInterval paces the pid-file and output polls.
	defaultPollInterval = 100 * time.Millisecond

	// outputWaitTimeout bounds WaitOutput.
	outputWaitTimeout = 5 * time.Second

	// stopPollInterval is the death-poll granularity during Stop.
	stopPollInterval = time.Second

	// eventLogName is created inside the scenario working directory.
	eventLogName = ".stagehand-events.log"

	// probeHost is where readiness ports are probed. Daemons under test
	// are always local.
	probeHost = "localhost"
)

// StartSpec describes one daemon to start.
type StartSpec struct {
	// Name keys the daemon within the scenario. A name is registered at
	// most once per scenario lifetime, even after the daemon stops.
	Name string

	// Command is the daemon executable: looked up on PATH when bare,
	// resolved to an absolute path otherwise (the scenario may change
	// directories after startup).
	Command string

	Args []string

	// Port, when nonzero, is probed for TCP readiness after the spawn.
	Port int

	// Advisory downgrades this daemon's readiness-probe failure to a
	// logged warning, overriding the manager default.
	Advisory bool

	// StartTimeout overrides the manager's launcher-completion bound
	// when positive.
	StartTimeout time.Duration

	// StopGrace overrides the manager's SIGTERM-to-SIGKILL delay for
	// this daemon when positive.
	StopGrace time.Duration
}

// Manager starts, observes, and stops the daemons of one scenario. Calls
// are synchronous and blocking; waits are bounded polling loops. The
// registry survives in a state file so separate invocations can Attach.
type Manager struct {
	dir          string
	launcherArgv []string // external launcher command; empty means in-process
	spawn        func(launcher.Spec) error
	startTimeout time.Duration
	pidTimeout   time.Duration
	portTimeout  time.Duration
	gracePeriod  time.Duration
	stopTimeout  time.Duration
	pollInterval time.Duration
	advisory     bool
	logger       *slog.Logger
	state        *stateFile
	events       *events.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLauncher makes the manager spawn daemons through an external
// launcher command instead of in-process. The positional launcher
// contract (workdir, pid file, stdout file, stderr file, target, args)
// is appended to argv.
func WithLauncher(argv ...string) Option {
	return func(m *Manager) { m.launcherArgv = argv }
}

// WithSpawner replaces the in-process spawn function. Intended for unit
// tests that exercise the manager without a live process tree.
func WithSpawner(fn func(launcher.Spec) error) Option {
	return func(m *Manager) { m.spawn = fn }
}

// WithStartTimeout bounds the launcher-completion wait.
func WithStartTimeout(d time.Duration) Option {
	return func(m *Manager) { m.startTimeout = d }
}

// WithPortTimeout bounds the TCP readiness probe.
func WithPortTimeout(d time.Duration) Option {
	return func(m *Manager) { m.portTimeout = d }
}

// WithGracePeriod sets the SIGTERM-to-SIGKILL escalation delay.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) { m.gracePeriod = d }
}

// WithStopTimeout bounds the whole stop operation.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stopTimeout = d }
}

// WithAdvisoryReadiness downgrades readiness-probe failure from fatal to
// a logged warning. The daemon is then reported running regardless.
func WithAdvisoryReadiness() Option {
	return func(m *Manager) { m.advisory = true }
}

// NewManager creates a manager over the given scenario working directory.
// Per-daemon files (<name>.pid, <name>.stdout, <name>.stderr) and the
// state file live there.
func NewManager(dir string, opts ...Option) *Manager {
	if dir == "" {
		dir = "."
	}
	m := &Manager{
		dir:          dir,
		startTimeout: DefaultStartTimeout,
		pidTimeout:   DefaultPidFileTimeout,
		portTimeout:  DefaultPortTimeout,
		gracePeriod:  DefaultGracePeriod,
		stopTimeout:  DefaultStopTimeout,
		pollInterval: defaultPollInterval,
		logger:       slog.With("component", "manager"),
		handles:      make(map[string]*Handle),
	}
	m.spawn = func(ls launcher.Spec) error {
		_, err := ls.Launch()
		return err
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = newStateFile(dir)

	// Event logging is best effort, like state persistence.
	if log, err := events.NewLogger(filepath.Join(dir, eventLogName)); err == nil {
		m.events = log
	} else {
		m.logger.Warn("event log unavailable", "error", err)
	}
	return m
}

// EventLogPath returns where the manager records lifecycle events.
func (m *Manager) EventLogPath() string {
	return filepath.Join(m.dir, eventLogName)
}

func (m *Manager) event(e events.Entry) {
	if m.events == nil {
		return
	}
	if err := m.events.Log(e); err != nil {
		m.logger.Warn("failed to record event", "daemon", e.Daemon, "error", err)
	}
}

// Attach builds a manager over an existing scenario directory, restoring
// handles from the persisted state file. A daemon recorded as running
// whose process has since exited is surfaced as stopped.
func Attach(dir string, opts ...Option) (*Manager, error) {
	m := NewManager(dir, opts...)

	records, err := m.state.load()
	if err != nil {
		return nil, err
	}

	for name, rec := range records {
		state := rec.State
		if state == StateRunning && !proc.Exists(rec.PID) {
			m.logger.Warn("daemon exited outside our control", "daemon", name, "pid", rec.PID)
			state = StateStopped
		}
		h := &Handle{
			Name:      name,
			Files:     capture.New(dir, name),
			PID:       rec.PID,
			Port:      rec.Port,
			State:     state,
			StartErr:  rec.StartErr,
			command:   rec.Command,
			stopGrace: rec.StopGrace,
		}
		if rec.StartedAt > 0 {
			h.StartedAt = time.Unix(rec.StartedAt, 0)
		}
		m.handles[name] = h
	}

	return m, nil
}

// Dir returns the scenario working directory.
func (m *Manager) Dir() string { return m.dir }

// Start launches one daemon and blocks until it is confirmed running (and
// listening, when a port is given) or the start has failed. The handle is
// registered before the launch so a failed start still leaves its name,
// paths, and failure reason queryable.
func (m *Manager) Start(ctx context.Context, spec StartSpec) (Handle, error) {
	if spec.Name == "" {
		return Handle{}, fmt.Errorf("daemon name must not be empty")
	}
	if spec.Command == "" {
		return Handle{}, fmt.Errorf("daemon %q: command must not be empty", spec.Name)
	}

	command, err := resolveCommand(spec.Command)
	if err != nil {
		return Handle{}, fmt.Errorf("daemon %q: resolving command %q: %w", spec.Name, spec.Command, err)
	}

	m.mu.Lock()
	if _, exists := m.handles[spec.Name]; exists {
		m.mu.Unlock()
		return Handle{}, fmt.Errorf("daemon %q: %w", spec.Name, ErrDuplicateName)
	}
	h := &Handle{
		Name:      spec.Name,
		Files:     capture.New(m.dir, spec.Name),
		Port:      spec.Port,
		State:     StateStarting,
		command:   command,
		stopGrace: spec.StopGrace,
	}
	m.handles[spec.Name] = h
	m.mu.Unlock()
	m.persist(spec.Name)

	m.logger.Info("starting daemon", "daemon", spec.Name, "command", command, "args", spec.Args)

	lspec := launcher.Spec{
		Dir:        m.dir,
		PidPath:    h.Files.PidPath,
		StdoutPath: h.Files.StdoutPath,
		StderrPath: h.Files.StderrPath,
		Command:    command,
		Args:       spec.Args,
	}

	startTimeout := m.startTimeout
	if spec.StartTimeout > 0 {
		startTimeout = spec.StartTimeout
	}

	launcherStderr, err := m.runLauncher(ctx, lspec, startTimeout)
	if err != nil {
		return Handle{}, m.failStart(h, "launch failed", launcherStderr, err)
	}

	// The launcher confirmed the spawn, so the pid file must exist now;
	// its content may still be in flight.
	if _, statErr := os.Stat(h.Files.PidPath); statErr != nil {
		return Handle{}, m.failStart(h, "no pid file produced", launcherStderr, nil)
	}

	pid, err := waitPidFile(ctx, h.Files, m.pidTimeout, m.pollInterval)
	if err != nil {
		return Handle{}, m.failStart(h, "pid file empty", launcherStderr, err)
	}

	if !proc.Exists(pid) {
		stderr, _ := h.Files.Stderr()
		if len(stderr) == 0 {
			stderr = launcherStderr
		}
		return Handle{}, m.failStart(h, fmt.Sprintf("process %d exited before startup completed", pid), stderr, nil)
	}

	m.mu.Lock()
	h.PID = pid
	h.StartedAt = time.Now()
	m.mu.Unlock()

	if spec.Port > 0 {
		if err := probe.WaitPort(ctx, probeHost, spec.Port, m.portTimeout); err != nil {
			if !m.advisory && !spec.Advisory {
				return Handle{}, m.failPortWait(h, spec.Port, pid, err)
			}
			m.logger.Warn("daemon not listening yet, continuing",
				"daemon", spec.Name, "port", spec.Port, "error", err)
		}
	}

	m.mu.Lock()
	h.State = StateRunning
	snapshot := *h
	m.mu.Unlock()
	m.persist(spec.Name)

	m.logger.Info("daemon running", "daemon", spec.Name, "pid", pid, "port", spec.Port)
	m.event(events.Entry{Action: events.ActionStarted, Daemon: spec.Name, PID: pid, Port: spec.Port})
	return snapshot, nil
}

// Stop terminates a running daemon: SIGTERM, SIGKILL after the grace
// period, then a bounded death poll. Stopping a daemon that is not
// running is a sequencing bug and fails fast.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	h, ok := m.handles[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("daemon %q: %w", name, ErrNotFound)
	}
	if h.State != StateRunning {
		state := h.State
		m.mu.Unlock()
		return fmt.Errorf("daemon %q in state %s: %w", name, state, ErrNotRunning)
	}
	h.State = StateStopping
	pid := h.PID
	grace := m.gracePeriod
	if h.stopGrace > 0 {
		grace = h.stopGrace
	}
	m.mu.Unlock()
	m.persist(name)

	m.logger.Info("stopping daemon", "daemon", name, "pid", pid)

	if escalated := proc.Terminate(pid, grace); escalated {
		m.logger.Warn("daemon ignored SIGTERM, sent SIGKILL", "daemon", name, "pid", pid)
		m.event(events.Entry{Action: events.ActionKilled, Daemon: name, PID: pid})
	}

	if err := proc.WaitGone(pid, m.stopTimeout, stopPollInterval); err != nil {
		m.logger.Error("daemon did not die within stop timeout", "daemon", name, "pid", pid)
		return fmt.Errorf("stopping daemon %q: %w", name, err)
	}

	m.mu.Lock()
	h.State = StateStopped
	m.mu.Unlock()
	m.persist(name)

	m.logger.Info("daemon stopped", "daemon", name)
	m.event(events.Entry{Action: events.ActionStopped, Daemon: name, PID: pid})
	return nil
}

// Stdout returns the daemon's full stdout capture as flushed so far.
func (m *Manager) Stdout(name string) ([]byte, error) {
	h, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return h.Files.Stdout()
}

// Stderr returns the daemon's full stderr capture as flushed so far.
func (m *Manager) Stderr(name string) ([]byte, error) {
	h, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return h.Files.Stderr()
}

// WaitOutput blocks until the daemon has written something to both
// streams, bounded at a few seconds. Useful for "the daemon said
// something" steps right after startup.
func (m *Manager) WaitOutput(name string) error {
	h, err := m.lookup(name)
	if err != nil {
		return err
	}
	return h.Files.WaitNonEmpty(outputWaitTimeout, m.pollInterval)
}

// Logs returns the last n lines of the daemon's stdout capture.
func (m *Manager) Logs(name string, n int) ([]string, error) {
	h, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return logbuf.TailFile(h.Files.StdoutPath, n)
}

// Handle returns a snapshot of the named daemon's record.
func (m *Manager) Handle(name string) (Handle, error) {
	h, err := m.lookup(name)
	if err != nil {
		return Handle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return *h, nil
}

// Handles returns snapshots of all registered daemons, sorted by name.
func (m *Manager) Handles() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Handle, 0, len(m.handles))
	for _, h := range m.handles {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) lookup(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[name]
	if !ok {
		return nil, fmt.Errorf("daemon %q: %w", name, ErrNotFound)
	}
	return h, nil
}

// runLauncher spawns the daemon via the configured external launcher
// command, or in-process when none is set, returning the launcher's
// captured stderr for diagnostics.
func (m *Manager) runLauncher(ctx context.Context, ls launcher.Spec, timeout time.Duration) ([]byte, error) {
	if len(m.launcherArgv) == 0 {
		return nil, m.spawn(ls)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append([]string{}, m.launcherArgv...)
	argv = append(argv, ls.Dir, ls.PidPath, ls.StdoutPath, ls.StderrPath, ls.Command)
	argv = append(argv, ls.Args...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stderr.Bytes(), fmt.Errorf("launcher did not exit within %v", timeout)
		}
		return stderr.Bytes(), err
	}
	return stderr.Bytes(), nil
}

func (m *Manager) failStart(h *Handle, reason string, stderr []byte, err error) error {
	m.mu.Lock()
	h.State = StateStartFailed
	h.StartErr = reason
	m.mu.Unlock()
	m.persist(h.Name)

	m.logger.Error("daemon start failed", "daemon", h.Name, "reason", reason, "error", err)
	m.event(events.Entry{Action: events.ActionStartFailed, Daemon: h.Name, Reason: reason})
	return &StartError{Name: h.Name, Reason: reason, Stderr: stderr, Err: err}
}

// failPortWait tears the daemon back down so a readiness failure does not
// leak a half-started process, then reports the distinct error type.
func (m *Manager) failPortWait(h *Handle, port, pid int, err error) error {
	stderr, _ := h.Files.Stderr()
	m.logger.Error("daemon never opened readiness port",
		"daemon", h.Name, "port", port, "stderr", string(stderr))

	proc.Terminate(pid, m.gracePeriod)
	if waitErr := proc.WaitGone(pid, m.stopTimeout, stopPollInterval); waitErr != nil {
		m.logger.Error("failed daemon also refused to die", "daemon", h.Name, "pid", pid)
	}

	m.mu.Lock()
	h.State = StateStartFailed
	h.StartErr = "readiness port never opened"
	m.mu.Unlock()
	m.persist(h.Name)
	m.event(events.Entry{Action: events.ActionStartFailed, Daemon: h.Name, PID: pid, Port: port,
		Reason: "readiness port never opened"})

	return &PortWaitError{Name: h.Name, Port: port, Timeout: m.portTimeout, Err: err}
}

// persist snapshots one handle into the state file. Persistence is best
// effort: a read-only workdir degrades attach, not the scenario itself.
func (m *Manager) persist(name string) {
	m.mu.Lock()
	h, ok := m.handles[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec := Record{
		PID:       h.PID,
		Port:      h.Port,
		State:     h.State,
		Command:   h.command,
		StartErr:  h.StartErr,
		StopGrace: h.stopGrace,
	}
	if !h.StartedAt.IsZero() {
		rec.StartedAt = h.StartedAt.Unix()
	}
	m.mu.Unlock()

	if err := m.state.set(name, rec); err != nil {
		m.logger.Warn("failed to persist daemon state", "daemon", name, "error", err)
	}
}

// resolveCommand makes the daemon executable path stable across later
// directory changes: PATH lookup for bare names, absolute otherwise.
func resolveCommand(command string) (string, error) {
	if !strings.ContainsRune(command, os.PathSeparator) {
		if p, err := exec.LookPath(command); err == nil {
			command = p
		}
	}
	return filepath.Abs(command)
}
