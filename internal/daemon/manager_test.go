package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benaskins/stagehand/internal/events"
	"github.com/benaskins/stagehand/internal/launcher"
	"github.com/benaskins/stagehand/internal/proc"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), opts...)
	t.Cleanup(func() {
		for _, h := range m.Handles() {
			if h.State == StateRunning {
				_ = m.Stop(h.Name)
			}
		}
	})
	return m
}

func mustStart(t *testing.T, m *Manager, spec StartSpec) Handle {
	t.Helper()
	h, err := m.Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("Start(%q) failed: %v", spec.Name, err)
	}
	return h
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestStartAndStop(t *testing.T) {
	m := newTestManager(t)

	h := mustStart(t, m, StartSpec{Name: "sleeper", Command: "sleep", Args: []string{"60"}})

	if h.State != StateRunning {
		t.Errorf("state = %s, want %s", h.State, StateRunning)
	}
	if h.PID <= 0 {
		t.Errorf("pid = %d, want > 0", h.PID)
	}
	if !proc.Exists(h.PID) {
		t.Errorf("process %d not alive after start", h.PID)
	}
	if h.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}

	if err := m.Stop("sleeper"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if proc.Exists(h.PID) {
		t.Errorf("process %d still alive after stop", h.PID)
	}

	got, err := m.Handle("sleeper")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if got.State != StateStopped {
		t.Errorf("state after stop = %s, want %s", got.State, StateStopped)
	}
}

func TestStartCapturesOutput(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{
		Name:    "talker",
		Command: "sh",
		Args:    []string{"-c", "echo out here; echo err here >&2; sleep 60"},
	})

	if err := m.WaitOutput("talker"); err != nil {
		t.Fatalf("WaitOutput failed: %v", err)
	}

	stdout, err := m.Stdout("talker")
	if err != nil {
		t.Fatalf("Stdout failed: %v", err)
	}
	if !strings.Contains(string(stdout), "out here") {
		t.Errorf("stdout = %q, want it to contain %q", stdout, "out here")
	}

	stderr, err := m.Stderr("talker")
	if err != nil {
		t.Fatalf("Stderr failed: %v", err)
	}
	if !strings.Contains(string(stderr), "err here") {
		t.Errorf("stderr = %q, want it to contain %q", stderr, "err here")
	}
}

func TestStdoutReadsAreIdempotent(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{
		Name:    "onceler",
		Command: "sh",
		Args:    []string{"-c", "echo hello; echo hello >&2; sleep 60"},
	})
	if err := m.WaitOutput("onceler"); err != nil {
		t.Fatalf("WaitOutput failed: %v", err)
	}

	first, err := m.Stdout("onceler")
	if err != nil {
		t.Fatalf("first Stdout failed: %v", err)
	}
	second, err := m.Stdout("onceler")
	if err != nil {
		t.Fatalf("second Stdout failed: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("reads differ: %q vs %q", first, second)
	}
}

func TestDuplicateName(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{Name: "dup", Command: "sleep", Args: []string{"60"}})

	_, err := m.Start(context.Background(), StartSpec{Name: "dup", Command: "sleep", Args: []string{"60"}})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("second Start error = %v, want ErrDuplicateName", err)
	}
}

func TestDuplicateNameAfterStop(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{Name: "dup", Command: "sleep", Args: []string{"60"}})
	if err := m.Stop("dup"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Names are never recycled within a scenario.
	_, err := m.Start(context.Background(), StartSpec{Name: "dup", Command: "sleep", Args: []string{"60"}})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("restart error = %v, want ErrDuplicateName", err)
	}
}

func TestStartNonexistentExecutable(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Start(context.Background(), StartSpec{
		Name:    "ghost",
		Command: "/no/such/binary",
	})

	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("error = %v (%T), want *StartError", err, err)
	}
	if startErr.Name != "ghost" {
		t.Errorf("error names %q, want %q", startErr.Name, "ghost")
	}

	h, herr := m.Handle("ghost")
	if herr != nil {
		t.Fatalf("Handle after failed start: %v", herr)
	}
	if h.State != StateStartFailed {
		t.Errorf("state = %s, want %s", h.State, StateStartFailed)
	}
	if h.StartErr == "" {
		t.Error("StartErr empty on failed start")
	}
}

func TestStartProcessExitsImmediately(t *testing.T) {
	// false spawns fine but exits at once; the delay lets it be reaped
	// before the liveness check.
	m := newTestManager(t, WithSpawner(func(ls launcher.Spec) error {
		_, err := ls.Launch()
		time.Sleep(200 * time.Millisecond)
		return err
	}))

	_, err := m.Start(context.Background(), StartSpec{Name: "flash", Command: "false"})

	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("error = %v (%T), want *StartError", err, err)
	}
	if !strings.Contains(startErr.Reason, "exited before startup") {
		t.Errorf("reason = %q, want mention of early exit", startErr.Reason)
	}
}

func TestStopUnknownDaemon(t *testing.T) {
	m := newTestManager(t)

	err := m.Stop("never-started")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestStopNotRunning(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{Name: "oneshot", Command: "sleep", Args: []string{"60"}})
	if err := m.Stop("oneshot"); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}

	err := m.Stop("oneshot")
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("second Stop error = %v, want ErrNotRunning", err)
	}
}

func TestStopAfterFailedStart(t *testing.T) {
	m := newTestManager(t)

	_, _ = m.Start(context.Background(), StartSpec{Name: "ghost", Command: "/no/such/binary"})

	err := m.Stop("ghost")
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop error = %v, want ErrNotRunning", err)
	}
}

// freePort grabs an ephemeral port and releases it so a test daemon (or
// nobody) can bind it.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestStartWaitsForPort(t *testing.T) {
	m := newTestManager(t)

	// The readiness probe only checks connectability, so a listener in
	// the test stands in for the daemon opening its port.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	h := mustStart(t, m, StartSpec{
		Name:    "server",
		Command: "sleep",
		Args:    []string{"60"},
		Port:    port,
	})
	if h.State != StateRunning {
		t.Errorf("state = %s, want %s", h.State, StateRunning)
	}
}

func TestStartPortWaitTimesOut(t *testing.T) {
	m := newTestManager(t, WithPortTimeout(500*time.Millisecond))

	port := freePort(t)
	_, err := m.Start(context.Background(), StartSpec{
		Name:    "deaf",
		Command: "sleep",
		Args:    []string{"60"},
		Port:    port,
	})

	var portErr *PortWaitError
	if !errors.As(err, &portErr) {
		t.Fatalf("error = %v (%T), want *PortWaitError", err, err)
	}
	if portErr.Port != port {
		t.Errorf("error port = %d, want %d", portErr.Port, port)
	}

	h, herr := m.Handle("deaf")
	if herr != nil {
		t.Fatalf("Handle: %v", herr)
	}
	if h.State != StateStartFailed {
		t.Errorf("state = %s, want %s", h.State, StateStartFailed)
	}
	// The half-started process must not outlive the failure.
	if h.PID > 0 && proc.Exists(h.PID) {
		t.Errorf("process %d still alive after failed port wait", h.PID)
	}
}

func TestStartPortWaitAdvisory(t *testing.T) {
	m := newTestManager(t, WithPortTimeout(300*time.Millisecond), WithAdvisoryReadiness())

	h, err := m.Start(context.Background(), StartSpec{
		Name:    "lazy",
		Command: "sleep",
		Args:    []string{"60"},
		Port:    freePort(t),
	})
	if err != nil {
		t.Fatalf("Start failed despite advisory readiness: %v", err)
	}
	if h.State != StateRunning {
		t.Errorf("state = %s, want %s", h.State, StateRunning)
	}
}

func TestStartSpecAdvisoryOverride(t *testing.T) {
	m := newTestManager(t, WithPortTimeout(300*time.Millisecond))

	h, err := m.Start(context.Background(), StartSpec{
		Name:     "lenient",
		Command:  "sleep",
		Args:     []string{"60"},
		Port:     freePort(t),
		Advisory: true,
	})
	if err != nil {
		t.Fatalf("Start failed despite per-daemon advisory readiness: %v", err)
	}
	if h.State != StateRunning {
		t.Errorf("state = %s, want %s", h.State, StateRunning)
	}
}

func TestStartNoPidFileProduced(t *testing.T) {
	m := newTestManager(t, WithSpawner(func(launcher.Spec) error {
		return nil // claims success, writes nothing
	}))

	_, err := m.Start(context.Background(), StartSpec{Name: "mute", Command: "sleep", Args: []string{"60"}})

	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("error = %v (%T), want *StartError", err, err)
	}
	if startErr.Reason != "no pid file produced" {
		t.Errorf("reason = %q, want %q", startErr.Reason, "no pid file produced")
	}
}

func TestStartPidFileStaysEmpty(t *testing.T) {
	m := newTestManager(t, WithSpawner(func(ls launcher.Spec) error {
		return os.WriteFile(ls.PidPath, nil, 0o644)
	}))
	m.pidTimeout = 300 * time.Millisecond
	m.pollInterval = 20 * time.Millisecond

	_, err := m.Start(context.Background(), StartSpec{Name: "hollow", Command: "sleep", Args: []string{"60"}})

	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("error = %v (%T), want *StartError", err, err)
	}
	if startErr.Reason != "pid file empty" {
		t.Errorf("reason = %q, want %q", startErr.Reason, "pid file empty")
	}
}

// writeLauncherScript fakes the stagehand launch subcommand with a shell
// script honoring the same positional contract.
func writeLauncherScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "launch.sh")
	script := `#!/bin/sh
wd="$1"; pidfile="$2"; outfile="$3"; errfile="$4"
shift 4
cd "$wd" || exit 1
"$@" >"$outfile" 2>"$errfile" &
echo $! > "$pidfile"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing launcher script: %v", err)
	}
	return path
}

func TestStartViaExternalLauncher(t *testing.T) {
	script := writeLauncherScript(t)
	m := newTestManager(t, WithLauncher("sh", script))

	h := mustStart(t, m, StartSpec{Name: "external", Command: "sleep", Args: []string{"60"}})

	if !proc.Exists(h.PID) {
		t.Errorf("process %d not alive after external launch", h.PID)
	}
	if err := m.Stop("external"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestLogs(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{
		Name:    "chatty",
		Command: "sh",
		Args:    []string{"-c", `for i in 1 2 3 4 5; do echo "line $i"; done; echo .>&2; sleep 60`},
	})
	if err := m.WaitOutput("chatty"); err != nil {
		t.Fatalf("WaitOutput failed: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		lines, err := m.Logs("chatty", 10)
		return err == nil && len(lines) == 5
	})

	lines, err := m.Logs("chatty", 2)
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	want := []string{"line 4", "line 5"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestHandlesSorted(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		mustStart(t, m, StartSpec{Name: name, Command: "sleep", Args: []string{"60"}})
	}

	handles := m.Handles()
	if len(handles) != 3 {
		t.Fatalf("got %d handles, want 3", len(handles))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if handles[i].Name != want {
			t.Errorf("handles[%d] = %q, want %q", i, handles[i].Name, want)
		}
	}
}

func TestAttachFindsRunningDaemon(t *testing.T) {
	dir := t.TempDir()

	m1 := NewManager(dir)
	h := mustStart(t, m1, StartSpec{Name: "survivor", Command: "sleep", Args: []string{"60"}})
	defer func() { _ = proc.Terminate(h.PID, time.Second) }()

	m2, err := Attach(dir)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	got, err := m2.Handle("survivor")
	if err != nil {
		t.Fatalf("Handle after attach: %v", err)
	}
	if got.State != StateRunning {
		t.Errorf("state = %s, want %s", got.State, StateRunning)
	}
	if got.PID != h.PID {
		t.Errorf("pid = %d, want %d", got.PID, h.PID)
	}

	if err := m2.Stop("survivor"); err != nil {
		t.Fatalf("Stop via attached manager: %v", err)
	}
	if proc.Exists(h.PID) {
		t.Errorf("process %d still alive after attached stop", h.PID)
	}
}

func TestAttachMarksDeadDaemonStopped(t *testing.T) {
	dir := t.TempDir()

	m1 := NewManager(dir)
	h := mustStart(t, m1, StartSpec{Name: "casualty", Command: "sleep", Args: []string{"60"}})

	// Kill behind the manager's back.
	proc.Terminate(h.PID, time.Second)
	if err := proc.WaitGone(h.PID, 5*time.Second, 50*time.Millisecond); err != nil {
		t.Fatalf("process did not die: %v", err)
	}

	m2, err := Attach(dir)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	got, err := m2.Handle("casualty")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got.State != StateStopped {
		t.Errorf("state = %s, want %s", got.State, StateStopped)
	}
}

func TestAttachEmptyDir(t *testing.T) {
	m, err := Attach(t.TempDir())
	if err != nil {
		t.Fatalf("Attach on empty dir failed: %v", err)
	}
	if len(m.Handles()) != 0 {
		t.Errorf("got %d handles, want 0", len(m.Handles()))
	}
}

func TestResolveCommand(t *testing.T) {
	// Bare names go through PATH.
	path, err := resolveCommand("sleep")
	if err != nil {
		t.Fatalf("resolveCommand(sleep): %v", err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("resolved path %q not absolute", path)
	}

	// Relative paths become absolute without PATH lookup.
	rel := filepath.Join("bin", "tool")
	path, err = resolveCommand(rel)
	if err != nil {
		t.Fatalf("resolveCommand(%q): %v", rel, err)
	}
	if !filepath.IsAbs(path) {
		t.Errorf("resolved path %q not absolute", path)
	}
	if !strings.HasSuffix(path, rel) {
		t.Errorf("resolved path %q does not end in %q", path, rel)
	}
}

func TestStartEmptyName(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Start(context.Background(), StartSpec{Command: "sleep"}); err == nil {
		t.Fatal("Start with empty name succeeded")
	}
}

func TestStatePersistedAcrossStates(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{Name: "tracked", Command: "sleep", Args: []string{"60"}})

	records, err := m.state.load()
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}
	rec, ok := records["tracked"]
	if !ok {
		t.Fatal("no record for started daemon")
	}
	if rec.State != StateRunning {
		t.Errorf("persisted state = %s, want %s", rec.State, StateRunning)
	}
	if rec.PID <= 0 {
		t.Errorf("persisted pid = %d, want > 0", rec.PID)
	}
	if !strings.HasSuffix(rec.Command, string(os.PathSeparator)+"sleep") {
		t.Errorf("persisted command = %q, want a resolved sleep path", rec.Command)
	}

	if err := m.Stop("tracked"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	records, err = m.state.load()
	if err != nil {
		t.Fatalf("reloading state: %v", err)
	}
	if got := records["tracked"].State; got != StateStopped {
		t.Errorf("persisted state after stop = %s, want %s", got, StateStopped)
	}
}

func TestLifecycleEventsRecorded(t *testing.T) {
	m := newTestManager(t)

	mustStart(t, m, StartSpec{Name: "audited", Command: "sleep", Args: []string{"60"}})
	if err := m.Stop("audited"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	_, _ = m.Start(context.Background(), StartSpec{Name: "broken", Command: "/no/such/binary"})

	entries, err := events.Read(m.EventLogPath())
	if err != nil {
		t.Fatalf("reading event log: %v", err)
	}

	var got []string
	for _, e := range entries {
		got = append(got, string(e.Action)+":"+e.Daemon)
	}
	want := []string{"started:audited", "stopped:audited", "start_failed:broken"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStartErrorMessageCarriesStderr(t *testing.T) {
	e := &StartError{Name: "svc", Reason: "launch failed", Stderr: []byte("boom"), Err: fmt.Errorf("exit status 1")}
	msg := e.Error()
	for _, want := range []string{"svc", "launch failed", "boom", "exit status 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
