// Package launcher spawns a target executable detached from its parent:
// streams redirected to capture files, pid recorded to a pid file, process
// group of its own. It backs both the hidden `stagehand launch` helper
// (usable from any harness) and the manager's in-process spawn path.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// Spec describes one launch: where to run, where to record, what to start.
type Spec struct {
	Dir        string // working directory for the target
	PidPath    string
	StdoutPath string
	StderrPath string
	Command    string // target executable, resolved by the caller
	Args       []string
}

// ParseArgs maps the launcher program's argv onto a Spec. The contract is
// positional: workdir pidfile stdoutfile stderrfile target [args...].
func ParseArgs(argv []string) (Spec, error) {
	if len(argv) < 5 {
		return Spec{}, fmt.Errorf("usage: launch WORKDIR PIDFILE STDOUTFILE STDERRFILE TARGET [ARGS...], got %d arguments", len(argv))
	}
	return Spec{
		Dir:        argv[0],
		PidPath:    argv[1],
		StdoutPath: argv[2],
		StderrPath: argv[3],
		Command:    argv[4],
		Args:       argv[5:],
	}, nil
}

// Launch starts the target and records its pid. It returns once the target
// is confirmed spawned, not once it has initialized; readiness is the
// caller's problem. The target gets its own process group so it survives
// the launcher and can be torn down with its children later.
func (s Spec) Launch() (int, error) {
	stdout, err := openCapture(s.StdoutPath)
	if err != nil {
		return 0, err
	}
	defer stdout.Close()

	stderr, err := openCapture(s.StderrPath)
	if err != nil {
		return 0, err
	}
	defer stderr.Close()

	cmd := exec.Command(s.Command, s.Args...)
	cmd.Dir = s.Dir
	cmd.Stdin = nil
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", s.Command, err)
	}

	pid := cmd.Process.Pid
	if err := os.WriteFile(s.PidPath, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		// The target is running but unrecorded; kill the group so it
		// does not leak past the failed start.
		syscall.Kill(-pid, syscall.SIGKILL)
		cmd.Wait()
		return 0, fmt.Errorf("recording pid: %w", err)
	}

	// Reap in the background. When Launch runs inside the launcher helper
	// the helper exits first and the target reparents to init instead.
	go cmd.Wait()

	return pid, nil
}

func openCapture(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening capture file %s: %w", path, err)
	}
	return f, nil
}
