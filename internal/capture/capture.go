// Package capture names and reads the per-daemon files a launcher leaves
// behind: the pid record and the stdout/stderr stream captures. Readers
// must tolerate partial writes while the process is still running
// and never treat EOF as completion.
package capture

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Files locates the on-disk artifacts for one named daemon. The paths are
// derived deterministically from the daemon name so a failed start still
// leaves diagnosable state behind.
type Files struct {
	Name       string
	PidPath    string
	StdoutPath string
	StderrPath string
}

// New derives the file set for name under dir: <name>.pid, <name>.stdout,
// <name>.stderr.
func New(dir, name string) Files {
	return Files{
		Name:       name,
		PidPath:    filepath.Join(dir, name+".pid"),
		StdoutPath: filepath.Join(dir, name+".stdout"),
		StderrPath: filepath.Join(dir, name+".stderr"),
	}
}

// Stdout returns the full stdout capture as flushed so far.
func (f Files) Stdout() ([]byte, error) {
	return os.ReadFile(f.StdoutPath)
}

// Stderr returns the full stderr capture as flushed so far.
func (f Files) Stderr() ([]byte, error) {
	return os.ReadFile(f.StderrPath)
}

// ReadPid parses the decimal pid record. An absent file surfaces as
// fs.ErrNotExist; a present-but-empty file is reported separately so
// callers can keep polling for the launcher's write.
func (f Files) ReadPid() (int, error) {
	data, err := os.ReadFile(f.PidPath)
	if err != nil {
		return 0, err
	}

	s := string(bytes.TrimSpace(data))
	if s == "" {
		return 0, fmt.Errorf("pid file %s is empty", f.PidPath)
	}

	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", f.PidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s holds invalid pid %d", f.PidPath, pid)
	}
	return pid, nil
}

// WaitNonEmpty polls until both stream captures have content, at interval,
// bounded by timeout. Useful for "has the daemon said anything yet" steps.
func (f Files) WaitNonEmpty(timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if f.nonEmpty(f.StdoutPath) && f.nonEmpty(f.StderrPath) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon %s produced no output on both streams within %v", f.Name, timeout)
		}
		time.Sleep(interval)
	}
}

func (f Files) nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
