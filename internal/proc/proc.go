// Package proc provides signal-based probes and termination for processes
// this program did not necessarily parent. On Unix, FindProcess always
// succeeds, so liveness and death detection are built on kill(2).
package proc

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Exists reports whether pid is a live process owned by the caller.
// A reaped or never-existing pid is a normal false, not an error; so is
// EPERM (alive but not ours; we could not signal it anyway).
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// Terminate asks pid to exit: SIGTERM, then SIGKILL if it is still alive
// after grace. Signals target the process group when one exists so the
// target's children go down with it. Returns true if SIGKILL was sent.
func Terminate(pid int, grace time.Duration) bool {
	if signalGroup(pid, unix.SIGTERM) != nil {
		// Already gone.
		return false
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Exists(pid) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}

	_ = signalGroup(pid, unix.SIGKILL)
	return true
}

// WaitGone polls for process death at interval until timeout.
func WaitGone(pid int, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if !Exists(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("process %d still alive after %v", pid, timeout)
		}
		time.Sleep(interval)
	}
}

// signalGroup sends sig to pid's process group, falling back to the pid
// itself when the target was not started as a group leader.
func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}
