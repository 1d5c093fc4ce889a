package daemon

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateName is returned when a daemon name is started twice
	// within one scenario. Names are never recycled, even after a stop.
	ErrDuplicateName = errors.New("daemon name already registered")

	// ErrNotFound is returned for operations on a name that was never
	// started in this scenario.
	ErrNotFound = errors.New("daemon not registered")

	// ErrNotRunning is returned when Stop is called on a daemon that is
	// not in the running state, which is a sequencing bug in the caller.
	ErrNotRunning = errors.New("daemon is not running")
)

// StartError reports a failed daemon start: the launcher failed, the pid
// file never materialized, or the recorded process was not alive. Stderr
// carries whatever diagnostics the launcher left behind.
type StartError struct {
	Name   string
	Reason string
	Stderr []byte
	Err    error
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf("starting daemon %q: %s", e.Name, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Stderr) > 0 {
		msg += fmt.Sprintf(" (launcher stderr: %s)", e.Stderr)
	}
	return msg
}

func (e *StartError) Unwrap() error { return e.Err }

// PortWaitError reports that a daemon started but never accepted a TCP
// connection on its readiness port. Kept distinct from StartError so
// callers can treat readiness as advisory where they choose to.
type PortWaitError struct {
	Name    string
	Port    int
	Timeout time.Duration
	Err     error
}

func (e *PortWaitError) Error() string {
	return fmt.Sprintf("daemon %q not listening on port %d after %v: %v", e.Name, e.Port, e.Timeout, e.Err)
}

func (e *PortWaitError) Unwrap() error { return e.Err }
