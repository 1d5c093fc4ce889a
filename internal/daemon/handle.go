package daemon

import (
	"time"

	"github.com/benaskins/stagehand/internal/capture"
)

// State is the lifecycle state of a managed daemon.
//
// Transitions:
//
//	not-started -> starting -> running -> stopping -> stopped
//	                  |
//	                  v
//	            start-failed (terminal)
type State string

const (
	StateNotStarted  State = "not-started"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
	StateStartFailed State = "start-failed"
)

// Handle is the in-memory record of one daemon started (or attempted)
// within a scenario: its identity, file locations, and last known state.
// Handles returned by the manager are copies; the manager owns the
// authoritative record.
type Handle struct {
	Name      string
	Files     capture.Files
	PID       int
	Port      int
	State     State
	StartedAt time.Time

	// StartErr holds the failure description when State is start-failed.
	StartErr string

	// command is the resolved executable path, kept for persistence and
	// status display.
	command string

	// stopGrace is the per-daemon SIGTERM-to-SIGKILL override, zero for
	// the manager default.
	stopGrace time.Duration
}

// Command returns the resolved executable path the daemon was started
// with.
func (h Handle) Command() string { return h.command }
