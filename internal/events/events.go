// Package events provides an append-only record of daemon lifecycle
// events for a scenario.
//
// Every transition (started, start failed, stopped, killed) is written to
// a log in the scenario working directory as newline-delimited JSON, so a
// failed test run leaves a replayable trail of what the harness did.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Action describes what happened to a daemon.
type Action string

const (
	ActionStarted     Action = "started"
	ActionStartFailed Action = "start_failed"
	ActionStopped     Action = "stopped"
	ActionKilled      Action = "killed"
)

// Entry is a single event log record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    Action    `json:"action"`
	Daemon    string    `json:"daemon"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port,omitempty"`
	Reason    string    `json:"reason,omitempty"` // failure description
}

// Logger writes event entries to an append-only file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLogger creates or opens an event log file for appending.
func NewLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &Logger{file: f, path: path}, nil
}

// Log writes an event entry.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling event entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event entry: %w", err)
	}
	return nil
}

// Read parses every entry in an event log file.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("parsing event log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the event log file.
func (l *Logger) Close() error {
	return l.file.Close()
}
