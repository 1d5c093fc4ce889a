package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// stateFileName is created inside the scenario working directory. The dot
// prefix keeps it out of the way of the daemons' own files.
const stateFileName = ".stagehand-state.json"

// stateFile persists handle records so a later CLI invocation can attach
// to daemons this process did not start.
type stateFile struct {
	path string
	mu   sync.Mutex
}

// Record is the persisted form of a Handle.
type Record struct {
	PID       int    `json:"pid,omitempty"`
	Port      int    `json:"port,omitempty"`
	State     State  `json:"state"`
	Command   string `json:"command,omitempty"`
	StartedAt int64  `json:"started_at,omitempty"` // Unix timestamp
	StartErr  string `json:"start_error,omitempty"`

	// StopGrace is a per-daemon SIGTERM-to-SIGKILL delay override,
	// stored in nanoseconds.
	StopGrace time.Duration `json:"stop_grace,omitempty"`
}

func newStateFile(dir string) *stateFile {
	return &stateFile{path: filepath.Join(dir, stateFileName)}
}

func (sf *stateFile) load() (map[string]Record, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	data, err := os.ReadFile(sf.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}
	return records, nil
}

func (sf *stateFile) set(name string, rec Record) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	records, err := sf.loadUnsafe()
	if err != nil || records == nil {
		records = make(map[string]Record)
	}
	records[name] = rec

	return sf.saveUnsafe(records)
}

// loadUnsafe reads without locking; caller must hold sf.mu.
func (sf *stateFile) loadUnsafe() (map[string]Record, error) {
	data, err := os.ReadFile(sf.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// saveUnsafe writes atomically via a temp file; caller must hold sf.mu.
func (sf *stateFile) saveUnsafe(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := sf.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, sf.path)
}
