package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/benaskins/stagehand/internal/capture"
)

// waitPidFile polls the pid file until it holds a valid pid, bounded by
// timeout. A filesystem watcher on the working directory wakes the loop as
// soon as the launcher writes; the ticker is the fallback when watching is
// unavailable (or the event is lost), so the bounded-poll contract holds
// either way.
func waitPidFile(ctx context.Context, f capture.Files, timeout, interval time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		events chan fsnotify.Event
		errs   chan error
	)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(f.PidPath)); err == nil {
			events = watcher.Events
			errs = watcher.Errors
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pid, readErr := f.ReadPid()
		if readErr == nil {
			return pid, nil
		}

		// Watch errors are drained and treated like a tick; the poll
		// does the real work either way.
		select {
		case <-ctx.Done():
			return 0, readErr
		case <-events:
		case <-errs:
		case <-ticker.C:
		}
	}
}
