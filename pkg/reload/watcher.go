// Package reload implements the change-detection collaborator consulted by
// the supervisor's Reload operation.
//
// A Watcher observes config source paths through fsnotify and accumulates
// the paths that changed. It pushes nothing: the supervisor polls Changed
// synchronously from within a held transition, which drains the
// accumulated set.
package reload

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/keelframework/keel/pkg/telemetry"
)

// Watcher accumulates filesystem changes under the watched paths.
type Watcher struct {
	log     *telemetry.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	changed map[string]bool
	done    chan struct{}
}

// NewWatcher creates a watcher for the given files and directories.
// Directories are watched one level deep, matching how the config loader
// scans them.
func NewWatcher(log *telemetry.Logger, paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	w := &Watcher{
		log:     log.Component("reload-watcher"),
		watcher: fsw,
		changed: make(map[string]bool),
		done:    make(chan struct{}),
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
		if err := fsw.Add(path); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
	}

	go w.collect()
	return w, nil
}

// collect accumulates write and create events until Close.
func (w *Watcher) collect() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.changed[event.Name] = true
				w.mu.Unlock()
				w.log.Debugf("source changed: %s", event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watcher error")
		}
	}
}

// Changed drains and returns the paths that changed since the last check.
func (w *Watcher) Changed() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.changed) == 0 {
		return nil, nil
	}
	paths := make([]string, 0, len(w.changed))
	for path := range w.changed {
		paths = append(paths, path)
	}
	w.changed = make(map[string]bool)
	return paths, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
