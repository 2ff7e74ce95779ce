// Package reload detects modifications to the monitor's configuration files
// by polling modification time and size. Polling keeps the watcher free of
// platform-specific notification APIs; the monitor checks at a configurable
// interval anyway.
package reload

import (
	"os"
	"sort"
	"sync"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher tracks a set of files and reports which of them changed since the
// last snapshot. A tracked file that disappears counts as changed.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher snapshots the given files. Paths that do not exist yet are
// tracked anyway and report a change once they appear.
func NewWatcher(paths ...string) (*Watcher, error) {
	w := &Watcher{}
	if err := w.Track(paths...); err != nil {
		return nil, err
	}
	return w, nil
}

// Track replaces the tracked file set and snapshots the current state.
func (w *Watcher) Track(paths ...string) error {
	if w == nil {
		return nil
	}
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		states[path] = statFile(path)
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
	return nil
}

// Refresh re-snapshots all tracked files, so the pending changes are no
// longer reported by Check. Call it after acting on a change.
func (w *Watcher) Refresh() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for path := range w.files {
		w.files[path] = statFile(path)
	}
}

// Check returns the tracked files that changed since the last snapshot,
// sorted alphabetically.
func (w *Watcher) Check() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, state := range w.files {
		if statFile(path) != state {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

func statFile(path string) fileState {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{}
	}
	return fileState{modTime: info.ModTime(), size: info.Size()}
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
