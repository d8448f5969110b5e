package reload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timzifer/parkgate/config"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher keeps track of configuration source files and detects modifications.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher tracks the files the configuration was assembled from.
func NewWatcher(cfg *config.Config) *Watcher {
	watcher := &Watcher{}
	watcher.Update(cfg)
	return watcher
}

// Update rebuilds the tracked file list from cfg. Files that do not exist
// are not tracked.
func (w *Watcher) Update(cfg *config.Config) {
	if w == nil {
		return
	}
	states := make(map[string]fileState)
	for _, path := range uniquePaths(config.SourceFiles(cfg)) {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		states[abs] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
}

// Tracked lists the watched files.
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files))
	for path := range w.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Check reports the files that changed or disappeared since the last Update.
func (w *Watcher) Check() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var changed []string
	for path, state := range w.files {
		info, err := os.Stat(path)
		if err != nil {
			changed = append(changed, path)
			continue
		}
		if info.ModTime().After(state.modTime) || info.Size() != state.size {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// Run checks the tracked files every interval and calls onChange with the
// changed paths until ctx is done. onChange is expected to call Update once
// the new configuration is in effect.
func (w *Watcher) Run(ctx context.Context, interval time.Duration, onChange func([]string)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed := w.Check(); len(changed) > 0 {
				onChange(changed)
			}
		}
	}
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
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
