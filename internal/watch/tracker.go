// Package watch tracks file modifications in the workspace so the
// supervisor knows whether an agent actually changed anything between
// observations.
package watch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Tracker records write and create events under a workspace root. The
// supervisor marks a point in time before each turn or scrutiny pass
// and later asks whether anything changed after that mark.
type Tracker struct {
	watcher *fsnotify.Watcher
	root    string

	// Relative path -> last modification seen.
	modified map[string]time.Time

	// Paths to ignore (VCS metadata, the exchange directory, editor
	// droppings).
	ignorePaths []string

	mu     sync.RWMutex
	stopCh chan struct{}
}

// New creates a tracker rooted at the workspace directory. extraIgnores
// are directory or file basenames to skip in addition to the defaults;
// the session exchange directory must be among them when it lives
// inside the workspace, or the bridge's own artifact writes would count
// as agent activity.
func New(root string, extraIgnores ...string) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		watcher:     watcher,
		root:        root,
		modified:    make(map[string]time.Time),
		ignorePaths: append([]string{".git", "node_modules", ".DS_Store"}, extraIgnores...),
		stopCh:      make(chan struct{}),
	}
	if err := t.watcher.Add(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if err := t.watchDirRecursive(root); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return t, nil
}

// watchDirRecursive adds all subdirectories to the watcher. fsnotify
// only watches directories, not trees.
func (t *Tracker) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors, continue walking
		}
		base := filepath.Base(path)
		for _, ignore := range t.ignorePaths {
			if base == ignore {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if info.IsDir() {
			_ = t.watcher.Add(path)
		}
		return nil
	})
}

// Start begins processing filesystem events.
func (t *Tracker) Start() {
	go t.watchLoop()
}

// Stop shuts the tracker down and releases its watches.
func (t *Tracker) Stop() {
	close(t.stopCh)
	_ = t.watcher.Close()
}

// watchLoop processes filesystem events. Events are debounced: editors
// commonly emit several events per save.
func (t *Tracker) watchLoop() {
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer

	pendingEvents := make(map[string]fsnotify.Event)
	var pendingMu sync.Mutex

	for {
		select {
		case <-t.stopCh:
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pendingMu.Lock()
			pendingEvents[event.Name] = event
			pendingMu.Unlock()
			debounceTimer.Reset(50 * time.Millisecond)

		case <-debounceTimer.C:
			pendingMu.Lock()
			events := pendingEvents
			pendingEvents = make(map[string]fsnotify.Event)
			pendingMu.Unlock()

			for _, event := range events {
				t.handleFileEvent(event)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			_ = err
		}
	}
}

func (t *Tracker) handleFileEvent(event fsnotify.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := event.Name
	for _, ignore := range t.ignorePaths {
		if strings.Contains(path, string(filepath.Separator)+ignore+string(filepath.Separator)) ||
			strings.HasSuffix(path, string(filepath.Separator)+ignore) ||
			filepath.Base(path) == ignore {
			return
		}
	}

	rel, err := filepath.Rel(t.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}

	// Newly created directories need their own watch.
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		_ = t.watcher.Add(path)
		return
	}

	t.modified[rel] = time.Now()
}

// Record marks a path as modified without a filesystem event. Tests
// and callers that observe changes out of band use it.
func (t *Tracker) Record(relPath string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.modified[relPath] = at
}

// ChangedSince reports whether any tracked file was modified after the
// mark.
func (t *Tracker) ChangedSince(mark time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, mod := range t.modified {
		if mod.After(mark) {
			return true
		}
	}
	return false
}

// ModifiedSince returns the relative paths modified after the mark,
// sorted for stable presentation.
func (t *Tracker) ModifiedSince(mark time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var files []string
	for rel, mod := range t.modified {
		if mod.After(mark) {
			files = append(files, rel)
		}
	}
	sort.Strings(files)
	return files
}

// ClearOld drops modification records older than maxAge to keep the
// map bounded over long sessions.
func (t *Tracker) ClearOld(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	for rel, mod := range t.modified {
		if mod.Before(cutoff) {
			delete(t.modified, rel)
		}
	}
}
