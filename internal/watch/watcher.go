// Package watch turns filesystem activity into the document lifecycle
// event stream consumed by the dispatcher: Opened when a supported
// document appears or settles after edits, Deleted when it goes away.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quill/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// EventType discriminates document lifecycle events.
type EventType int

const (
	Opened EventType = iota
	Deleted
)

// Event is one document lifecycle notification. Key is the document's
// canonical URI; Text carries the document content for Opened events.
type Event struct {
	Type EventType
	Key  string
	Text string
}

// Stats tracks watcher activity for debugging.
type Stats struct {
	FilesOpened   int
	FilesDeleted  int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// DocWatcher watches a workspace tree for supported documents and emits
// lifecycle events on its channel. Subdirectories are watched
// recursively; dot-directories are skipped.
type DocWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	root        string
	extensions  map[string]struct{}
	debounceMap map[string]time.Time
	debounceDur time.Duration
	events      chan Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       Stats
}

// NewDocWatcher creates a watcher over root for the given extensions
// (lowercase, with leading dot).
func NewDocWatcher(root string, extensions []string, debounce time.Duration) (*DocWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &DocWatcher{
		watcher:     watcher,
		root:        root,
		extensions:  extSet,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		events:      make(chan Event, 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Events returns the lifecycle event stream.
func (w *DocWatcher) Events() <-chan Event {
	return w.events
}

// Start begins watching. Non-blocking; events flow until Stop.
func (w *DocWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		logging.Get(logging.CategoryWatch).Warn("DocWatcher: initial watch of %s failed: %v", w.root, err)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *DocWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("DocWatcher: error closing watcher: %v", err)
	}
	logging.Watch("DocWatcher: stopped")
}

// ScanExisting emits Opened events for supported documents already
// present under the root. Called once at startup, after Restore, so the
// thread list covers documents created while the process was down.
func (w *DocWatcher) ScanExisting() error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name(), path, w.root) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.supported(path) {
			return nil
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		w.emit(Event{Type: Opened, Key: KeyForPath(path), Text: string(text)})
		return nil
	})
}

func (w *DocWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipDir(d.Name(), path, root) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.Get(logging.CategoryWatch).Warn("DocWatcher: could not watch %s: %v", path, err)
		}
		return nil
	})
}

// skipDir hides dot-directories (".quill", ".git") from the watch tree.
func skipDir(name, path, root string) bool {
	return path != root && strings.HasPrefix(name, ".")
}

func (w *DocWatcher) supported(path string) bool {
	_, ok := w.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// run is the main event loop for the watcher.
func (w *DocWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("DocWatcher: context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("DocWatcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

// handleEvent processes a single filesystem event.
func (w *DocWatcher) handleEvent(event fsnotify.Event) {
	// New directories join the watch tree immediately.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !skipDir(filepath.Base(event.Name), event.Name, w.root) {
				_ = w.addRecursive(event.Name)
			}
			return
		}
	}

	if !w.supported(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		logging.WatchDebug("DocWatcher: delete event for %s", event.Name)
		w.mu.Lock()
		w.stats.FilesDeleted++
		w.stats.LastEventTime = time.Now()
		w.stats.LastEventPath = event.Name
		delete(w.debounceMap, event.Name)
		w.mu.Unlock()
		w.emit(Event{Type: Deleted, Key: KeyForPath(event.Name)})

	case event.Op&fsnotify.Create != 0, event.Op&fsnotify.Write != 0:
		logging.WatchDebug("DocWatcher: open/write event for %s", event.Name)
		w.mu.Lock()
		w.stats.LastEventTime = time.Now()
		w.stats.LastEventPath = event.Name
		w.debounceMap[event.Name] = time.Now()
		w.mu.Unlock()
	}
}

// processDebounced emits Opened events for files that settled past the
// debounce window.
func (w *DocWatcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		text, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logging.Get(logging.CategoryWatch).Error("DocWatcher: failed to read %s: %v", path, err)
			}
			continue
		}
		w.mu.Lock()
		w.stats.FilesOpened++
		w.mu.Unlock()
		w.emit(Event{Type: Opened, Key: KeyForPath(path), Text: string(text)})
	}
}

func (w *DocWatcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.stopCh:
	}
}

// GetStats returns a snapshot of watcher activity.
func (w *DocWatcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// KeyForPath returns the canonical thread key for a document path.
func KeyForPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs
}
