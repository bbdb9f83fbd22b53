package dev

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeType classifies a file-system change by what it invalidates.
type ChangeType int

const (
	// ChangeRoutes is an add, remove or rename inside the route tree.
	// The manifest must be rebuilt.
	ChangeRoutes ChangeType = iota

	// ChangeStyle is a stylesheet edit. Browsers re-fetch CSS without a
	// full reload.
	ChangeStyle

	// ChangeEnv is an edit to a .env file. The environment modules are
	// re-injected.
	ChangeEnv

	// ChangeCode is any other source edit. Browsers do a full reload.
	ChangeCode
)

// Change is one detected file-system change.
type Change struct {
	Path string
	Type ChangeType
	// Structural is true when the change adds or removes a path rather
	// than editing one.
	Structural bool
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Paths are the directory trees to watch.
	Paths []string

	// Ignore are base names and glob patterns to skip.
	Ignore []string

	// Debounce is the quiet period before a burst of events is
	// reported as one batch.
	Debounce time.Duration
}

// DefaultIgnore names files and directories never worth watching.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	".velo",
	"*_test.go",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher monitors directory trees and reports batched changes.
type Watcher struct {
	config   WatcherConfig
	onChange func([]Change)
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatcher creates a watcher for the configured paths.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	return &Watcher{config: config}
}

// OnChange sets the callback invoked with each batch of changes.
func (w *Watcher) OnChange(fn func([]Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start watches until the context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fs = fsw
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	defer fsw.Close()

	for _, root := range w.config.Paths {
		w.addTree(root)
	}

	var (
		pending []Change
		timer   *time.Timer
		fire    <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			change, ok := w.classify(event)
			if !ok {
				continue
			}
			// New directories join the watch so nested changes are
			// seen too.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}
			pending = append(pending, change)
			if timer == nil {
				timer = time.NewTimer(w.config.Debounce)
			} else {
				timer.Reset(w.config.Debounce)
			}
			fire = timer.C

		case <-fire:
			batch := pending
			pending = nil
			fire = nil
			w.mu.Lock()
			callback := w.onChange
			w.mu.Unlock()
			if callback != nil && len(batch) > 0 {
				callback(dedupe(batch))
			}

		case _, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// Stop ends the watch loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

// IsRunning reports whether the watch loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// addTree registers dir and every non-ignored subdirectory.
func (w *Watcher) addTree(root string) {
	filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.shouldIgnore(p) {
			return filepath.SkipDir
		}
		w.fs.Add(p)
		return nil
	})
}

// classify turns an fsnotify event into a Change, or drops it.
func (w *Watcher) classify(event fsnotify.Event) (Change, bool) {
	if event.Op == fsnotify.Chmod {
		return Change{}, false
	}
	if w.shouldIgnore(event.Name) {
		return Change{}, false
	}

	structural := event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Remove) ||
		event.Op.Has(fsnotify.Rename)

	return Change{
		Path:       event.Name,
		Type:       ClassifyPath(event.Name),
		Structural: structural,
	}, true
}

// shouldIgnore matches a path against the ignore list.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	name := filepath.Base(fullPath)
	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if name == pattern {
			return true
		}
		if strings.ContainsAny(pattern, "*?[") {
			if matched, _ := filepath.Match(pattern, name); matched {
				return true
			}
		}
	}
	return false
}

// ClassifyPath derives the change type from a file path.
func ClassifyPath(path string) ChangeType {
	name := filepath.Base(path)
	if name == ".env" || strings.HasPrefix(name, ".env.") {
		return ChangeEnv
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".css", ".scss", ".sass", ".less":
		return ChangeStyle
	case ".velo", ".go", ".json":
		if isRouteStructureFile(name) {
			return ChangeRoutes
		}
		return ChangeCode
	default:
		return ChangeCode
	}
}

// isRouteStructureFile reports whether a base name participates in the
// route tree layout.
func isRouteStructureFile(name string) bool {
	switch name {
	case "+page.velo", "+layout.velo", "+server.go":
		return true
	}
	return false
}

// dedupe keeps the first change per path, structural ones winning.
func dedupe(changes []Change) []Change {
	byPath := make(map[string]int, len(changes))
	out := changes[:0]
	for _, c := range changes {
		if i, ok := byPath[c.Path]; ok {
			if c.Structural && !out[i].Structural {
				out[i].Structural = true
			}
			continue
		}
		byPath[c.Path] = len(out)
		out = append(out, c)
	}
	return out
}
