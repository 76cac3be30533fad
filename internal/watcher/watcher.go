// Package watcher watches a repository's working tree for file changes and
// emits debounced AmbientEvents. The recursive-add-then-select-loop shape,
// .git lock handling, and panic-recovering run loop are grounded on
// aretw0-loam's fs watch worker; the ticker-driven Manager/Watcher split
// (one goroutine per watched root) is grounded on stefanpenner-lurker's
// watcher.Manager.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/boshu2/ambient/internal/ambtypes"
)

// defaultIgnoredDirs are never descended into or watched.
var defaultIgnoredDirs = map[string]bool{
	".git":         true,
	"vendor":       true,
	"node_modules": true,
	"_examples":    true,
	".ambient":     true,
}

// Config bounds the watcher's debounce window and ignore rules.
type Config struct {
	Root            string
	DebounceWindow  time.Duration
	IgnoredDirs     map[string]bool
	IgnoredSuffixes []string
}

// DefaultConfig ignores common vendor/build directories and editor swap
// files, debouncing bursts of events within a 300ms window.
func DefaultConfig(root string) Config {
	return Config{
		Root:            root,
		DebounceWindow:  300 * time.Millisecond,
		IgnoredDirs:     defaultIgnoredDirs,
		IgnoredSuffixes: []string{".swp", ".tmp", "~"},
	}
}

// Watcher watches Cfg.Root and emits debounced file_change events through
// Emit.
type Watcher struct {
	Cfg  Config
	Emit func(ambtypes.AmbientEvent)

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// New returns a Watcher rooted at cfg.Root. Callers set Emit before
// calling Run; a nil Emit silently drops events.
func New(cfg Config) *Watcher {
	return &Watcher{Cfg: cfg, pending: map[string]bool{}}
}

// Run recursively adds Cfg.Root to an fsnotify watcher and blocks in a
// select loop until ctx is cancelled, debouncing bursts of changed paths
// into a single file_change event per window.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create: %w", err)
	}
	w.watcher = fsw
	defer fsw.Close()

	if err := w.addRecursive(w.Cfg.Root); err != nil {
		return fmt.Errorf("watcher: initial add: %w", err)
	}

	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher: events channel closed")
			}
			w.handleEvent(ctx, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher: errors channel closed")
			}
			w.handleError(err)
		}
	}
}

// addRecursive walks root and adds every non-ignored directory to the
// fsnotify watcher; fsnotify has no recursive mode of its own.
func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if w.isIgnoredDir(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) isIgnoredDir(path string) bool {
	base := filepath.Base(path)
	if w.Cfg.IgnoredDirs[base] {
		return true
	}
	return strings.HasPrefix(base, ".") && base != "." && path != w.Cfg.Root
}

func (w *Watcher) isIgnoredFile(path string) bool {
	base := filepath.Base(path)
	for _, suffix := range w.Cfg.IgnoredSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

// handleEvent filters the event, tracks newly created directories so they
// get watched too, and queues the path for debounced emission.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if w.isIgnoredFile(event.Name) {
		return
	}
	for dir := filepath.Dir(event.Name); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if w.isIgnoredDir(dir) {
			return
		}
		if dir == w.Cfg.Root {
			break
		}
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.isIgnoredDir(event.Name) {
			_ = w.addRecursive(event.Name)
		}
	}

	w.queue(ctx, event.Name)
}

func (w *Watcher) handleError(err error) {
	if w.Emit != nil {
		w.Emit(ambtypes.AmbientEvent{Kind: string(ambtypes.EventDebug), Data: map[string]any{"watcher_error": err.Error()}})
	}
}

// queue debounces path into the pending set, flushing the whole batch as a
// single file_change event once DebounceWindow elapses with no new events.
func (w *Watcher) queue(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rel, err := filepath.Rel(w.Cfg.Root, path)
	if err != nil {
		rel = path
	}
	w.pending[rel] = true

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Cfg.DebounceWindow, func() {
		w.flush(ctx)
	})
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	files := make([]string, 0, len(w.pending))
	for f := range w.pending {
		files = append(files, f)
	}
	w.pending = map[string]bool{}
	w.mu.Unlock()

	if w.Emit == nil {
		return
	}
	select {
	case <-ctx.Done():
	default:
		w.Emit(ambtypes.AmbientEvent{
			Kind: string(ambtypes.EventFileChange),
			Data: map[string]any{"files": files},
		})
	}
}
