package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when no debounce window is given.
const DefaultDebounce = 500 * time.Millisecond

// ChangeEvent represents an artifact change.
type ChangeEvent struct {
	Path       string
	ChangeType string // "create", "write", "remove", "rename"
}

// ArtifactWatcher watches an artifacts tree and fires once per burst of
// changes to *.json files.
type ArtifactWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(ChangeEvent)
	ignore   []string

	mu   sync.Mutex
	last ChangeEvent
}

// NewArtifactWatcher creates a watcher. Paths under any ignore prefix (such as an
// output directory inside the artifacts tree) never trigger.
func NewArtifactWatcher(debounce time.Duration, onChange func(ChangeEvent), ignore ...string) (*ArtifactWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	var cleaned []string
	for _, p := range ignore {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		cleaned = append(cleaned, filepath.Clean(p))
	}
	return &ArtifactWatcher{
		watcher:  w,
		debounce: debounce,
		onChange: onChange,
		ignore:   cleaned,
	}, nil
}

// WatchRecursive adds a directory and all its subdirectories to the watcher.
func (w *ArtifactWatcher) WatchRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if w.ignored(path) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Run starts the event loop. It blocks until the context is cancelled.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	debouncer := NewDebouncer(w.debounce, func() {
		w.mu.Lock()
		ev := w.last
		w.mu.Unlock()
		if w.onChange != nil {
			w.onChange(ev)
		}
	})
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			changeType := opToChangeType(event.Op)
			if changeType == "" || w.ignored(event.Name) {
				continue
			}

			// Wave directories appear after the watch starts.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.WatchRecursive(event.Name)
					continue
				}
			}
			if !IsArtifact(event.Name) {
				continue
			}

			w.mu.Lock()
			w.last = ChangeEvent{Path: event.Name, ChangeType: changeType}
			w.mu.Unlock()
			debouncer.Trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// IsArtifact reports whether path names a reviewer artifact. Hidden files,
// including in-flight atomic-write temp files, are not artifacts.
func IsArtifact(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json")
}

func (w *ArtifactWatcher) ignored(path string) bool {
	if len(w.ignore) == 0 {
		return false
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	for _, prefix := range w.ignore {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func opToChangeType(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return ""
	}
}
