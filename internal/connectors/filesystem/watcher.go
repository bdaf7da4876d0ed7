// Package filesystem watches a directory tree for text files to ingest.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// ErrWatcherClosed is returned when Watch is called after Close.
var ErrWatcherClosed = errors.New("watcher is closed")

// EventType describes what happened to a file.
type EventType string

// Event types.
const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
)

// Event reports a supported file that should be (re)ingested.
type Event struct {
	Path string
	Type EventType
}

// supportedExtensions maps ingestible extensions to their chunk mode.
var supportedExtensions = map[string]domain.ChunkMode{
	".txt":      domain.ChunkModeParagraph,
	".md":       domain.ChunkModeTopic,
	".markdown": domain.ChunkModeTopic,
	".html":     domain.ChunkModeParagraph,
	".htm":      domain.ChunkModeParagraph,
}

// IsSupported reports whether the file extension is ingestible.
func IsSupported(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ModeFor returns the chunk mode for a file: topic for markdown,
// paragraph otherwise.
func ModeFor(path string) domain.ChunkMode {
	if mode, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return mode
	}
	return domain.ChunkModeParagraph
}

// Watcher emits events for supported, non-hidden files under a root.
type Watcher struct {
	rootPath string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewWatcher creates a watcher for rootPath. Nothing is watched until Watch.
func NewWatcher(rootPath string) *Watcher {
	return &Watcher{rootPath: ResolvePath(rootPath)}
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.rootPath
}

// Scan returns the supported files already present, in lexical order.
func (w *Watcher) Scan(ctx context.Context) ([]string, error) {
	if err := w.checkRoot(); err != nil {
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(w.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("skipping %s: %v", path, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != w.rootPath && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && IsSupported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Watch starts watching the tree. The returned channel closes when ctx is
// cancelled or the watcher is closed. New directories are watched as they
// appear.
func (w *Watcher) Watch(ctx context.Context) (<-chan Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWatcherClosed
	}
	if err := w.checkRoot(); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := addTree(fw, w.rootPath); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw

	events := make(chan Event)
	go w.loop(ctx, fw, events)
	return events, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, events chan<- Event) {
	defer close(events)
	defer fw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case fsEvent, ok := <-fw.Events:
			if !ok {
				return
			}
			if fsEvent.Has(fsnotify.Create) && w.isVisibleDir(fsEvent.Name) {
				if err := addTree(fw, fsEvent.Name); err != nil {
					logger.Warn("watching %s: %v", fsEvent.Name, err)
				}
				continue
			}
			event := w.handleFsEvent(fsEvent)
			if event == nil {
				continue
			}
			select {
			case events <- *event:
			case <-ctx.Done():
				return
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error: %v", err)
		}
	}
}

// handleFsEvent maps a raw notification to an Event, or nil when the path
// is hidden, a directory, unsupported, or the operation is not a write.
func (w *Watcher) handleFsEvent(event fsnotify.Event) *Event {
	if isHidden(relativeTo(w.rootPath, event.Name)) || !IsSupported(event.Name) {
		return nil
	}

	var typ EventType
	switch {
	case event.Has(fsnotify.Create):
		typ = EventCreated
	case event.Has(fsnotify.Write):
		typ = EventUpdated
	default:
		return nil
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return nil
	}
	return &Event{Path: event.Name, Type: typ}
}

// Close stops watching. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}

func (w *Watcher) isVisibleDir(path string) bool {
	if isHidden(relativeTo(w.rootPath, path)) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (w *Watcher) checkRoot() error {
	info, err := os.Stat(w.rootPath)
	if err != nil {
		return fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path error: %s is not a directory", w.rootPath)
	}
	return nil
}

// addTree watches dir and every non-hidden directory below it.
func addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}

// isHidden reports whether any path element starts with a dot.
// "." and ".." are not hidden.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && part[0] == '.' && part != ".." {
			return true
		}
	}
	return false
}
