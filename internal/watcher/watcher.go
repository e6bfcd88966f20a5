// Package watcher triggers a rebuild when files under the source root change.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sha1n/codegrok/internal/domain"
)

// PathFilter decides whether a path relative to the root is excluded.
type PathFilter interface {
	ShouldExclude(rel string, isDir bool) bool
}

// Options configures a Watcher.
type Options struct {
	Root     string
	Debounce time.Duration
	Filter   PathFilter
	// IgnoreDirs are absolute directories whose changes are never reported,
	// such as an index directory nested in the source root.
	IgnoreDirs []string
	Logger     *slog.Logger
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	opts      Options
	root      string
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	logger    *slog.Logger
}

// New creates a watcher and registers every non-excluded directory under the root.
func New(opts Options) (*Watcher, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	ignoreDirs := make([]string, 0, len(opts.IgnoreDirs))
	for _, dir := range opts.IgnoreDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		ignoreDirs = append(ignoreDirs, abs)
	}
	opts.IgnoreDirs = ignoreDirs
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		opts:      opts,
		root:      root,
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(opts.Debounce),
		logger:    logger.With("component", "watcher"),
	}

	if err := w.addTree(root); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// addTree registers dir and its non-excluded subdirectories
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Run delivers debounced batches to onChange until ctx is done. onChange is
// never called concurrently with itself.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context, []Event)) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-w.debouncer.Output():
				w.logger.DebugContext(ctx, "Changes detected", "events", len(batch))
				onChange(ctx, batch)
			}
		}
	}()

	defer func() {
		cancel()
		w.debouncer.Stop()
		<-done
	}()

	w.logger.InfoContext(ctx, "Watching source tree", "root", w.root, "debounce", w.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			return w.fsWatcher.Close()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Changes were lost, so force a rebuild
				w.debouncer.Add(w.root, OpWrite)
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.ignored(path, true) {
				return
			}
			// Files may land in the directory before it is watched
			if err := w.addTree(path); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
			}
			w.debouncer.Add(path, OpCreate)
			return
		}
	}

	var op Op
	switch {
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpWrite
	default:
		return
	}

	if w.ignored(path, false) {
		return
	}
	// A removed path may have been a directory of indexed files
	if op == OpCreate || op == OpWrite {
		if _, ok := domain.LanguageForPath(path); !ok {
			return
		}
	}
	w.debouncer.Add(path, op)
}

// ignored reports whether path is inside an ignored directory or excluded by the filter
func (w *Watcher) ignored(path string, isDir bool) bool {
	for _, dir := range w.opts.IgnoreDirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	if w.opts.Filter == nil {
		return false
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return w.opts.Filter.ShouldExclude(rel, isDir)
}
