// Package watcher keeps the document store and the in-memory index in step
// with the filesystem using fsnotify.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/ragindex/pkg/utils"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler receives debounced file events from a DirWatcher.
// *indexer.Indexer satisfies it.
type Handler interface {
	IndexFile(ctx context.Context, path string, allowedExts []string) error
	RemoveFile(ctx context.Context, path string) error
}

// DirWatcher watches ingestion directories and forwards file changes to a Handler.
type DirWatcher struct {
	handler    Handler
	extensions []string
	recursive  bool
	logger     *zap.Logger

	mu        sync.Mutex
	ctx       context.Context
	fsw       *fsnotify.Watcher
	roots     []string
	rootPaths map[string][]string // root -> directories registered with fsnotify
	pending   *debouncer
	done      chan struct{}
	stopOnce  sync.Once
}

// Option configures a DirWatcher or SnapshotWatcher.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	debounce time.Duration
}

// WithLogger sets a logger for debug output (directory changes, file events, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a path must be quiet before its event is handled.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), debounce: defaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewDirWatcher creates a watcher for roots. extensions filters which files
// are forwarded (empty means all).
func NewDirWatcher(handler Handler, roots, extensions []string, recursive bool, opts ...Option) *DirWatcher {
	o := applyOptions(opts)
	return &DirWatcher{
		handler:    handler,
		extensions: extensions,
		recursive:  recursive,
		logger:     o.logger,
		roots:      append([]string(nil), roots...),
		rootPaths:  make(map[string][]string),
		pending:    newDebouncer(o.debounce),
		done:       make(chan struct{}),
	}
}

// Start registers the roots, creating missing ones, and processes events
// until ctx is cancelled or Stop is called.
func (w *DirWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.logger.Debug("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, fsw)
	return nil
}

func (w *DirWatcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *DirWatcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// Rename is reported for the old name; the new name arrives as Create.
		w.pending.cancel(path)
		if matchExtension(path, w.extensions) {
			w.pending.trigger(path, func() { w.remove(path) })
		}
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if matchExtension(path, w.extensions) {
			w.pending.trigger(path, func() { w.index(path) })
		}
	}
}

func (w *DirWatcher) index(path string) {
	ctx := w.context()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		w.remove(path)
		return
	}
	if err := w.handler.IndexFile(ctx, path, w.extensions); err != nil {
		w.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("watcher indexed file", zap.String("path", path))
}

func (w *DirWatcher) remove(path string) {
	if err := w.handler.RemoveFile(w.context(), path); err != nil {
		w.logger.Warn("failed to remove file", zap.String("path", path), zap.Error(err))
	}
}

func (w *DirWatcher) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// handleNewDirectory registers a directory created (or moved) under a root
// and indexes the files already inside it.
func (w *DirWatcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	if w.recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		})
	}
	w.syncDirectory(dir)
}

func (w *DirWatcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if inDir(filepath.Clean(root), path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// AddDirectory adds a root directory to watch and optionally indexes its
// existing files in the background.
func (w *DirWatcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.addRootLocked(abs); err != nil {
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.logger.Info("watch directory added", zap.String("path", abs))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *DirWatcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	paths := []string{root}
	if w.recursive {
		paths = paths[:0]
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, p := range paths {
		if err := w.fsw.Add(p); err != nil {
			return err
		}
	}
	w.rootPaths[root] = paths
	return nil
}

func (w *DirWatcher) syncDirectory(root string) {
	ctx := w.context()
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchExtension(path, w.extensions) {
			return nil
		}
		if err := w.handler.IndexFile(ctx, path, w.extensions); err != nil {
			w.logger.Warn("failed to index file", zap.String("path", path), zap.Error(err))
		}
		return ctx.Err()
	})
}

// RemoveDirectory stops watching root. Indexed documents are kept.
func (w *DirWatcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.roots {
		if filepath.Clean(r) != abs {
			continue
		}
		if w.fsw != nil {
			for _, p := range w.rootPaths[abs] {
				_ = w.fsw.Remove(p)
			}
		}
		delete(w.rootPaths, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Info("watch directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns a copy of the current watched root directories.
func (w *DirWatcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles indexes the files already present in every root.
func (w *DirWatcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops the watcher and drops pending events.
func (w *DirWatcher) Stop() {
	w.mu.Lock()
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	w.pending.stop()
	_ = fsw.Close()
	w.stopOnce.Do(func() { close(w.done) })
}
