package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Refresher reloads the in-memory index when its snapshot changed.
// *index.Manager satisfies it.
type Refresher interface {
	EnsureIndex(ctx context.Context) bool
}

// SnapshotWatcher watches the snapshot directory and refreshes the index as
// soon as another process publishes a new version file. It only shortens
// the time until the reload; EnsureIndex still checks the version on every
// read.
type SnapshotWatcher struct {
	dir         string
	versionFile string
	refresher   Refresher
	logger      *zap.Logger
	pending     *debouncer

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewSnapshotWatcher watches dir for changes to versionFile (a base name).
func NewSnapshotWatcher(dir, versionFile string, refresher Refresher, opts ...Option) *SnapshotWatcher {
	o := applyOptions(opts)
	return &SnapshotWatcher{
		dir:         filepath.Clean(dir),
		versionFile: versionFile,
		refresher:   refresher,
		logger:      o.logger,
		pending:     newDebouncer(o.debounce),
		done:        make(chan struct{}),
	}
}

// Start begins watching. The directory is created when missing because the
// version file is published by rename and fsnotify needs the parent.
func (w *SnapshotWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	go w.run(ctx, fsw)
	w.logger.Debug("snapshot watcher started", zap.String("dir", w.dir))
	return nil
}

func (w *SnapshotWatcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
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
			if filepath.Base(ev.Name) != w.versionFile || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			w.pending.trigger(w.versionFile, func() {
				ready := w.refresher.EnsureIndex(ctx)
				w.logger.Debug("snapshot changed, index refreshed", zap.Bool("ready", ready))
			})
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("snapshot watcher error", zap.Error(err))
		}
	}
}

// Stop stops the watcher.
func (w *SnapshotWatcher) Stop() {
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
