// Package index owns the in-memory vector index, its positional chunk
// metadata and its synchronization with the on-disk snapshot.
package index

import (
	"context"
	"errors"
	"sync"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/snapshot"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// Config holds the index build parameters.
type Config struct {
	Dimensions int
	// NList is the number of coarse clusters of an ivf index.
	NList int
	// NProbe is the number of clusters scanned per query.
	NProbe int
	// MinTrain is the corpus size at which ivf is used instead of flat.
	MinTrain int
	// RebuildAfterAdds forces a full rebuild after this many incremental
	// adds on an ivf index. 0 disables it.
	RebuildAfterAdds int
}

// Manager holds the index state. All methods take the same lock for their
// whole critical section, so reads and writes are fully serialized.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	source  ChunkSource
	store   *snapshot.Store
	backend vector.Backend // nil when no backend is available
	logger  *zap.Logger

	index             vector.Index
	infos             []models.ChunkInfo
	lastLoadedVersion float64
	addsSinceRebuild  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager. A nil backend is allowed: every operation then
// reports not ready.
func NewManager(cfg Config, source ChunkSource, store *snapshot.Store, backend vector.Backend, opts ...Option) *Manager {
	if cfg.NProbe <= 0 {
		cfg.NProbe = 1
	}
	m := &Manager{
		cfg:     cfg,
		source:  source,
		store:   store,
		backend: backend,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EnsureIndex makes an index ready when one can be produced: it reloads a newer
// snapshot, keeps a non-empty in-memory index, falls back to loading from disk
// and finally rebuilds from the chunk source.
func (m *Manager) EnsureIndex(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return false
	}
	m.reloadIfNewerLocked()
	if m.readyLocked() {
		return true
	}
	if m.loadLocked() && m.readyLocked() {
		return true
	}
	return m.rebuildLocked(ctx)
}

// Stats reports the in-memory state.
func (m *Manager) Stats() models.IndexStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.IndexStats{Version: m.lastLoadedVersion}
	if m.backend != nil {
		st.Backend = m.backend.Name()
	}
	if m.index != nil {
		st.Ready = len(m.infos) > 0
		st.VectorCount = m.index.Size()
		st.Kind = string(m.index.Kind())
	}
	return st
}

// Close releases the index.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	return nil
}

func (m *Manager) readyLocked() bool {
	return m.index != nil && len(m.infos) > 0
}

// reloadIfNewerLocked loads the snapshot when its version is newer than the
// one in memory. On failure the current state is kept.
func (m *Manager) reloadIfNewerLocked() {
	disk := m.store.DiskVersion()
	if disk <= m.lastLoadedVersion {
		return
	}
	m.logger.Debug("snapshot on disk is newer",
		zap.Float64("disk_version", disk),
		zap.Float64("loaded_version", m.lastLoadedVersion))
	m.loadLocked()
}

func (m *Manager) loadLocked() bool {
	snap, err := m.store.Load()
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			m.logger.Debug("no snapshot on disk", zap.Error(err))
		} else {
			m.logger.Warn("failed to load snapshot", zap.Error(err))
		}
		return false
	}
	m.setStateLocked(snap.Index, snap.Infos, snap.Version)
	m.logger.Info("snapshot loaded",
		zap.Int("vectors", snap.Index.Size()),
		zap.String("kind", string(snap.Index.Kind())),
		zap.Float64("version", snap.Version))
	return true
}

func (m *Manager) setStateLocked(idx vector.Index, infos []models.ChunkInfo, version float64) {
	if m.index != nil && m.index != idx {
		_ = m.index.Close()
	}
	m.index = idx
	m.infos = infos
	m.lastLoadedVersion = version
	m.addsSinceRebuild = 0
}

func (m *Manager) clearLocked() {
	if m.index != nil {
		_ = m.index.Close()
	}
	m.index = nil
	m.infos = nil
	m.lastLoadedVersion = 0
	m.addsSinceRebuild = 0
}
