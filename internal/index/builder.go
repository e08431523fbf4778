package index

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// Rebuild replaces the index with one built from every chunk in the source
// and persists it. It returns false when the corpus has no embedded chunks or
// no backend is available; in both cases the index is left not ready.
func (m *Manager) Rebuild(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildLocked(ctx)
}

func (m *Manager) rebuildLocked(ctx context.Context) bool {
	if m.backend == nil {
		m.clearLocked()
		return false
	}
	records, err := m.source.AllChunks(ctx)
	if err != nil {
		m.logger.Error("failed to enumerate chunks", zap.Error(err))
		return false
	}
	vecs, infos := m.prepare(records)
	if len(vecs) == 0 {
		m.retireLocked()
		return false
	}

	idx, err := m.build(ctx, vecs)
	if err != nil {
		m.logger.Error("failed to build index", zap.Error(err))
		return false
	}
	version, err := m.store.Save(idx, infos)
	if err != nil {
		_ = idx.Close()
		m.logger.Error("failed to persist index", zap.Error(err))
		return false
	}
	m.setStateLocked(idx, infos, version)
	m.logger.Info("index rebuilt",
		zap.Int("vectors", len(vecs)),
		zap.String("kind", string(idx.Kind())),
		zap.Float64("version", version))
	return true
}

// retireLocked handles an empty corpus. A previously published snapshot is
// replaced by an empty one so later loads do not bring back deleted chunks.
func (m *Manager) retireLocked() {
	disk := m.store.DiskVersion()
	if m.index != nil && m.index.Size() == 0 && m.lastLoadedVersion > 0 && m.lastLoadedVersion >= disk {
		return
	}
	if disk == 0 {
		m.logger.Info("no embedded chunks, index cleared")
		m.clearLocked()
		return
	}
	idx, err := m.backend.NewFlat(m.cfg.Dimensions)
	if err != nil {
		m.logger.Error("failed to create empty index", zap.Error(err))
		m.clearLocked()
		return
	}
	version, err := m.store.Save(idx, nil)
	if err != nil {
		_ = idx.Close()
		m.logger.Error("failed to publish empty snapshot", zap.Error(err))
		m.clearLocked()
		return
	}
	m.setStateLocked(idx, nil, version)
	m.logger.Info("no embedded chunks, published empty snapshot", zap.Float64("version", version))
}

// build picks flat below MinTrain and ivf at or above it.
func (m *Manager) build(ctx context.Context, vecs [][]float32) (vector.Index, error) {
	var (
		idx vector.Index
		err error
	)
	if len(vecs) < m.cfg.MinTrain || m.cfg.NList <= 0 {
		idx, err = m.backend.NewFlat(m.cfg.Dimensions)
	} else {
		nlist := m.cfg.NList
		if nlist > len(vecs) {
			nlist = len(vecs)
		}
		idx, err = m.backend.NewIVF(m.cfg.Dimensions, nlist, m.cfg.NProbe)
	}
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	if err := idx.Train(ctx, vecs); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("train index: %w", err)
	}
	if err := idx.Add(ctx, vecs); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("add vectors: %w", err)
	}
	return idx, nil
}

// prepare returns normalized copies of the usable embeddings and the matching
// chunk infos in the same order.
func (m *Manager) prepare(records []ChunkRecord) ([][]float32, []models.ChunkInfo) {
	vecs := make([][]float32, 0, len(records))
	infos := make([]models.ChunkInfo, 0, len(records))
	skipped := 0
	for _, r := range records {
		if r.Embedding == nil {
			skipped++
			continue
		}
		if len(r.Embedding) != m.cfg.Dimensions {
			m.logger.Warn("skipping chunk with wrong embedding dimension",
				zap.String("chunk_id", r.ID),
				zap.Int("dimensions", len(r.Embedding)),
				zap.Int("expected", m.cfg.Dimensions))
			continue
		}
		vecs = append(vecs, vector.Normalized(r.Embedding))
		infos = append(infos, r.info())
	}
	if skipped > 0 {
		m.logger.Debug("skipped chunks without embedding", zap.Int("count", skipped))
	}
	return vecs, infos
}
