package index

import (
	"context"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// AddChunks appends the embedded chunks of one document to the index and
// persists it. When no usable index exists it loads the snapshot, and when
// that fails (or the index is untrained) it performs a full rebuild instead.
// It returns false when nothing was applied; the published state is then
// kept in memory.
//
// Appended vectors are not used to retrain ivf clusters.
func (m *Manager) AddChunks(ctx context.Context, documentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return false
	}
	records, err := m.source.DocumentChunks(ctx, documentID)
	if err != nil {
		m.logger.Error("failed to fetch document chunks", zap.String("document_id", documentID), zap.Error(err))
		return false
	}
	vecs, infos := m.prepare(records)
	if len(vecs) == 0 {
		return false
	}

	m.reloadIfNewerLocked()
	if !m.readyLocked() && !(m.loadLocked() && m.readyLocked()) {
		return m.rebuildLocked(ctx)
	}
	if !m.index.IsTrained() {
		m.logger.Warn("index is not trained, rebuilding")
		return m.rebuildLocked(ctx)
	}
	vecs, infos = m.withoutIndexedLocked(vecs, infos)
	if len(vecs) == 0 {
		m.logger.Debug("document chunks already indexed", zap.String("document_id", documentID))
		return true
	}
	if m.cfg.RebuildAfterAdds > 0 && m.index.Kind() == vector.KindIVF && m.addsSinceRebuild+1 >= m.cfg.RebuildAfterAdds {
		m.logger.Info("incremental add limit reached, rebuilding", zap.Int("adds", m.addsSinceRebuild+1))
		return m.rebuildLocked(ctx)
	}

	before := m.index.Size()
	if err := m.index.Add(ctx, vecs); err != nil {
		m.logger.Error("failed to add vectors", zap.String("document_id", documentID), zap.Error(err))
		m.restoreLocked()
		return false
	}
	merged := append(m.infos[:len(m.infos):len(m.infos)], infos...)
	version, err := m.store.Save(m.index, merged)
	if err != nil {
		m.logger.Error("failed to persist index after add", zap.Error(err))
		m.restoreLocked()
		return false
	}
	m.infos = merged
	m.addsSinceRebuild++
	m.lastLoadedVersion = version
	m.logger.Info("chunks added",
		zap.String("document_id", documentID),
		zap.Int("added", len(vecs)),
		zap.Int("before", before),
		zap.Int("vectors", m.index.Size()),
		zap.Float64("version", version))
	return true
}

// withoutIndexedLocked drops chunks that are already present, which happens
// when a rebuild ran between the write and this add.
func (m *Manager) withoutIndexedLocked(vecs [][]float32, infos []models.ChunkInfo) ([][]float32, []models.ChunkInfo) {
	seen := make(map[string]struct{}, len(m.infos))
	for _, info := range m.infos {
		seen[info.ChunkID] = struct{}{}
	}
	keptVecs := vecs[:0]
	keptInfos := infos[:0]
	for i, info := range infos {
		if _, ok := seen[info.ChunkID]; ok {
			continue
		}
		keptVecs = append(keptVecs, vecs[i])
		keptInfos = append(keptInfos, info)
	}
	return keptVecs, keptInfos
}

// restoreLocked discards an index mutated by a failed add. The published
// snapshot is reloaded; if that fails the state is cleared so the next
// EnsureIndex rebuilds.
func (m *Manager) restoreLocked() {
	if m.loadLocked() {
		return
	}
	m.logger.Warn("could not restore index from snapshot, clearing it")
	m.clearLocked()
}
