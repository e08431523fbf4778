package index

import (
	"context"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// Result is one search hit.
type Result struct {
	Info  models.ChunkInfo
	Score float64
}

// Search returns up to k chunks most similar to query, best first. It returns
// an empty result when the index is not ready or the search fails.
// Callers should call EnsureIndex first.
func (m *Manager) Search(ctx context.Context, query []float32, k int) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.readyLocked() || k <= 0 {
		return nil
	}
	if n := m.index.Size(); k > n {
		k = n
	}
	hits, err := m.index.Search(ctx, vector.Normalized(query), k)
	if err != nil {
		m.logger.Warn("index search failed", zap.Error(err))
		return nil
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Row < 0 || h.Row >= len(m.infos) {
			continue
		}
		results = append(results, Result{Info: m.infos[h.Row], Score: h.Score})
	}
	return results
}
