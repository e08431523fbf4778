package storage

import (
	"context"

	"github.com/hyperjump/ragindex/internal/index"
)

// ChunkSource adapts a Storage to the index.ChunkSource interface.
type ChunkSource struct {
	Storage Storage
}

// AllChunks returns every chunk in document, chunk index order.
func (s ChunkSource) AllChunks(ctx context.Context) ([]index.ChunkRecord, error) {
	recs, err := s.Storage.AllChunkRecords(ctx)
	if err != nil {
		return nil, err
	}
	return toIndexRecords(recs), nil
}

// DocumentChunks returns the chunks of one document.
func (s ChunkSource) DocumentChunks(ctx context.Context, documentID string) ([]index.ChunkRecord, error) {
	recs, err := s.Storage.DocumentChunkRecords(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return toIndexRecords(recs), nil
}

func toIndexRecords(recs []*ChunkRecord) []index.ChunkRecord {
	out := make([]index.ChunkRecord, len(recs))
	for i, r := range recs {
		out[i] = index.ChunkRecord{
			ID:            r.ID,
			DocumentID:    r.DocumentID,
			ChunkIndex:    r.ChunkIndex,
			DocumentTitle: r.DocumentTitle,
			Content:       r.Content,
			Embedding:     r.Embedding,
		}
	}
	return out
}
