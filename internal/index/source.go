package index

import (
	"context"

	"github.com/hyperjump/ragindex/internal/models"
)

// ChunkRecord is a chunk as enumerated from the source of truth.
// A nil Embedding means the chunk has not been embedded and is skipped.
type ChunkRecord struct {
	ID            string
	DocumentID    string
	ChunkIndex    int
	DocumentTitle string
	Content       string
	Embedding     []float32
}

// ChunkSource enumerates chunk records. AllChunks must return records in a
// stable order so repeated rebuilds produce the same row layout.
type ChunkSource interface {
	AllChunks(ctx context.Context) ([]ChunkRecord, error)
	DocumentChunks(ctx context.Context, documentID string) ([]ChunkRecord, error)
}

func (r ChunkRecord) info() models.ChunkInfo {
	return models.ChunkInfo{
		ChunkID:       r.ID,
		DocumentID:    r.DocumentID,
		ChunkIndex:    r.ChunkIndex,
		DocumentTitle: r.DocumentTitle,
		Content:       r.Content,
	}
}
