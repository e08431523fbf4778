// Package storage defines the persistence interface for documents and chunks.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/ragindex/internal/models"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found")

// ChunkRecord is a chunk joined with its document title.
type ChunkRecord struct {
	models.DocumentChunk
	DocumentTitle string
}

// Storage defines document and chunk persistence operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	// UpdateDocumentChunks updates doc and, when chunks is not nil, replaces
	// its chunks atomically.
	UpdateDocumentChunks(ctx context.Context, doc *models.Document, chunks []*models.DocumentChunk) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// Chunk operations
	GetChunk(ctx context.Context, id string) (*models.DocumentChunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error
	BatchCreateChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	// ReplaceChunks atomically swaps all chunks of a document.
	ReplaceChunks(ctx context.Context, docID string, chunks []*models.DocumentChunk) error

	// AllChunkRecords returns every chunk ordered by document, then chunk index.
	AllChunkRecords(ctx context.Context) ([]*ChunkRecord, error)
	// DocumentChunkRecords returns the chunks of one document ordered by chunk index.
	DocumentChunkRecords(ctx context.Context, docID string) ([]*ChunkRecord, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)
	CountEmbeddedChunks(ctx context.Context) (int64, error)

	Close() error
}
