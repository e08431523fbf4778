// Package models defines core data structures for documents, chunks, queries and results.
package models

import "time"

// Document represents a stored document with metadata.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// DocumentChunk is a chunk of a document together with its embedding.
// A nil Embedding means the chunk has not been embedded.
type DocumentChunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Embedding  []float32 `json:"-" db:"embedding"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DocumentInput is the input for creating a document.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentUpdate is a partial update; nil fields are left unchanged.
type DocumentUpdate struct {
	Title    *string                `json:"title,omitempty"`
	Content  *string                `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ChunkInfo is the metadata kept alongside each indexed vector. The i-th
// ChunkInfo of an index describes the vector at row i.
type ChunkInfo struct {
	ChunkID       string `json:"chunk_id"`
	DocumentID    string `json:"document_id"`
	ChunkIndex    int    `json:"chunk_index"`
	DocumentTitle string `json:"document_title"`
	Content       string `json:"content"`
}
