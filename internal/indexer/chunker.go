// Package indexer turns documents into embedded chunks and schedules index
// maintenance for them.
package indexer

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/ragindex/internal/models"
)

// Chunker splits text into overlapping character windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker producing windows of size characters where
// consecutive windows share overlap characters. Overlap is clamped to
// [0, size-1]; a non-positive size disables splitting.
func NewChunker(size, overlap int) *Chunker {
	if size > 0 {
		overlap = min(max(0, overlap), size-1)
	} else {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split returns the trimmed, non-blank windows of text.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.size <= 0 {
		return []string{strings.TrimSpace(text)}
	}
	runes := []rune(text)
	step := c.size - c.overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Chunk splits text into DocumentChunks of docID numbered from zero.
func (c *Chunker) Chunk(docID, text string) []*models.DocumentChunk {
	parts := c.Split(text)
	if len(parts) == 0 {
		return nil
	}
	chunks := make([]*models.DocumentChunk, len(parts))
	for i, p := range parts {
		chunks[i] = &models.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Content:    p,
			ChunkIndex: i,
		}
	}
	return chunks
}
