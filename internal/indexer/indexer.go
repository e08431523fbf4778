package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyContent is returned when a document has no text after preprocessing.
	ErrEmptyContent = errors.New("document content is empty")
	// ErrDocumentExists is returned when creating a document with an ID already in use.
	ErrDocumentExists = errors.New("document already exists")
)

// Queue receives index maintenance requests. *worker.Worker implements it.
type Queue interface {
	EnqueueAddChunks(documentID string)
	EnqueueRebuild()
}

// Indexer stores documents with their embedded chunks and schedules the
// matching index update.
type Indexer struct {
	storage     storage.Storage
	embedder    embedding.Embedder
	queue       Queue
	chunker     *Chunker
	extractor   *extract.Extractor
	concurrency int
	batchSize   int
	logger      *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file indexed, document deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithEmbeddingLimits bounds the number of concurrent embedding requests and
// the number of chunks sent per request.
func WithEmbeddingLimits(concurrency, batchSize int) IndexerOption {
	return func(idx *Indexer) {
		if concurrency > 0 {
			idx.concurrency = concurrency
		}
		if batchSize > 0 {
			idx.batchSize = batchSize
		}
	}
}

// NewIndexer creates an indexer. queue may be nil, in which case the caller
// is responsible for rebuilding the index. extractor may be nil; IndexFile
// then treats every file as plain text.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	queue Queue,
	cfg *config.SearchConfig,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:     store,
		embedder:    embedder,
		queue:       queue,
		chunker:     NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		extractor:   extractor,
		concurrency: 5,
		batchSize:   16,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// CreateDocument chunks and embeds input, stores the document with its chunks
// and enqueues an incremental index update. Nothing is stored when embedding
// fails.
func (idx *Indexer) CreateDocument(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	content := Preprocess(input.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	} else if _, err := idx.storage.GetDocument(ctx, input.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDocumentExists, input.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup document: %w", err)
	}
	doc := &models.Document{
		ID:       input.ID,
		Title:    strings.TrimSpace(input.Title),
		Content:  content,
		Metadata: input.Metadata,
	}
	chunks := idx.chunker.Chunk(doc.ID, doc.Content)
	if err := idx.embedChunks(ctx, chunks); err != nil {
		return nil, err
	}

	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := idx.storage.BatchCreateChunks(ctx, chunks); err != nil {
		if delErr := idx.storage.DeleteDocument(ctx, doc.ID); delErr != nil {
			idx.logger.Warn("failed to roll back document", zap.String("id", doc.ID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	idx.logger.Debug("indexer document created",
		zap.String("id", doc.ID), zap.Int("chunks", len(chunks)))
	if idx.queue != nil {
		idx.queue.EnqueueAddChunks(doc.ID)
	}
	return doc, nil
}

// UpdateDocument applies a partial update. A content change re-chunks and
// re-embeds the document; any change to title or content schedules a full
// rebuild since existing vectors cannot be removed in place.
func (idx *Indexer) UpdateDocument(ctx context.Context, id string, upd *models.DocumentUpdate) (*models.Document, error) {
	doc, err := idx.storage.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	changed := false
	if upd.Title != nil {
		if title := strings.TrimSpace(*upd.Title); title != doc.Title {
			doc.Title = title
			changed = true
		}
	}
	if upd.Metadata != nil {
		doc.Metadata = upd.Metadata
	}

	var chunks []*models.DocumentChunk
	if upd.Content != nil {
		content := Preprocess(*upd.Content)
		if content == "" {
			return nil, ErrEmptyContent
		}
		if content != doc.Content {
			doc.Content = content
			chunks = idx.chunker.Chunk(doc.ID, content)
			if err := idx.embedChunks(ctx, chunks); err != nil {
				return nil, err
			}
			changed = true
		}
	}

	if err := idx.storage.UpdateDocumentChunks(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	idx.logger.Debug("indexer document updated",
		zap.String("id", doc.ID), zap.Bool("reindex", changed))
	if changed && idx.queue != nil {
		idx.queue.EnqueueRebuild()
	}
	return doc, nil
}

// DeleteDocument removes a document and its chunks and schedules a rebuild.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.logger.Debug("indexer deleting document", zap.String("id", id))
	if err := idx.storage.DeleteChunksByDocumentID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if idx.queue != nil {
		idx.queue.EnqueueRebuild()
	}
	return nil
}

// embedChunks fills in the Embedding of every chunk. Batches are embedded
// concurrently, at most idx.concurrency at a time.
func (idx *Indexer) embedChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.concurrency)
	for start := 0; start < len(chunks); start += idx.batchSize {
		batch := chunks[start:min(start+idx.batchSize, len(chunks))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, ch := range batch {
				texts[i] = ch.Content
			}
			vecs, err := idx.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("failed to generate embeddings: got %d vectors for %d chunks", len(vecs), len(batch))
			}
			for i, ch := range batch {
				ch.Embedding = vecs[i]
			}
			return nil
		})
	}
	return g.Wait()
}
