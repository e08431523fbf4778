package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/extract"
	"github.com/hyperjump/ragindex/internal/index"
	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/llm"
	"github.com/hyperjump/ragindex/internal/search"
	"github.com/hyperjump/ragindex/internal/snapshot"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/vector"
	"github.com/hyperjump/ragindex/internal/worker"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Embedder embedding.Embedder
	Index    *index.Manager
	Worker   *worker.Worker // nil unless started with a background worker
	Engine   *search.Engine
	Indexer  *indexer.Indexer
}

// Close stops the worker and releases every resource.
func (c *Components) Close() {
	if c.Worker != nil {
		c.Worker.Stop()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// initializeComponents wires storage, embedding, the index manager and the
// engines. With background set, index updates go through a worker started on
// ctx; otherwise the indexer leaves the index alone and callers rebuild.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, background bool) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: store}

	embedder, err := embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		ModelPath:  cfg.Embedding.ModelPath,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	backend, err := vector.NewBackend(cfg.Index.Backend)
	if err != nil {
		logger.Warn("vector backend unavailable, retrieval will scan storage",
			zap.String("backend", cfg.Index.Backend), zap.Error(err))
		backend = nil
	} else {
		logger.Info("vector backend initialized",
			zap.String("backend", backend.Name()),
			zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	}
	snap := snapshot.New(cfg.Storage.IndexDir, backend, cfg.Embedding.Dimensions, cfg.Index.NProbe,
		snapshot.WithLogger(logger))
	c.Index = index.NewManager(index.Config{
		Dimensions:       cfg.Embedding.Dimensions,
		NList:            cfg.Index.NList,
		NProbe:           cfg.Index.NProbe,
		MinTrain:         cfg.Index.MinTrain,
		RebuildAfterAdds: cfg.Index.RebuildAfterAdds,
	}, storage.ChunkSource{Storage: store}, snap, backend, index.WithLogger(logger))

	var queue indexer.Queue
	if background {
		c.Worker = worker.New(c.Index, worker.WithLogger(logger))
		c.Worker.Start(ctx)
		queue = c.Worker
	}
	c.Indexer = indexer.NewIndexer(store, embedder, queue, &cfg.Search, extract.NewExtractor(),
		indexer.WithLogger(logger),
		indexer.WithEmbeddingLimits(cfg.Embedding.Concurrency, cfg.Embedding.BatchSize))
	c.Engine = search.NewEngine(store, embedder, c.Index, newAnswerer(cfg, logger), &cfg.Search,
		search.WithLogger(logger))
	return c, nil
}

// newAnswerer returns the configured answer generator. Without credentials
// it falls back to returning the retrieved passages.
func newAnswerer(cfg *config.Config, logger *zap.Logger) llm.Answerer {
	if cfg.LLM.Provider == "static" {
		return llm.StaticAnswerer{}
	}
	a, err := llm.NewOpenAIAnswerer(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if err != nil {
		logger.Warn("llm unavailable, answers will quote retrieved passages", zap.Error(err))
		return llm.StaticAnswerer{}
	}
	return a
}
