// Package search answers retrieval and question requests on top of the
// vector index, falling back to a scan of the store when no index is ready.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/index"
	"github.com/hyperjump/ragindex/internal/llm"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/vector"
	"go.uber.org/zap"
)

// NoMatchAnswer is returned by Ask when retrieval finds nothing.
const NoMatchAnswer = "No relevant documents found."

// Retrieval modes reported in responses.
const (
	ModeIndex = "index"
	ModeScan  = "scan"
)

// ErrInvalidQuery wraps query validation failures.
var ErrInvalidQuery = errors.New("invalid query")

// Index is the part of *index.Manager the engine needs.
type Index interface {
	EnsureIndex(ctx context.Context) bool
	Search(ctx context.Context, query []float32, k int) []index.Result
}

// Engine runs retrieval and question answering.
type Engine struct {
	storage  storage.Storage
	embedder embedding.Embedder
	index    Index
	answerer llm.Answerer
	config   *config.SearchConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine. answerer may be nil when only retrieval
// is served; Ask then returns llm.ErrUnavailable.
func NewEngine(
	store storage.Storage,
	embedder embedding.Embedder,
	idx Index,
	answerer llm.Answerer,
	cfg *config.SearchConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		storage:  store,
		embedder: embedder,
		index:    idx,
		answerer: answerer,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns the TopK chunks most similar to the query together with
// their per-document aggregation.
func (e *Engine) Retrieve(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(e.config.DefaultTopK); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	vec, err := e.embedder.Embed(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	var (
		hits []scored
		mode = ModeIndex
	)
	if e.index != nil && e.index.EnsureIndex(ctx) {
		for _, r := range e.index.Search(ctx, vec, query.TopK) {
			hits = append(hits, scored{info: r.Info, score: r.Score})
		}
	} else {
		mode = ModeScan
		hits, err = e.scan(ctx, vec, query.TopK)
		if err != nil {
			return nil, err
		}
	}

	results := make([]*models.ChunkResult, 0, len(hits))
	for _, h := range hits {
		if e.config.MinScore > 0 && h.score < e.config.MinScore {
			continue
		}
		results = append(results, &models.ChunkResult{ChunkInfo: h.info, Score: h.score, Rank: len(results) + 1})
	}
	docs := AggregateByDocument(results)
	resp := &models.SearchResponse{
		Query:     query.Query,
		Results:   results,
		Total:     len(results),
		Documents: docs,
		Mode:      mode,
		QueryTime: time.Since(start).Milliseconds(),
	}
	if len(docs) > 0 {
		resp.BestDocument = docs[0]
	}
	e.logger.Debug("retrieval finished",
		zap.String("mode", mode),
		zap.Int("results", len(results)),
		zap.Int64("ms", resp.QueryTime))
	return resp, nil
}

// scan compares the query with every stored embedding. It serves queries
// while the index is being built or when no backend is available.
func (e *Engine) scan(ctx context.Context, query []float32, k int) ([]scored, error) {
	records, err := e.storage.AllChunkRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	q := vector.Normalized(query)
	items := make([]scored, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != len(q) {
			continue
		}
		items = append(items, scored{
			info: models.ChunkInfo{
				ChunkID:       r.ID,
				DocumentID:    r.DocumentID,
				ChunkIndex:    r.ChunkIndex,
				DocumentTitle: r.DocumentTitle,
				Content:       r.Content,
			},
			score: vector.CosineSimilarity(q, r.Embedding),
		})
	}
	return topScored(items, k), nil
}

// Ask retrieves context for the question and asks the answerer. When nothing
// is retrieved the answer is NoMatchAnswer and no model is called.
func (e *Engine) Ask(ctx context.Context, query *models.SearchQuery) (*models.AskResponse, error) {
	start := time.Now()
	retrieved, err := e.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	resp := &models.AskResponse{
		Query:        retrieved.Query,
		Sources:      retrieved.Results,
		BestDocument: retrieved.BestDocument,
		Mode:         retrieved.Mode,
	}
	if len(retrieved.Results) == 0 {
		resp.Answer = NoMatchAnswer
		resp.QueryTime = time.Since(start).Milliseconds()
		return resp, nil
	}
	if e.answerer == nil {
		return nil, llm.ErrUnavailable
	}
	answer, err := e.answerer.Answer(ctx, retrieved.Query, BuildContext(retrieved.Results))
	if err != nil {
		return nil, err
	}
	resp.Answer = strings.TrimSpace(answer)
	resp.QueryTime = time.Since(start).Milliseconds()
	return resp, nil
}

// BuildContext formats retrieved chunks as numbered passages, best first.
func BuildContext(results []*models.ChunkResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + strconv.Itoa(i+1) + "]")
		if r.DocumentTitle != "" {
			b.WriteString(" " + r.DocumentTitle)
		}
		b.WriteByte('\n')
		b.WriteString(r.Content)
	}
	return b.String()
}
