// Package embedding provides text embedding providers and a query cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when an embedding provider cannot serve a request:
// missing credentials, unreachable API, or a runtime that is not compiled in.
var ErrUnavailable = errors.New("embedding service unavailable")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Options selects and configures a provider.
type Options struct {
	Provider   string
	Dimensions int

	// openai
	APIKey  string
	BaseURL string
	Model   string

	// onnx
	ModelPath string
	MaxTokens int

	// CacheSize wraps the provider in a Cached embedder when positive.
	CacheSize int
}

// New creates the embedder described by opts.
func New(opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch opts.Provider {
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(opts.APIKey, opts.BaseURL, opts.Model, opts.Dimensions)
	case ProviderONNX, "":
		e, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
	case ProviderMock:
		e = NewMockEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, onnx, mock)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.CacheSize > 0 {
		e = NewCached(e, opts.CacheSize)
	}
	return e, nil
}
