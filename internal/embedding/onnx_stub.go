//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"
)

var errNoCGO = fmt.Errorf("%w: ONNX embedder requires CGO and onnxruntime", ErrUnavailable)

// ONNXEmbedder is unavailable without CGO; select the openai or mock provider instead.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails when built without CGO.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Dimensions() int { return 0 }

func (e *ONNXEmbedder) Close() error { return nil }
