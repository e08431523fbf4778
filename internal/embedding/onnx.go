//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/ragindex/internal/vector"
	ort "github.com/yalue/onnxruntime_go"
)

// Input and output names of sentence-transformers models exported to ONNX.
var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// onnxTensors are the session buffers. Inputs are refilled before every run;
// the output is read back after it.
type onnxTensors struct {
	inputs []*ort.Tensor[int64]
	output *ort.Tensor[float32]
}

func newONNXTensors(maxTokens, dimensions int) (*onnxTensors, error) {
	t := &onnxTensors{}
	shape := ort.NewShape(1, int64(maxTokens))
	for _, name := range onnxInputNames {
		in, err := ort.NewTensor(shape, make([]int64, maxTokens))
		if err != nil {
			t.destroy()
			return nil, fmt.Errorf("create %s tensor: %w", name, err)
		}
		t.inputs = append(t.inputs, in)
	}
	out, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		t.destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	t.output = out
	return t, nil
}

func (t *onnxTensors) session(modelPath string) (*ort.AdvancedSession, error) {
	inputs := make([]ort.ArbitraryTensor, len(t.inputs))
	for i, in := range t.inputs {
		inputs[i] = in
	}
	return ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		inputs, []ort.ArbitraryTensor{t.output}, nil)
}

// fill copies one token sequence per input, in onnxInputNames order.
func (t *onnxTensors) fill(seqs ...[]int64) {
	for i, seq := range seqs {
		copy(t.inputs[i].GetData(), seq)
	}
}

func (t *onnxTensors) destroy() {
	for _, in := range t.inputs {
		_ = in.Destroy()
	}
	t.inputs = nil
	if t.output != nil {
		_ = t.output.Destroy()
		t.output = nil
	}
}

// ONNXEmbedder runs a local sentence-embedding model (MiniLM by default) with
// ONNX Runtime. It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tensors    *onnxTensors
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder creates an ONNX embedder for the model at modelPath.
// Runtime initialization failures are reported as ErrUnavailable.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: no ONNX model path configured", ErrUnavailable)
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: initialize ONNX runtime: %v", ErrUnavailable, err)
		}
	}

	tensors, err := newONNXTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := tensors.session(modelPath)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("%w: create ONNX session: %v", ErrUnavailable, err)
	}
	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the unit-length embedding for text. Runs are serialized since
// the session buffers are shared.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: ONNX embedder closed", ErrUnavailable)
	}

	e.tensors.fill(e.tokenizer.Tokenize(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return vector.Normalized(e.tensors.output.GetData()[:e.dimensions]), nil
}

// EmbedBatch embeds texts one run at a time, stopping at the first error.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, nil
}

func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close releases the session and its buffers.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.tensors != nil {
		e.tensors.destroy()
		e.tensors = nil
	}
	return err
}
