// Package vector provides positional vector indices for inner-product similarity search.
package vector

import (
	"context"
	"errors"
)

// Kind identifies the structure of an index.
type Kind string

const (
	// KindFlat is an exact brute-force inner-product index.
	KindFlat Kind = "flat"
	// KindIVF is an inverted-file index: vectors are partitioned into coarse
	// clusters and only the nprobe closest clusters are scanned per query.
	KindIVF Kind = "ivf"
)

var (
	// ErrBackendUnavailable is returned when the requested index backend is not compiled in.
	ErrBackendUnavailable = errors.New("vector index backend not available")
	// ErrDimensionMismatch is returned when a vector does not have the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotTrained is returned when adding to an ivf index before Train.
	ErrNotTrained = errors.New("vector index is not trained")
)

// Index is a vector index addressed by row position. Row i is the i-th vector
// ever added; rows are never reordered or removed.
type Index interface {
	Kind() Kind
	Dimensions() int
	// Size returns the number of vectors (ntotal).
	Size() int
	IsTrained() bool
	// Train fits the coarse quantizer. It is a no-op for flat indices.
	Train(ctx context.Context, vectors [][]float32) error
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns up to k hits ordered by score, best first.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Close() error
}

// Hit is a single search hit: the row position and its inner-product score.
type Hit struct {
	Row   int
	Score float64
}
