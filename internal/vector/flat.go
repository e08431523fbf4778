package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// FlatIndex is an exact inner-product index using brute-force scan.
// Ties are broken by row order, so results are deterministic.
type FlatIndex struct {
	dimensions int
	data       []float32 // row-major, len = rows * dimensions
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

// Kind returns KindFlat.
func (f *FlatIndex) Kind() Kind { return KindFlat }

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int { return f.dimensions }

// IsTrained is always true for a flat index.
func (f *FlatIndex) IsTrained() bool { return true }

// Train is a no-op.
func (f *FlatIndex) Train(ctx context.Context, vectors [][]float32) error { return nil }

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.data) / f.dimensions
}

// Add appends vectors. Either all vectors are added or none.
func (f *FlatIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := checkDimensions(vectors, f.dimensions); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search returns the top-k rows by inner product.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	rows := len(f.data) / f.dimensions
	if k <= 0 || rows == 0 {
		return nil, nil
	}
	hits := make([]Hit, rows)
	for r := 0; r < rows; r++ {
		hits[r] = Hit{Row: r, Score: InnerProduct(query, f.row(r))}
	}
	return topK(hits, k), nil
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error { return nil }

func (f *FlatIndex) row(r int) []float32 {
	return f.data[r*f.dimensions : (r+1)*f.dimensions]
}

// topK sorts hits by score descending, then row ascending, and keeps the first k.
func topK(hits []Hit, k int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func checkDimensions(vectors [][]float32, dimensions int) error {
	for i, v := range vectors {
		if len(v) != dimensions {
			return fmt.Errorf("%w: vector %d has %d, index expects %d", ErrDimensionMismatch, i, len(v), dimensions)
		}
	}
	return nil
}
