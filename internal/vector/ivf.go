package vector

import (
	"context"
	"fmt"
	"sync"
)

const kmeansIterations = 25

// IVFIndex is an inverted-file index over inner-product similarity. Vectors are
// assigned to the closest of nlist centroids; queries scan the nprobe closest lists.
type IVFIndex struct {
	dimensions int
	nlist      int
	nprobe     int

	centroids []float32 // nlist * dimensions, unit length
	trained   bool

	data   []float32 // row-major
	assign []int32   // list of each row
	lists  [][]int   // rows per list, ascending

	mu sync.RWMutex
}

// NewIVFIndex creates an untrained IVF index.
func NewIVFIndex(dimensions, nlist, nprobe int) (*IVFIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if nlist <= 0 {
		return nil, fmt.Errorf("nlist must be positive")
	}
	if nprobe <= 0 {
		nprobe = 1
	}
	return &IVFIndex{
		dimensions: dimensions,
		nlist:      nlist,
		nprobe:     nprobe,
		lists:      make([][]int, nlist),
	}, nil
}

// Kind returns KindIVF.
func (v *IVFIndex) Kind() Kind { return KindIVF }

// Dimensions returns the vector dimension.
func (v *IVFIndex) Dimensions() int { return v.dimensions }

// NList returns the number of coarse clusters.
func (v *IVFIndex) NList() int { return v.nlist }

// NProbe returns the number of lists scanned per query.
func (v *IVFIndex) NProbe() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.nprobe
}

// SetNProbe changes the number of lists scanned per query.
func (v *IVFIndex) SetNProbe(nprobe int) {
	if nprobe <= 0 {
		nprobe = 1
	}
	v.mu.Lock()
	v.nprobe = nprobe
	v.mu.Unlock()
}

// IsTrained reports whether the centroids have been fitted.
func (v *IVFIndex) IsTrained() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.trained
}

// Size returns the number of vectors in the index.
func (v *IVFIndex) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.assign)
}

// Train fits nlist centroids with spherical k-means. At least nlist training
// vectors are required. Initialization is deterministic.
func (v *IVFIndex) Train(ctx context.Context, vectors [][]float32) error {
	if err := checkDimensions(vectors, v.dimensions); err != nil {
		return err
	}
	n := len(vectors)
	if n < v.nlist {
		return fmt.Errorf("ivf training needs at least %d vectors, got %d", v.nlist, n)
	}
	dim := v.dimensions
	centroids := make([]float32, v.nlist*dim)
	for c := 0; c < v.nlist; c++ {
		copy(centroids[c*dim:(c+1)*dim], Normalized(vectors[c*n/v.nlist]))
	}

	assign := make([]int, n)
	best := make([]float64, n)
	sums := make([]float64, v.nlist*dim)
	counts := make([]int, v.nlist)
	for iter := 0; iter < kmeansIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed := false
		for i, vec := range vectors {
			c, s := nearest(centroids, dim, vec)
			if iter == 0 || c != assign[i] {
				changed = true
			}
			assign[i], best[i] = c, s
		}
		if !changed {
			break
		}
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}
		for i, vec := range vectors {
			c := assign[i]
			counts[c]++
			base := c * dim
			for d, x := range vec {
				sums[base+d] += float64(x)
			}
		}
		used := make(map[int]bool)
		for c := 0; c < v.nlist; c++ {
			cen := centroids[c*dim : (c+1)*dim]
			if counts[c] == 0 {
				// reseed with the worst-fitting vector not already used as a seed
				worst := -1
				for i := range vectors {
					if used[i] {
						continue
					}
					if worst < 0 || best[i] < best[worst] {
						worst = i
					}
				}
				if worst >= 0 {
					used[worst] = true
					copy(cen, Normalized(vectors[worst]))
				}
				continue
			}
			for d := range cen {
				cen[d] = float32(sums[c*dim+d] / float64(counts[c]))
			}
			NormalizeL2(cen)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.centroids = centroids
	v.trained = true
	v.reassignLocked()
	return nil
}

// Add appends vectors to their closest lists. The index must be trained.
func (v *IVFIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := checkDimensions(vectors, v.dimensions); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.trained {
		return ErrNotTrained
	}
	for _, vec := range vectors {
		c, _ := nearest(v.centroids, v.dimensions, vec)
		row := len(v.assign)
		v.data = append(v.data, vec...)
		v.assign = append(v.assign, int32(c))
		v.lists[c] = append(v.lists[c], row)
	}
	return nil
}

// Search scans the nprobe lists closest to the query.
func (v *IVFIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != v.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), v.dimensions)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.trained || k <= 0 || len(v.assign) == 0 {
		return nil, nil
	}
	dim := v.dimensions
	probes := make([]Hit, v.nlist)
	for c := 0; c < v.nlist; c++ {
		probes[c] = Hit{Row: c, Score: InnerProduct(query, v.centroids[c*dim:(c+1)*dim])}
	}
	probes = topK(probes, v.nprobe)

	var hits []Hit
	for _, p := range probes {
		for _, row := range v.lists[p.Row] {
			hits = append(hits, Hit{Row: row, Score: InnerProduct(query, v.data[row*dim:(row+1)*dim])})
		}
	}
	return topK(hits, k), nil
}

// Close is a no-op for IVFIndex.
func (v *IVFIndex) Close() error { return nil }

// reassignLocked rebuilds the inverted lists from the stored rows.
func (v *IVFIndex) reassignLocked() {
	v.lists = make([][]int, v.nlist)
	for row := range v.assign {
		vec := v.data[row*v.dimensions : (row+1)*v.dimensions]
		c, _ := nearest(v.centroids, v.dimensions, vec)
		v.assign[row] = int32(c)
		v.lists[c] = append(v.lists[c], row)
	}
}

// nearest returns the centroid with the highest inner product to vec.
func nearest(centroids []float32, dim int, vec []float32) (int, float64) {
	best, bestScore := 0, 0.0
	for c := 0; c*dim < len(centroids); c++ {
		s := InnerProduct(vec, centroids[c*dim:(c+1)*dim])
		if c == 0 || s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}
