//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/IndexIVF_c.h>
#include <faiss/c_api/index_factory_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"
)

type faissBackend struct{}

func newFAISSBackend() (Backend, error) {
	return faissBackend{}, nil
}

func (faissBackend) Name() string { return BackendFAISS }

func (faissBackend) NewFlat(dimensions int) (Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var idx *C.FaissIndexFlatIP
	if C.faiss_IndexFlatIP_new_with(&idx, C.idx_t(dimensions)) != 0 {
		return nil, fmt.Errorf("create FAISS flat index: %s", faissLastError())
	}
	return &FAISSIndex{index: (*C.FaissIndex)(idx), dimensions: dimensions, kind: KindFlat}, nil
}

func (faissBackend) NewIVF(dimensions, nlist, nprobe int) (Index, error) {
	if dimensions <= 0 || nlist <= 0 {
		return nil, fmt.Errorf("dimensions and nlist must be positive")
	}
	desc := C.CString(fmt.Sprintf("IVF%d,Flat", nlist))
	defer C.free(unsafe.Pointer(desc))
	var idx *C.FaissIndex
	if C.faiss_index_factory(&idx, C.int(dimensions), desc, C.METRIC_INNER_PRODUCT) != 0 {
		return nil, fmt.Errorf("create FAISS ivf index: %s", faissLastError())
	}
	f := &FAISSIndex{index: idx, dimensions: dimensions, kind: KindIVF}
	f.setNProbe(nprobe)
	return f, nil
}

func (faissBackend) WriteFile(idx Index, path string) error {
	f, ok := idx.(*FAISSIndex)
	if !ok {
		return fmt.Errorf("cannot write index of type %T with FAISS", idx)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if C.faiss_write_index_fname(f.index, cPath) != 0 {
		return fmt.Errorf("write FAISS index: %s", faissLastError())
	}
	return nil
}

func (faissBackend) ReadFile(path string, dimensions, nprobe int) (Index, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	var idx *C.FaissIndex
	if C.faiss_read_index_fname(cPath, 0, &idx) != 0 {
		return nil, fmt.Errorf("%w: %s", ErrCorruptIndex, faissLastError())
	}
	dim := int(C.faiss_Index_d(idx))
	if dimensions > 0 && dim != dimensions {
		C.faiss_Index_free(idx)
		return nil, fmt.Errorf("%w: file has %d, expected %d", ErrDimensionMismatch, dim, dimensions)
	}
	f := &FAISSIndex{index: idx, dimensions: dim, kind: KindFlat}
	if C.faiss_IndexIVF_cast(idx) != nil {
		f.kind = KindIVF
		f.setNProbe(nprobe)
	}
	return f, nil
}

// FAISSIndex wraps a FAISS index using inner-product metric.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	kind       Kind
	mu         sync.RWMutex
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func (f *FAISSIndex) setNProbe(nprobe int) {
	if nprobe <= 0 {
		return
	}
	if ivf := C.faiss_IndexIVF_cast(f.index); ivf != nil {
		C.faiss_IndexIVF_set_nprobe(ivf, C.size_t(nprobe))
	}
}

func (f *FAISSIndex) Kind() Kind      { return f.kind }
func (f *FAISSIndex) Dimensions() int { return f.dimensions }

func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(C.faiss_Index_ntotal(f.index))
}

func (f *FAISSIndex) IsTrained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return C.faiss_Index_is_trained(f.index) != 0
}

func (f *FAISSIndex) Train(ctx context.Context, vectors [][]float32) error {
	flat, err := flatten(vectors, f.dimensions)
	if err != nil || len(flat) == 0 {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if C.faiss_Index_train(f.index, C.idx_t(len(vectors)), (*C.float)(unsafe.Pointer(&flat[0]))) != 0 {
		return fmt.Errorf("train FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *FAISSIndex) Add(ctx context.Context, vectors [][]float32) error {
	flat, err := flatten(vectors, f.dimensions)
	if err != nil || len(flat) == 0 {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if C.faiss_Index_is_trained(f.index) == 0 {
		return ErrNotTrained
	}
	if C.faiss_Index_add(f.index, C.idx_t(len(vectors)), (*C.float)(unsafe.Pointer(&flat[0]))) != 0 {
		return fmt.Errorf("add to FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: query has %d, index expects %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if k <= 0 || ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}
	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	hits := make([]Hit, 0, k)
	for i, label := range labels {
		if label < 0 {
			continue
		}
		hits = append(hits, Hit{Row: int(label), Score: float64(distances[i])})
	}
	return hits, nil
}

func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

func flatten(vectors [][]float32, dimensions int) ([]float32, error) {
	if err := checkDimensions(vectors, dimensions); err != nil {
		return nil, err
	}
	out := make([]float32, 0, len(vectors)*dimensions)
	for _, v := range vectors {
		out = append(out, v...)
	}
	return out, nil
}
