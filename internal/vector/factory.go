package vector

import "fmt"

const (
	// BackendNative is the pure-Go implementation. Always available.
	BackendNative = "native"
	// BackendFAISS uses the FAISS C API. Requires building with -tags=faiss.
	BackendFAISS = "faiss"
)

// Backend creates, persists and restores indices of one implementation.
type Backend interface {
	Name() string
	NewFlat(dimensions int) (Index, error)
	NewIVF(dimensions, nlist, nprobe int) (Index, error)
	WriteFile(idx Index, path string) error
	// ReadFile restores an index. nprobe is applied to ivf indices after reading.
	ReadFile(path string, dimensions, nprobe int) (Index, error)
}

// NewBackend returns the backend with the given name ("" selects native).
func NewBackend(name string) (Backend, error) {
	switch name {
	case BackendNative, "":
		return NativeBackend{}, nil
	case BackendFAISS:
		return newFAISSBackend()
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: native, faiss)", name)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	_, err := newFAISSBackend()
	return err == nil
}

// NativeBackend builds FlatIndex and IVFIndex values.
type NativeBackend struct{}

// Name returns "native".
func (NativeBackend) Name() string { return BackendNative }

// NewFlat creates an empty FlatIndex.
func (NativeBackend) NewFlat(dimensions int) (Index, error) {
	return NewFlatIndex(dimensions)
}

// NewIVF creates an untrained IVFIndex.
func (NativeBackend) NewIVF(dimensions, nlist, nprobe int) (Index, error) {
	return NewIVFIndex(dimensions, nlist, nprobe)
}

// WriteFile encodes idx in the native format.
func (NativeBackend) WriteFile(idx Index, path string) error {
	return WriteIndexFile(idx, path)
}

// ReadFile decodes a native index file.
func (NativeBackend) ReadFile(path string, dimensions, nprobe int) (Index, error) {
	idx, err := ReadIndexFile(path, dimensions)
	if err != nil {
		return nil, err
	}
	if ivf, ok := idx.(*IVFIndex); ok && nprobe > 0 {
		ivf.SetNProbe(nprobe)
	}
	return idx, nil
}
