//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

func newFAISSBackend() (Backend, error) {
	return nil, ErrBackendUnavailable
}
