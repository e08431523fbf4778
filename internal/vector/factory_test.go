package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestNewBackend(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{name: "", want: BackendNative},
		{name: "native", want: BackendNative},
		{name: "unknown", wantErr: true},
	}
	for _, tt := range tests {
		b, err := NewBackend(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewBackend(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewBackend(%q): %v", tt.name, err)
		}
		if b.Name() != tt.want {
			t.Errorf("NewBackend(%q).Name()=%q, want %q", tt.name, b.Name(), tt.want)
		}
	}
}

func TestNewBackend_FAISS(t *testing.T) {
	b, err := NewBackend("faiss")
	if IsFAISSAvailable() {
		if err != nil {
			t.Fatalf("NewBackend(faiss): %v", err)
		}
		if b.Name() != BackendFAISS {
			t.Errorf("Name=%q", b.Name())
		}
		return
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("err=%v, want ErrBackendUnavailable", err)
	}
}

func TestNativeBackend_WriteReadFile(t *testing.T) {
	ctx := context.Background()
	b := NativeBackend{}
	idx, err := b.NewIVF(2, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	vecs := [][]float32{{1, 0}, {0.9, 0.1}, {0, 1}, {0.1, 0.9}}
	if err := idx.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, vecs); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "rag.index")
	if err := b.WriteFile(idx, path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := b.ReadFile(path, 2, 2)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Kind() != KindIVF || got.Size() != 4 {
		t.Errorf("kind=%s size=%d", got.Kind(), got.Size())
	}
	if ivf := got.(*IVFIndex); ivf.NProbe() != 2 {
		t.Errorf("NProbe=%d, want 2", ivf.NProbe())
	}
	if _, err := b.ReadFile(path, 3, 0); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("dimension mismatch err=%v", err)
	}
}
