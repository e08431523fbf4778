package vector

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
)

func TestFlatIndex_Search(t *testing.T) {
	ctx := context.Background()
	idx, err := NewFlatIndex(4)
	if err != nil {
		t.Fatal(err)
	}
	vecs := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	if err := idx.Add(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Fatalf("Size=%d, want 3", idx.Size())
	}
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Row != 0 || math.Abs(hits[0].Score-1) > 1e-6 {
		t.Errorf("hits=%+v", hits)
	}
	hits, _ = idx.Search(ctx, []float32{1, 0, 0, 0}, 10)
	if len(hits) != 3 {
		t.Errorf("len(hits)=%d, want 3", len(hits))
	}
}

func TestFlatIndex_TiesByRow(t *testing.T) {
	ctx := context.Background()
	idx, _ := NewFlatIndex(2)
	_ = idx.Add(ctx, [][]float32{{0, 1}, {1, 0}, {1, 0}, {1, 0}})
	hits, _ := idx.Search(ctx, []float32{1, 0}, 3)
	for i, want := range []int{1, 2, 3} {
		if hits[i].Row != want {
			t.Errorf("hits[%d].Row=%d, want %d", i, hits[i].Row, want)
		}
	}
}

func TestFlatIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx, _ := NewFlatIndex(3)
	err := idx.Add(ctx, [][]float32{{1, 0, 0}, {1, 0}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Add err=%v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("partial add: Size=%d", idx.Size())
	}
	if _, err := idx.Search(ctx, []float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search err=%v", err)
	}
}

func clusteredVectors() [][]float32 {
	var vecs [][]float32
	for i := 0; i < 20; i++ {
		e := float32(i) * 0.01
		vecs = append(vecs,
			Normalized([]float32{1, e, 0, 0}),
			Normalized([]float32{0, 1, e, 0}),
			Normalized([]float32{0, 0, 1, e}),
		)
	}
	return vecs
}

func TestIVFIndex_TrainAddSearch(t *testing.T) {
	ctx := context.Background()
	idx, err := NewIVFIndex(4, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, [][]float32{{1, 0, 0, 0}}); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("Add before Train err=%v", err)
	}
	vecs := clusteredVectors()
	if err := idx.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if !idx.IsTrained() {
		t.Fatal("expected trained")
	}
	if err := idx.Add(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != len(vecs) {
		t.Fatalf("Size=%d, want %d", idx.Size(), len(vecs))
	}
	hits, err := idx.Search(ctx, []float32{0, 0, 1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 5 {
		t.Fatalf("len(hits)=%d", len(hits))
	}
	if hits[0].Row != 2 || math.Abs(hits[0].Score-1) > 1e-6 {
		t.Errorf("best hit=%+v, want row 2 score 1", hits[0])
	}
	for _, h := range hits {
		if h.Row%3 != 2 {
			t.Errorf("hit from wrong cluster: %+v", h)
		}
	}
}

func TestIVFIndex_TrainTooFew(t *testing.T) {
	idx, _ := NewIVFIndex(2, 4, 1)
	if err := idx.Train(context.Background(), [][]float32{{1, 0}, {0, 1}}); err == nil {
		t.Error("expected error training with fewer vectors than nlist")
	}
}

func TestIVFIndex_ProbeAllMatchesFlat(t *testing.T) {
	ctx := context.Background()
	vecs := clusteredVectors()
	ivf, _ := NewIVFIndex(4, 3, 3)
	_ = ivf.Train(ctx, vecs)
	_ = ivf.Add(ctx, vecs)
	flat, _ := NewFlatIndex(4)
	_ = flat.Add(ctx, vecs)

	q := Normalized([]float32{0.5, 0.5, 0.1, 0})
	a, _ := ivf.Search(ctx, q, 10)
	b, _ := flat.Search(ctx, q, 10)
	for i := range b {
		if a[i].Row != b[i].Row {
			t.Fatalf("rank %d: ivf row %d, flat row %d", i, a[i].Row, b[i].Row)
		}
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	ctx := context.Background()
	vecs := clusteredVectors()
	ivf, _ := NewIVFIndex(4, 3, 2)
	_ = ivf.Train(ctx, vecs)
	_ = ivf.Add(ctx, vecs)
	flat, _ := NewFlatIndex(4)
	_ = flat.Add(ctx, vecs)

	q := Normalized([]float32{0, 1, 0.3, 0})
	for _, idx := range []Index{flat, ivf} {
		var buf bytes.Buffer
		if err := Encode(&buf, idx); err != nil {
			t.Fatalf("%s Encode: %v", idx.Kind(), err)
		}
		got, err := Decode(&buf, 4)
		if err != nil {
			t.Fatalf("%s Decode: %v", idx.Kind(), err)
		}
		if got.Kind() != idx.Kind() || got.Size() != idx.Size() {
			t.Errorf("%s: kind=%s size=%d", idx.Kind(), got.Kind(), got.Size())
		}
		want, _ := idx.Search(ctx, q, 5)
		have, _ := got.Search(ctx, q, 5)
		for i := range want {
			if want[i] != have[i] {
				t.Errorf("%s rank %d: %+v != %+v", idx.Kind(), i, have[i], want[i])
			}
		}
	}
}

func TestCodec_Corrupt(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	_ = idx.Add(context.Background(), [][]float32{{1, 0}, {0, 1}})
	var buf bytes.Buffer
	if err := Encode(&buf, idx); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"truncated", good[:len(good)-3]},
		{"trailing bytes", append(append([]byte{}, good...), 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		if _, err := Decode(bytes.NewReader(tt.data), 2); !errors.Is(err, ErrCorruptIndex) {
			t.Errorf("%s: err=%v, want ErrCorruptIndex", tt.name, err)
		}
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(L2Norm(v)-1) > 1e-6 {
		t.Errorf("norm=%f", L2Norm(v))
	}
	z := []float32{0, 0}
	NormalizeL2(z)
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("zero vector changed: %v", z)
	}
	if s := CosineSimilarity([]float32{1, 1}, []float32{2, 2}); math.Abs(s-1) > 1e-6 {
		t.Errorf("cosine=%f", s)
	}
}
