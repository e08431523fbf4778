package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/vector"
)

func testIndex(t *testing.T, vecs [][]float32) vector.Index {
	t.Helper()
	idx, err := vector.NewFlatIndex(len(vecs[0]))
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(context.Background(), vecs); err != nil {
		t.Fatal(err)
	}
	return idx
}

func testInfos(n int) []models.ChunkInfo {
	infos := make([]models.ChunkInfo, n)
	for i := range infos {
		infos[i] = models.ChunkInfo{ChunkID: string(rune('a' + i)), DocumentID: "doc", ChunkIndex: i, DocumentTitle: "Doc"}
	}
	return infos
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, vector.NativeBackend{}, 2, 1)
	idx := testIndex(t, [][]float32{{1, 0}, {0, 1}})
	version, err := s.Save(idx, testInfos(2))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if version <= 0 {
		t.Errorf("version=%f", version)
	}
	if got := s.DiskVersion(); got != version {
		t.Errorf("DiskVersion=%f, want %f", got, version)
	}

	snap, err := New(dir, vector.NativeBackend{}, 2, 1).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Index.Size() != 2 || len(snap.Infos) != 2 || snap.Version != version {
		t.Errorf("snap size=%d infos=%d version=%f", snap.Index.Size(), len(snap.Infos), snap.Version)
	}
	if snap.Infos[1].ChunkIndex != 1 {
		t.Errorf("infos out of order: %+v", snap.Infos)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("expected 3 files, got %d", len(entries))
	}
}

func TestStore_VersionMonotonic(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Unix(1700000000, 0)
	s := New(dir, vector.NativeBackend{}, 2, 1, WithClock(func() time.Time { return fixed }))
	idx := testIndex(t, [][]float32{{1, 0}})

	var prev float64
	for i := 0; i < 3; i++ {
		v, err := s.Save(idx, testInfos(1))
		if err != nil {
			t.Fatal(err)
		}
		if v <= prev {
			t.Fatalf("save %d: version %f not greater than %f", i, v, prev)
		}
		prev = v
	}

	// A version written by another process in the future must also be exceeded.
	if err := os.WriteFile(s.VersionPath(), []byte("1800000000.000000"), 0644); err != nil {
		t.Fatal(err)
	}
	v, err := s.Save(idx, testInfos(1))
	if err != nil {
		t.Fatal(err)
	}
	if v <= 1800000000 {
		t.Errorf("version %f not greater than disk version", v)
	}
}

func TestStore_DiskVersion(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, vector.NativeBackend{}, 2, 1)
	if v := s.DiskVersion(); v != 0 {
		t.Errorf("missing version=%f, want 0", v)
	}
	tests := []struct {
		content string
		want    float64
	}{
		{"1700000000.5\n", 1700000000.5},
		{"garbage", 0},
		{"", 0},
		{"-3", 0},
	}
	for _, tt := range tests {
		if err := os.WriteFile(s.VersionPath(), []byte(tt.content), 0644); err != nil {
			t.Fatal(err)
		}
		if v := s.DiskVersion(); v != tt.want {
			t.Errorf("DiskVersion(%q)=%f, want %f", tt.content, v, tt.want)
		}
	}
}

func TestStore_LoadFailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
		want   error
	}{
		{"missing index", func(t *testing.T, dir string) {
			os.Remove(filepath.Join(dir, IndexFile))
		}, ErrNotFound},
		{"missing metadata", func(t *testing.T, dir string) {
			os.Remove(filepath.Join(dir, MetaFile))
		}, ErrNotFound},
		{"corrupt metadata", func(t *testing.T, dir string) {
			os.WriteFile(filepath.Join(dir, MetaFile), []byte("{not json"), 0644)
		}, ErrCorrupt},
		{"corrupt index", func(t *testing.T, dir string) {
			os.WriteFile(filepath.Join(dir, IndexFile), []byte("junk"), 0644)
		}, ErrCorrupt},
		{"count mismatch", func(t *testing.T, dir string) {
			os.WriteFile(filepath.Join(dir, MetaFile), []byte(`{"chunk_count":1,"chunk_infos":[{"chunk_id":"a"}]}`), 0644)
		}, ErrCorrupt},
		{"chunk_count disagrees with infos", func(t *testing.T, dir string) {
			os.WriteFile(filepath.Join(dir, MetaFile), []byte(`{"chunk_count":2,"chunk_infos":[{"chunk_id":"a"}]}`), 0644)
		}, ErrCorrupt},
		{"missing chunk_count", func(t *testing.T, dir string) {
			os.WriteFile(filepath.Join(dir, MetaFile), []byte(`{"chunk_infos":[]}`), 0644)
		}, ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := New(dir, vector.NativeBackend{}, 2, 1)
			if _, err := s.Save(testIndex(t, [][]float32{{1, 0}, {0, 1}}), testInfos(2)); err != nil {
				t.Fatal(err)
			}
			tt.mutate(t, dir)
			if _, err := s.Load(); !errors.Is(err, tt.want) {
				t.Errorf("Load err=%v, want %v", err, tt.want)
			}
		})
	}
}

func TestStore_LoadDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(dir, vector.NativeBackend{}, 2, 1).Save(testIndex(t, [][]float32{{1, 0}}), testInfos(1)); err != nil {
		t.Fatal(err)
	}
	_, err := New(dir, vector.NativeBackend{}, 3, 1).Load()
	if !errors.Is(err, ErrCorrupt) || !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Errorf("Load err=%v", err)
	}
}

func TestStore_SaveRejectsMismatch(t *testing.T) {
	s := New(t.TempDir(), vector.NativeBackend{}, 2, 1)
	if _, err := s.Save(testIndex(t, [][]float32{{1, 0}}), testInfos(2)); err == nil {
		t.Error("expected error when infos and index disagree")
	}
}

// publishingBackend publishes a new snapshot through writer right after the
// first index read, as a concurrent process would.
type publishingBackend struct {
	vector.NativeBackend
	publish func()
}

func (b *publishingBackend) ReadFile(path string, dimensions, nprobe int) (vector.Index, error) {
	idx, err := b.NativeBackend.ReadFile(path, dimensions, nprobe)
	if b.publish != nil {
		publish := b.publish
		b.publish = nil
		publish()
	}
	return idx, err
}

func TestStore_LoadVersionPrecedesConcurrentPublish(t *testing.T) {
	dir := t.TempDir()
	writer := New(dir, vector.NativeBackend{}, 2, 1)
	v1, err := writer.Save(testIndex(t, [][]float32{{1, 0}}), testInfos(1))
	if err != nil {
		t.Fatal(err)
	}

	var v2 float64
	backend := &publishingBackend{}
	backend.publish = func() {
		var err error
		v2, err = writer.Save(testIndex(t, [][]float32{{1, 0}, {0, 1}}), testInfos(2))
		if err != nil {
			t.Errorf("concurrent Save: %v", err)
		}
	}
	reader := New(dir, backend, 2, 1)

	snap, err := reader.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v2 <= v1 {
		t.Fatalf("v2=%f not greater than v1=%f", v2, v1)
	}
	if len(snap.Infos) != 1 || snap.Version != v1 {
		t.Errorf("loaded infos=%d version=%f, want 1 chunk at %f", len(snap.Infos), snap.Version, v1)
	}
	if reader.DiskVersion() <= snap.Version {
		t.Fatal("newer snapshot not visible as a greater version")
	}

	snap, err = reader.Load()
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(snap.Infos) != 2 || snap.Version != v2 {
		t.Errorf("reloaded infos=%d version=%f, want 2 chunks at %f", len(snap.Infos), snap.Version, v2)
	}
}
