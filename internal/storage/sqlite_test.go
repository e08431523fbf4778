package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/ragindex/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "rag.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:       "doc1",
		Title:    "Title",
		Content:  "Content",
		Metadata: map[string]interface{}{"k": "v"},
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title" || got.Content != "Content" || got.Metadata["k"] != "v" {
		t.Errorf("got %+v", got)
	}

	doc.Title = "Updated"
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetDocument(ctx, "doc1")
	if got.Title != "Updated" {
		t.Errorf("expected Updated, got %s", got.Title)
	}

	list, err := store.ListDocuments(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 doc, got %d", len(list))
	}

	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument after delete: err=%v, want ErrNotFound", err)
	}
	if err := store.DeleteDocument(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err=%v, want ErrNotFound", err)
	}
	if err := store.UpdateDocument(ctx, &models.Document{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_ChunksWithEmbeddings(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	_ = store.CreateDocument(ctx, &models.Document{ID: "d1", Title: "T", Content: "C"})

	chunks := []*models.DocumentChunk{
		{ID: "d1_1", DocumentID: "d1", Content: "chunk1", ChunkIndex: 1, Embedding: []float32{0, 1}},
		{ID: "d1_0", DocumentID: "d1", Content: "chunk0", ChunkIndex: 0, Embedding: []float32{1, 0}},
		{ID: "d1_2", DocumentID: "d1", Content: "chunk2", ChunkIndex: 2},
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	list, err := store.GetChunksByDocumentID(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != "d1_0" || list[2].ID != "d1_2" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if len(list[0].Embedding) != 2 || list[0].Embedding[0] != 1 {
		t.Errorf("embedding=%v", list[0].Embedding)
	}
	if list[2].Embedding != nil {
		t.Errorf("expected nil embedding, got %v", list[2].Embedding)
	}

	got, err := store.GetChunk(ctx, "d1_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "chunk1" || got.Embedding[1] != 1 {
		t.Errorf("got %+v", got)
	}
	if _, err := store.GetChunk(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v", err)
	}

	n, _ := store.CountEmbeddedChunks(ctx)
	if n != 2 {
		t.Errorf("CountEmbeddedChunks=%d, want 2", n)
	}

	// deleting the document cascades to its chunks
	if err := store.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountChunks(ctx); n != 0 {
		t.Errorf("CountChunks after delete=%d, want 0", n)
	}
}

func TestSQLiteStorage_ReplaceChunks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	_ = store.CreateDocument(ctx, &models.Document{ID: "d1", Content: "C"})
	_ = store.BatchCreateChunks(ctx, []*models.DocumentChunk{
		{ID: "old0", DocumentID: "d1", Content: "a", ChunkIndex: 0},
		{ID: "old1", DocumentID: "d1", Content: "b", ChunkIndex: 1},
	})

	err := store.ReplaceChunks(ctx, "d1", []*models.DocumentChunk{
		{ID: "new0", DocumentID: "d1", Content: "x", ChunkIndex: 0, Embedding: []float32{1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	list, _ := store.GetChunksByDocumentID(ctx, "d1")
	if len(list) != 1 || list[0].ID != "new0" {
		t.Errorf("list=%+v", list)
	}

	// a chunk for the wrong document rolls back the whole replacement
	err = store.ReplaceChunks(ctx, "d1", []*models.DocumentChunk{
		{ID: "bad", DocumentID: "other", Content: "x", ChunkIndex: 0},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	list, _ = store.GetChunksByDocumentID(ctx, "d1")
	if len(list) != 1 || list[0].ID != "new0" {
		t.Errorf("replacement not rolled back: %+v", list)
	}
}

func TestSQLiteStorage_UpdateDocumentChunks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	if err := store.CreateDocument(ctx, &models.Document{ID: "d1", Title: "Old", Content: "old body"}); err != nil {
		t.Fatal(err)
	}
	if err := store.BatchCreateChunks(ctx, []*models.DocumentChunk{
		{ID: "old0", DocumentID: "d1", Content: "old body", ChunkIndex: 0},
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		chunks []*models.DocumentChunk
	}{
		{"duplicate chunk id", []*models.DocumentChunk{
			{ID: "dup", DocumentID: "d1", Content: "new", ChunkIndex: 0},
			{ID: "dup", DocumentID: "d1", Content: "body", ChunkIndex: 1},
		}},
		{"foreign chunk", []*models.DocumentChunk{
			{ID: "x", DocumentID: "other", Content: "new", ChunkIndex: 0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &models.Document{ID: "d1", Title: "New", Content: "new body"}
			if err := store.UpdateDocumentChunks(ctx, doc, tt.chunks); err == nil {
				t.Fatal("expected error")
			}
			got, err := store.GetDocument(ctx, "d1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Title != "Old" || got.Content != "old body" {
				t.Errorf("document changed despite failed chunk swap: %+v", got)
			}
			list, _ := store.GetChunksByDocumentID(ctx, "d1")
			if len(list) != 1 || list[0].ID != "old0" {
				t.Errorf("chunks changed: %+v", list)
			}
		})
	}

	doc := &models.Document{ID: "d1", Title: "New", Content: "new body"}
	err := store.UpdateDocumentChunks(ctx, doc, []*models.DocumentChunk{
		{ID: "new0", DocumentID: "d1", Content: "new body", ChunkIndex: 0, Embedding: []float32{1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if doc.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
	got, _ := store.GetDocument(ctx, "d1")
	list, _ := store.GetChunksByDocumentID(ctx, "d1")
	if got.Content != "new body" || len(list) != 1 || list[0].ID != "new0" {
		t.Errorf("doc=%+v chunks=%+v", got, list)
	}

	if err := store.UpdateDocumentChunks(ctx, &models.Document{ID: "missing"}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_AllChunkRecordsOrder(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		_ = store.CreateDocument(ctx, &models.Document{ID: id, Title: "Title " + id, Content: "C"})
		_ = store.BatchCreateChunks(ctx, []*models.DocumentChunk{
			{ID: id + "1", DocumentID: id, Content: "x", ChunkIndex: 1, Embedding: []float32{1, 0}},
			{ID: id + "0", DocumentID: id, Content: "y", ChunkIndex: 0, Embedding: []float32{0, 1}},
		})
	}

	recs, err := store.AllChunkRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a0", "a1", "b0", "b1"}
	if len(recs) != len(want) {
		t.Fatalf("len=%d", len(recs))
	}
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("recs[%d].ID=%s, want %s", i, recs[i].ID, id)
		}
	}
	if recs[0].DocumentTitle != "Title a" {
		t.Errorf("DocumentTitle=%q", recs[0].DocumentTitle)
	}

	src := ChunkSource{Storage: store}
	idxRecs, err := src.DocumentChunks(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(idxRecs) != 2 || idxRecs[0].ID != "b0" || idxRecs[0].DocumentTitle != "Title b" || len(idxRecs[0].Embedding) != 2 {
		t.Errorf("idxRecs=%+v", idxRecs)
	}
}

func TestEmbeddingCodec(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"nil", nil},
		{"empty", []float32{}},
		{"values", []float32{1.5, -2.25, 0, 3e-8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEmbedding(EncodeEmbedding(tt.vec))
			if err != nil {
				t.Fatal(err)
			}
			if (got == nil) != (tt.vec == nil) || len(got) != len(tt.vec) {
				t.Fatalf("got %v, want %v", got, tt.vec)
			}
			for i := range tt.vec {
				if got[i] != tt.vec[i] {
					t.Errorf("[%d]=%v, want %v", i, got[i], tt.vec[i])
				}
			}
		})
	}
	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
