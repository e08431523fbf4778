package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/ragindex/internal/vector"
)

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewMockEmbedder(64)
	a, _ := e.Embed(ctx, "vector index snapshot")
	b, _ := e.Embed(ctx, "Vector INDEX snapshot!")
	c, _ := e.Embed(ctx, "banana smoothie recipe")
	if len(a) != 64 {
		t.Fatalf("len=%d", len(a))
	}
	if s := vector.CosineSimilarity(a, b); s < 0.999 {
		t.Errorf("same words should embed identically, cosine=%f", s)
	}
	if vector.CosineSimilarity(a, c) >= vector.CosineSimilarity(a, b) {
		t.Error("unrelated text should be less similar")
	}
	empty, _ := e.Embed(ctx, "")
	if vector.L2Norm(empty) == 0 {
		t.Error("empty text should still embed to a unit vector")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr error
		cached  bool
	}{
		{name: "mock", opts: Options{Provider: ProviderMock, Dimensions: 8}},
		{name: "mock cached", opts: Options{Provider: ProviderMock, Dimensions: 8, CacheSize: 4}, cached: true},
		{name: "openai without key", opts: Options{Provider: ProviderOpenAI, Dimensions: 8}, wantErr: ErrUnavailable},
		{name: "onnx without model", opts: Options{Provider: ProviderONNX, Dimensions: 8}, wantErr: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer e.Close()
			if _, ok := e.(*Cached); ok != tt.cached {
				t.Errorf("cached=%v, want %v", ok, tt.cached)
			}
			if e.Dimensions() != 8 {
				t.Errorf("Dimensions=%d", e.Dimensions())
			}
		})
	}
	if _, err := New(Options{Provider: "bogus"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	var gotReq struct {
		Model      string   `json:"model"`
		Input      []string `json:"input"`
		Dimensions int      `json:"dimensions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		// answer out of order to check the index mapping
		data := []map[string]interface{}{}
		for i := len(gotReq.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1, 0},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  gotReq.Model,
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("test-key", srv.URL, "text-embedding-3-small", 3)
	if err != nil {
		t.Fatal(err)
	}
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v[0] != float32(i) {
			t.Errorf("out[%d]=%v", i, v)
		}
	}
	if gotReq.Dimensions != 3 || gotReq.Model != "text-embedding-3-small" {
		t.Errorf("request=%+v", gotReq)
	}

	if _, err := e.EmbedBatch(context.Background(), []string{"ok", "  "}); err == nil {
		t.Error("expected error for blank text")
	}

	bad, _ := NewOpenAIEmbedder("wrong-key", srv.URL, "text-embedding-3-small", 3)
	if _, err := bad.Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("unauthorized err=%v, want ErrUnavailable", err)
	}

	wrongDim, _ := NewOpenAIEmbedder("test-key", srv.URL, "text-embedding-3-small", 5)
	if _, err := wrongDim.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}
