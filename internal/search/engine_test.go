package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/embedding"
	"github.com/hyperjump/ragindex/internal/index"
	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/llm"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/snapshot"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/vector"
)

const testDim = 256

type capturingAnswerer struct {
	calls    int
	passages string
	err      error
}

func (a *capturingAnswerer) Answer(ctx context.Context, question, passages string) (string, error) {
	a.calls++
	a.passages = passages
	if a.err != nil {
		return "", a.err
	}
	return " answer to " + question + " ", nil
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, embedding.ErrUnavailable
}

type fixture struct {
	store   *storage.SQLiteStorage
	manager *index.Manager
	cfg     *config.SearchConfig
	emb     embedding.Embedder
}

// newFixture stores two documents. A nil backend leaves the index unusable so
// retrieval has to scan.
func newFixture(t *testing.T, backend vector.Backend) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "rag.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.SearchConfig{DefaultTopK: 5, ChunkSize: 200, ChunkOverlap: 20}
	emb := embedding.NewMockEmbedder(testDim)
	ix := indexer.NewIndexer(store, emb, nil, cfg, nil)
	for _, in := range []*models.DocumentInput{
		{ID: "d1", Title: "ML", Content: "machine learning algorithms"},
		{ID: "d2", Title: "Cooking", Content: "cooking pasta recipes"},
	} {
		if _, err := ix.CreateDocument(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	snap := snapshot.New(filepath.Join(dir, "index"), backend, testDim, 1)
	m := index.NewManager(index.Config{Dimensions: testDim, NList: 2, NProbe: 1, MinTrain: 1000},
		storage.ChunkSource{Storage: store}, snap, backend)
	t.Cleanup(func() { _ = m.Close() })
	return &fixture{store: store, manager: m, cfg: cfg, emb: emb}
}

func TestEngine_Retrieve(t *testing.T) {
	tests := []struct {
		name    string
		backend vector.Backend
		mode    string
	}{
		{"index", vector.NativeBackend{}, ModeIndex},
		{"scan without backend", nil, ModeScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.backend)
			e := NewEngine(f.store, f.emb, f.manager, nil, f.cfg)

			resp, err := e.Retrieve(context.Background(), &models.SearchQuery{Query: "  machine learning  "})
			if err != nil {
				t.Fatal(err)
			}
			if resp.Mode != tt.mode {
				t.Errorf("mode = %s, want %s", resp.Mode, tt.mode)
			}
			if resp.Query != "machine learning" || resp.Total != 2 || len(resp.Results) != 2 {
				t.Fatalf("resp = %+v", resp)
			}
			top := resp.Results[0]
			if top.DocumentID != "d1" || top.Rank != 1 || top.DocumentTitle != "ML" {
				t.Errorf("top = %+v", top)
			}
			if resp.Results[1].Score > top.Score {
				t.Error("results not sorted by score")
			}
			if resp.BestDocument == nil || resp.BestDocument.DocumentID != "d1" {
				t.Errorf("best document = %+v", resp.BestDocument)
			}
			if len(resp.Documents) != 2 {
				t.Errorf("documents = %d, want 2", len(resp.Documents))
			}
		})
	}
}

func TestEngine_RetrieveTopKAndMinScore(t *testing.T) {
	f := newFixture(t, vector.NativeBackend{})
	e := NewEngine(f.store, f.emb, f.manager, nil, f.cfg)

	resp, err := e.Retrieve(context.Background(), &models.SearchQuery{Query: "machine learning", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Errorf("TopK=1 returned %d results", len(resp.Results))
	}

	f.cfg.MinScore = 0.5
	resp, err = e.Retrieve(context.Background(), &models.SearchQuery{Query: "machine learning"})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range resp.Results {
		if r.Score < 0.5 {
			t.Errorf("result below min score: %+v", r)
		}
	}
	if len(resp.Results) != 1 || resp.Results[0].DocumentID != "d1" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestEngine_RetrieveErrors(t *testing.T) {
	f := newFixture(t, vector.NativeBackend{})
	ctx := context.Background()

	e := NewEngine(f.store, f.emb, f.manager, nil, f.cfg)
	if _, err := e.Retrieve(ctx, &models.SearchQuery{Query: "   "}); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("blank query err = %v, want ErrInvalidQuery", err)
	}

	e = NewEngine(f.store, failingEmbedder{}, f.manager, nil, f.cfg)
	if _, err := e.Retrieve(ctx, &models.SearchQuery{Query: "q"}); !errors.Is(err, embedding.ErrUnavailable) {
		t.Errorf("embedding err = %v, want ErrUnavailable", err)
	}
}

func TestEngine_Ask(t *testing.T) {
	f := newFixture(t, vector.NativeBackend{})
	a := &capturingAnswerer{}
	e := NewEngine(f.store, f.emb, f.manager, a, f.cfg)

	resp, err := e.Ask(context.Background(), &models.SearchQuery{Query: "machine learning", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "answer to machine learning" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if !strings.Contains(a.passages, "[1] ML\nmachine learning algorithms") {
		t.Errorf("passages = %q", a.passages)
	}
	if len(resp.Sources) != 1 || resp.BestDocument.DocumentTitle != "ML" {
		t.Errorf("resp = %+v", resp)
	}

	a.err = llm.ErrQuotaExceeded
	if _, err := e.Ask(context.Background(), &models.SearchQuery{Query: "machine learning"}); !errors.Is(err, llm.ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
}

func TestEngine_AskNoMatch(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "rag.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	a := &capturingAnswerer{}
	e := NewEngine(store, embedding.NewMockEmbedder(testDim), nil, a, &config.SearchConfig{})

	resp, err := e.Ask(ctx, &models.SearchQuery{Query: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != NoMatchAnswer || a.calls != 0 {
		t.Errorf("answer = %q, calls = %d", resp.Answer, a.calls)
	}
	if resp.Mode != ModeScan || resp.BestDocument != nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestEngine_AskStaticAnswerer(t *testing.T) {
	f := newFixture(t, vector.NativeBackend{})
	e := NewEngine(f.store, f.emb, f.manager, llm.StaticAnswerer{}, f.cfg)
	resp, err := e.Ask(context.Background(), &models.SearchQuery{Query: "pasta", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "[1] Cooking\ncooking pasta recipes" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestAggregateByDocument(t *testing.T) {
	hit := func(doc string, score float64) *models.ChunkResult {
		return &models.ChunkResult{ChunkInfo: models.ChunkInfo{DocumentID: doc, DocumentTitle: "T" + doc}, Score: score}
	}
	tests := []struct {
		name    string
		results []*models.ChunkResult
		want    []models.DocumentScore
	}{
		{"empty", nil, nil},
		{
			name:    "best score and hits",
			results: []*models.ChunkResult{hit("a", 0.5), hit("b", 0.9), hit("a", 0.7)},
			want: []models.DocumentScore{
				{DocumentID: "b", DocumentTitle: "Tb", BestScore: 0.9, ChunkHits: 1},
				{DocumentID: "a", DocumentTitle: "Ta", BestScore: 0.7, ChunkHits: 2},
			},
		},
		{
			name:    "ties ordered by id",
			results: []*models.ChunkResult{hit("z", 0.4), hit("m", 0.4)},
			want: []models.DocumentScore{
				{DocumentID: "m", DocumentTitle: "Tm", BestScore: 0.4, ChunkHits: 1},
				{DocumentID: "z", DocumentTitle: "Tz", BestScore: 0.4, ChunkHits: 1},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AggregateByDocument(tt.results)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if *got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, *got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]*models.ChunkResult{
		{ChunkInfo: models.ChunkInfo{DocumentTitle: "A", Content: "alpha"}},
		{ChunkInfo: models.ChunkInfo{Content: "untitled"}},
	})
	if want := "[1] A\nalpha\n\n[2]\nuntitled"; got != want {
		t.Errorf("BuildContext = %q, want %q", got, want)
	}
}
