package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hyperjump/ragindex/internal/models"
)

func init() {
	color.NoColor = true
}

func sampleResponse() *models.SearchResponse {
	best := &models.DocumentScore{DocumentID: "doc-1", DocumentTitle: "Test Doc", BestScore: 0.9, ChunkHits: 1}
	return &models.SearchResponse{
		Query: "test query",
		Results: []*models.ChunkResult{
			{
				ChunkInfo: models.ChunkInfo{
					ChunkID:       "c1",
					DocumentID:    "doc-1",
					DocumentTitle: "Test Doc",
					Content:       "Content here\nsecond line",
				},
				Score: 0.9,
				Rank:  1,
			},
		},
		Total:        1,
		BestDocument: best,
		Documents:    []*models.DocumentScore{best},
		Mode:         "index",
		QueryTime:    42,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"compact", OutputCompact, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	response := sampleResponse()
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query || decoded.QueryTime != 42 || decoded.Mode != "index" {
		t.Errorf("decoded %+v", decoded)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].ChunkID != "c1" {
		t.Errorf("decoded results: %+v", decoded.Results)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatalf("WriteSearchResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "42ms", "(index)", "Best document: Test Doc [doc-1]", "Rank: 1", "Score: 0.9000", "Content here"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected %q in output:\n%s", sub, out)
		}
	}
}

func TestWriteSearchResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	want := "1\t0.9000\tdoc-1\tContent here second line\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestWriteSearchResults_unknownFormatTreatedAsText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, &models.SearchResponse{Query: "x"}, OutputFormat("unknown")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("unknown format should fall back to text; got %q", buf.String())
	}
}

func TestWriteAnswer(t *testing.T) {
	resp := &models.AskResponse{
		Query:   "q",
		Answer:  "forty two",
		Sources: sampleResponse().Results,
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Answer", "forty two", "Sources", "[1] Test Doc (0.9000)"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected %q in output:\n%s", sub, out)
		}
	}

	buf.Reset()
	resp.Sources = nil
	if err := WriteAnswer(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Sources") {
		t.Errorf("no sources section expected:\n%s", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	disk := int64(1234)
	status := &Status{
		Documents:      2,
		Chunks:         5,
		EmbeddedChunks: 5,
		DiskUsageBytes: &disk,
		Index:          models.IndexStats{Ready: true, VectorCount: 5, Kind: "flat", Backend: "native"},
		Config:         map[string]interface{}{"nprobe": 10, "chunk_size": 500},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"documents:          2", "index_ready:        true", "index_kind:         flat", "disk_usage_bytes:   1234", "chunk_size:"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected %q in output:\n%s", sub, out)
		}
	}
	if strings.Index(out, "chunk_size") > strings.Index(out, "nprobe") {
		t.Errorf("config keys should be sorted:\n%s", out)
	}

	buf.Reset()
	if err := WriteStatus(&buf, status, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded Status
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Index.VectorCount != 5 || decoded.DiskUsageBytes == nil || *decoded.DiskUsageBytes != 1234 {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestPrintSearchResults(t *testing.T) {
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
		_ = w.Close()
	}()
	PrintSearchResults(&models.SearchResponse{Query: "print test"})
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("PrintSearchResults should write to stdout; got %q", buf.String())
	}
}
