// Package cli renders retrieval, answer and status output for the ragindex CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetLen = 200

var (
	heading = color.New(color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	score   = color.New(color.FgGreen).SprintFunc()
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Documents      int64                  `json:"documents"`
	Chunks         int64                  `json:"chunks"`
	EmbeddedChunks int64                  `json:"embedded_chunks"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Index          models.IndexStats      `json:"index"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// WriteSearchResults writes retrieval results to w in the given format.
// Unknown formats fall back to text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.DocumentID, utils.SingleLine(r.Content, 80))
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n", response.Total, response.QueryTime, response.Mode)
		if response.BestDocument != nil {
			fmt.Fprintf(w, "Best document: %s (%.4f, %d hits)\n",
				documentLabel(response.BestDocument), response.BestDocument.BestScore, response.BestDocument.ChunkHits)
		}
		fmt.Fprintln(w)
		for _, r := range response.Results {
			writeResult(w, r)
		}
		return nil
	}
}

// WriteAnswer writes a question-answering response to w.
func WriteAnswer(w io.Writer, response *models.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\n%s\n%s\n", heading("Answer"), response.Answer)
	if len(response.Sources) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%s\n", heading("Sources"))
	for _, r := range response.Sources {
		title := r.DocumentTitle
		if title == "" {
			title = r.DocumentID
		}
		fmt.Fprintf(w, "  [%d] %s %s\n", r.Rank, title, faint(fmt.Sprintf("(%.4f)", r.Score)))
	}
	return nil
}

// WriteStatus writes engine status to w.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "documents:          %d\n", status.Documents)
	fmt.Fprintf(w, "chunks:             %d\n", status.Chunks)
	fmt.Fprintf(w, "embedded_chunks:    %d\n", status.EmbeddedChunks)
	fmt.Fprintf(w, "index_ready:        %t\n", status.Index.Ready)
	fmt.Fprintf(w, "index_vectors:      %d\n", status.Index.VectorCount)
	if status.Index.Kind != "" {
		fmt.Fprintf(w, "index_kind:         %s\n", status.Index.Kind)
	}
	fmt.Fprintf(w, "index_version:      %.6f\n", status.Index.Version)
	fmt.Fprintf(w, "pending_tasks:      %d\n", status.Index.Pending)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *status.DiskUsageBytes)
	}
	if len(status.Config) > 0 {
		fmt.Fprintf(w, "\n%s\n", faint("# configuration"))
		for _, k := range sortedKeys(status.Config) {
			fmt.Fprintf(w, "%-20s%v\n", k+":", status.Config[k])
		}
	}
	return nil
}

// PrintSearchResults prints retrieval results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

func writeResult(w io.Writer, r *models.ChunkResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %s\n", r.Rank, score(fmt.Sprintf("%.4f", r.Score)))
	fmt.Fprintf(w, "Document: %s\n", r.DocumentID)
	if r.DocumentTitle != "" {
		fmt.Fprintf(w, "Title: %s\n", heading(r.DocumentTitle))
	}
	fmt.Fprintf(w, "Chunk: %d\n", r.ChunkIndex)
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Content, snippetLen))
}

func documentLabel(d *models.DocumentScore) string {
	if d.DocumentTitle != "" {
		return d.DocumentTitle + " [" + d.DocumentID + "]"
	}
	return d.DocumentID
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
