package models

// ChunkResult is a retrieved chunk with its cosine similarity to the query.
type ChunkResult struct {
	ChunkInfo
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// DocumentScore aggregates the chunk hits of one document.
type DocumentScore struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	BestScore     float64 `json:"best_score"`
	ChunkHits     int     `json:"chunk_hits"`
}

// SearchResponse is the response for a retrieval request.
type SearchResponse struct {
	Query        string           `json:"query"`
	Results      []*ChunkResult   `json:"results"`
	Total        int              `json:"total"`
	BestDocument *DocumentScore   `json:"best_document,omitempty"`
	Documents    []*DocumentScore `json:"documents"`
	// Mode is "index" when the vector index served the query and "scan" when
	// the brute-force fallback over the store was used.
	Mode      string `json:"mode"`
	QueryTime int64  `json:"query_time_ms"`
}

// AskResponse is the response for a question-answering request.
type AskResponse struct {
	Query        string         `json:"query"`
	Answer       string         `json:"answer"`
	Sources      []*ChunkResult `json:"sources"`
	BestDocument *DocumentScore `json:"best_document,omitempty"`
	Mode         string         `json:"mode"`
	QueryTime    int64          `json:"query_time_ms"`
}

// IndexStats describes the in-memory vector index.
type IndexStats struct {
	Ready       bool    `json:"ready"`
	VectorCount int     `json:"vector_count"`
	Version     float64 `json:"version"`
	Kind        string  `json:"kind,omitempty"`
	Backend     string  `json:"backend"`
	Pending     int     `json:"pending_tasks"`
}
