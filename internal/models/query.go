package models

import (
	"fmt"
	"strings"
)

// MaxTopK caps the number of chunks a single query may request.
const MaxTopK = 100

// SearchQuery is a retrieval or question request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate trims the query, rejects empty queries and clamps TopK to
// [1, MaxTopK], using defaultTopK when unset.
func (q *SearchQuery) Validate(defaultTopK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK <= 0 {
		q.TopK = 5
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	return nil
}
