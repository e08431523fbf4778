package search

import (
	"sort"

	"github.com/hyperjump/ragindex/internal/models"
)

// AggregateByDocument groups chunk hits by document, keeping each document's
// best score and hit count. Documents are ordered by best score, then ID.
func AggregateByDocument(results []*models.ChunkResult) []*models.DocumentScore {
	byDoc := make(map[string]*models.DocumentScore)
	for _, r := range results {
		ds, ok := byDoc[r.DocumentID]
		if !ok {
			ds = &models.DocumentScore{
				DocumentID:    r.DocumentID,
				DocumentTitle: r.DocumentTitle,
				BestScore:     r.Score,
			}
			byDoc[r.DocumentID] = ds
		}
		ds.ChunkHits++
		if r.Score > ds.BestScore {
			ds.BestScore = r.Score
		}
	}
	docs := make([]*models.DocumentScore, 0, len(byDoc))
	for _, ds := range byDoc {
		docs = append(docs, ds)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].BestScore != docs[j].BestScore {
			return docs[i].BestScore > docs[j].BestScore
		}
		return docs[i].DocumentID < docs[j].DocumentID
	})
	return docs
}

// scored is a chunk record with its similarity to the query.
type scored struct {
	info  models.ChunkInfo
	score float64
}

// topScored sorts by score descending, then chunk position, and keeps k.
func topScored(items []scored, k int) []scored {
	sort.Slice(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		if items[i].info.DocumentID != items[j].info.DocumentID {
			return items[i].info.DocumentID < items[j].info.DocumentID
		}
		return items[i].info.ChunkIndex < items[j].info.ChunkIndex
	})
	if len(items) > k {
		items = items[:k]
	}
	return items
}
