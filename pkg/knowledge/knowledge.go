// Package knowledge defines the retrieval collaborator contract. The
// vector store and relevance scoring behind it are external; this core only
// consumes scored chunks.
package knowledge

import (
	"context"
	"sort"
	"strings"

	"opsdesk/pkg/tenant"
)

// Chunk is one retrieved knowledge fragment with its relevance score.
type Chunk struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Retriever fetches supporting knowledge for a query under the tenant's
// retrieval parameters.
type Retriever interface {
	Retrieve(ctx context.Context, cfg tenant.RetrievalConfig, query string) ([]Chunk, error)
}

// StaticRetriever serves a fixed corpus with naive substring scoring. It
// stands in for the vector-store collaborator in tests and development.
type StaticRetriever struct {
	Corpus []Chunk
}

func (r *StaticRetriever) Retrieve(ctx context.Context, cfg tenant.RetrievalConfig, query string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	var matched []Chunk
	for _, chunk := range r.Corpus {
		score := chunk.Score
		if score == 0 && query != "" && strings.Contains(strings.ToLower(chunk.Content), query) {
			score = 0.9
		}
		if score >= cfg.SimilarityThreshold && score > 0 {
			matched = append(matched, Chunk{Source: chunk.Source, Content: chunk.Content, Score: score})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })
	if cfg.MaxChunks > 0 && len(matched) > cfg.MaxChunks {
		matched = matched[:cfg.MaxChunks]
	}
	return matched, nil
}
