package retrieval

import (
	"context"
	"sort"

	"github.com/poiesic/folio/core"
)

// Candidate is a resolved parent page and the distance of its closest child.
type Candidate struct {
	Parent   *core.ParentChunk
	Distance float32
	// Score is set by a Reranker; higher is better.
	Score float32
}

// Reranker reorders candidates after vector search.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error)
}

// TermOverlapReranker combines vector similarity with the fraction of query
// terms found in the page, weighted equally.
type TermOverlapReranker struct{}

var _ Reranker = TermOverlapReranker{}

// Rerank sorts by combined score, keeping vector order for ties. A query
// without content terms leaves the order unchanged.
func (TermOverlapReranker) Rerank(ctx context.Context, query string, candidates []Candidate) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(query)
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	if len(terms) == 0 {
		return ranked, nil
	}

	const similarityWeight = 0.5
	const overlapWeight = 0.5
	for i := range ranked {
		similarity := 1 - ranked[i].Distance
		ranked[i].Score = similarityWeight*similarity + overlapWeight*termOverlap(terms, ranked[i].Parent.FullText)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked, nil
}
