// Package rerank refines similarity-ranked candidate sets with a
// cross-encoder: a second, more expensive model that scores (query text,
// candidate document) pairs directly instead of comparing vectors.
package rerank

import (
	"context"
	"fmt"
	"sort"

	"github.com/curatelab/crossmap/internal/domain"
)

// Scorer computes pairwise relevance between a query text and each
// document. The returned scores align with the documents slice.
// Implementations must be stateless across calls: reranking runs
// concurrently across records and QuerySpecs.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// Rerank scores candidates against the source text and returns RankedMatches
// in a total, deterministic order: strictly descending rerank score, ties
// broken by the candidate's original similarity rank, then by id. The result
// is truncated to topN; topN values above the candidate count are clamped
// (a query cannot rerank more candidates than were retrieved).
func Rerank(ctx context.Context, scorer Scorer, sourceText string, candidates []domain.Candidate, topN int) ([]domain.RankedMatch, error) {
	if len(candidates) == 0 {
		return []domain.RankedMatch{}, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Document
	}

	scores, err := scorer.Score(ctx, sourceText, docs)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder score: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("cross-encoder returned %d scores for %d candidates: %w",
			len(scores), len(candidates), domain.ErrProviderFatal)
	}

	type scored struct {
		match   domain.RankedMatch
		simRank int // 0-based position in the similarity-ordered input
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{
			match: domain.RankedMatch{
				ID:          c.ID,
				RerankScore: scores[i],
				Similarity:  c.Similarity,
				Document:    c.Document,
				Metadata:    c.Metadata,
			},
			simRank: i,
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.match.RerankScore != b.match.RerankScore {
			return a.match.RerankScore > b.match.RerankScore
		}
		if a.simRank != b.simRank {
			return a.simRank < b.simRank
		}
		return a.match.ID < b.match.ID
	})

	n := len(ranked)
	if topN > 0 && topN < n {
		n = topN
	}
	out := make([]domain.RankedMatch, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].match
		out[i].Rank = i + 1
	}
	return out, nil
}
