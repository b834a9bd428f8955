package query

import "github.com/curatelab/crossmap/internal/domain"

// Assemble merges per-QuerySpec ranked matches into one CrossmapResult.
// Every configured QuerySpec appears as a key even when it produced nothing
// (empty slice, never absence), and list order follows the reranker's
// output. specErrs carries per-QuerySpec failures; a failed spec still gets
// an empty entry so downstream output stays rectangular.
func Assemble(
	recordID string,
	specs []domain.QuerySpec,
	matches map[string][]domain.RankedMatch,
	specErrs map[string]error,
) domain.CrossmapResult {
	res := domain.CrossmapResult{
		RecordID: recordID,
		Matches:  make(map[string][]domain.RankedMatch, len(specs)),
	}
	for _, spec := range specs {
		m := matches[spec.Name]
		if m == nil {
			m = []domain.RankedMatch{}
		}
		res.Matches[spec.Name] = m
	}
	if len(specErrs) > 0 {
		res.Failed = make(map[string]error, len(specErrs))
		for name, err := range specErrs {
			res.Failed[name] = err
		}
	}
	return res
}
