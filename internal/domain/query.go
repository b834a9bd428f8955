package domain

// QuerySpec pairs a source field with a target collection to query against.
// Specs are configuration-defined; their order is significant for
// deterministic output.
type QuerySpec struct {
	Name        string
	SourceField string
	Collection  string
}

// Include selects which candidate attributes a store query returns.
type Include struct {
	Documents bool
	Metadatas bool
	IDs       bool
}

// IncludeAll returns an Include with every attribute enabled.
func IncludeAll() Include {
	return Include{Documents: true, Metadatas: true, IDs: true}
}

// Candidate is one similarity-search hit. Transient: produced by a query,
// never persisted.
type Candidate struct {
	ID         string
	Similarity float64
	Document   string
	Metadata   map[string]string
}

// RankedMatch is one cross-encoder-scored candidate. Rank is 1-based within
// its QuerySpec result.
type RankedMatch struct {
	ID          string
	RerankScore float64
	Similarity  float64
	Document    string
	Metadata    map[string]string
	Rank        int
}

// CrossmapResult maps every configured QuerySpec name to its ranked matches
// for one source record. A QuerySpec that produced no candidates (or failed)
// is present with an empty slice, never absent.
type CrossmapResult struct {
	RecordID string
	Matches  map[string][]RankedMatch
	// Failed lists QuerySpec names that errored for this record, keyed to
	// the error. Other specs of the record are unaffected.
	Failed map[string]error
}
