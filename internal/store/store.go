// Package store defines the vector store capability: per-named-collection
// upsert, KNN query, and get-by-id over (id, vector, metadata, document).
// Collection identity is an explicit parameter on every call, never inferred
// from ambient state.
package store

import (
	"context"

	"github.com/curatelab/crossmap/internal/domain"
)

// Store is the narrow contract the builder, updater, and query engine depend
// on. Upsert is atomic per entry and keyed by id; callers must respect the
// backend's per-call batch ceiling.
type Store interface {
	// EnsureCollection creates the named collection if absent (idempotent).
	// dim is the vector dimensionality; metric is cosine, l2, or ip.
	EnsureCollection(ctx context.Context, name string, dim int, metric string) error

	// Upsert inserts or overwrites entries by id.
	Upsert(ctx context.Context, collection string, entries []domain.IndexEntry) error

	// Query returns up to topK candidates ordered by descending similarity.
	// Returns domain.ErrCollectionNotFound if the collection is absent.
	Query(ctx context.Context, collection string, vector []float32, topK int, include domain.Include) ([]domain.Candidate, error)

	// Get reads back stored entries for the given ids, for update diffing.
	// Ids not present in the collection are omitted from the result; ids
	// whose stored hash is missing or unreadable are listed in Malformed.
	Get(ctx context.Context, collection string, ids []string) (GetResult, error)

	// Delete removes entries by id. Absent ids are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// ListIDs returns every entry id in the collection, used by the
	// explicit prune operation.
	ListIDs(ctx context.Context, collection string) ([]string, error)

	// Count returns the number of entries in the collection.
	Count(ctx context.Context, collection string) (int, error)

	// ListCollections returns the names of existing collections.
	ListCollections(ctx context.Context) ([]string, error)
}

// GetResult carries the readable stored entries plus the ids whose stored
// state was malformed. Malformed ids must not be treated as NEW by callers.
type GetResult struct {
	Entries   []domain.StoredEntry
	Malformed []string
}
