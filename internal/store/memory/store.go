// Package memory implements the vector store capability as an in-process
// exact-scan index, optionally persisted to disk with encoding/gob. It
// backs air-gapped runs and tests.
package memory

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/store"
)

// Compile-time check: Store implements store.Store.
var _ store.Store = (*Store)(nil)

// collection is the persisted form of one named collection.
type collection struct {
	Dim     int
	Metric  string
	Entries map[string]domain.IndexEntry
}

// Store is an in-memory vector store. Writers are serialized per store;
// readers may proceed concurrently with each other.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	root        string // persistence root; empty = memory only
}

// NewStore creates a memory store. If root is non-empty, existing
// collections under it are loaded and subsequent writes are persisted there.
func NewStore(root string) (*Store, error) {
	s := &Store{
		collections: make(map[string]*collection),
		root:        root,
	}
	if root != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureCollection creates the named collection if absent (idempotent).
func (s *Store) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		if dim > 0 && c.Dim > 0 && c.Dim != dim {
			return fmt.Errorf("collection %q has dim %d, want %d", name, c.Dim, dim)
		}
		return nil
	}
	s.collections[name] = &collection{
		Dim:     dim,
		Metric:  metric,
		Entries: make(map[string]domain.IndexEntry),
	}
	return s.persist(name)
}

// Upsert inserts or overwrites entries by id.
func (s *Store) Upsert(ctx context.Context, name string, entries []domain.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("upsert %q: %w", name, domain.ErrCollectionNotFound)
	}
	for _, e := range entries {
		if c.Dim == 0 {
			c.Dim = len(e.Vector)
		}
		if len(e.Vector) != c.Dim {
			return fmt.Errorf("upsert %q id %s: vector dim %d, want %d",
				name, e.ID, len(e.Vector), c.Dim)
		}
		c.Entries[e.ID] = e
	}
	return s.persist(name)
}

// Query scans the whole collection and returns the topK nearest candidates,
// ordered by descending similarity. Equal scores are ordered by ascending id
// so repeated queries are deterministic.
func (s *Store) Query(ctx context.Context, name string, vector []float32, topK int, include domain.Include) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("query %q: %w", name, domain.ErrCollectionNotFound)
	}

	candidates := make([]domain.Candidate, 0, len(c.Entries))
	for _, e := range c.Entries {
		// Ids are always returned: they key the result and order ties.
		cand := domain.Candidate{ID: e.ID, Similarity: score(c.Metric, vector, e.Vector)}
		if include.Documents {
			cand.Document = e.Document
		}
		if include.Metadatas {
			cand.Metadata = e.Metadata
		}
		candidates = append(candidates, cand)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ID < candidates[j].ID
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// Get reads back stored entries for update diffing. Absent ids are omitted;
// entries without a stored hash are reported as malformed.
func (s *Store) Get(ctx context.Context, name string, ids []string) (store.GetResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return store.GetResult{}, fmt.Errorf("get %q: %w", name, domain.ErrCollectionNotFound)
	}

	var res store.GetResult
	for _, id := range ids {
		e, ok := c.Entries[id]
		if !ok {
			continue
		}
		if e.ContentHash == "" {
			res.Malformed = append(res.Malformed, id)
			continue
		}
		res.Entries = append(res.Entries, domain.StoredEntry{ID: e.ID, ContentHash: e.ContentHash})
	}
	return res, nil
}

// Delete removes entries by id. Absent ids are ignored.
func (s *Store) Delete(ctx context.Context, name string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("delete %q: %w", name, domain.ErrCollectionNotFound)
	}
	for _, id := range ids {
		delete(c.Entries, id)
	}
	return s.persist(name)
}

// ListIDs returns every entry id in the collection, sorted.
func (s *Store) ListIDs(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("list ids %q: %w", name, domain.ErrCollectionNotFound)
	}
	ids := make([]string, 0, len(c.Entries))
	for id := range c.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of entries in the collection.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("count %q: %w", name, domain.ErrCollectionNotFound)
	}
	return len(c.Entries), nil
}

// ListCollections returns existing collection names, sorted.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// score computes similarity under the collection's metric. For l2 the
// negated distance is returned so that higher is always better.
func score(metric string, a, b []float32) float64 {
	switch metric {
	case "l2":
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return -math.Sqrt(sum)
	case "ip":
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	default: // cosine
		var dot, normA, normB float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			normA += float64(a[i]) * float64(a[i])
			normB += float64(b[i]) * float64(b[i])
		}
		if normA == 0 || normB == 0 {
			return 0
		}
		return dot / (math.Sqrt(normA) * math.Sqrt(normB))
	}
}

// persist writes one collection to disk. No-op for memory-only stores.
// Callers hold the write lock.
func (s *Store) persist(name string) error {
	if s.root == "" {
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	path := filepath.Join(s.root, name+".gob")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("persist collection %q: %w", name, err)
	}
	if err := gob.NewEncoder(f).Encode(s.collections[name]); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode collection %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist collection %q: %w", name, err)
	}
	// Rename keeps a crashed write from leaving a truncated collection.
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persist collection %q: %w", name, err)
	}
	return nil
}

// load reads every persisted collection under the storage root.
func (s *Store) load() error {
	matches, err := filepath.Glob(filepath.Join(s.root, "*.gob"))
	if err != nil {
		return fmt.Errorf("scan storage root: %w", err)
	}
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open collection file %s: %w", path, err)
		}
		var c collection
		err = gob.NewDecoder(f).Decode(&c)
		f.Close()
		if err != nil {
			return fmt.Errorf("decode collection file %s: %w", path, err)
		}
		if c.Entries == nil {
			c.Entries = make(map[string]domain.IndexEntry)
		}
		name := filepath.Base(path)
		s.collections[name[:len(name)-len(".gob")]] = &c
	}
	return nil
}
