package index

import (
	"context"
	"sync"
	"testing"

	"github.com/curatelab/crossmap/internal/domain"
	memstore "github.com/curatelab/crossmap/internal/store/memory"
)

// fakeEncoder implements embed.Encoder for tests. Without encodeFn it
// returns a deterministic vector per text.
type fakeEncoder struct {
	mu       sync.Mutex
	calls    int
	batches  [][]string
	encodeFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f *fakeEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, texts)
	fn := f.encodeFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = vecFor(t)
	}
	return vecs, nil
}

func (f *fakeEncoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEncoder) encodedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

// vecFor derives a stable vector from text so distinct texts get distinct
// embeddings.
func vecFor(text string) []float32 {
	v := make([]float32, 4)
	for i, b := range []byte(text) {
		v[i%4] += float32(b) / 255
	}
	return v
}

func newTestStore(t *testing.T) *memstore.Store {
	t.Helper()
	s, err := memstore.NewStore("")
	if err != nil {
		t.Fatalf("create memory store: %v", err)
	}
	return s
}

func testRecords() []domain.DictionaryRecord {
	return []domain.DictionaryRecord{
		{ID: "1", Fields: map[string]string{"label": "age", "description": "age at enrollment"}},
		{ID: "2", Fields: map[string]string{"label": "height", "description": "standing height in cm"}},
		{ID: "3", Fields: map[string]string{"label": "weight", "description": "body weight in kg"}},
	}
}

func mustCount(t *testing.T, s *memstore.Store, collection string) int {
	t.Helper()
	n, err := s.Count(context.Background(), collection)
	if err != nil {
		t.Fatalf("count %q: %v", collection, err)
	}
	return n
}
