package query

import (
	"context"
	"testing"

	"github.com/curatelab/crossmap/internal/domain"
	memstore "github.com/curatelab/crossmap/internal/store/memory"
)

// fakeEncoder returns a fixed vector per text via a lookup table.
type fakeEncoder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0}
		}
		out[i] = v
	}
	return out, nil
}

// seededStore returns a memory store with a "description" collection of
// three reference fields.
func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	s, err := memstore.NewStore("")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ctx := context.Background()
	if err := s.EnsureCollection(ctx, "description", 2, "cosine"); err != nil {
		t.Fatal(err)
	}
	entries := []domain.IndexEntry{
		domain.NewIndexEntry("7", "age at enrollment in years", []float32{1, 0}, nil),
		domain.NewIndexEntry("9", "participant age at study start", []float32{0.9, 0.1}, nil),
		domain.NewIndexEntry("11", "standing height in centimeters", []float32{0, 1}, nil),
	}
	if err := s.Upsert(ctx, "description", entries); err != nil {
		t.Fatal(err)
	}
	return s
}
