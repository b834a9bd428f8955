package chi

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/crossmap"
	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/query"
	memstore "github.com/curatelab/crossmap/internal/store/memory"
)

// tableEncoder embeds texts via a fixed lookup.
type tableEncoder struct {
	vectors map[string][]float32
}

func (f *tableEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
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

// fixedScorer returns the same score for every document.
type fixedScorer struct{ score float64 }

func (f *fixedScorer) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	out := make([]float64, len(docs))
	for i := range out {
		out[i] = f.score
	}
	return out, nil
}

// newTestServer wires a server over a seeded memory store.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := memstore.NewStore("")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ctx := context.Background()
	if err := st.EnsureCollection(ctx, "description", 2, "cosine"); err != nil {
		t.Fatal(err)
	}
	err = st.Upsert(ctx, "description", []domain.IndexEntry{
		domain.NewIndexEntry("7", "age at enrollment in years", []float32{1, 0}, nil),
		domain.NewIndexEntry("11", "standing height in centimeters", []float32{0, 1}, nil),
	})
	if err != nil {
		t.Fatal(err)
	}

	enc := &tableEncoder{vectors: map[string][]float32{"age of subject": {1, 0}}}
	engine := query.NewEngine(st, enc, 2, domain.IncludeAll(), nil)
	specs := []domain.QuerySpec{
		{Name: "variable_description", SourceField: "description", Collection: "description"},
	}
	svc := crossmap.New(engine, &fixedScorer{score: 0.5}, specs, 2, 1, nil)

	return NewServer(svc, st, zap.NewNop())
}
