package query

import (
	"context"
	"errors"
	"testing"

	"github.com/curatelab/crossmap/internal/domain"
)

var descSpec = domain.QuerySpec{
	Name:        "variable_description",
	SourceField: "description",
	Collection:  "description",
}

func TestRun_HappyPath(t *testing.T) {
	st := seededStore(t)
	enc := &fakeEncoder{vectors: map[string][]float32{
		"age of subject": {1, 0},
	}}
	e := NewEngine(st, enc, 2, domain.IncludeAll(), nil)

	rec := domain.DictionaryRecord{
		ID:     "42",
		Fields: map[string]string{"description": "age of subject"},
	}
	sourceText, cands, err := e.Run(context.Background(), rec, descSpec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sourceText != "age of subject" {
		t.Errorf("source text %q", sourceText)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want topK=2", len(cands))
	}
	if cands[0].ID != "7" || cands[1].ID != "9" {
		t.Errorf("got %s,%s, want 7,9", cands[0].ID, cands[1].ID)
	}
	for _, c := range cands {
		if c.ID == "11" {
			t.Error("height field retrieved for an age query")
		}
	}
}

func TestRun_MissingSourceField(t *testing.T) {
	st := seededStore(t)
	e := NewEngine(st, &fakeEncoder{}, 2, domain.IncludeAll(), nil)

	rec := domain.DictionaryRecord{ID: "42", Fields: map[string]string{"label": "age"}}
	_, _, err := e.Run(context.Background(), rec, descSpec)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing source field, got %v", err)
	}
}

func TestRun_EmptySourceField(t *testing.T) {
	st := seededStore(t)
	e := NewEngine(st, &fakeEncoder{}, 2, domain.IncludeAll(), nil)

	rec := domain.DictionaryRecord{ID: "42", Fields: map[string]string{"description": ""}}
	_, _, err := e.Run(context.Background(), rec, descSpec)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty source field, got %v", err)
	}
}

func TestRun_MissingCollection(t *testing.T) {
	st := seededStore(t)
	e := NewEngine(st, &fakeEncoder{}, 2, domain.IncludeAll(), nil)

	rec := domain.DictionaryRecord{ID: "42", Fields: map[string]string{"label": "age"}}
	spec := domain.QuerySpec{Name: "labels", SourceField: "label", Collection: "label"}
	_, _, err := e.Run(context.Background(), rec, spec)
	if !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestRun_EncoderError(t *testing.T) {
	st := seededStore(t)
	encErr := errors.New("provider down")
	e := NewEngine(st, &fakeEncoder{err: encErr}, 2, domain.IncludeAll(), nil)

	rec := domain.DictionaryRecord{ID: "42", Fields: map[string]string{"description": "age"}}
	_, _, err := e.Run(context.Background(), rec, descSpec)
	if !errors.Is(err, encErr) {
		t.Fatalf("expected encoder error to propagate, got %v", err)
	}
}

func TestNewEngine_AlwaysIncludesIDs(t *testing.T) {
	st := seededStore(t)
	enc := &fakeEncoder{vectors: map[string][]float32{"age": {1, 0}}}
	e := NewEngine(st, enc, 1, domain.Include{Documents: true}, nil)

	rec := domain.DictionaryRecord{ID: "42", Fields: map[string]string{"description": "age"}}
	_, cands, err := e.Run(context.Background(), rec, descSpec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cands[0].ID == "" {
		t.Error("candidate id missing despite ids not being requested")
	}
}
