package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/curatelab/crossmap/internal/domain"
)

func TestBuild_HappyPath(t *testing.T) {
	st := newTestStore(t)
	enc := &fakeEncoder{}
	b := NewBuilder(st, enc, Options{}, nil)

	err := b.Build(context.Background(), testRecords(), []string{"label", "description"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := mustCount(t, st, "label"); n != 3 {
		t.Errorf("label collection has %d entries, want 3", n)
	}
	if n := mustCount(t, st, "description"); n != 3 {
		t.Errorf("description collection has %d entries, want 3", n)
	}
}

func TestBuild_StoresContentHashes(t *testing.T) {
	st := newTestStore(t)
	b := NewBuilder(st, &fakeEncoder{}, Options{}, nil)
	ctx := context.Background()

	if err := b.Build(ctx, testRecords(), []string{"label"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := st.Get(ctx, "label", []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("get stored entries: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("got %d stored entries, want 3", len(res.Entries))
	}
	for _, e := range res.Entries {
		var want string
		for _, rec := range testRecords() {
			if rec.ID == e.ID {
				want = domain.ContentHash(rec.Fields["label"])
			}
		}
		if e.ContentHash != want {
			t.Errorf("entry %s hash %q, want %q", e.ID, e.ContentHash, want)
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	st := newTestStore(t)
	b := NewBuilder(st, &fakeEncoder{}, Options{}, nil)
	ctx := context.Background()

	if err := b.Build(ctx, testRecords(), []string{"label"}); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if err := b.Build(ctx, testRecords(), []string{"label"}); err != nil {
		t.Fatalf("second build: %v", err)
	}

	// Upsert is keyed by id: rebuilding never duplicates entries.
	if n := mustCount(t, st, "label"); n != 3 {
		t.Errorf("label collection has %d entries after rebuild, want 3", n)
	}
}

func TestBuild_Batching(t *testing.T) {
	st := newTestStore(t)
	enc := &fakeEncoder{}
	b := NewBuilder(st, enc, Options{MaxBatchSize: 2}, nil)

	records := make([]domain.DictionaryRecord, 5)
	for i := range records {
		records[i] = domain.DictionaryRecord{
			ID:     fmt.Sprintf("r%d", i),
			Fields: map[string]string{"label": fmt.Sprintf("field %d", i)},
		}
	}

	if err := b.Build(context.Background(), records, []string{"label"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc.callCount() != 3 {
		t.Errorf("encoder called %d times, want 3 (batches of 2,2,1)", enc.callCount())
	}
	if n := mustCount(t, st, "label"); n != 5 {
		t.Errorf("label collection has %d entries, want 5", n)
	}
}

func TestBuild_SkipsRecordsWithoutField(t *testing.T) {
	st := newTestStore(t)
	enc := &fakeEncoder{}
	b := NewBuilder(st, enc, Options{}, nil)

	records := []domain.DictionaryRecord{
		{ID: "1", Fields: map[string]string{"label": "age", "description": "age at enrollment"}},
		{ID: "2", Fields: map[string]string{"label": "height"}},
		{ID: "3", Fields: map[string]string{"label": "weight", "description": ""}},
	}

	if err := b.Build(context.Background(), records, []string{"description"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := mustCount(t, st, "description"); n != 1 {
		t.Errorf("description collection has %d entries, want 1", n)
	}
	texts := enc.encodedTexts()
	if len(texts) != 1 || texts[0] != "age at enrollment" {
		t.Errorf("encoded texts %v, want only the populated description", texts)
	}
}

func TestBuild_RetriesTransientError(t *testing.T) {
	st := newTestStore(t)
	var attempts int
	enc := &fakeEncoder{
		encodeFn: func(_ context.Context, texts []string) ([][]float32, error) {
			attempts++
			if attempts == 1 {
				return nil, fmt.Errorf("connection reset: %w", domain.ErrProviderTransient)
			}
			vecs := make([][]float32, len(texts))
			for i, txt := range texts {
				vecs[i] = vecFor(txt)
			}
			return vecs, nil
		},
	}
	b := NewBuilder(st, enc, Options{MaxAttempts: 3}, nil)

	if err := b.Build(context.Background(), testRecords(), []string{"label"}); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("encoder attempted %d times, want 2", attempts)
	}
}

func TestBuild_RetriesDeadlineExceeded(t *testing.T) {
	st := newTestStore(t)
	var attempts int
	enc := &fakeEncoder{
		encodeFn: func(_ context.Context, texts []string) ([][]float32, error) {
			attempts++
			if attempts == 1 {
				return nil, fmt.Errorf("embed request: %w", context.DeadlineExceeded)
			}
			vecs := make([][]float32, len(texts))
			for i, txt := range texts {
				vecs[i] = vecFor(txt)
			}
			return vecs, nil
		},
	}
	b := NewBuilder(st, enc, Options{MaxAttempts: 3}, nil)

	// An expired per-attempt deadline is transient: the next attempt gets a
	// fresh one.
	if err := b.Build(context.Background(), testRecords(), []string{"label"}); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("encoder attempted %d times, want 2", attempts)
	}
}

func TestBuild_FatalErrorNotRetried(t *testing.T) {
	st := newTestStore(t)
	enc := &fakeEncoder{
		encodeFn: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, fmt.Errorf("model not found: %w", domain.ErrProviderFatal)
		},
	}
	b := NewBuilder(st, enc, Options{MaxAttempts: 4}, nil)

	err := b.Build(context.Background(), testRecords(), []string{"label"})
	if !errors.Is(err, domain.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal, got %v", err)
	}
	if enc.callCount() != 1 {
		t.Errorf("encoder called %d times, want 1 (no retries on fatal)", enc.callCount())
	}

	var be *domain.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %T", err)
	}
	if be.Op != "embed" || be.Collection != "label" || len(be.IDs) != 3 {
		t.Errorf("batch error op=%q collection=%q ids=%v", be.Op, be.Collection, be.IDs)
	}
}

func TestBuild_Canceled(t *testing.T) {
	st := newTestStore(t)
	enc := &fakeEncoder{}
	b := NewBuilder(st, enc, Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Build(ctx, testRecords(), []string{"label"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if enc.callCount() != 0 {
		t.Errorf("encoder called %d times on canceled context, want 0", enc.callCount())
	}
}
