// Package query implements the crossmap query engine: per-QuerySpec
// similarity retrieval and per-record result assembly.
package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/embed"
	"github.com/curatelab/crossmap/internal/metrics"
	"github.com/curatelab/crossmap/internal/store"
)

// Engine issues one similarity query per QuerySpec against the index.
// It holds no per-record state; queries for different QuerySpecs and
// different records may run concurrently.
type Engine struct {
	store   store.Store
	enc     embed.Encoder
	topK    int
	include domain.Include
	logger  *zap.Logger
}

// NewEngine creates a query engine. topK bounds each similarity query;
// include selects the candidate attributes fetched from the store.
func NewEngine(st store.Store, enc embed.Encoder, topK int, include domain.Include, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Ids are always needed: they key rerank tie-breaks and output rows.
	include.IDs = true
	return &Engine{store: st, enc: enc, topK: topK, include: include, logger: logger}
}

// TopK returns the engine's similarity retrieval bound.
func (e *Engine) TopK() int { return e.topK }

// Run embeds the record's source field for one QuerySpec and retrieves up
// to topK candidates from the target collection, ordered by descending
// similarity as returned by the store. A missing target collection fails
// only this QuerySpec.
func (e *Engine) Run(ctx context.Context, rec domain.DictionaryRecord, spec domain.QuerySpec) (string, []domain.Candidate, error) {
	sourceText, ok := rec.Field(spec.SourceField)
	if !ok {
		return "", nil, fmt.Errorf("record %s has no value for source field %q: %w",
			rec.ID, spec.SourceField, domain.ErrNotFound)
	}

	vectors, err := e.enc.Encode(ctx, []string{sourceText})
	if err != nil {
		return sourceText, nil, fmt.Errorf("embed query %q for record %s: %w", spec.Name, rec.ID, err)
	}

	start := time.Now()
	candidates, err := e.store.Query(ctx, spec.Collection, vectors[0], e.topK, e.include)
	if err != nil {
		return sourceText, nil, fmt.Errorf("query %q for record %s: %w", spec.Name, rec.ID, err)
	}
	metrics.QueryDuration.WithLabelValues(spec.Name).Observe(time.Since(start).Seconds())

	e.logger.Debug("similarity query",
		zap.String("record", rec.ID),
		zap.String("query", spec.Name),
		zap.Int("candidates", len(candidates)))
	return sourceText, candidates, nil
}
