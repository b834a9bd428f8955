// Package crossmap orchestrates the per-record pipeline: query engine →
// cross-encoder reranker → result assembler, over a bounded worker pool.
package crossmap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/metrics"
	"github.com/curatelab/crossmap/internal/query"
	"github.com/curatelab/crossmap/internal/rerank"
)

// Service crossmaps source records against the reference index.
type Service struct {
	engine  *query.Engine
	scorer  rerank.Scorer
	specs   []domain.QuerySpec
	topN    int
	workers int
	logger  *zap.Logger
}

// New creates a crossmap service. specs order determines output order.
// topN above the engine's topK is clamped: a query cannot rerank more
// candidates than were retrieved.
func New(engine *query.Engine, scorer rerank.Scorer, specs []domain.QuerySpec, topN, workers int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topN <= 0 || topN > engine.TopK() {
		topN = engine.TopK()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		engine:  engine,
		scorer:  scorer,
		specs:   specs,
		topN:    topN,
		workers: workers,
		logger:  logger,
	}
}

// MapRecord crossmaps one record. QuerySpecs run concurrently; a failure in
// one (missing collection, provider error) is recorded per spec and never
// aborts the others. The returned result has every configured spec as a key.
func (s *Service) MapRecord(ctx context.Context, rec domain.DictionaryRecord) domain.CrossmapResult {
	var mu sync.Mutex
	matches := make(map[string][]domain.RankedMatch, len(s.specs))
	specErrs := make(map[string]error)

	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range s.specs {
		spec := spec
		g.Go(func() error {
			ranked, err := s.runSpec(ctx, rec, spec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				specErrs[spec.Name] = err
				return nil // spec-scoped: other specs proceed
			}
			matches[spec.Name] = ranked
			return nil
		})
	}
	_ = g.Wait() // goroutines only report via matches/specErrs

	for name, err := range specErrs {
		s.logger.Warn("query spec failed",
			zap.String("record", rec.ID),
			zap.String("query", name),
			zap.Error(err))
	}
	return query.Assemble(rec.ID, s.specs, matches, specErrs)
}

// runSpec executes retrieval and reranking for one QuerySpec.
func (s *Service) runSpec(ctx context.Context, rec domain.DictionaryRecord, spec domain.QuerySpec) ([]domain.RankedMatch, error) {
	sourceText, candidates, err := s.engine.Run(ctx, rec, spec)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []domain.RankedMatch{}, nil
	}

	start := time.Now()
	ranked, err := rerank.Rerank(ctx, s.scorer, sourceText, candidates, s.topN)
	if err != nil {
		return nil, err
	}
	metrics.RerankDuration.WithLabelValues(spec.Name).Observe(time.Since(start).Seconds())
	return ranked, nil
}

// MapAll crossmaps records with a bounded pool of workers. The bound
// respects external rate limits, not correctness: records share no mutable
// state. Cancellation is honored at record boundaries. Per-record failures
// are embedded in each result's Failed map; MapAll errors only on
// cancellation.
func (s *Service) MapAll(parent context.Context, records []domain.DictionaryRecord) (map[string]domain.CrossmapResult, error) {
	results := make(map[string]domain.CrossmapResult, len(records))
	var mu sync.Mutex

	// The derived context is canceled by Wait itself, so only the parent
	// tells caller cancellation apart from normal completion.
	g, ctx := errgroup.WithContext(parent)
	g.SetLimit(s.workers)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			break
		}
		rec := rec
		g.Go(func() error {
			res := s.MapRecord(ctx, rec)

			status := "ok"
			if len(res.Failed) > 0 {
				status = "partial"
			}
			metrics.RecordsProcessedTotal.WithLabelValues(status).Inc()

			mu.Lock()
			results[rec.ID] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := parent.Err(); err != nil {
		return results, err
	}
	return results, nil
}
