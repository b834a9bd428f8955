package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/embed"
	"github.com/curatelab/crossmap/internal/store"
)

// Builder constructs the initial collections from a full source table, one
// collection per embedded field. Upsert is keyed by record id, so re-running
// the builder on unchanged input is a no-op in effect.
type Builder struct {
	indexer
}

// NewBuilder creates a builder.
func NewBuilder(st store.Store, enc embed.Encoder, opts Options, logger *zap.Logger) *Builder {
	return &Builder{indexer: newIndexer(st, enc, opts, logger)}
}

// Build indexes every record's value of each embedded field into that
// field's collection. A batch failure after exhausted retries aborts the
// build: an inconsistent index is worse than a halted build, and the error
// carries the ids of the failed batch.
func (b *Builder) Build(ctx context.Context, records []domain.DictionaryRecord, fields []string) error {
	for _, field := range fields {
		if err := b.buildCollection(ctx, field, records); err != nil {
			return err
		}
	}
	return nil
}

// buildCollection indexes one field into its collection in batches no
// larger than the store's per-call ceiling. Cancellation is honored at
// batch boundaries only.
func (b *Builder) buildCollection(ctx context.Context, field string, records []domain.DictionaryRecord) error {
	eligible := withField(records, field)
	b.logger.Info("building collection",
		zap.String("collection", field),
		zap.Int("records", len(eligible)),
		zap.Int("batch_size", b.opts.MaxBatchSize))

	for _, batch := range batchify(eligible, b.opts.MaxBatchSize) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("build %q canceled: %w", field, err)
		}
		if err := b.embedAndUpsert(ctx, field, field, "build", batch); err != nil {
			return err
		}
	}

	b.logger.Info("collection built", zap.String("collection", field))
	return nil
}
