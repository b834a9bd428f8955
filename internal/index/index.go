// Package index builds and maintains the per-field collections of the
// reference dictionary index. The builder constructs collections from a
// full source table; the updater reconciles them against a revised table
// using content-hash change detection.
package index

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/embed"
	"github.com/curatelab/crossmap/internal/metrics"
	"github.com/curatelab/crossmap/internal/store"
)

// Options configure builder and updater behavior.
type Options struct {
	// MaxBatchSize is the store's hard per-call ceiling. Batches never
	// exceed it.
	MaxBatchSize int
	// MaxAttempts bounds retries of a failed batch embed or upsert.
	MaxAttempts int
	// Metric is the collection distance metric (cosine, l2, ip).
	Metric string
}

func (o *Options) applyDefaults() {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.Metric == "" {
		o.Metric = "cosine"
	}
}

// indexer carries the shared build/update machinery: batching, retry with
// backoff, and per-collection writer serialization.
type indexer struct {
	store  store.Store
	enc    embed.Encoder
	opts   Options
	locks  *collectionLocks
	logger *zap.Logger
}

func newIndexer(st store.Store, enc embed.Encoder, opts Options, logger *zap.Logger) indexer {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return indexer{
		store:  st,
		enc:    enc,
		opts:   opts,
		locks:  newCollectionLocks(),
		logger: logger,
	}
}

// embedAndUpsert embeds one batch of records' field texts and upserts the
// resulting entries into the collection, retrying transient failures.
// A batch that exhausts its retries fails with the offending record ids.
// op labels the metrics origin ("build" or "update").
func (ix *indexer) embedAndUpsert(
	ctx context.Context, collection, field, op string, batch []domain.DictionaryRecord,
) error {
	ids := make([]string, len(batch))
	texts := make([]string, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
		texts[i] = rec.Fields[field]
	}

	var vectors [][]float32
	err := ix.retry(ctx, collection, func() error {
		var err error
		vectors, err = ix.enc.Encode(ctx, texts)
		return err
	})
	if err != nil {
		return domain.NewBatchError("embed", collection, ids, err)
	}

	entries := make([]domain.IndexEntry, len(batch))
	for i, rec := range batch {
		entries[i] = domain.NewIndexEntry(rec.ID, texts[i], vectors[i], rec.Metadata)
	}

	// First successful embedding fixes the collection's dimensionality.
	if err := ix.store.EnsureCollection(ctx, collection, len(vectors[0]), ix.opts.Metric); err != nil {
		return domain.NewBatchError("ensure", collection, ids, err)
	}

	unlock := ix.locks.lock(collection)
	defer unlock()

	err = ix.retry(ctx, collection, func() error {
		return ix.store.Upsert(ctx, collection, entries)
	})
	if err != nil {
		return domain.NewBatchError("upsert", collection, ids, err)
	}

	metrics.IndexUpsertsTotal.WithLabelValues(collection, op).Add(float64(len(entries)))
	return nil
}

// retry runs op with exponential backoff, bounded by MaxAttempts. Fatal
// provider errors and context cancellation stop immediately.
func (ix *indexer) retry(ctx context.Context, collection string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(ix.opts.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		metrics.IndexBatchRetriesTotal.WithLabelValues(collection).Inc()
		ix.logger.Warn("retrying batch",
			zap.String("collection", collection), zap.Error(err))
		return err
	}, policy)
}

// isPermanent reports whether err can never succeed on retry. Provider
// failures follow the embed taxonomy (a per-attempt deadline expiring is
// transient). Unclassified store I/O failures are treated as transient;
// the stores' per-call timeouts make the retry loop converge either way.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	if embed.IsTransient(err) {
		return false
	}
	return errors.Is(err, domain.ErrProviderFatal) ||
		errors.Is(err, domain.ErrBatchTooLarge) ||
		errors.Is(err, domain.ErrConfig)
}

// batchify partitions items into chunks of at most size elements.
func batchify[T any](items []T, size int) [][]T {
	if size <= 0 {
		return [][]T{items}
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// withField filters records that carry a non-empty value for the field.
func withField(records []domain.DictionaryRecord, field string) []domain.DictionaryRecord {
	out := make([]domain.DictionaryRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := rec.Field(field); ok {
			out = append(out, rec)
		}
	}
	return out
}

// collectionLocks serializes writers per collection: upsert-by-id is not
// guaranteed atomic across concurrent writers by the underlying store.
// Readers are not blocked; queries may observe a partially updated
// collection.
type collectionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCollectionLocks() *collectionLocks {
	return &collectionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *collectionLocks) lock(name string) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
