package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/embed"
	"github.com/curatelab/crossmap/internal/store"
)

// Updater reconciles an existing index against a revised source table.
// The stored content hash is the sole change trigger: absent id ⇒ NEW,
// differing hash ⇒ CHANGED, equal hash ⇒ skip. Classification runs
// independently per collection, so a change confined to one field never
// touches another field's collection.
type Updater struct {
	indexer
}

// UpdateStats reports what one collection's update did. Skipped entries are
// ids whose stored state was malformed; they are reported rather than
// re-embedded to avoid duplicating entries.
type UpdateStats struct {
	Collection string
	New        int
	Changed    int
	Unchanged  int
	Skipped    []string
}

// NewUpdater creates an updater.
func NewUpdater(st store.Store, enc embed.Encoder, opts Options, logger *zap.Logger) *Updater {
	return &Updater{indexer: newIndexer(st, enc, opts, logger)}
}

// Update reconciles each embedded field's collection against the revision.
// Re-invoking after a crash is safe: stored hashes are re-read before
// acting, so entries already confirmed upserted classify as UNCHANGED.
func (u *Updater) Update(ctx context.Context, revision []domain.DictionaryRecord, fields []string) ([]UpdateStats, error) {
	stats := make([]UpdateStats, 0, len(fields))
	for _, field := range fields {
		st, err := u.updateCollection(ctx, field, revision)
		if err != nil {
			return stats, err
		}
		stats = append(stats, st)
	}
	return stats, nil
}

func (u *Updater) updateCollection(ctx context.Context, field string, revision []domain.DictionaryRecord) (UpdateStats, error) {
	stats := UpdateStats{Collection: field}
	eligible := withField(revision, field)
	if len(eligible) == 0 {
		return stats, nil
	}

	stale, err := u.classify(ctx, field, eligible, &stats)
	if err != nil {
		return stats, err
	}

	u.logger.Info("collection diff",
		zap.String("collection", field),
		zap.Int("new", stats.New),
		zap.Int("changed", stats.Changed),
		zap.Int("unchanged", stats.Unchanged),
		zap.Strings("skipped", stats.Skipped))

	for _, batch := range batchify(stale, u.opts.MaxBatchSize) {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("update %q canceled: %w", field, err)
		}
		if err := u.embedAndUpsert(ctx, field, field, "update", batch); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// classify splits the revision into NEW/CHANGED (returned for re-embedding)
// and UNCHANGED/malformed (counted in stats). A collection that does not
// exist yet classifies every record as NEW.
func (u *Updater) classify(
	ctx context.Context, field string, eligible []domain.DictionaryRecord, stats *UpdateStats,
) ([]domain.DictionaryRecord, error) {
	stored := make(map[string]string, len(eligible))
	malformed := make(map[string]struct{})

	collectionExists := true
	for _, batch := range batchify(eligible, u.opts.MaxBatchSize) {
		ids := make([]string, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
		}
		res, err := u.store.Get(ctx, field, ids)
		if err != nil {
			if errorsIsCollectionNotFound(err) {
				collectionExists = false
				break
			}
			return nil, fmt.Errorf("read stored hashes for %q: %w", field, err)
		}
		for _, e := range res.Entries {
			stored[e.ID] = e.ContentHash
		}
		for _, id := range res.Malformed {
			malformed[id] = struct{}{}
		}
	}

	var stale []domain.DictionaryRecord
	for _, rec := range eligible {
		if !collectionExists {
			stats.New++
			stale = append(stale, rec)
			continue
		}
		if _, bad := malformed[rec.ID]; bad {
			// Never reclassified as NEW: upserting over unreadable state
			// risks duplicate or torn entries. Reported for manual repair.
			stats.Skipped = append(stats.Skipped, rec.ID)
			continue
		}
		storedHash, ok := stored[rec.ID]
		switch {
		case !ok:
			stats.New++
			stale = append(stale, rec)
		case storedHash != domain.ContentHash(rec.Fields[field]):
			stats.Changed++
			stale = append(stale, rec)
		default:
			stats.Unchanged++
		}
	}

	if len(stats.Skipped) > 0 {
		u.logger.Warn("skipping records with inconsistent stored entries",
			zap.String("collection", field),
			zap.Strings("ids", stats.Skipped),
			zap.Error(domain.ErrConsistency))
	}
	return stale, nil
}

// Prune removes entries whose ids are absent from the supplied full
// revision. It is an explicit, separately invoked operation: the updater
// itself never deletes.
func (u *Updater) Prune(ctx context.Context, revision []domain.DictionaryRecord, fields []string) (map[string][]string, error) {
	present := make(map[string]struct{}, len(revision))
	for _, rec := range revision {
		present[rec.ID] = struct{}{}
	}

	removed := make(map[string][]string, len(fields))
	for _, field := range fields {
		ids, err := u.pruneCollection(ctx, field, present)
		if err != nil {
			return removed, err
		}
		removed[field] = ids
	}
	return removed, nil
}

func (u *Updater) pruneCollection(ctx context.Context, field string, present map[string]struct{}) ([]string, error) {
	all, err := u.store.ListIDs(ctx, field)
	if err != nil {
		if errorsIsCollectionNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var stale []string
	for _, id := range all {
		if _, ok := present[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	unlock := u.locks.lock(field)
	defer unlock()

	for _, batch := range batchify(stale, u.opts.MaxBatchSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("prune %q canceled: %w", field, err)
		}
		if err := u.store.Delete(ctx, field, batch); err != nil {
			return nil, domain.NewBatchError("delete", field, batch, err)
		}
	}

	u.logger.Info("pruned stale entries",
		zap.String("collection", field), zap.Strings("ids", stale))
	return stale, nil
}

func errorsIsCollectionNotFound(err error) bool {
	return errors.Is(err, domain.ErrCollectionNotFound) || errors.Is(err, domain.ErrNotFound)
}
