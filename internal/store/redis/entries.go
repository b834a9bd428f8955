package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/rueidis"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/store"
)

// Hash field names. Metadata fields carry the "m:" prefix so they can never
// collide with the reserved ones.
const (
	fieldVector      = "vector"
	fieldDocument    = "document"
	fieldContentHash = "content_hash"
	metaFieldPrefix  = "m:"
)

// Upsert stores entries as HASHes in a single DoMulti round-trip. HSET on an
// existing key overwrites field-by-field, so re-upserting an unchanged entry
// is a no-op in effect.
func (s *Store) Upsert(ctx context.Context, collection string, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cmds := make([]rueidis.Completed, len(entries))
	for i, e := range entries {
		cmd := s.client.B().Hset().Key(s.entryKey(collection, e.ID)).FieldValue().
			FieldValue(fieldVector, vectorToBytes(e.Vector)).
			FieldValue(fieldDocument, e.Document).
			FieldValue(fieldContentHash, e.ContentHash)
		for k, v := range e.Metadata {
			cmd = cmd.FieldValue(metaFieldPrefix+k, v)
		}
		cmds[i] = cmd.Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("hset %s: %w", s.entryKey(collection, entries[i].ID), err)
		}
	}
	return nil
}

// Get fetches stored hashes for the given ids in a single DoMulti
// round-trip. Absent ids are omitted; entries missing the content_hash
// field are reported as malformed rather than treated as new.
func (s *Store) Get(ctx context.Context, collection string, ids []string) (store.GetResult, error) {
	if len(ids) == 0 {
		return store.GetResult{}, nil
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cmds := make([]rueidis.Completed, len(ids))
	for i, id := range ids {
		cmds[i] = s.client.B().Hmget().Key(s.entryKey(collection, id)).
			Field(fieldContentHash).Build()
	}

	var res store.GetResult
	results := s.client.DoMulti(ctx, cmds...)
	for i, r := range results {
		vals, err := r.ToArray()
		if err != nil {
			return store.GetResult{}, fmt.Errorf("hmget %s: %w", s.entryKey(collection, ids[i]), err)
		}
		if len(vals) == 0 || vals[0].IsNil() {
			// Key absent entirely vs. key present without a hash: EXISTS
			// distinguishes them below.
			exists, err := s.exists(ctx, s.entryKey(collection, ids[i]))
			if err != nil {
				return store.GetResult{}, err
			}
			if exists {
				res.Malformed = append(res.Malformed, ids[i])
			}
			continue
		}
		hash, err := vals[0].ToString()
		if err != nil || hash == "" {
			res.Malformed = append(res.Malformed, ids[i])
			continue
		}
		res.Entries = append(res.Entries, domain.StoredEntry{ID: ids[i], ContentHash: hash})
	}
	return res, nil
}

// Delete removes entries by id in a single DoMulti round-trip.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cmds := make([]rueidis.Completed, len(ids))
	for i, id := range ids {
		cmds[i] = s.client.B().Del().Key(s.entryKey(collection, id)).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("del %s: %w", s.entryKey(collection, ids[i]), err)
		}
	}
	return nil
}

// ListIDs scans the collection's key prefix and returns entry ids.
func (s *Store) ListIDs(ctx context.Context, collection string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	keyPrefix := s.keyPrefix(collection)

	var ids []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(keyPrefix + "*").Count(100).Build()
		res, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", collection, err)
		}
		for _, key := range res.Elements {
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	cmd := s.client.B().Exists().Key(key).Build()
	n, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}
