// Package redis implements the vector store capability on Redis 8+ /
// RediSearch via rueidis. Each collection is one FT index over HASH keys
// with an HNSW vector field; upsert is HSET keyed by record id.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/store"
)

// Compile-time check: Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Config holds connection parameters for a Redis store.
type Config struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	// Metric is the distance metric collections are created with (cosine,
	// l2, ip). Query results are converted to similarities under it.
	Metric string
	// RequestTimeout bounds every store call so a hung server fails the
	// attempt instead of blocking a batch. Zero means 10s.
	RequestTimeout time.Duration
}

// Store implements store.Store via rueidis.
type Store struct {
	client  rueidis.Client
	prefix  string
	metric  string
	timeout time.Duration
}

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "crossmap:"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	metric := cfg.Metric
	if metric == "" {
		metric = "cosine"
	}
	return &Store{client: client, prefix: prefix, metric: metric, timeout: timeout}, nil
}

// opCtx derives a per-call deadline. Callers retrying a failed call get a
// fresh deadline per attempt.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for store: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// indexName returns the FT index name for a collection.
func (s *Store) indexName(collection string) string {
	return s.prefix + "idx:" + collection
}

// entryKey returns the HASH key for one entry.
func (s *Store) entryKey(collection, id string) string {
	return s.prefix + collection + ":" + id
}

// keyPrefix returns the HASH key prefix covered by a collection's index.
func (s *Store) keyPrefix(collection string) string {
	return s.prefix + collection + ":"
}

// EnsureCollection creates the FT index for a collection if absent.
func (s *Store) EnsureCollection(ctx context.Context, name string, dim int, metric string) error {
	if dim <= 0 {
		return fmt.Errorf("ensure collection %q: vector dim must be positive", name)
	}

	args := []string{
		s.indexName(name),
		"ON", "HASH",
		"PREFIX", "1", s.keyPrefix(name),
		"SCHEMA",
		"vector", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", ftMetric(metric),
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cmd := s.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("ft.create %q: %w", name, err)
	}
	return nil
}

// ListCollections returns collection names derived from FT._LIST.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cmd := s.client.B().Arbitrary("FT._LIST").Build()
	names, err := s.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("ft._list: %w", err)
	}

	idxPrefix := s.prefix + "idx:"
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, idxPrefix) {
			out = append(out, strings.TrimPrefix(n, idxPrefix))
		}
	}
	return out, nil
}

// Count returns document count via FT.SEARCH with LIMIT 0 0.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cmd := s.client.B().Arbitrary("FT.SEARCH").
		Args(s.indexName(collection), "*", "LIMIT", "0", "0").Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") {
			return 0, fmt.Errorf("count %q: %w", collection, domain.ErrCollectionNotFound)
		}
		return 0, fmt.Errorf("count %q: %w", collection, err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

// ftMetric maps a config metric onto the FT.CREATE DISTANCE_METRIC value.
func ftMetric(metric string) string {
	switch metric {
	case "l2":
		return "L2"
	case "ip":
		return "IP"
	default:
		return "COSINE"
	}
}

// isRedisErr checks if err is a Redis server error containing substr
// (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
