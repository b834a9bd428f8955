package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/curatelab/crossmap/internal/domain"
)

// Query runs a KNN vector similarity search via FT.SEARCH, returning
// candidates ordered by descending similarity.
func (s *Store) Query(
	ctx context.Context, collection string, vector []float32, topK int, include domain.Include,
) ([]domain.Candidate, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query %q: vector is required", collection)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("query %q: topK must be positive", collection)
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @vector $BLOB]", topK)

	returnFields := []string{"__vector_score", fieldContentHash}
	if include.Documents {
		returnFields = append(returnFields, fieldDocument)
	}
	// Metadata fields are dynamic, so RETURN cannot enumerate them; when
	// metadatas are requested the whole hash is fetched instead.
	args := []string{s.indexName(collection), queryStr}
	if !include.Metadatas {
		args = append(args, "RETURN", strconv.Itoa(len(returnFields)))
		args = append(args, returnFields...)
	}
	args = append(args,
		"SORTBY", "__vector_score",
		"LIMIT", "0", strconv.Itoa(topK),
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	)

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") {
			return nil, fmt.Errorf("query %q: %w", collection, domain.ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("ft.search %q: %w", collection, err)
	}

	return s.parseKNNResult(collection, raw, include)
}

// parseKNNResult decodes the RESP2 FT.SEARCH reply:
// [total, key1, fields1, key2, fields2, ...].
func (s *Store) parseKNNResult(
	collection string, raw []rueidis.RedisMessage, include domain.Include,
) ([]domain.Candidate, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	keyPrefix := s.keyPrefix(collection)
	candidates := make([]domain.Candidate, 0, total)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		m := parseFieldPairs(fields)

		cand := domain.Candidate{ID: strings.TrimPrefix(key, keyPrefix)}
		if scoreStr, ok := m["__vector_score"]; ok {
			if dist, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				cand.Similarity = similarityFromScore(s.metric, dist)
			}
		}
		if include.Documents {
			cand.Document = m[fieldDocument]
		}
		if include.Metadatas {
			meta := make(map[string]string)
			for k, v := range m {
				if name, ok := strings.CutPrefix(k, metaFieldPrefix); ok {
					meta[name] = v
				}
			}
			cand.Metadata = meta
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// similarityFromScore converts the FT distance score into a similarity
// under the store's metric. Cosine distance is 1-cos and IP distance is
// 1-dot, so both invert to the underlying similarity; L2 is negated so
// higher is always better. No clamping: negative cosine similarity is
// real signal, not noise.
func similarityFromScore(metric string, dist float64) float64 {
	switch metric {
	case "l2":
		return -dist
	default: // cosine, ip
		return 1.0 - dist
	}
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
