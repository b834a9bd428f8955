package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curatelab/crossmap/internal/domain"
)

// HTTPScorer scores pairs via a Jina-compatible rerank API, as served by
// vLLM, LocalAI, text-embeddings-inference, and Jina AI.
type HTTPScorer struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// HTTPConfig holds the rerank endpoint settings.
type HTTPConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPScorer creates a Jina-compatible rerank client.
func NewHTTPScorer(cfg HTTPConfig) *HTTPScorer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPScorer{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score implements Scorer. The API returns results in relevance order keyed
// by input index; scores are re-aligned with the input documents here.
func (s *HTTPScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     s.model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %v: %w", err, domain.ErrProviderTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		wrap := domain.ErrProviderFatal
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			wrap = domain.ErrProviderTransient
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank API error %d: %s: %w", resp.StatusCode, msg, wrap)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Results) != len(documents) {
		return nil, fmt.Errorf("rerank API returned %d scores for %d documents: %w",
			len(parsed.Results), len(documents), domain.ErrProviderFatal)
	}

	scores := make([]float64, len(documents))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank API result index %d out of range: %w",
				r.Index, domain.ErrProviderFatal)
		}
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}
