package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/curatelab/crossmap/internal/domain"
)

func TestHTTPScorer_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "bge-reranker" || req.Query != "age" || len(req.Documents) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		// Relevance order differs from input order; scores key by index.
		_, _ = w.Write([]byte(`{"results":[
			{"index":1,"relevance_score":0.9},
			{"index":0,"relevance_score":0.3}
		]}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{BaseURL: srv.URL, Model: "bge-reranker"})
	scores, err := s.Score(context.Background(), "age", []string{"height", "participant age"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores[0] != 0.3 || scores[1] != 0.9 {
		t.Errorf("scores %v not realigned to input order", scores)
	}
}

func TestHTTPScorer_SendsBearerKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("authorization header %q", got)
		}
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{BaseURL: srv.URL, APIKey: "sekrit"})
	if _, err := s.Score(context.Background(), "q", []string{"doc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHTTPScorer_RateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{BaseURL: srv.URL})
	_, err := s.Score(context.Background(), "q", []string{"doc"})
	if !errors.Is(err, domain.ErrProviderTransient) {
		t.Fatalf("expected ErrProviderTransient on 429, got %v", err)
	}
}

func TestHTTPScorer_BadRequestIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{BaseURL: srv.URL})
	_, err := s.Score(context.Background(), "q", []string{"doc"})
	if !errors.Is(err, domain.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal on 400, got %v", err)
	}
}

func TestHTTPScorer_ResultCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{BaseURL: srv.URL})
	_, err := s.Score(context.Background(), "q", []string{"doc a", "doc b"})
	if !errors.Is(err, domain.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal on result count mismatch, got %v", err)
	}
}

func TestHTTPScorer_IndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":5,"relevance_score":0.5}]}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(HTTPConfig{BaseURL: srv.URL})
	_, err := s.Score(context.Background(), "q", []string{"doc"})
	if !errors.Is(err, domain.ErrProviderFatal) {
		t.Fatalf("expected ErrProviderFatal on bad index, got %v", err)
	}
}

func TestHTTPScorer_EmptyDocuments(t *testing.T) {
	s := NewHTTPScorer(HTTPConfig{BaseURL: "http://unused"})
	scores, err := s.Score(context.Background(), "q", nil)
	if err != nil || scores != nil {
		t.Fatalf("got %v, %v; want nil, nil without any request", scores, err)
	}
}
