// Package chi exposes the crossmap service over HTTP: an ad-hoc crossmap
// endpoint for single records, health, and Prometheus metrics.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/curatelab/crossmap/internal/crossmap"
	"github.com/curatelab/crossmap/internal/domain"
	"github.com/curatelab/crossmap/internal/store"
	"github.com/curatelab/crossmap/internal/version"
)

// Server handles the crossmap HTTP API.
type Server struct {
	service *crossmap.Service
	store   store.Store
	logger  *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(service *crossmap.Service, st store.Store, logger *zap.Logger) *Server {
	return &Server{service: service, store: st, logger: logger}
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(BearerAuthMiddleware(apiKeys))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/v1/crossmap", s.handleCrossmap)

	return r
}

// crossmapRequest is an ad-hoc record to map: field name → text, plus
// optional metadata.
type crossmapRequest struct {
	ID       string            `json:"id"`
	Fields   map[string]string `json:"fields"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type rankedMatchDTO struct {
	ID          string            `json:"id"`
	Rank        int               `json:"rank"`
	RerankScore float64           `json:"rerank_score"`
	Similarity  float64           `json:"similarity_score"`
	Document    string            `json:"document,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type crossmapResponse struct {
	ID      string                      `json:"id"`
	Matches map[string][]rankedMatchDTO `json:"matches"`
	Errors  map[string]string           `json:"errors,omitempty"`
}

// handleCrossmap maps one ad-hoc record against the reference index.
func (s *Server) handleCrossmap(w http.ResponseWriter, r *http.Request) {
	var req crossmapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "id is required")
		return
	}
	if len(req.Fields) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "fields must not be empty")
		return
	}

	rec := domain.DictionaryRecord{ID: req.ID, Fields: req.Fields, Metadata: req.Metadata}
	res := s.service.MapRecord(r.Context(), rec)

	resp := crossmapResponse{ID: res.RecordID, Matches: make(map[string][]rankedMatchDTO, len(res.Matches))}
	for name, matches := range res.Matches {
		dtos := make([]rankedMatchDTO, len(matches))
		for i, m := range matches {
			dtos[i] = rankedMatchDTO{
				ID:          m.ID,
				Rank:        m.Rank,
				RerankScore: m.RerankScore,
				Similarity:  m.Similarity,
				Document:    m.Document,
				Metadata:    m.Metadata,
			}
		}
		resp.Matches[name] = dtos
	}
	if len(res.Failed) > 0 {
		resp.Errors = make(map[string]string, len(res.Failed))
		for name, err := range res.Failed {
			resp.Errors[name] = safeErrorMessage(err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth reports readiness: the store must answer a collection
// listing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	collections, err := s.store.ListCollections(r.Context())
	if err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"version": version.Version,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version.Version,
		"collections": collections,
	})
}

// ListenAndServe runs the HTTP server until ctx is done, then shuts down
// gracefully.
func ListenAndServe(srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, done <-chan struct{}) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}

	logger.Info("shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeErrorMessage returns a sentinel error message for the client without
// exposing internals.
func safeErrorMessage(err error) string {
	sentinels := []error{
		domain.ErrCollectionNotFound,
		domain.ErrProviderTransient,
		domain.ErrProviderFatal,
		domain.ErrNotFound,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}
