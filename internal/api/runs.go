package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailaudit/mailaudit/internal/engine"
	"github.com/mailaudit/mailaudit/internal/model"
	"github.com/mailaudit/mailaudit/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// startRunRequest is the JSON body for POST /v1/runs.
type startRunRequest struct {
	DomainID string `json:"domain_id"`
	Kind     string `json:"kind"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs  []*model.Run `json:"runs"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "runs:start") {
		return
	}

	var req startRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DomainID == "" {
		s.writeError(w, http.StatusBadRequest, "domain_id is required")
		return
	}

	run, err := s.engine.Start(r.Context(), principal(r), req.DomainID, model.CheckKind(req.Kind))
	if err != nil {
		s.writeRunError(w, err, "start run")
		return
	}

	s.writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.engine.GetRun(r.Context(), principal(r), id)
	if err != nil {
		s.writeRunError(w, err, "get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page := parseIntQuery(r, "page", 1)
	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if page < 1 {
		page = 1
	}

	kind := r.URL.Query().Get("kind")
	if kind != "" && !model.ValidKind(model.CheckKind(kind)) {
		s.writeError(w, http.StatusBadRequest, "unknown check kind")
		return
	}

	filter := store.RunFilter{
		DomainID: r.URL.Query().Get("domain_id"),
		Kind:     model.CheckKind(kind),
		Status:   r.URL.Query().Get("status"),
	}

	runs, total, err := s.engine.ListRuns(r.Context(), principal(r), filter, page, limit)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:  runs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	runs, err := s.engine.ListPending(r.Context())
	if err != nil {
		s.logger.Error("list pending runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list pending runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r, "runs:retry") {
		return
	}

	id := chi.URLParam(r, "id")

	run, err := s.engine.Retry(r.Context(), principal(r), id)
	if err != nil {
		s.writeRunError(w, err, "retry run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

// writeRunError maps engine and store errors to HTTP responses.
func (s *Server) writeRunError(w http.ResponseWriter, err error, op string) {
	var conflict *engine.ConflictError
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &conflict):
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":           "a run for this domain and check kind is already in flight",
			"blocking_run_id": conflict.BlockingRunID,
		})
	case errors.Is(err, engine.ErrUnknownKind):
		s.writeError(w, http.StatusBadRequest, "unknown check kind")
	case errors.Is(err, store.ErrInvalidState):
		s.writeError(w, http.StatusBadRequest, "run is not in a retryable state")
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// admit checks the caller's sliding-window quota for the named operation and
// writes a 429 with rate headers when it is exhausted.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, op string) bool {
	if s.limiter == nil || s.cfg.RunRateLimit <= 0 {
		return true
	}

	res := s.limiter.Allow(op+":"+principal(r), s.cfg.RunRateLimit, s.cfg.RunRateWindow)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if res.Allowed {
		return true
	}

	retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.writeError(w, http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded, retry in %ds", retryAfter))
	return false
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
