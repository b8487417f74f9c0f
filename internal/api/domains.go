package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailaudit/mailaudit/internal/hub"
	"github.com/mailaudit/mailaudit/internal/model"
	"github.com/mailaudit/mailaudit/internal/store"
)

// createDomainRequest is the JSON body for POST /v1/domains.
type createDomainRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req createDomainRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name, err := model.NormalizeDomainName(req.Name)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid domain name")
		return
	}

	now := time.Now().UTC()
	d := &model.Domain{
		ID:        model.NewID(),
		OwnerID:   principal(r),
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateDomain(r.Context(), d); err != nil {
		if errors.Is(err, store.ErrDuplicateDomain) {
			s.writeError(w, http.StatusConflict, "domain already registered")
			return
		}
		s.logger.Error("create domain", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create domain")
		return
	}

	s.hub.Publish(d.OwnerID, "", hub.Event{Type: hub.EventDomainChanged, Domain: d})
	s.writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.store.ListDomains(r.Context(), principal(r))
	if err != nil {
		s.logger.Error("list domains", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}

	if domains == nil {
		domains = []*model.Domain{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.store.GetDomain(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && d.OwnerID != principal(r)) {
		s.writeError(w, http.StatusNotFound, "domain not found")
		return
	}
	if err != nil {
		s.logger.Error("get domain", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get domain")
		return
	}

	if err := s.store.DeactivateDomain(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "domain not found")
			return
		}
		s.logger.Error("deactivate domain", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to deactivate domain")
		return
	}

	d.Active = false
	s.hub.Publish(d.OwnerID, "", hub.Event{Type: hub.EventDomainChanged, Domain: d})
	s.writeJSON(w, http.StatusOK, d)
}
