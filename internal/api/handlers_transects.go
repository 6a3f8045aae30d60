package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"deepreef/internal/models"
	"deepreef/internal/query"
	"deepreef/internal/store"
)

func (s *server) handleListTransects(w http.ResponseWriter, r *http.Request) {
	q, err := query.Parse(store.TransectFields, query.ParamsFromValues(r.URL.Query()))
	if err != nil {
		writeServiceError(w, err, "parse query")
		return
	}
	list, total, err := s.transects.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, err, "list transects")
		return
	}
	setContentRange(w, q, total)
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleCreateTransect(w http.ResponseWriter, r *http.Request) {
	var req models.TransectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	t, err := s.transects.Create(r.Context(), ownerFromContext(r.Context()), req)
	if err != nil {
		writeServiceError(w, err, "create transect")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *server) handleGetTransect(w http.ResponseWriter, r *http.Request) {
	t, err := s.transects.Get(r.Context(), chi.URLParam(r, "transectId"))
	if err != nil {
		writeServiceError(w, err, "load transect")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) handleUpdateTransect(w http.ResponseWriter, r *http.Request) {
	var req models.TransectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	t, err := s.transects.Update(r.Context(), chi.URLParam(r, "transectId"), req)
	if err != nil {
		writeServiceError(w, err, "update transect")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) handleDeleteTransect(w http.ResponseWriter, r *http.Request) {
	if _, err := s.transects.Delete(r.Context(), chi.URLParam(r, "transectId")); err != nil {
		writeServiceError(w, err, "delete transect")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
