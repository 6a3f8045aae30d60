package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	kubecore "k8s.io/api/core/v1"

	"deepreef/internal/jobstatus"
	"deepreef/internal/k8s"
	"deepreef/internal/models"
	"deepreef/internal/ws"
)

// handleListJobs returns the cached pod listing. Cluster trouble shows up as
// available=false, never as an error status.
func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusOK, jobstatus.Snapshot{Jobs: []kubecore.Pod{}, Available: false})
		return
	}
	if raw := r.URL.Query().Get("refresh"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil && v {
			s.jobs.Invalidate()
		}
	}
	writeJSON(w, http.StatusOK, s.jobs.Get(r.Context()))
}

func (s *server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "jobName")
	if s.jobAdmin == nil {
		writeError(w, http.StatusServiceUnavailable, "runai_disabled", k8s.ErrRunaiDisabled.Error(), nil)
		return
	}
	err := s.jobAdmin.DeleteJob(r.Context(), name)
	switch {
	case errors.Is(err, k8s.ErrInvalidJobName):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), map[string]any{"job": name})
		return
	case errors.Is(err, k8s.ErrRunaiDisabled):
		writeError(w, http.StatusServiceUnavailable, "runai_disabled", err.Error(), nil)
		return
	case err != nil:
		writeServiceError(w, err, "delete job")
		return
	}
	if s.jobs != nil {
		s.jobs.Invalidate()
	}
	s.hub.Publish(ws.Event{Type: ws.EventJobDeleted, ID: name})
	writeJSON(w, http.StatusOK, models.DeleteJobResponse{Job: name, Deleted: true})
}
