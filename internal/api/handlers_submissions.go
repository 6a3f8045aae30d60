package api

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"deepreef/internal/query"
	"deepreef/internal/store"
	"deepreef/internal/submissions"
)

const multipartMemory = 32 << 20

// setContentRange exposes the page window so browser clients can read it.
func setContentRange(w http.ResponseWriter, q query.Query, total int64) {
	w.Header().Set("Content-Range", q.ContentRange(total))
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range")
}

func (s *server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q, err := query.Parse(store.SubmissionFields, query.ParamsFromValues(r.URL.Query()))
	if err != nil {
		writeServiceError(w, err, "parse query")
		return
	}
	subs, total, err := s.submissions.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, err, "list submissions")
		return
	}
	setContentRange(w, q, total)
	writeJSON(w, http.StatusOK, subs)
}

func (s *server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	release, ok := s.acquireUploadSlot(w)
	if !ok {
		return
	}
	defer release()

	if s.cfg.UploadMaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit", map[string]any{"maxBytes": s.cfg.UploadMaxBytes})
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "expected multipart/form-data", map[string]any{"error": err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	files := make([]submissions.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "failed to read uploaded file", map[string]any{"filename": fh.Filename})
			return
		}
		defer func(f multipart.File) { _ = f.Close() }(f)
		files = append(files, submissions.Upload{
			Filename:    fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}

	in := submissions.CreateInput{Files: files, Owner: ownerFromContext(r.Context())}
	if tid := strings.TrimSpace(r.FormValue("transect_id")); tid != "" {
		in.TransectID = &tid
	}

	sub, err := s.submissions.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err, "create submission")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.submissions.Get(r.Context(), chi.URLParam(r, "submissionId"))
	if err != nil {
		writeServiceError(w, err, "load submission")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *server) handleGetSubmissionData(w http.ResponseWriter, r *http.Request) {
	data, err := s.submissions.Data(r.Context(), chi.URLParam(r, "submissionId"))
	if err != nil {
		writeServiceError(w, err, "load submission data")
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body", map[string]any{"error": err.Error()})
		return
	}
	sub, err := s.submissions.Update(r.Context(), chi.URLParam(r, "submissionId"), body)
	if err != nil {
		writeServiceError(w, err, "update submission")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	if _, err := s.submissions.Delete(r.Context(), chi.URLParam(r, "submissionId")); err != nil {
		writeServiceError(w, err, "delete submission")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
