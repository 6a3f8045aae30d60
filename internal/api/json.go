package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"deepreef/internal/logging"
	"deepreef/internal/models"
	"deepreef/internal/objectstore"
	"deepreef/internal/query"
	"deepreef/internal/store"
	"deepreef/internal/submissions"
	"deepreef/internal/transects"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	resp := models.ErrorResponse{
		Error: models.APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps service and store errors onto the HTTP taxonomy.
// what names the failed operation in the 500 message.
func writeServiceError(w http.ResponseWriter, err error, what string) {
	var (
		invalidParam *query.InvalidParamError
		fieldErr     *submissions.FieldError
		validation   *transects.ValidationError
		objErr       *objectstore.Error
	)
	switch {
	case errors.As(err, &invalidParam):
		writeError(w, http.StatusBadRequest, "invalid_query", invalidParam.Error(), map[string]any{"param": invalidParam.Param})
	case errors.Is(err, submissions.ErrNotFound), errors.Is(err, transects.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, submissions.ErrNoFiles),
		errors.Is(err, submissions.ErrDuplicateFilename),
		errors.Is(err, submissions.ErrInvalidFilename):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, submissions.ErrUnsupportedPayload):
		writeError(w, http.StatusBadRequest, "unsupported_payload", err.Error(), nil)
	case errors.As(err, &fieldErr):
		writeError(w, http.StatusBadRequest, "invalid_request", fieldErr.Error(), map[string]any{"field": fieldErr.Field})
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "invalid_request", validation.Error(), map[string]any{"field": validation.Field})
	case errors.Is(err, transects.ErrDuplicateName):
		writeError(w, http.StatusConflict, "conflict", transects.ErrDuplicateName.Error(), nil)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "resource already exists", nil)
	case errors.Is(err, store.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, "invalid_request", "referenced resource does not exist", nil)
	case errors.Is(err, submissions.ErrUploadFailed):
		logging.Errorf("%s: %v", what, err)
		details := map[string]any{}
		if errors.As(err, &objErr) {
			if objErr.Code != "" {
				details["code"] = objErr.Code
			}
			if objErr.StatusCode != 0 {
				details["status"] = objErr.StatusCode
			}
		}
		writeError(w, http.StatusInternalServerError, "upload_failed", submissions.ErrUploadFailed.Error(), details)
	default:
		logging.Errorf("%s: %v", what, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+what, nil)
	}
}
