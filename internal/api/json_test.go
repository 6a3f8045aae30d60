package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"deepreef/internal/models"
	"deepreef/internal/objectstore"
	"deepreef/internal/query"
	"deepreef/internal/store"
	"deepreef/internal/submissions"
	"deepreef/internal/transects"
)

func TestWriteServiceErrorMapping(t *testing.T) {
	_, parseErr := query.Parse(store.SubmissionFields, query.Params{Range: "[5,1]"})
	if parseErr == nil {
		t.Fatalf("expected a range error")
	}

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid query", parseErr, http.StatusBadRequest, "invalid_query"},
		{"submission missing", fmt.Errorf("load: %w", submissions.ErrNotFound), http.StatusNotFound, "not_found"},
		{"transect missing", transects.ErrNotFound, http.StatusNotFound, "not_found"},
		{"no files", submissions.ErrNoFiles, http.StatusBadRequest, "invalid_request"},
		{"duplicate filename", submissions.ErrDuplicateFilename, http.StatusBadRequest, "invalid_request"},
		{"payload", submissions.ErrUnsupportedPayload, http.StatusBadRequest, "unsupported_payload"},
		{"field", &submissions.FieldError{Field: "status", Reason: "must be a string or null"}, http.StatusBadRequest, "invalid_request"},
		{"validation", &transects.ValidationError{Field: "latitude_start", Reason: "out of range"}, http.StatusBadRequest, "invalid_request"},
		{"duplicate name", errors.Join(transects.ErrDuplicateName, store.ErrConflict), http.StatusConflict, "conflict"},
		{"reference", store.ErrInvalidReference, http.StatusBadRequest, "invalid_request"},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(rr, tc.err, "do the thing")
			if rr.Code != tc.status {
				t.Fatalf("status=%d, want %d", rr.Code, tc.status)
			}
			var resp models.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if resp.Error.Code != tc.code {
				t.Fatalf("error.code=%q, want %q", resp.Error.Code, tc.code)
			}
		})
	}
}

func TestWriteServiceErrorUploadDetails(t *testing.T) {
	cause := &objectstore.Error{Op: "put", Key: "reef/x/inputs/a.mp4", Code: "AccessDenied", StatusCode: 403, Err: errors.New("denied")}
	err := fmt.Errorf("%w: %s: %w", submissions.ErrUploadFailed, "a.mp4", cause)

	rr := httptest.NewRecorder()
	writeServiceError(rr, err, "create submission")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
	var resp models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != "upload_failed" {
		t.Fatalf("error.code=%q", resp.Error.Code)
	}
	if resp.Error.Details["code"] != "AccessDenied" || resp.Error.Details["status"] != float64(403) {
		t.Fatalf("details=%v", resp.Error.Details)
	}
}

func TestInternalErrorHidesCause(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(rr, errors.New("pq: password authentication failed"), "list transects")

	var resp models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Message != "failed to list transects" {
		t.Fatalf("message=%q", resp.Error.Message)
	}
}
