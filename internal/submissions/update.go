package submissions

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"deepreef/internal/models"
	"deepreef/internal/store"
	"deepreef/internal/ws"
)

var (
	ErrInvalidField       = errors.New("invalid field")
	ErrUnsupportedPayload = errors.New("only CSV payloads are supported")
)

// FieldError reports a field of an update body that cannot be applied.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

type fieldSetter func(field string, raw json.RawMessage, upd *store.SubmissionUpdate) error

// updatable lists the fields an update body may carry.
var updatable = map[string]fieldSetter{
	"name":        setString,
	"comment":     setString,
	"status":      setString,
	"transect_id": setUUID,
	// geometry is not editable through this endpoint
	"latitude":  ignore,
	"longitude": ignore,
	"video":     setVideo,
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func setString(field string, raw json.RawMessage, upd *store.SubmissionUpdate) error {
	if isNull(raw) {
		upd.Columns[field] = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return &FieldError{Field: field, Reason: "must be a string or null"}
	}
	upd.Columns[field] = v
	return nil
}

func setUUID(field string, raw json.RawMessage, upd *store.SubmissionUpdate) error {
	if isNull(raw) {
		upd.Columns[field] = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return &FieldError{Field: field, Reason: "must be a UUID or null"}
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return &FieldError{Field: field, Reason: "must be a UUID or null"}
	}
	upd.Columns[field] = id.String()
	return nil
}

func ignore(string, json.RawMessage, *store.SubmissionUpdate) error { return nil }

func setVideo(field string, raw json.RawMessage, upd *store.SubmissionUpdate) error {
	upd.ReplaceData = true
	if isNull(raw) {
		upd.DataRows = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return &FieldError{Field: field, Reason: "must be a base64 string or null"}
	}
	rows, err := DecodeCSVPayload(v)
	if err != nil {
		return err
	}
	upd.DataRows = rows
	return nil
}

// Update applies the fields of body to the submission. Fields outside the
// update set are rejected before anything is written.
func (s *Service) Update(ctx context.Context, id string, body map[string]json.RawMessage) (models.Submission, error) {
	if _, ok, err := s.store.GetSubmission(ctx, id); err != nil {
		return models.Submission{}, err
	} else if !ok {
		return models.Submission{}, ErrNotFound
	}

	fields := make([]string, 0, len(body))
	for f := range body {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	upd := store.SubmissionUpdate{Columns: map[string]any{}}
	for _, f := range fields {
		set, ok := updatable[f]
		if !ok {
			return models.Submission{}, &FieldError{Field: f, Reason: "unknown field"}
		}
		if err := set(f, body[f], &upd); err != nil {
			return models.Submission{}, err
		}
	}

	sub, ok, err := s.store.UpdateSubmission(ctx, id, upd)
	if err != nil {
		return models.Submission{}, err
	}
	if !ok {
		return models.Submission{}, ErrNotFound
	}
	out := s.withInputs(ctx, sub)
	s.hub.Publish(ws.Event{Type: ws.EventSubmissionUpdated, ID: id, Payload: fields})
	return out, nil
}

var csvMediaTypes = map[string]struct{}{
	"text/csv":                    {},
	"application/csv":             {},
	"text/comma-separated-values": {},
}

// DecodeCSVPayload decodes a base64 CSV document into its rows. The payload is
// either a data URL ("data:text/csv;base64,...") or bare base64, in which case
// the content is sniffed.
func DecodeCSVPayload(payload string) ([][]string, error) {
	declared := ""
	encoded := payload
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found {
			return nil, &FieldError{Field: "video", Reason: "malformed data URL"}
		}
		header, isBase64 := strings.CutSuffix(header, ";base64")
		if !isBase64 {
			return nil, &FieldError{Field: "video", Reason: "data URL must be base64 encoded"}
		}
		if header != "" {
			mt, _, err := mime.ParseMediaType(header)
			if err != nil {
				return nil, &FieldError{Field: "video", Reason: "malformed media type"}
			}
			declared = mt
		}
		encoded = data
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &FieldError{Field: "video", Reason: "invalid base64"}
	}

	if declared == "" {
		// a single-row CSV sniffs as text/plain; the reader below rejects malformed text
		if !isText(mimetype.Detect(raw)) {
			return nil, ErrUnsupportedPayload
		}
	} else if _, ok := csvMediaTypes[declared]; !ok {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedPayload, declared)
	}

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &FieldError{Field: "video", Reason: "malformed CSV: " + err.Error()}
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
