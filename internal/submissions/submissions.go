// Package submissions runs the submission lifecycle across the database and
// the object store.
package submissions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"deepreef/internal/logging"
	"deepreef/internal/metrics"
	"deepreef/internal/models"
	"deepreef/internal/objectstore"
	"deepreef/internal/query"
	"deepreef/internal/store"
	"deepreef/internal/ws"
)

var (
	ErrNotFound          = errors.New("submission not found")
	ErrNoFiles           = errors.New("at least one file must be provided")
	ErrDuplicateFilename = errors.New("all files must have distinct filenames")
	ErrInvalidFilename   = errors.New("invalid filename")
	ErrUploadFailed      = errors.New("failed to upload file to the object store")
)

// RunStatusSource reports cluster pods for a submission without blocking.
type RunStatusSource interface {
	RunStatus(submissionID string) []models.RunStatus
}

type Options struct {
	Store   *store.Store
	Objects objectstore.Store
	// Prefix is the object store key prefix shared by all submissions.
	Prefix  string
	Jobs    RunStatusSource
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	// NewID overrides uuid.NewString for submission and input object ids.
	NewID func() string
}

type Service struct {
	store   *store.Store
	objects objectstore.Store
	prefix  string
	jobs    RunStatusSource
	hub     *ws.Hub
	metrics *metrics.Metrics
	newID   func() string
}

func New(opts Options) *Service {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		store:   opts.Store,
		objects: opts.Objects,
		prefix:  opts.Prefix,
		jobs:    opts.Jobs,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		newID:   newID,
	}
}

// Upload is one file of a create request.
type Upload struct {
	Filename    string
	Size        int64
	ContentType string
	Body        io.ReadSeeker
}

type CreateInput struct {
	Files      []Upload
	TransectID *string
	Owner      *string
}

func validateUploads(files []Upload) error {
	if len(files) == 0 {
		return ErrNoFiles
	}
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if !objectstore.ValidFilename(f.Filename) {
			return fmt.Errorf("%w: %q", ErrInvalidFilename, f.Filename)
		}
		if _, ok := seen[f.Filename]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateFilename, f.Filename)
		}
		seen[f.Filename] = struct{}{}
	}
	return nil
}

// Create stores a new submission row and uploads every file under its input
// prefix. Any failure undoes the row and every object put so far.
func (s *Service) Create(ctx context.Context, in CreateInput) (models.Submission, error) {
	if err := validateUploads(in.Files); err != nil {
		return models.Submission{}, err
	}
	if in.TransectID != nil {
		if _, err := uuid.Parse(*in.TransectID); err != nil {
			return models.Submission{}, &FieldError{Field: "transect_id", Reason: "must be a UUID"}
		}
	}

	sub, err := s.store.CreateSubmission(ctx, store.NewSubmission{
		ID:         s.newID(),
		Owner:      in.Owner,
		TransectID: in.TransectID,
	})
	if err != nil {
		return models.Submission{}, err
	}

	var rb rollback
	rb.add("delete submission "+sub.ID, func(ctx context.Context) error {
		_, err := s.store.DeleteSubmission(ctx, sub.ID)
		return err
	})

	batchID := ulid.Make().String()
	records := make([]store.InputObjectRecord, 0, len(in.Files))
	for _, f := range in.Files {
		key := objectstore.InputKey(s.prefix, sub.ID, f.Filename)
		// registered before the put: a failed put may still have left bytes behind
		rb.add("delete object "+key, func(ctx context.Context) error {
			return s.objects.Delete(ctx, []string{key})
		})

		size, err := s.put(ctx, key, batchID, sub.ID, f)
		s.metrics.ObserveUpload(size, err)
		if err != nil {
			s.undo(ctx, &rb)
			return models.Submission{}, fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Filename, err)
		}
		records = append(records, store.InputObjectRecord{ID: s.newID(), Filename: f.Filename, SizeBytes: size})
	}

	if err := s.store.RecordInputObjects(ctx, sub, records); err != nil {
		s.undo(ctx, &rb)
		return models.Submission{}, fmt.Errorf("record input objects: %w", err)
	}

	s.metrics.IncSubmissionsCreated()
	logging.Infof("submission %s created with %d file(s), batch %s", sub.ID, len(in.Files), batchID)

	out := s.withInputs(ctx, sub)
	s.hub.Publish(ws.Event{Type: ws.EventSubmissionCreated, ID: sub.ID, Payload: out})
	return out, nil
}

func (s *Service) undo(ctx context.Context, rb *rollback) {
	if failed := rb.run(ctx); failed > 0 {
		s.metrics.IncRollbacks("partial")
		return
	}
	s.metrics.IncRollbacks("clean")
}

func (s *Service) put(ctx context.Context, key, batchID, submissionID string, f Upload) (int64, error) {
	if f.Body == nil {
		return 0, errors.New("missing file body")
	}
	contentType := f.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		mt, err := mimetype.DetectReader(f.Body)
		if err != nil {
			return 0, err
		}
		contentType = mt.String()
		if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
	}
	size := f.Size
	if size <= 0 {
		end, err := f.Body.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		size = end
	}
	err := s.objects.Put(ctx, objectstore.PutInput{
		Key:         key,
		Body:        f.Body,
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"batch-id":      batchID,
			"submission-id": submissionID,
		},
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

// Get returns the submission merged with its object store inputs and run status.
func (s *Service) Get(ctx context.Context, id string) (models.Submission, error) {
	sub, ok, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	if !ok {
		return models.Submission{}, ErrNotFound
	}
	return s.withInputs(ctx, sub), nil
}

func (s *Service) withInputs(ctx context.Context, sub models.Submission) models.Submission {
	sub.RunStatus = s.runStatus(sub.ID)
	sub.Inputs = []models.InputFile{}
	objects, err := s.objects.List(ctx, objectstore.InputsPrefix(s.prefix, sub.ID))
	if err != nil {
		logging.Warnf("list inputs of submission %s: %v", sub.ID, err)
		return sub
	}
	for _, obj := range objects {
		_, filename, ok := objectstore.ParseInputKey(s.prefix, obj.Key)
		if !ok {
			continue
		}
		in := models.InputFile{
			Key:      obj.Key,
			Filename: filename,
			Size:     obj.Size,
			ETag:     obj.ETag,
		}
		if !obj.LastModified.IsZero() {
			in.LastModified = obj.LastModified.UTC().Format(time.RFC3339)
		}
		sub.Inputs = append(sub.Inputs, in)
	}
	return sub
}

func (s *Service) runStatus(id string) []models.RunStatus {
	if s.jobs == nil {
		return []models.RunStatus{}
	}
	return s.jobs.RunStatus(id)
}

// List returns one page of submissions and the filtered total. Inputs are not
// listed per row.
func (s *Service) List(ctx context.Context, q query.Query) ([]models.Submission, int64, error) {
	subs, total, err := s.store.ListSubmissions(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	for i := range subs {
		subs[i].RunStatus = s.runStatus(subs[i].ID)
	}
	return subs, total, nil
}

// Delete removes the row and its data rows. A missing submission is not an
// error; stored objects are kept.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.store.DeleteSubmission(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.hub.Publish(ws.Event{Type: ws.EventSubmissionDeleted, ID: id})
	}
	return deleted, nil
}

// Data returns the CSV rows stored through the video field.
func (s *Service) Data(ctx context.Context, id string) (models.SubmissionData, error) {
	_, ok, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return models.SubmissionData{}, err
	}
	if !ok {
		return models.SubmissionData{}, ErrNotFound
	}
	rows, err := s.store.SubmissionData(ctx, id)
	if err != nil {
		return models.SubmissionData{}, err
	}
	return models.SubmissionData{SubmissionID: id, Rows: rows}, nil
}
