// Package transects validates and stores survey transects.
package transects

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"deepreef/internal/geometry"
	"deepreef/internal/models"
	"deepreef/internal/query"
	"deepreef/internal/store"
	"deepreef/internal/ws"
)

var (
	ErrNotFound     = errors.New("transect not found")
	ErrInvalidInput = errors.New("invalid transect")
	// ErrDuplicateName is returned when another transect already uses the name.
	ErrDuplicateName = errors.New("transect name already exists")
)

// ValidationError names the first offending field of a transect request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

type RunStatusSource interface {
	RunStatus(submissionID string) []models.RunStatus
}

type Options struct {
	Store *store.Store
	Jobs  RunStatusSource
	Hub   *ws.Hub
	NewID func() string
}

type Service struct {
	store *store.Store
	jobs  RunStatusSource
	hub   *ws.Hub
	newID func() string
}

func New(opts Options) *Service {
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{store: opts.Store, jobs: opts.Jobs, hub: opts.Hub, newID: newID}
}

func checkRange(field string, v *float64, lo, hi float64) error {
	if v == nil {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if math.IsNaN(*v) || *v < lo || *v > hi {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be between %g and %g", lo, hi)}
	}
	return nil
}

func checkNonNegative(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return &ValidationError{Field: field, Reason: "must be zero or greater"}
	}
	return nil
}

// Validate turns a request into store input.
func Validate(req models.TransectRequest) (store.TransectInput, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return store.TransectInput{}, &ValidationError{Field: "name", Reason: "is required"}
	}
	checks := []error{
		checkRange("latitude_start", req.LatitudeStart, -90, 90),
		checkRange("longitude_start", req.LongitudeStart, -180, 180),
		checkRange("latitude_end", req.LatitudeEnd, -90, 90),
		checkRange("longitude_end", req.LongitudeEnd, -180, 180),
		checkNonNegative("length", req.Length),
		checkNonNegative("depth", req.Depth),
	}
	for _, err := range checks {
		if err != nil {
			return store.TransectInput{}, err
		}
	}
	return store.TransectInput{
		Name:        name,
		Description: req.Description,
		Length:      req.Length,
		Depth:       req.Depth,
		Line:        geometry.NewLine(*req.LatitudeStart, *req.LongitudeStart, *req.LatitudeEnd, *req.LongitudeEnd),
	}, nil
}

func mapStoreError(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return errors.Join(ErrDuplicateName, err)
	}
	return err
}

func (s *Service) Create(ctx context.Context, owner *string, req models.TransectRequest) (models.Transect, error) {
	in, err := Validate(req)
	if err != nil {
		return models.Transect{}, err
	}
	t, err := s.store.CreateTransect(ctx, s.newID(), owner, in)
	if err != nil {
		return models.Transect{}, mapStoreError(err)
	}
	s.hub.Publish(ws.Event{Type: ws.EventTransectCreated, ID: t.ID, Payload: t})
	return t, nil
}

// Get returns the transect with its inputs and submissions; each submission
// carries its cached run status.
func (s *Service) Get(ctx context.Context, id string) (models.Transect, error) {
	t, ok, err := s.store.GetTransect(ctx, id)
	if err != nil {
		return models.Transect{}, err
	}
	if !ok {
		return models.Transect{}, ErrNotFound
	}
	if s.jobs != nil {
		for i := range t.Submissions {
			t.Submissions[i].RunStatus = s.jobs.RunStatus(t.Submissions[i].ID)
		}
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, q query.Query) ([]models.Transect, int64, error) {
	return s.store.ListTransects(ctx, q)
}

func (s *Service) Update(ctx context.Context, id string, req models.TransectRequest) (models.Transect, error) {
	in, err := Validate(req)
	if err != nil {
		return models.Transect{}, err
	}
	t, ok, err := s.store.UpdateTransect(ctx, id, in)
	if err != nil {
		return models.Transect{}, mapStoreError(err)
	}
	if !ok {
		return models.Transect{}, ErrNotFound
	}
	s.hub.Publish(ws.Event{Type: ws.EventTransectUpdated, ID: id, Payload: t})
	return t, nil
}

// Delete removes the transect. Submissions that referenced it are kept with a
// cleared transect_id.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.store.DeleteTransect(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.hub.Publish(ws.Event{Type: ws.EventTransectDeleted, ID: id})
	}
	return deleted, nil
}
