package store

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
	"gorm.io/gorm"

	"deepreef/internal/geometry"
	"deepreef/internal/models"
	"deepreef/internal/query"
)

var TransectFields = query.Fields{
	Resource:     "transects",
	DefaultOrder: "iterator",
	ByName: map[string]query.Field{
		"id":           {Column: "id", Match: query.MatchEqual, Kind: query.KindUUID, Sortable: true},
		"name":         {Column: "name", Match: query.MatchContains, Sortable: true},
		"description":  {Column: "description", Match: query.MatchContains, Sortable: true},
		"length":       {Column: "length", Match: query.MatchEqual, Kind: query.KindNumber, Sortable: true},
		"depth":        {Column: "depth", Match: query.MatchEqual, Kind: query.KindNumber, Sortable: true},
		"owner":        {Column: "owner", Match: query.MatchEqual, Kind: query.KindUUID},
		"created_on":   {Column: "created_on", Match: query.MatchContains, Sortable: true},
		"last_updated": {Column: "last_updated", Match: query.MatchContains, Sortable: true},
	},
}

type TransectInput struct {
	Name        string
	Description *string
	Length      *float64
	Depth       *float64
	Line        orb.LineString
}

func transectFromRow(row transectRow) models.Transect {
	out := models.Transect{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Length:      row.Length,
		Depth:       row.Depth,
		Owner:       row.Owner,
		CreatedOn:   row.CreatedOn,
		LastUpdated: row.LastUpdated,
		Inputs:      []models.InputObject{},
		Submissions: []models.SubmissionSummary{},
	}
	if row.Geom.Valid {
		out.Endpoints = geometry.LineEndpoints(row.Geom.LineString)
		out.Geom = geometry.GeoJSON(row.Geom.LineString)
	}
	return out
}

func (s *Store) CreateTransect(ctx context.Context, id string, owner *string, in TransectInput) (models.Transect, error) {
	now := s.timestamp()
	row := transectRow{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Length:      in.Length,
		Depth:       in.Depth,
		Geom:        geometry.NewNullLine(in.Line),
		Owner:       owner,
		CreatedOn:   now,
		LastUpdated: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Transect{}, classify(err)
	}
	return transectFromRow(row), nil
}

// GetTransect loads a transect with its input objects and submissions.
func (s *Store) GetTransect(ctx context.Context, id string) (models.Transect, bool, error) {
	var row transectRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Transect{}, false, nil
		}
		return models.Transect{}, false, err
	}
	out := transectFromRow(row)

	inputs, err := s.listInputObjects(ctx, "transect_id = ?", id)
	if err != nil {
		return models.Transect{}, false, err
	}
	out.Inputs = inputs

	subs, err := s.ListSubmissionSummariesByTransect(ctx, id)
	if err != nil {
		return models.Transect{}, false, err
	}
	out.Submissions = subs
	return out, true, nil
}

func (s *Store) ListTransects(ctx context.Context, q query.Query) ([]models.Transect, int64, error) {
	var total int64
	if err := q.Where(s.db.WithContext(ctx).Model(&transectRow{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []transectRow
	if err := q.Page(s.db.WithContext(ctx).Model(&transectRow{})).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]models.Transect, 0, len(rows))
	for _, row := range rows {
		out = append(out, transectFromRow(row))
	}
	return out, total, nil
}

// UpdateTransect replaces the editable fields of a transect, geometry included.
func (s *Store) UpdateTransect(ctx context.Context, id string, in TransectInput) (models.Transect, bool, error) {
	res := s.db.WithContext(ctx).
		Model(&transectRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":         in.Name,
			"description":  in.Description,
			"length":       in.Length,
			"depth":        in.Depth,
			"geom":         geometry.NewNullLine(in.Line),
			"last_updated": s.timestamp(),
		})
	if res.Error != nil {
		return models.Transect{}, false, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.Transect{}, false, nil
	}
	return s.GetTransect(ctx, id)
}

func (s *Store) DeleteTransect(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&transectRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) listInputObjects(ctx context.Context, where string, arg any) ([]models.InputObject, error) {
	var rows []inputObjectRow
	if err := s.db.WithContext(ctx).Where(where, arg).Order("iterator").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.InputObject, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.InputObject{
			ID:           row.ID,
			SubmissionID: row.SubmissionID,
			Filename:     row.Filename,
			SizeBytes:    row.SizeBytes,
			TransectID:   row.TransectID,
			Owner:        row.Owner,
			TimeAddedUTC: row.TimeAddedUTC,
		})
	}
	return out, nil
}
