package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"deepreef/internal/models"
	"deepreef/internal/query"
)

// SubmissionFields lists the submission fields clients may filter and sort on.
var SubmissionFields = query.Fields{
	Resource:     "submissions",
	DefaultOrder: "iterator",
	ByName: map[string]query.Field{
		"id":             {Column: "id", Match: query.MatchEqual, Kind: query.KindUUID, Sortable: true},
		"submission_id":  {Column: "id", Match: query.MatchEqual, Kind: query.KindUUID},
		"name":           {Column: "name", Match: query.MatchContains, Sortable: true},
		"comment":        {Column: "comment", Match: query.MatchContains, Sortable: true},
		"status":         {Column: "status", Match: query.MatchContains, Sortable: true},
		"transect_id":    {Column: "transect_id", Match: query.MatchEqual, Kind: query.KindUUID, Sortable: true},
		"owner":          {Column: "owner", Match: query.MatchEqual, Kind: query.KindUUID},
		"time_added_utc": {Column: "time_added_utc", Match: query.MatchContains, Sortable: true},
		"last_updated":   {Column: "last_updated", Match: query.MatchContains, Sortable: true},
	},
}

// submissionColumns are the columns UpdateSubmission accepts.
var submissionColumns = map[string]struct{}{
	"name":        {},
	"comment":     {},
	"status":      {},
	"transect_id": {},
}

type NewSubmission struct {
	ID         string
	Owner      *string
	TransectID *string
}

type SubmissionUpdate struct {
	// Columns maps column name to its new value; a nil value clears the column.
	Columns map[string]any
	// ReplaceData swaps the submission's data rows for DataRows.
	ReplaceData bool
	DataRows    [][]string
}

// InputObjectRecord describes one uploaded file to be recorded against a submission.
type InputObjectRecord struct {
	ID        string
	Filename  string
	SizeBytes int64
}

func submissionFromRow(row submissionRow) models.Submission {
	lat, lon := row.Geom.LatLon()
	return models.Submission{
		ID:           row.ID,
		Name:         row.Name,
		Comment:      row.Comment,
		Status:       row.Status,
		TransectID:   row.TransectID,
		Latitude:     lat,
		Longitude:    lon,
		Owner:        row.Owner,
		TimeAddedUTC: row.TimeAddedUTC,
		LastUpdated:  row.LastUpdated,
		Inputs:       []models.InputFile{},
		RunStatus:    []models.RunStatus{},
	}
}

func (s *Store) CreateSubmission(ctx context.Context, in NewSubmission) (models.Submission, error) {
	now := s.timestamp()
	row := submissionRow{
		ID:           in.ID,
		Owner:        in.Owner,
		TransectID:   in.TransectID,
		TimeAddedUTC: now,
		LastUpdated:  now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Submission{}, classify(err)
	}
	return submissionFromRow(row), nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (models.Submission, bool, error) {
	var row submissionRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, false, nil
		}
		return models.Submission{}, false, err
	}
	return submissionFromRow(row), true, nil
}

// ListSubmissions returns the page selected by q and the filtered total.
func (s *Store) ListSubmissions(ctx context.Context, q query.Query) ([]models.Submission, int64, error) {
	var total int64
	if err := q.Where(s.db.WithContext(ctx).Model(&submissionRow{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []submissionRow
	if err := q.Page(s.db.WithContext(ctx).Model(&submissionRow{})).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]models.Submission, 0, len(rows))
	for _, row := range rows {
		out = append(out, submissionFromRow(row))
	}
	return out, total, nil
}

func (s *Store) UpdateSubmission(ctx context.Context, id string, upd SubmissionUpdate) (models.Submission, bool, error) {
	for col := range upd.Columns {
		if _, ok := submissionColumns[col]; !ok {
			return models.Submission{}, false, fmt.Errorf("column %q is not updatable", col)
		}
	}

	var out submissionRow
	found := true
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				found = false
				return nil
			}
			return err
		}

		cols := make(map[string]any, len(upd.Columns)+1)
		for k, v := range upd.Columns {
			cols[k] = v
		}
		cols["last_updated"] = s.timestamp()
		if err := tx.Model(&submissionRow{}).Where("id = ?", id).Updates(cols).Error; err != nil {
			return err
		}

		if upd.ReplaceData {
			if err := tx.Where("submission_id = ?", id).Delete(&submissionDataRow{}).Error; err != nil {
				return err
			}
			if len(upd.DataRows) > 0 {
				rows := make([]submissionDataRow, 0, len(upd.DataRows))
				for i, values := range upd.DataRows {
					raw, err := json.Marshal(values)
					if err != nil {
						return err
					}
					rows = append(rows, submissionDataRow{SubmissionID: id, RowIndex: i, Values: datatypes.JSON(raw)})
				}
				if err := tx.CreateInBatches(&rows, 500).Error; err != nil {
					return err
				}
			}
		}

		return tx.Where("id = ?", id).Take(&out).Error
	})
	if err != nil {
		return models.Submission{}, false, classify(err)
	}
	if !found {
		return models.Submission{}, false, nil
	}
	return submissionFromRow(out), true, nil
}

// DeleteSubmission removes the row and its data rows. Stored objects are left alone.
func (s *Store) DeleteSubmission(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", id).Delete(&submissionDataRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&submissionRow{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *Store) SubmissionData(ctx context.Context, id string) ([][]string, error) {
	var rows []submissionDataRow
	if err := s.db.WithContext(ctx).
		Where("submission_id = ?", id).
		Order("row_index").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		var values []string
		if err := json.Unmarshal(row.Values, &values); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", row.RowIndex, err)
		}
		out = append(out, values)
	}
	return out, nil
}

// RecordInputObjects stores one inputobject row per uploaded file, all or nothing.
func (s *Store) RecordInputObjects(ctx context.Context, submission models.Submission, files []InputObjectRecord) error {
	if len(files) == 0 {
		return nil
	}
	now := s.timestamp()
	rows := make([]inputObjectRow, 0, len(files))
	for _, f := range files {
		size := f.SizeBytes
		subID := submission.ID
		rows = append(rows, inputObjectRow{
			ID:           f.ID,
			SubmissionID: &subID,
			Filename:     f.Filename,
			SizeBytes:    &size,
			TransectID:   submission.TransectID,
			Owner:        submission.Owner,
			TimeAddedUTC: now,
		})
	}
	return classify(s.db.WithContext(ctx).Create(&rows).Error)
}

func (s *Store) ListSubmissionSummariesByTransect(ctx context.Context, transectID string) ([]models.SubmissionSummary, error) {
	var rows []submissionRow
	if err := s.db.WithContext(ctx).
		Select("id", "name", "time_added_utc").
		Where("transect_id = ?", transectID).
		Order("iterator").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.SubmissionSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.SubmissionSummary{
			ID:           row.ID,
			Name:         row.Name,
			TimeAddedUTC: row.TimeAddedUTC,
			RunStatus:    []models.RunStatus{},
		})
	}
	return out, nil
}
