package store

import (
	"gorm.io/datatypes"

	"deepreef/internal/geometry"
)

type submissionRow struct {
	Iterator     int64          `gorm:"column:iterator;primaryKey;autoIncrement"`
	ID           string         `gorm:"column:id"`
	Name         *string        `gorm:"column:name"`
	Comment      *string        `gorm:"column:comment"`
	Status       *string        `gorm:"column:status"`
	TransectID   *string        `gorm:"column:transect_id"`
	Geom         geometry.Point `gorm:"column:geom"`
	Owner        *string        `gorm:"column:owner"`
	TimeAddedUTC string         `gorm:"column:time_added_utc"`
	LastUpdated  string         `gorm:"column:last_updated"`
}

func (submissionRow) TableName() string { return "submission" }

type transectRow struct {
	Iterator    int64         `gorm:"column:iterator;primaryKey;autoIncrement"`
	ID          string        `gorm:"column:id"`
	Name        string        `gorm:"column:name"`
	Description *string       `gorm:"column:description"`
	Length      *float64      `gorm:"column:length"`
	Depth       *float64      `gorm:"column:depth"`
	Geom        geometry.Line `gorm:"column:geom"`
	Owner       *string       `gorm:"column:owner"`
	CreatedOn   string        `gorm:"column:created_on"`
	LastUpdated string        `gorm:"column:last_updated"`
}

func (transectRow) TableName() string { return "transect" }

type inputObjectRow struct {
	Iterator     int64   `gorm:"column:iterator;primaryKey;autoIncrement"`
	ID           string  `gorm:"column:id"`
	SubmissionID *string `gorm:"column:submission_id"`
	Filename     string  `gorm:"column:filename"`
	SizeBytes    *int64  `gorm:"column:size_bytes"`
	TransectID   *string `gorm:"column:transect_id"`
	Owner        *string `gorm:"column:owner"`
	TimeAddedUTC string  `gorm:"column:time_added_utc"`
}

func (inputObjectRow) TableName() string { return "inputobject" }

type submissionDataRow struct {
	Iterator     int64          `gorm:"column:iterator;primaryKey;autoIncrement"`
	SubmissionID string         `gorm:"column:submission_id"`
	RowIndex     int            `gorm:"column:row_index"`
	Values       datatypes.JSON `gorm:"column:row_values"`
}

func (submissionDataRow) TableName() string { return "submission_data" }
