package models

import (
	"github.com/paulmach/orb/geojson"

	"deepreef/internal/geometry"
)

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// InputFile is one object listed under a submission's input prefix.
type InputFile struct {
	Key          string `json:"key"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// RunStatus describes one cluster pod working on a submission.
type RunStatus struct {
	// SubmissionID carries the pod name; pods are named after the submission they process.
	SubmissionID string  `json:"submission_id"`
	Status       string  `json:"status"`
	TimeStarted  *string `json:"time_started"`
}

type Submission struct {
	ID           string      `json:"id"`
	Name         *string     `json:"name"`
	Comment      *string     `json:"comment"`
	Status       *string     `json:"status"`
	TransectID   *string     `json:"transect_id"`
	Latitude     *float64    `json:"latitude"`
	Longitude    *float64    `json:"longitude"`
	Owner        *string     `json:"owner"`
	TimeAddedUTC string      `json:"time_added_utc"`
	LastUpdated  string      `json:"last_updated"`
	Inputs       []InputFile `json:"inputs"`
	RunStatus    []RunStatus `json:"run_status"`
}

// SubmissionData holds the CSV rows attached through the video field.
type SubmissionData struct {
	SubmissionID string     `json:"submission_id"`
	Rows         [][]string `json:"rows"`
}

// SubmissionSummary is the short form embedded in a transect.
type SubmissionSummary struct {
	ID           string      `json:"id"`
	Name         *string     `json:"name"`
	TimeAddedUTC string      `json:"time_added_utc"`
	RunStatus    []RunStatus `json:"run_status"`
}

type InputObject struct {
	ID           string  `json:"id"`
	SubmissionID *string `json:"submission_id"`
	Filename     string  `json:"filename"`
	SizeBytes    *int64  `json:"size_bytes"`
	TransectID   *string `json:"transect_id"`
	Owner        *string `json:"owner"`
	TimeAddedUTC string  `json:"time_added_utc"`
}

type Transect struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Length      *float64 `json:"length"`
	Depth       *float64 `json:"depth"`
	Owner       *string  `json:"owner"`
	CreatedOn   string   `json:"created_on"`
	LastUpdated string   `json:"last_updated"`
	geometry.Endpoints
	Geom        *geojson.Geometry   `json:"geom"`
	Inputs      []InputObject       `json:"inputs"`
	Submissions []SubmissionSummary `json:"submissions"`
}

// TransectRequest is the body of a transect create or update. All four
// coordinates are required.
type TransectRequest struct {
	Name           string   `json:"name"`
	Description    *string  `json:"description,omitempty"`
	Length         *float64 `json:"length,omitempty"`
	Depth          *float64 `json:"depth,omitempty"`
	LatitudeStart  *float64 `json:"latitude_start"`
	LongitudeStart *float64 `json:"longitude_start"`
	LatitudeEnd    *float64 `json:"latitude_end"`
	LongitudeEnd   *float64 `json:"longitude_end"`
}

type DeleteJobResponse struct {
	Job     string `json:"job"`
	Deleted bool   `json:"deleted"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}
