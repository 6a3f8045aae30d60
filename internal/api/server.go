package api

import (
	"context"

	"deepreef/internal/config"
	"deepreef/internal/jobstatus"
	"deepreef/internal/metrics"
	"deepreef/internal/submissions"
	"deepreef/internal/transects"
	"deepreef/internal/ws"
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobAdmin deletes cluster jobs by name.
type JobAdmin interface {
	DeleteJob(ctx context.Context, name string) error
}

// JobSnapshots serves the cached cluster job listing.
type JobSnapshots interface {
	Get(ctx context.Context) jobstatus.Snapshot
	Invalidate()
}

var _ JobSnapshots = (*jobstatus.Cache)(nil)

type server struct {
	cfg         config.Config
	db          Pinger
	submissions *submissions.Service
	transects   *transects.Service
	jobs        JobSnapshots
	jobAdmin    JobAdmin
	hub         *ws.Hub
	metrics     *metrics.Metrics
	uploadSlots *uploadSlots
}

type contextKey string

const ownerKey contextKey = "owner_id"
