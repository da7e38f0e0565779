// Package metadata composes the metadata backends into a pipeline.Repository.
package metadata

import (
	"context"
	"fmt"

	"github.com/JakeFAU/geomap-ingest/internal/metadata/api"
	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

// Lookups are the queries the metadata API has no endpoint for.
type Lookups interface {
	FindObject(ctx context.Context, dest object.Destination) (pipeline.ObjectRecord, error)
	FindIngestProcess(ctx context.Context, objectGroupID int64) (pipeline.IngestProcess, error)
	FindSourceID(ctx context.Context, slug string) (int64, error)
	UpdateSource(ctx context.Context, sourceID int64, name, scale string) error
}

// Hybrid sends mutations and ingest-process state through the API and
// answers everything else from the database.
type Hybrid struct {
	api *api.Client
	db  Lookups
}

// NewHybrid constructs a Hybrid.
func NewHybrid(client *api.Client, db Lookups) (*Hybrid, error) {
	if client == nil || db == nil {
		return nil, fmt.Errorf("hybrid metadata requires both an api client and a database")
	}
	return &Hybrid{api: client, db: db}, nil
}

// FindObject implements pipeline.Repository.
func (h *Hybrid) FindObject(ctx context.Context, dest object.Destination) (pipeline.ObjectRecord, error) {
	return h.db.FindObject(ctx, dest) //nolint:wrapcheck // already wrapped by the backend
}

// FindIngestProcess resolves the process id from the database and reads its
// state from the API, which owns it.
func (h *Hybrid) FindIngestProcess(ctx context.Context, objectGroupID int64) (pipeline.IngestProcess, error) {
	row, err := h.db.FindIngestProcess(ctx, objectGroupID)
	if err != nil {
		return pipeline.IngestProcess{}, err //nolint:wrapcheck // already wrapped by the backend
	}
	proc, err := h.api.GetIngestProcess(ctx, row.ID)
	if err != nil {
		return pipeline.IngestProcess{}, err //nolint:wrapcheck // already wrapped by the client
	}
	if proc.ObjectGroupID == 0 {
		proc.ObjectGroupID = objectGroupID
	}
	return proc, nil
}

// FindSourceID implements pipeline.Repository.
func (h *Hybrid) FindSourceID(ctx context.Context, slug string) (int64, error) {
	return h.db.FindSourceID(ctx, slug) //nolint:wrapcheck // already wrapped by the backend
}

// CreateIngestProcess implements pipeline.Repository.
func (h *Hybrid) CreateIngestProcess(ctx context.Context) (pipeline.IngestProcess, error) {
	return h.api.CreateIngestProcess(ctx) //nolint:wrapcheck // already wrapped by the client
}

// UpsertObject creates the object when rec.ID is zero and updates it otherwise.
func (h *Hybrid) UpsertObject(ctx context.Context, rec pipeline.ObjectRecord) (int64, error) {
	payload := api.ObjectFromRecord(rec)
	if rec.ID == 0 {
		return h.api.CreateObject(ctx, payload) //nolint:wrapcheck // already wrapped by the client
	}
	return h.api.UpdateObject(ctx, rec.ID, payload) //nolint:wrapcheck // already wrapped by the client
}

// MarkIngested implements pipeline.Repository.
func (h *Hybrid) MarkIngested(ctx context.Context, processID, sourceID int64) error {
	return h.api.UpdateIngestProcess(ctx, processID, pipeline.ProcessIngested, &sourceID) //nolint:wrapcheck // already wrapped by the client
}

// UpdateSource implements pipeline.Repository.
func (h *Hybrid) UpdateSource(ctx context.Context, sourceID int64, name, scale string) error {
	return h.db.UpdateSource(ctx, sourceID, name, scale) //nolint:wrapcheck // already wrapped by the backend
}
