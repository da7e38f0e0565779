package pipeline

import (
	"errors"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// ProcessState is the lifecycle state of an ingest process.
type ProcessState string

// Ingest process states persisted by the metadata store.
const (
	ProcessCreated  ProcessState = "created"
	ProcessIngested ProcessState = "ingested"
)

// DefaultChunkSize bounds every streaming read and write.
const DefaultChunkSize = 8 * 1024 * 1024

var (
	// ErrNotFound is returned by repositories when a lookup has no result.
	ErrNotFound = errors.New("not found")
	// ErrNotRegistered means integration was attempted before registration completed.
	ErrNotRegistered = errors.New("object not registered")
	// ErrSourceUnresolved means the toolchain ran but no source row exists for the slug.
	ErrSourceUnresolved = errors.New("source_id unresolved")
	// ErrNotIngested means a stage returned normally but the object is still not ingested.
	ErrNotIngested = errors.New("object not ingested")
)

// ObjectRecord is a registered object row.
type ObjectRecord struct {
	ID int64
	object.Destination
	SHA256Hash    string
	MIMEType      string
	Source        map[string]any
	ObjectGroupID *int64
}

// IngestProcess tracks downstream map ingestion for one object group.
type IngestProcess struct {
	ID            int64        `json:"id"`
	ObjectGroupID int64        `json:"object_group_id"`
	State         ProcessState `json:"state"`
	SourceID      *int64       `json:"source_id,omitempty"`
}

// Ingested reports whether the process reached its terminal state.
func (p IngestProcess) Ingested() bool {
	return p.State == ProcessIngested
}
