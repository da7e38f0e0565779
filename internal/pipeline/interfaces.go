package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// Stage processes a single descriptor. Implementations must be safe to re-run.
type Stage interface {
	Name() string
	Process(ctx context.Context, d object.Descriptor) error
}

// Verifier is implemented by stages whose success needs a post-check.
type Verifier interface {
	Verify(ctx context.Context, d object.Descriptor) (bool, error)
}

// ObjectStore holds the durable copies of objects.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, localPath, contentType string) error
	Download(ctx context.Context, bucket, key, localPath string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Repository is the metadata store. Lookups return ErrNotFound when empty.
type Repository interface {
	FindObject(ctx context.Context, dest object.Destination) (ObjectRecord, error)
	FindIngestProcess(ctx context.Context, objectGroupID int64) (IngestProcess, error)
	FindSourceID(ctx context.Context, slug string) (int64, error)
	CreateIngestProcess(ctx context.Context) (IngestProcess, error)
	// UpsertObject creates the row when rec.ID is zero and updates it otherwise.
	UpsertObject(ctx context.Context, rec ObjectRecord) (int64, error)
	MarkIngested(ctx context.Context, processID, sourceID int64) error
	UpdateSource(ctx context.Context, sourceID int64, name, scale string) error
}

// Toolchain is the external map ingestion toolchain.
type Toolchain interface {
	Ingest(ctx context.Context, slug string, files []string) error
	PrepareFields(ctx context.Context, slug string) error
	CreateRgeom(ctx context.Context, sourceID int64) error
	CreateWebgeom(ctx context.Context, sourceID int64) error
}

// Hasher computes content digests of local files.
type Hasher interface {
	HashFile(path string) (string, error)
}

// MIMEDetector determines the media type of a local file.
type MIMEDetector interface {
	Detect(path string) (string, error)
}
