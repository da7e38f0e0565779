package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// Registrar uploads local files and records them in the metadata store.
type Registrar struct {
	store  ObjectStore
	repo   Repository
	hasher Hasher
	mime   MIMEDetector
	logger *zap.Logger
}

// NewRegistrar constructs a Registrar.
func NewRegistrar(store ObjectStore, repo Repository, hasher Hasher, mime MIMEDetector, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{
		store:  store,
		repo:   repo,
		hasher: hasher,
		mime:   mime,
		logger: logger,
	}
}

// Name implements Stage.
func (r *Registrar) Name() string { return "register" }

// Process implements Stage.
func (r *Registrar) Process(ctx context.Context, d object.Descriptor) error {
	_, err := r.Register(ctx, d)
	return err
}

// Register uploads d's local file and upserts its object row, returning the
// object id. Existing rows are updated in place and keep their object group.
func (r *Registrar) Register(ctx context.Context, d object.Descriptor) (int64, error) {
	// Hash first so a bad local file fails before any network call.
	digest, err := r.hasher.HashFile(d.LocalFile)
	if err != nil {
		return 0, fmt.Errorf("hash local file: %w", err)
	}
	mimeType, err := r.mime.Detect(d.LocalFile)
	if err != nil {
		return 0, fmt.Errorf("detect mime type: %w", err)
	}

	existing, err := r.repo.FindObject(ctx, d.Destination)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("look up object: %w", err)
	}

	r.logger.Debug("uploading",
		zap.String("local_file", d.LocalFile),
		zap.String("bucket", d.Bucket),
		zap.String("key", d.Key),
	)
	if err := r.store.Upload(ctx, d.Bucket, d.Key, d.LocalFile, mimeType); err != nil {
		return 0, fmt.Errorf("upload object: %w", err)
	}

	rec := ObjectRecord{
		Destination: d.Destination,
		SHA256Hash:  digest,
		MIMEType:    mimeType,
		Source:      d.Description,
	}
	if found {
		rec.ID = existing.ID
		rec.ObjectGroupID = existing.ObjectGroupID
	}
	if rec.ObjectGroupID == nil {
		proc, err := r.repo.CreateIngestProcess(ctx)
		if err != nil {
			return 0, fmt.Errorf("create ingest process: %w", err)
		}
		r.logger.Debug("created ingest process",
			zap.Int64("ingest_process_id", proc.ID),
			zap.Int64("object_group_id", proc.ObjectGroupID),
		)
		groupID := proc.ObjectGroupID
		rec.ObjectGroupID = &groupID
	}

	id, err := r.repo.UpsertObject(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("upsert object: %w", err)
	}
	r.logger.Info("registered",
		zap.String("key", d.Key),
		zap.Int64("object_id", id),
		zap.Bool("updated", found),
		zap.String("sha256", digest),
	)
	return id, nil
}
