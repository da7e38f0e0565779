package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// DefaultMapScale is recorded on sources when no scale is configured.
const DefaultMapScale = "large"

// IntegratorConfig controls the integrate stage.
type IntegratorConfig struct {
	SlugPrefix string
	MapScale   string
	Extractor  Extractor
}

// Integrator drives registered objects through the ingestion toolchain.
type Integrator struct {
	repo      Repository
	store     ObjectStore
	toolchain Toolchain
	cfg       IntegratorConfig
	logger    *zap.Logger
}

// NewIntegrator constructs an Integrator. store may be nil when local files
// are always present.
func NewIntegrator(repo Repository, store ObjectStore, toolchain Toolchain, cfg IntegratorConfig, logger *zap.Logger) (*Integrator, error) {
	if cfg.SlugPrefix == "" {
		return nil, errors.New("slug prefix is required")
	}
	if cfg.MapScale == "" {
		cfg.MapScale = DefaultMapScale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Integrator{
		repo:      repo,
		store:     store,
		toolchain: toolchain,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Name implements Stage.
func (i *Integrator) Name() string { return "integrate" }

// Process implements Stage. Already ingested objects are skipped without
// touching the toolchain.
func (i *Integrator) Process(ctx context.Context, d object.Descriptor) error {
	proc, err := i.resolveProcess(ctx, d)
	if err != nil {
		return err
	}
	if proc.Ingested() {
		i.logger.Info("already ingested", zap.String("key", d.Key), zap.Int64("ingest_process_id", proc.ID))
		return nil
	}

	if err := i.ensureLocalFile(ctx, d); err != nil {
		return err
	}
	files, err := i.cfg.Extractor.Payload(d.LocalFile)
	if err != nil {
		return fmt.Errorf("find payload: %w", err)
	}
	if len(files) == 0 {
		i.logger.Warn("no ingestible payload", zap.String("local_file", d.LocalFile))
		return nil
	}

	filename := filepath.Base(d.LocalFile)
	slug := Slug(i.cfg.SlugPrefix, filename)
	log := i.logger.With(zap.String("slug", slug), zap.Int64("ingest_process_id", proc.ID))

	log.Debug("ingesting", zap.Strings("files", files))
	if err := i.toolchain.Ingest(ctx, slug, files); err != nil {
		return fmt.Errorf("ingest %s: %w", slug, err)
	}
	if err := i.toolchain.PrepareFields(ctx, slug); err != nil {
		return fmt.Errorf("prepare fields %s: %w", slug, err)
	}

	sourceID, err := i.repo.FindSourceID(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w for slug %s", ErrSourceUnresolved, slug)
	}
	if err != nil {
		return fmt.Errorf("look up source: %w", err)
	}
	log = log.With(zap.Int64("source_id", sourceID))

	if err := i.toolchain.CreateRgeom(ctx, sourceID); err != nil {
		return fmt.Errorf("create rgeom %d: %w", sourceID, err)
	}
	if err := i.toolchain.CreateWebgeom(ctx, sourceID); err != nil {
		return fmt.Errorf("create webgeom %d: %w", sourceID, err)
	}

	if err := i.repo.UpdateSource(ctx, sourceID, d.DisplayName(), i.cfg.MapScale); err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if err := i.repo.MarkIngested(ctx, proc.ID, sourceID); err != nil {
		return fmt.Errorf("mark ingested: %w", err)
	}
	log.Info("integrated", zap.String("key", d.Key))
	return nil
}

// Verify implements Verifier.
func (i *Integrator) Verify(ctx context.Context, d object.Descriptor) (bool, error) {
	proc, err := i.resolveProcess(ctx, d)
	if err != nil {
		return false, err
	}
	return proc.Ingested(), nil
}

func (i *Integrator) resolveProcess(ctx context.Context, d object.Descriptor) (IngestProcess, error) {
	rec, err := i.repo.FindObject(ctx, d.Destination)
	if errors.Is(err, ErrNotFound) {
		return IngestProcess{}, fmt.Errorf("%w: %s", ErrNotRegistered, d.Destination)
	}
	if err != nil {
		return IngestProcess{}, fmt.Errorf("look up object: %w", err)
	}
	if rec.ObjectGroupID == nil {
		return IngestProcess{}, fmt.Errorf("%w: %s has no object group", ErrNotRegistered, d.Destination)
	}
	proc, err := i.repo.FindIngestProcess(ctx, *rec.ObjectGroupID)
	if errors.Is(err, ErrNotFound) {
		return IngestProcess{}, fmt.Errorf("%w: no ingest process for object group %d", ErrNotRegistered, *rec.ObjectGroupID)
	}
	if err != nil {
		return IngestProcess{}, fmt.Errorf("look up ingest process: %w", err)
	}
	return proc, nil
}

func (i *Integrator) ensureLocalFile(ctx context.Context, d object.Descriptor) error {
	if d.LocalFile == "" {
		return errors.New("descriptor has no local_file")
	}
	_, err := os.Stat(d.LocalFile)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) || i.store == nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	i.logger.Debug("fetching local file from object store",
		zap.String("bucket", d.Bucket),
		zap.String("key", d.Key),
		zap.String("local_file", d.LocalFile),
	)
	if err := i.store.Download(ctx, d.Bucket, d.Key, d.LocalFile); err != nil {
		return fmt.Errorf("fetch %s/%s: %w", d.Bucket, d.Key, err)
	}
	return nil
}
