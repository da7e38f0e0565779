// Package app holds the long-lived services shared by the CLI commands.
//
// Services are built on first use, so a command only needs credentials for
// the backends it actually touches.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/config"
	"github.com/JakeFAU/geomap-ingest/internal/metadata"
	"github.com/JakeFAU/geomap-ingest/internal/metadata/api"
	"github.com/JakeFAU/geomap-ingest/internal/metadata/postgres"
	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
	"github.com/JakeFAU/geomap-ingest/internal/storage/gcs"
	"github.com/JakeFAU/geomap-ingest/internal/storage/local"
	"github.com/JakeFAU/geomap-ingest/internal/storage/s3"
	"github.com/JakeFAU/geomap-ingest/internal/toolchain"
)

// App is the dependency container for one CLI invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	mu        sync.Mutex
	store     pipeline.ObjectStore
	repo      pipeline.Repository
	toolchain pipeline.Toolchain
	closers   []func()
}

// Option overrides a service, mainly for tests.
type Option func(*App)

// WithObjectStore installs store instead of the configured backend.
func WithObjectStore(store pipeline.ObjectStore) Option {
	return func(a *App) { a.store = store }
}

// WithRepository installs repo instead of the configured backend.
func WithRepository(repo pipeline.Repository) Option {
	return func(a *App) { a.repo = repo }
}

// WithLogger replaces the logger built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithToolchain installs tc instead of the configured command.
func WithToolchain(tc pipeline.Toolchain) Option {
	return func(a *App) { a.toolchain = tc }
}

// New creates an App. Nothing is connected yet.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Layout returns where descriptors are stored.
func (a *App) Layout() (object.Layout, error) {
	return a.cfg.Layout() //nolint:wrapcheck // message already names the key
}

// ObjectStore returns the configured object store, building it on first use.
func (a *App) ObjectStore(ctx context.Context) (pipeline.ObjectStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}

	sc := a.cfg.ObjectStore
	switch sc.Backend {
	case config.StorageS3:
		s3cfg := sc.S3
		if s3cfg.Endpoint == "" {
			s3cfg.Endpoint = sc.Host
		}
		store, err := s3.New(s3cfg)
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		a.logger.Info("using s3 object store", zap.String("endpoint", s3cfg.Endpoint))
		a.store = store
	case config.StorageGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, sc.GCS)
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		a.logger.Info("using gcs object store")
		a.store = store
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: sc.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		a.logger.Info("using local object store", zap.String("dir", sc.Local.BaseDir))
		a.store = store
	default:
		return nil, fmt.Errorf("unknown object store backend: %s", sc.Backend)
	}
	return a.store, nil
}

// Repository returns the configured metadata backend, building it on first use.
func (a *App) Repository(ctx context.Context) (pipeline.Repository, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.repo != nil {
		return a.repo, nil
	}

	mc := a.cfg.Metadata
	switch mc.Backend {
	case config.MetadataPostgres:
		db, err := a.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		a.repo = db
	case config.MetadataAPI:
		client, err := api.New(api.Config{
			BaseURL: mc.API.BaseURL,
			Token:   mc.API.Token,
			Timeout: time.Duration(mc.API.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("init metadata api: %w", err)
		}
		db, err := a.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		hybrid, err := metadata.NewHybrid(client, db)
		if err != nil {
			return nil, fmt.Errorf("init metadata: %w", err)
		}
		a.logger.Info("using metadata api", zap.String("base_url", mc.API.BaseURL))
		a.repo = hybrid
	default:
		return nil, fmt.Errorf("unknown metadata backend: %s", mc.Backend)
	}
	return a.repo, nil
}

func (a *App) openPostgres(ctx context.Context) (*postgres.Repository, error) {
	pc := a.cfg.Metadata.Postgres
	db, err := postgres.New(ctx, postgres.Config{
		DSN:             pc.DSN,
		Tables:          a.cfg.Tables(),
		MaxConns:        pc.MaxConns,
		MinConns:        pc.MinConns,
		MaxConnLifetime: time.Duration(pc.MaxConnLifetimeSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres metadata: %w", err)
	}
	a.logger.Info("using postgres metadata")
	a.closers = append(a.closers, db.Close)
	return db, nil
}

// Toolchain returns the ingestion toolchain runner.
func (a *App) Toolchain() (pipeline.Toolchain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.toolchain != nil {
		return a.toolchain, nil
	}
	tc, err := toolchain.New(toolchain.Config{
		Command: a.cfg.Integrate.Toolchain,
		Dir:     a.cfg.Integrate.ToolchainDir,
	}, a.logger.Named("toolchain"))
	if err != nil {
		return nil, fmt.Errorf("init toolchain: %w", err)
	}
	a.toolchain = tc
	return a.toolchain, nil
}

// Close releases every service built so far and flushes the logger.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	a.logger.Sync() //nolint:errcheck // best-effort flush
}
