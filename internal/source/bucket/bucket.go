// Package bucket discovers files already sitting in an object-store bucket.
package bucket

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// Defaults used when Config leaves them empty.
const (
	DefaultSuffix    = ".gpkg"
	DefaultURLExpiry = 7 * 24 * time.Hour
)

// Lister is the part of the object store the adapter needs.
type Lister interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Config selects which keys become descriptors and how they are named.
type Config struct {
	// Host is the object store host, used for the {host} placeholder and the identity.
	Host   string
	Bucket string
	Prefix string
	Suffix string
	// NameTemplate may contain {host}, {bucket} and {key}.
	NameTemplate string
	Event        string
	URLExpiry    time.Duration
}

// Source lists a bucket prefix and mints presigned origins.
type Source struct {
	store  Lister
	cfg    Config
	layout object.Layout
	logger *zap.Logger
}

// New returns a Source.
func New(store Lister, cfg Config, layout object.Layout, logger *zap.Logger) (*Source, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{store: store, cfg: cfg, layout: layout, logger: logger}, nil
}

// Name expands the name template for key.
func (s *Source) Name(key string) string {
	return strings.NewReplacer(
		"{host}", s.cfg.Host,
		"{bucket}", s.cfg.Bucket,
		"{key}", key,
	).Replace(s.cfg.NameTemplate)
}

// Discover returns one descriptor per matching key, sorted by key. Keys are
// derived from the stable bucket location, not the presigned origin.
func (s *Source) Discover(ctx context.Context) ([]object.Descriptor, error) {
	keys, err := s.store.List(ctx, s.cfg.Bucket, s.cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list bucket: %w", err)
	}
	sort.Strings(keys)

	var descs []object.Descriptor
	for _, key := range keys {
		if !strings.HasSuffix(key, s.cfg.Suffix) {
			continue
		}
		origin, err := s.store.PresignGet(ctx, s.cfg.Bucket, key, s.cfg.URLExpiry)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", key, err)
		}
		description := map[string]any{"url": origin}
		if s.cfg.Event != "" {
			description["event"] = s.cfg.Event
		}
		identity := s.Identity(key)
		d := s.layout.NewWithIdentity(identity, origin, description)
		d.Name = s.Name(key)
		descs = append(descs, d)
	}
	s.logger.Info("discovered",
		zap.String("bucket", s.cfg.Bucket),
		zap.String("prefix", s.cfg.Prefix),
		zap.Int("listed", len(keys)),
		zap.Int("count", len(descs)),
	)
	return descs, nil
}

// Identity is the run-independent URL of key, in the layout's scheme.
func (s *Source) Identity(key string) string {
	scheme := s.layout.Scheme
	if scheme == "" {
		scheme = "s3"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, s.cfg.Bucket, key)
}
