// Package gcs provides an object store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Config captures the parameters for signing URLs. Both fields may be empty
// when the client credentials can sign on their own.
type Config struct {
	GoogleAccessID string `mapstructure:"google_access_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// Store reads and writes objects through a storage client.
type Store struct {
	client *storage.Client
	cfg    Config
}

// New creates a GCS-backed object store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return &Store{client: client, cfg: cfg}, nil
}

// Upload streams localPath into bucket/key.
func (s *Store) Upload(ctx context.Context, bucket, key, localPath, contentType string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	// #nosec G304 -- local paths come from pipeline descriptors.
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, f); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Download streams bucket/key into localPath.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open object %s/%s: %w", bucket, key, err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	// #nosec G304 -- local paths come from pipeline descriptors.
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		return fmt.Errorf("copy object: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}

// PresignGet returns a V4 signed GET URL.
func (s *Store) PresignGet(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        time.Now().Add(ttl),
		GoogleAccessID: s.cfg.GoogleAccessID,
	}
	if s.cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(s.cfg.PrivateKeyPath)
		if err != nil {
			return "", fmt.Errorf("read signing key: %w", err)
		}
		opts.PrivateKey = key
	}
	u, err := s.client.Bucket(bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", bucket, key, err)
	}
	return u, nil
}

// List returns every key in bucket under prefix.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
