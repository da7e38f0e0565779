// Package local implements an object store on the local filesystem.
//
// Buckets are directories under the base directory. It is meant for dry runs
// and tests; presigned URLs are plain file:// URLs.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory that holds one directory per bucket.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store keeps objects under BaseDir/<bucket>/<key>.
type Store struct {
	baseDir string
}

// New creates a filesystem-backed object store, creating BaseDir if needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

// Upload copies localPath to bucket/key.
func (s *Store) Upload(_ context.Context, bucket, key, localPath, _ string) error {
	dst, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := copyFile(localPath, dst); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download copies bucket/key to localPath.
func (s *Store) Download(_ context.Context, bucket, key, localPath string) error {
	src, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := copyFile(src, localPath); err != nil {
		return fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PresignGet returns a file:// URL; ttl is ignored.
func (s *Store) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

// List returns the keys in bucket that start with prefix, sorted.
func (s *Store) List(_ context.Context, bucket, prefix string) ([]string, error) {
	root, err := s.bucketDir(bucket)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) bucketDir(bucket string) (string, error) {
	if strings.TrimSpace(bucket) == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}
	return filepath.Join(s.baseDir, bucket), nil
}

func (s *Store) path(bucket, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	full := filepath.Clean(filepath.Join(dir, filepath.FromSlash(key)))
	if !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

func copyFile(src, dst string) error {
	// #nosec G304 -- paths are validated by the store or come from descriptors.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // read-only handle

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	// #nosec G304 -- see above.
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
