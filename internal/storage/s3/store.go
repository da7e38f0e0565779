// Package s3 provides an object store backed by any S3-compatible service.
package s3

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config captures the parameters required to connect to the service.
type Config struct {
	// Endpoint is host[:port], or a URL whose scheme selects TLS.
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Secure    bool   `mapstructure:"secure"`
}

// Store reads and writes objects through a minio client.
type Store struct {
	client *minio.Client
}

// New connects to the configured endpoint. No request is made until first use.
func New(cfg Config) (*Store, error) {
	endpoint, secure := SplitEndpoint(cfg.Endpoint, cfg.Secure)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{client: client}, nil
}

// SplitEndpoint strips an http:// or https:// scheme from endpoint, which
// then decides whether TLS is used.
func SplitEndpoint(endpoint string, secure bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	}
	return strings.TrimSuffix(endpoint, "/"), secure
}

// Upload puts localPath at bucket/key.
func (s *Store) Upload(ctx context.Context, bucket, key, localPath, contentType string) error {
	_, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download writes bucket/key to localPath.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	if err := s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PresignGet returns a time-limited GET URL for bucket/key.
func (s *Store) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// List returns every key in bucket under prefix, recursively.
func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, info.Err)
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}
