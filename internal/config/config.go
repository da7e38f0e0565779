// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/geomap-ingest/internal/metadata/postgres"
	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/storage/gcs"
	"github.com/JakeFAU/geomap-ingest/internal/storage/s3"
)

// EnvPrefix namespaces every environment override, e.g. GEOMAP_DOWNLOAD_CONCURRENCY.
const EnvPrefix = "GEOMAP"

// Supported backends.
const (
	StorageS3    = "s3"
	StorageGCS   = "gcs"
	StorageLocal = "local"

	MetadataPostgres = "postgres"
	MetadataAPI      = "api"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Download    DownloadConfig    `mapstructure:"download"`
	Register    RegisterConfig    `mapstructure:"register"`
	Integrate   IntegrateConfig   `mapstructure:"integrate"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	Discover    DiscoverConfig    `mapstructure:"discover"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ObjectStoreConfig selects the object store and where descriptors land in it.
type ObjectStoreConfig struct {
	Backend string `mapstructure:"backend"`
	// Scheme and Host are recorded with every object; Host is also the S3 endpoint.
	Scheme   string `mapstructure:"scheme"`
	Host     string `mapstructure:"host"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`

	S3    s3.Config     `mapstructure:"s3"`
	GCS   gcs.Config    `mapstructure:"gcs"`
	Local LocalFSConfig `mapstructure:"local"`
}

// LocalFSConfig configures the filesystem object store.
type LocalFSConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DownloadConfig controls the download stage.
type DownloadConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	ChunkSizeBytes int    `mapstructure:"chunk_size_bytes"`
	Concurrency    int    `mapstructure:"concurrency"`
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts       int     `mapstructure:"max_attempts"`
	RetryBaseMillis   int     `mapstructure:"retry_base_millis"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// RegisterConfig controls the register stage.
type RegisterConfig struct {
	// MIMEDetection is "extension" or "content".
	MIMEDetection string `mapstructure:"mime_detection"`
}

// IntegrateConfig controls the integrate stage and the toolchain it drives.
type IntegrateConfig struct {
	MapScale        string `mapstructure:"map_scale"`
	Toolchain       string `mapstructure:"toolchain"`
	ToolchainDir    string `mapstructure:"toolchain_dir"`
	ExtractMaxFiles int    `mapstructure:"extract_max_files"`
	ExtractMaxBytes int64  `mapstructure:"extract_max_bytes"`
}

// MetadataConfig selects the metadata backend.
type MetadataConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	API      APIConfig      `mapstructure:"api"`
}

// PostgresConfig controls access to the metadata database.
type PostgresConfig struct {
	DSN                 string          `mapstructure:"dsn"`
	MaxConns            int32           `mapstructure:"max_conns"`
	MinConns            int32           `mapstructure:"min_conns"`
	MaxConnLifetimeSecs int             `mapstructure:"max_conn_lifetime_seconds"`
	Tables              postgres.Tables `mapstructure:"tables"`
}

// APIConfig configures the metadata HTTP API client.
type APIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DiscoverConfig holds defaults for the source adapters.
type DiscoverConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	TimeoutSeconds    int           `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Webpage           WebpageConfig `mapstructure:"webpage"`
	Bucket            BucketConfig  `mapstructure:"bucket"`
}

// WebpageConfig configures the single-page scraper.
type WebpageConfig struct {
	Page   string `mapstructure:"page"`
	Prefix string `mapstructure:"prefix"`
	Suffix string `mapstructure:"suffix"`
}

// BucketConfig configures the bucket lister.
type BucketConfig struct {
	Suffix         string `mapstructure:"suffix"`
	Event          string `mapstructure:"event"`
	URLExpiryHours int    `mapstructure:"url_expiry_hours"`
}

// MetricsConfig controls the end-of-run metrics export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// legacyEnv maps config keys to the environment variable names older
// deployments already export. The prefixed name always takes precedence.
var legacyEnv = map[string][]string{
	"metadata.api.base_url":      {"API_BASE_URL"},
	"metadata.api.token":         {"API_TOKEN"},
	"metadata.postgres.dsn":      {"DB_CONN_URL", "PG_DATABASE"},
	"object_store.host":          {"S3_HOST"},
	"object_store.bucket":        {"S3_BUCKET"},
	"object_store.prefix":        {"S3_PREFIX"},
	"object_store.s3.access_key": {"S3_ACCESS_KEY"},
	"object_store.s3.secret_key": {"S3_SECRET_KEY"},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("object_store.backend", StorageS3)
	v.SetDefault("object_store.scheme", "s3")
	v.SetDefault("object_store.local_dir", "tmp")
	v.SetDefault("object_store.s3.secure", true)
	v.SetDefault("object_store.local.base_dir", "objects")
	v.SetDefault("download.timeout_seconds", 10)
	v.SetDefault("download.user_agent", "geomap-ingest/0.1")
	v.SetDefault("download.chunk_size_bytes", 8*1024*1024)
	v.SetDefault("download.concurrency", 1)
	v.SetDefault("download.max_attempts", 1)
	v.SetDefault("download.retry_base_millis", 500)
	v.SetDefault("download.requests_per_second", 0)
	v.SetDefault("register.mime_detection", "extension")
	v.SetDefault("integrate.map_scale", "large")
	v.SetDefault("integrate.toolchain", "macrostrat-maps")
	v.SetDefault("metadata.backend", MetadataPostgres)
	v.SetDefault("metadata.api.timeout_seconds", 30)
	v.SetDefault("metadata.postgres.max_conns", 4)
	v.SetDefault("discover.timeout_seconds", 15)
	v.SetDefault("discover.requests_per_second", 1.0)
	v.SetDefault("discover.bucket.suffix", ".gpkg")
	v.SetDefault("discover.bucket.url_expiry_hours", 7*24)

	tables := postgres.DefaultTables()
	v.SetDefault("metadata.postgres.tables.object", tables.Object)
	v.SetDefault("metadata.postgres.tables.object_group", tables.ObjectGroup)
	v.SetDefault("metadata.postgres.tables.ingest_process", tables.IngestProcess)
	v.SetDefault("metadata.postgres.tables.sources", tables.Sources)
}

func bindLegacyEnv(v *viper.Viper) error {
	replacer := strings.NewReplacer(".", "_")
	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.ObjectStore.Backend {
	case StorageS3, StorageGCS, StorageLocal:
	default:
		return fmt.Errorf("object_store.backend must be one of s3, gcs, local; got %q", c.ObjectStore.Backend)
	}
	switch c.Metadata.Backend {
	case MetadataPostgres, MetadataAPI:
	default:
		return fmt.Errorf("metadata.backend must be postgres or api; got %q", c.Metadata.Backend)
	}
	if c.Download.TimeoutSeconds <= 0 {
		return fmt.Errorf("download.timeout_seconds must be > 0")
	}
	if c.Download.ChunkSizeBytes <= 0 {
		return fmt.Errorf("download.chunk_size_bytes must be > 0")
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be > 0")
	}
	if c.Download.MaxAttempts <= 0 {
		return fmt.Errorf("download.max_attempts must be > 0")
	}
	if c.Download.RequestsPerSecond < 0 {
		return fmt.Errorf("download.requests_per_second must be >= 0")
	}
	if c.Discover.RequestsPerSecond < 0 {
		return fmt.Errorf("discover.requests_per_second must be >= 0")
	}
	if c.Metadata.API.TimeoutSeconds < 0 {
		return fmt.Errorf("metadata.api.timeout_seconds must be >= 0")
	}
	if err := c.Tables().Validate(); err != nil {
		return fmt.Errorf("metadata.postgres.tables: %w", err)
	}
	return nil
}

// Layout returns where descriptors are stored. The bucket is required.
func (c Config) Layout() (object.Layout, error) {
	s := c.ObjectStore
	if s.Bucket == "" {
		return object.Layout{}, fmt.Errorf("object_store.bucket is required")
	}
	return object.Layout{
		Scheme:   s.Scheme,
		Host:     s.Host,
		Bucket:   s.Bucket,
		Prefix:   s.Prefix,
		LocalDir: s.LocalDir,
	}, nil
}

// Tables converts the configured table names; empty names keep their defaults.
func (c Config) Tables() postgres.Tables {
	t := c.Metadata.Postgres.Tables
	tables := postgres.DefaultTables()
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&tables.Object, t.Object},
		{&tables.ObjectGroup, t.ObjectGroup},
		{&tables.IngestProcess, t.IngestProcess},
		{&tables.Sources, t.Sources},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	return tables
}

// DownloadTimeout converts the configured timeout to a duration.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// DiscoverTimeout converts the configured timeout to a duration.
func (c Config) DiscoverTimeout() time.Duration {
	return time.Duration(c.Discover.TimeoutSeconds) * time.Second
}
