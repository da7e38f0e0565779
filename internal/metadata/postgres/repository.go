// Package postgres implements the metadata repository directly against Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Tables names the relations the repository touches. Names may be schema-qualified.
type Tables struct {
	Object        string `mapstructure:"object"`
	ObjectGroup   string `mapstructure:"object_group"`
	IngestProcess string `mapstructure:"ingest_process"`
	Sources       string `mapstructure:"sources"`
}

// DefaultTables matches the Macrostrat schema.
func DefaultTables() Tables {
	return Tables{
		Object:        "storage.object",
		ObjectGroup:   "storage.object_group",
		IngestProcess: "ingest_process",
		Sources:       "maps.sources",
	}
}

func (t Tables) withDefaults() Tables {
	d := DefaultTables()
	if t.Object == "" {
		t.Object = d.Object
	}
	if t.ObjectGroup == "" {
		t.ObjectGroup = d.ObjectGroup
	}
	if t.IngestProcess == "" {
		t.IngestProcess = d.IngestProcess
	}
	if t.Sources == "" {
		t.Sources = d.Sources
	}
	return t
}

// Validate rejects names that cannot be interpolated into SQL safely.
func (t Tables) Validate() error {
	for _, name := range []string{t.Object, t.ObjectGroup, t.IngestProcess, t.Sources} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Tables          Tables
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Repository implements pipeline.Repository on a pgx pool.
type Repository struct {
	pool   querier
	tables Tables
}

// New creates a Repository with its own connection pool.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("metadata.postgres.dsn is required")
	}
	tables := cfg.Tables.withDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool, tables: tables}, nil
}

// NewWithPool constructs a Repository from an existing pool (primarily for testing).
func NewWithPool(pool querier, tables Tables) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.withDefaults()
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	return &Repository{pool: pool, tables: tables}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// FindObject looks an object up by its destination.
func (r *Repository) FindObject(ctx context.Context, dest object.Destination) (pipeline.ObjectRecord, error) {
	query := fmt.Sprintf(`
SELECT id, object_group_id
FROM %s
WHERE scheme = $1 AND host = $2 AND bucket = $3 AND key = $4`, r.tables.Object)

	rec := pipeline.ObjectRecord{Destination: dest}
	err := r.pool.QueryRow(ctx, query, dest.Scheme, dest.Host, dest.Bucket, dest.Key).Scan(&rec.ID, &rec.ObjectGroupID)
	if err != nil {
		return pipeline.ObjectRecord{}, notFound("select object", err)
	}
	return rec, nil
}

// FindIngestProcess returns the ingest process of an object group.
func (r *Repository) FindIngestProcess(ctx context.Context, objectGroupID int64) (pipeline.IngestProcess, error) {
	query := fmt.Sprintf(`
SELECT id, object_group_id, state, source_id
FROM %s
WHERE object_group_id = $1
ORDER BY id
LIMIT 1`, r.tables.IngestProcess)

	var (
		proc  pipeline.IngestProcess
		state *string
	)
	err := r.pool.QueryRow(ctx, query, objectGroupID).Scan(&proc.ID, &proc.ObjectGroupID, &state, &proc.SourceID)
	if err != nil {
		return pipeline.IngestProcess{}, notFound("select ingest process", err)
	}
	if state != nil {
		proc.State = pipeline.ProcessState(*state)
	}
	return proc, nil
}

// FindSourceID resolves a map source by slug.
func (r *Repository) FindSourceID(ctx context.Context, slug string) (int64, error) {
	query := fmt.Sprintf(`SELECT source_id FROM %s WHERE slug = $1`, r.tables.Sources)

	var id int64
	if err := r.pool.QueryRow(ctx, query, slug).Scan(&id); err != nil {
		return 0, notFound("select source", err)
	}
	return id, nil
}

// CreateIngestProcess creates an object group and its ingest process in one statement.
func (r *Repository) CreateIngestProcess(ctx context.Context) (pipeline.IngestProcess, error) {
	query := fmt.Sprintf(`
WITH grp AS (
	INSERT INTO %s DEFAULT VALUES RETURNING id
)
INSERT INTO %s (state, object_group_id)
SELECT $1, id FROM grp
RETURNING id, object_group_id`, r.tables.ObjectGroup, r.tables.IngestProcess)

	proc := pipeline.IngestProcess{State: pipeline.ProcessCreated}
	if err := r.pool.QueryRow(ctx, query, string(pipeline.ProcessCreated)).Scan(&proc.ID, &proc.ObjectGroupID); err != nil {
		return pipeline.IngestProcess{}, fmt.Errorf("insert ingest process: %w", err)
	}
	return proc, nil
}

// UpsertObject inserts or updates the row at rec's destination. The unique
// destination constraint makes concurrent registration converge on one row,
// and an existing object group id is never replaced.
func (r *Repository) UpsertObject(ctx context.Context, rec pipeline.ObjectRecord) (int64, error) {
	source, err := json.Marshal(rec.Source)
	if err != nil {
		return 0, fmt.Errorf("marshal source: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s AS o (scheme, host, bucket, key, source, mime_type, sha256_hash, object_group_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (scheme, host, bucket, key) DO UPDATE SET
	source = EXCLUDED.source,
	mime_type = EXCLUDED.mime_type,
	sha256_hash = EXCLUDED.sha256_hash,
	object_group_id = COALESCE(o.object_group_id, EXCLUDED.object_group_id)
RETURNING id`, r.tables.Object)

	var id int64
	err = r.pool.QueryRow(ctx, query,
		rec.Scheme,
		rec.Host,
		rec.Bucket,
		rec.Key,
		source,
		rec.MIMEType,
		rec.SHA256Hash,
		rec.ObjectGroupID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert object: %w", err)
	}
	return id, nil
}

// MarkIngested moves an ingest process to its terminal state.
func (r *Repository) MarkIngested(ctx context.Context, processID, sourceID int64) error {
	query := fmt.Sprintf(`UPDATE %s SET state = $1, source_id = $2 WHERE id = $3`, r.tables.IngestProcess)

	tag, err := r.pool.Exec(ctx, query, string(pipeline.ProcessIngested), sourceID, processID)
	if err != nil {
		return fmt.Errorf("update ingest process: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update ingest process %d: %w", processID, pipeline.ErrNotFound)
	}
	return nil
}

// UpdateSource sets a map source's display name and scale.
func (r *Repository) UpdateSource(ctx context.Context, sourceID int64, name, scale string) error {
	query := fmt.Sprintf(`UPDATE %s SET name = $1, scale = $2 WHERE source_id = $3`, r.tables.Sources)

	tag, err := r.pool.Exec(ctx, query, name, scale, sourceID)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update source %d: %w", sourceID, pipeline.ErrNotFound)
	}
	return nil
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, pipeline.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
