package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

var testDest = object.Destination{Scheme: "s3", Host: "storage.example.org", Bucket: "maps", Key: "nbmg/map-4fc6b20e.zip"}

func newMockRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo, err := NewWithPool(mock, Tables{})
	require.NoError(t, err)
	return repo, mock
}

func TestTablesValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultTables().Validate())

	bad := DefaultTables()
	bad.Sources = "maps.sources; DROP TABLE x"
	require.Error(t, bad.Validate())

	_, err := NewWithPool(nil, Tables{})
	require.Error(t, err)
}

func TestFindObject(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	group := int64(3)
	mock.ExpectQuery(`SELECT id, object_group_id\s+FROM storage\.object`).
		WithArgs(testDest.Scheme, testDest.Host, testDest.Bucket, testDest.Key).
		WillReturnRows(pgxmock.NewRows([]string{"id", "object_group_id"}).AddRow(int64(7), &group))

	rec, err := repo.FindObject(context.Background(), testDest)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	require.NotNil(t, rec.ObjectGroupID)
	assert.Equal(t, int64(3), *rec.ObjectGroupID)
	assert.Equal(t, testDest, rec.Destination)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindObjectNotFound(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM storage\.object`).
		WithArgs(testDest.Scheme, testDest.Host, testDest.Bucket, testDest.Key).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindObject(context.Background(), testDest)
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindIngestProcess(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	state := "ingested"
	source := int64(55)
	mock.ExpectQuery(`FROM ingest_process\s+WHERE object_group_id = \$1`).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "object_group_id", "state", "source_id"}).
			AddRow(int64(9), int64(3), &state, &source))

	proc, err := repo.FindIngestProcess(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(9), proc.ID)
	assert.True(t, proc.Ingested())
	require.NotNil(t, proc.SourceID)
	assert.Equal(t, int64(55), *proc.SourceID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSourceID(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT source_id FROM maps\.sources WHERE slug = \$1`).
		WithArgs("nbmg_map_zip").
		WillReturnRows(pgxmock.NewRows([]string{"source_id"}).AddRow(int64(77)))
	mock.ExpectQuery(`SELECT source_id FROM maps\.sources`).
		WithArgs("nbmg_absent_zip").
		WillReturnError(pgx.ErrNoRows)

	id, err := repo.FindSourceID(context.Background(), "nbmg_map_zip")
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	_, err = repo.FindSourceID(context.Background(), "nbmg_absent_zip")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIngestProcess(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO storage\.object_group DEFAULT VALUES(.|\n)*INSERT INTO ingest_process`).
		WithArgs("created").
		WillReturnRows(pgxmock.NewRows([]string{"id", "object_group_id"}).AddRow(int64(12), int64(4)))

	proc, err := repo.CreateIngestProcess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.IngestProcess{ID: 12, ObjectGroupID: 4, State: pipeline.ProcessCreated}, proc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertObject(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	group := int64(4)
	rec := pipeline.ObjectRecord{
		Destination:   testDest,
		SHA256Hash:    "abc123",
		MIMEType:      "application/zip",
		Source:        map[string]any{"url": "https://data.nbmg.unr.edu/Public/a/map.zip"},
		ObjectGroupID: &group,
	}

	mock.ExpectQuery(`INSERT INTO storage\.object AS o(.|\n)*ON CONFLICT \(scheme, host, bucket, key\) DO UPDATE(.|\n)*COALESCE\(o\.object_group_id, EXCLUDED\.object_group_id\)`).
		WithArgs(
			testDest.Scheme,
			testDest.Host,
			testDest.Bucket,
			testDest.Key,
			[]byte(`{"url":"https://data.nbmg.unr.edu/Public/a/map.zip"}`),
			"application/zip",
			"abc123",
			pgxmock.AnyArg(),
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := repo.UpsertObject(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkIngested(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE ingest_process SET state = \$1, source_id = \$2 WHERE id = \$3`).
		WithArgs("ingested", int64(77), int64(12)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE ingest_process`).
		WithArgs("ingested", int64(77), int64(13)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.MarkIngested(context.Background(), 12, 77))
	require.ErrorIs(t, repo.MarkIngested(context.Background(), 13, 77), pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSource(t *testing.T) {
	t.Parallel()
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE maps\.sources SET name = \$1, scale = \$2 WHERE source_id = \$3`).
		WithArgs("Clark County", "large", int64(77)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE maps\.sources`).
		WithArgs("Clark County", "large", int64(78)).
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, repo.UpdateSource(context.Background(), 77, "Clark County", "large"))
	err := repo.UpdateSource(context.Background(), 78, "Clark County", "large")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo, err := NewWithPool(mock, Tables{Sources: "test_sources"})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT source_id FROM test_sources`).
		WithArgs("slug").
		WillReturnRows(pgxmock.NewRows([]string{"source_id"}).AddRow(int64(1)))

	_, err = repo.FindSourceID(context.Background(), "slug")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
