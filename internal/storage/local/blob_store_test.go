// Package local_test tests the local filesystem object store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geomap-ingest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: filepath.Join(t.TempDir(), "created")})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.gpkg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "maps", "nbmg/map-1.gpkg", writeTemp(t, "first"), "application/geopackage+sqlite3"))
	// Uploading again replaces the object.
	require.NoError(t, store.Upload(ctx, "maps", "nbmg/map-1.gpkg", writeTemp(t, "second"), ""))

	dst := filepath.Join(t.TempDir(), "out", "map.gpkg")
	require.NoError(t, store.Download(ctx, "maps", "nbmg/map-1.gpkg", dst))
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	url, err := store.PresignGet(ctx, "maps", "nbmg/map-1.gpkg", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.True(t, strings.HasSuffix(url, "/maps/nbmg/map-1.gpkg"))

	_, err = store.PresignGet(ctx, "maps", "nbmg/absent.gpkg", time.Hour)
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"hackathon/b.gpkg", "hackathon/sub/a.gpkg", "other/c.gpkg"} {
		require.NoError(t, store.Upload(ctx, "maps", key, writeTemp(t, key), ""))
	}

	keys, err := store.List(ctx, "maps", "hackathon/")
	require.NoError(t, err)
	assert.Equal(t, []string{"hackathon/b.gpkg", "hackathon/sub/a.gpkg"}, keys)

	keys, err = store.List(ctx, "empty-bucket", "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRejectsTraversal(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, store.Upload(ctx, "maps", "../../etc/passwd", writeTemp(t, "x"), ""))
	assert.Error(t, store.Upload(ctx, "..", "key", writeTemp(t, "x"), ""))
	assert.Error(t, store.Upload(ctx, "maps", "", writeTemp(t, "x"), ""))
}
