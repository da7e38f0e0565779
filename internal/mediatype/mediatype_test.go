package mediatype

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByExtension(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"tmp/map-1234abcd.zip":  "application/zip",
		"tmp/MAP.GPKG":          "application/geopackage+sqlite3",
		"tmp/readme.unknownext": Fallback,
	}
	for path, want := range cases {
		got, err := ByExtension{}.Detect(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
}

func TestSnifferReadsContent(t *testing.T) {
	t.Parallel()

	// A zip archive saved under a misleading name.
	path := filepath.Join(t.TempDir(), "archive.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("a.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	got, err := Sniffer{}.Detect(path)
	require.NoError(t, err)
	assert.Equal(t, "application/zip", got)

	_, err = Sniffer{}.Detect(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Parallel()

	d, err := New("")
	require.NoError(t, err)
	assert.IsType(t, ByExtension{}, d)

	d, err = New("content")
	require.NoError(t, err)
	assert.IsType(t, Sniffer{}, d)

	_, err = New("magic8ball")
	assert.Error(t, err)
}
