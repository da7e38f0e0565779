package manifest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

var testLayout = object.Layout{Scheme: "s3", Host: "storage.example.org", Bucket: "maps", Prefix: "ngmdb", LocalDir: "/tmp/cache"}

func TestReadRowsKeepsGISRows(t *testing.T) {
	t.Parallel()

	csv := "\ufefftitle,url,gis_data,authors,year\n" +
		"\"Map of A, NV\",https://ngmdb.example.org/Prodesc/1.html,yes,Smith,1999\n" +
		"Map of B,https://ngmdb.example.org/Prodesc/2.html,no,Jones,2001\n"
	rows, err := ReadRows(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, []Row{{
		PageURL: "https://ngmdb.example.org/Prodesc/1.html",
		Title:   "Map of A, NV",
		Authors: "Smith",
		Year:    "1999",
	}}, rows)

	_, err = ReadRows(strings.NewReader("title,url\nx,y\n"))
	require.ErrorContains(t, err, `missing column "gis_data"`)

	rows, err = ReadRows(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseProduct(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body>
<span>Series: I-123</span>
<span>Title: Geologic map of Clark County </span>
<a href="/Prodesc/proddesc_1.pdf">PDF version</a>
<a href="../gis/clark.zip">Shapefile version (12 MB)</a>
</body></html>`))
	require.NoError(t, err)

	page, err := url.Parse("https://ngmdb.example.org/Prodesc/1.html")
	require.NoError(t, err)

	p := ParseProduct(page, doc.Selection)
	assert.Equal(t, "Geologic map of Clark County", p.Title)
	assert.Equal(t, "https://ngmdb.example.org/gis/clark.zip", p.ShapefileURL)
}

func TestDiscoverFollowsProductPages(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/Prodesc/1.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><span>Title: Clark County</span><a href="/gis/clark.zip">Shapefile version</a></body></html>`)
	})
	mux.HandleFunc("/Prodesc/2.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><span>Title: No shapefile here</span></body></html>`)
	})

	manifestPath := filepath.Join(t.TempDir(), "ngmdb.csv")
	csv := "url,gis_data,title,authors,year\n" +
		srv.URL + "/Prodesc/1.html,yes,Ref Clark,Smith,1999\n" +
		srv.URL + "/Prodesc/2.html,yes,Ref Other,Jones,2001\n" +
		srv.URL + "/Prodesc/3.html,no,Ref Skipped,Doe,2002\n"
	require.NoError(t, os.WriteFile(manifestPath, []byte(csv), 0o600))

	src := New(manifestPath, Config{RequestsPerSecond: 100}, testLayout, zap.NewNop())
	descs, err := src.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, descs, 1)
	d := descs[0]
	assert.Equal(t, srv.URL+"/gis/clark.zip", d.Origin)
	assert.Equal(t, "Clark County", d.Name)
	assert.Equal(t, "Ref Clark", d.RefTitle)
	assert.Equal(t, "Smith", d.RefAuthors)
	assert.Equal(t, "1999", d.RefYear)
	assert.Equal(t, srv.URL+"/Prodesc/1.html", d.Description["website"])
	assert.True(t, strings.HasPrefix(d.Key, "ngmdb/clark-"))
	assert.True(t, strings.HasSuffix(d.Key, ".zip"))
}

func TestDiscoverMissingManifest(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "absent.csv"), Config{}, testLayout, nil).Discover(context.Background())
	require.Error(t, err)
}
