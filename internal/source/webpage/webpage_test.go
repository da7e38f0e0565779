package webpage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

var testLayout = object.Layout{Scheme: "s3", Host: "storage.example.org", Bucket: "maps", Prefix: "nbmg", LocalDir: "/tmp/cache"}

func TestDiscoverFiltersSortsAndDedupes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/USGS.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><body>
<a href="%[1]s/Public/b/map.zip">B</a>
<a href="/Public/a/map.zip">A (relative)</a>
<a href="%[1]s/Public/a/map.zip">A again</a>
<a href="%[1]s/Public/a/readme.pdf">PDF</a>
<a href="https://elsewhere.example.org/Public/c.zip">Elsewhere</a>
<a>no href</a>
</body></html>`, srv.URL)
	})

	src := New(Config{Page: srv.URL + "/USGS.html", Prefix: srv.URL + "/Public/", Suffix: ".zip"}, testLayout, zap.NewNop())
	descs, err := src.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, descs, 2)
	assert.Equal(t, srv.URL+"/Public/a/map.zip", descs[0].Origin)
	assert.Equal(t, srv.URL+"/Public/b/map.zip", descs[1].Origin)
	assert.Equal(t, map[string]any{"website": srv.URL + "/USGS.html", "url": descs[0].Origin}, descs[0].Description)
	assert.Equal(t, testLayout.Key(descs[0].Origin), descs[0].Key)
	assert.NotEqual(t, descs[0].Key, descs[1].Key)

	again, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, descs, again)
}

func TestDiscoverPropagatesHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	_, err := New(Config{Page: srv.URL + "/USGS.html"}, testLayout, nil).Discover(context.Background())
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	src := New(Config{}, testLayout, nil)
	assert.True(t, src.Matches("https://data.nbmg.unr.edu/Public/Geology/map.zip"))
	assert.False(t, src.Matches("https://data.nbmg.unr.edu/Public/Geology/map.pdf"))
	assert.False(t, src.Matches("https://example.org/Public/map.zip"))
}
