package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	getter "github.com/hashicorp/go-getter"
)

// ExtractedSuffix names the sibling directory a zip archive is unpacked into.
const ExtractedSuffix = "-extracted"

var nonWordChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Slug derives the toolchain dataset identifier for a local file name.
func Slug(prefix, filename string) string {
	return strings.ToLower(prefix + "_" + nonWordChars.ReplaceAllString(filename, "_"))
}

// Extractor locates the ingestible payload inside a local file.
type Extractor struct {
	// FilesLimit and FileSizeLimit guard against archive bombs; zero disables them.
	FilesLimit    int
	FileSizeLimit int64
}

// Payload returns the files to hand to the toolchain for localFile. Paths are
// absolute, since the toolchain may run in another directory.
//
// Zip archives are unpacked into `<localFile>-extracted` (replacing any earlier
// extraction) and every shapefile inside becomes part of the payload.
// GeoPackages are used as-is. Anything else has no payload.
func (e Extractor) Payload(localFile string) ([]string, error) {
	abs, err := filepath.Abs(localFile)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", localFile, err)
	}
	localFile = abs
	switch strings.ToLower(filepath.Ext(localFile)) {
	case ".zip":
		dir := localFile + ExtractedSuffix
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("remove stale extraction: %w", err)
		}
		zd := &getter.ZipDecompressor{FilesLimit: e.FilesLimit, FileSizeLimit: e.FileSizeLimit}
		if err := zd.Decompress(dir, localFile, true, 0); err != nil {
			return nil, fmt.Errorf("extract %s: %w", localFile, err)
		}
		return findShapefiles(dir)
	case ".gpkg":
		return []string{localFile}, nil
	default:
		return nil, nil
	}
}

func findShapefiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			// macOS archivers add resource forks that look like shapefiles.
			if entry.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".shp") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find shapefiles in %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}
