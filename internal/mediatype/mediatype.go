// Package mediatype determines MIME types of local files.
package mediatype

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Fallback is reported when nothing more specific is known.
const Fallback = "application/octet-stream"

// Geospatial formats the system mime table usually lacks.
var extraTypes = map[string]string{
	".gpkg":    "application/geopackage+sqlite3",
	".zip":     "application/zip",
	".shp":     "application/x-esri-shape",
	".geojson": "application/geo+json",
	".kml":     "application/vnd.google-earth.kml+xml",
	".kmz":     "application/vnd.google-earth.kmz",
	".tif":     "image/tiff",
	".tiff":    "image/tiff",
}

// Detector reports the media type of the file at path.
type Detector interface {
	Detect(path string) (string, error)
}

// ByExtension guesses the type from the file name only.
type ByExtension struct{}

// Detect implements pipeline.MIMEDetector.
func (ByExtension) Detect(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extraTypes[ext]; ok {
		return t, nil
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t, nil
	}
	return Fallback, nil
}

// Sniffer inspects file contents, like libmagic.
type Sniffer struct{}

// Detect implements pipeline.MIMEDetector.
func (Sniffer) Detect(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}
	return mt.String(), nil
}

// New returns the detector for the configured mode ("extension" or "content").
func New(mode string) (Detector, error) {
	switch strings.ToLower(mode) {
	case "", "extension":
		return ByExtension{}, nil
	case "content", "sniff":
		return Sniffer{}, nil
	default:
		return nil, fmt.Errorf("unknown mime detection mode %q", mode)
	}
}
