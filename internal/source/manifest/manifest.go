// Package manifest discovers map downloads listed in a CSV export.
//
// Each row flagged with GIS data points at a product page; the page supplies
// the map title and the link to its shapefile archive.
package manifest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/policy/ratelimit"
)

// Required CSV columns.
const (
	ColumnURL     = "url"
	ColumnGISData = "gis_data"
	ColumnTitle   = "title"
	ColumnAuthors = "authors"
	ColumnYear    = "year"
)

const shapefileLinkText = "Shapefile version"

// Config controls how product pages are fetched.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond paces product page fetches; zero disables pacing.
	RequestsPerSecond float64
}

// Row is one manifest entry worth following.
type Row struct {
	PageURL string
	Title   string
	Authors string
	Year    string
}

// Product is what a product page yields.
type Product struct {
	Title        string
	ShapefileURL string
}

// Source reads a CSV manifest and scrapes the pages it references.
type Source struct {
	path    string
	cfg     Config
	layout  object.Layout
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New returns a Source for the manifest at path.
func New(path string, cfg Config, layout object.Layout, logger *zap.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limiter := ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RequestsPerSecond})
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{path: path, cfg: cfg, layout: layout, limiter: limiter, logger: logger}
}

// Discover returns one descriptor per product page that has both a title and
// a shapefile link, in manifest order.
func (s *Source) Discover(ctx context.Context) ([]object.Descriptor, error) {
	// #nosec G304 -- the manifest path is an operator argument.
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	rows, err := ReadRows(f)
	if err != nil {
		return nil, err
	}

	var descs []object.Descriptor
	for _, row := range rows {
		if err := s.limiter.Wait(ctx, row.PageURL); err != nil {
			return nil, err
		}
		product, err := s.scrape(ctx, row.PageURL)
		if err != nil {
			return nil, err
		}
		if product.Title == "" || product.ShapefileURL == "" {
			s.logger.Debug("skipping product page", zap.String("page", row.PageURL),
				zap.Bool("has_title", product.Title != ""), zap.Bool("has_link", product.ShapefileURL != ""))
			continue
		}
		d := s.layout.New(product.ShapefileURL, map[string]any{
			"website": row.PageURL,
			"url":     product.ShapefileURL,
		})
		d.Name = product.Title
		d.RefTitle = row.Title
		d.RefAuthors = row.Authors
		d.RefYear = row.Year
		descs = append(descs, d)
	}
	s.logger.Info("discovered", zap.String("manifest", s.path), zap.Int("rows", len(rows)), zap.Int("count", len(descs)))
	return descs, nil
}

// ReadRows parses the manifest and keeps the rows whose gis_data column is "yes".
func ReadRows(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	idx := make(map[string]int, 5)
	for _, name := range []string{ColumnURL, ColumnGISData, ColumnTitle, ColumnAuthors, ColumnYear} {
		i, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("manifest is missing column %q", name)
		}
		idx[name] = i
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		field := func(name string) string {
			if i := idx[name]; i < len(record) {
				return record[i]
			}
			return ""
		}
		if field(ColumnGISData) != "yes" {
			continue
		}
		rows = append(rows, Row{
			PageURL: field(ColumnURL),
			Title:   field(ColumnTitle),
			Authors: field(ColumnAuthors),
			Year:    field(ColumnYear),
		})
	}
}

func (s *Source) scrape(ctx context.Context, page string) (Product, error) {
	c := colly.NewCollector(colly.StdlibContext(ctx))
	if s.cfg.UserAgent != "" {
		c.UserAgent = s.cfg.UserAgent
	}
	c.SetRequestTimeout(s.cfg.Timeout)

	var product Product
	c.OnHTML("html", func(e *colly.HTMLElement) {
		product = ParseProduct(e.Request.URL, e.DOM)
	})
	if err := c.Visit(page); err != nil {
		return Product{}, fmt.Errorf("visit %s: %w", page, err)
	}
	return product, nil
}

// ParseProduct extracts the title and shapefile link from a product page.
// When several elements qualify, the last one wins.
func ParseProduct(page *url.URL, doc *goquery.Selection) Product {
	var p Product
	doc.Find("span").Each(func(_ int, span *goquery.Selection) {
		text := span.Text()
		if rest, ok := strings.CutPrefix(text, "Title:"); ok {
			p.Title = strings.TrimSpace(rest)
		}
	})
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		if !strings.HasPrefix(a.Text(), shapefileLinkText) {
			return
		}
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if page != nil {
			ref = page.ResolveReference(ref)
		}
		p.ShapefileURL = ref.String()
	})
	return p
}
