// Package webpage discovers downloadable archives linked from a single HTML page.
package webpage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// NBMG defaults.
const (
	DefaultPage   = "https://nbmg.unr.edu/USGS.html"
	DefaultPrefix = "https://data.nbmg.unr.edu/Public/"
	DefaultSuffix = ".zip"
)

// Config selects the page and the links to keep.
type Config struct {
	Page      string
	Prefix    string
	Suffix    string
	UserAgent string
	Timeout   time.Duration
}

// Source scrapes one page with colly.
type Source struct {
	cfg    Config
	layout object.Layout
	logger *zap.Logger
}

// New applies defaults and returns a Source.
func New(cfg Config, layout object.Layout, logger *zap.Logger) *Source {
	if cfg.Page == "" {
		cfg.Page = DefaultPage
	}
	if cfg.Prefix == "" && cfg.Suffix == "" {
		cfg.Prefix = DefaultPrefix
		cfg.Suffix = DefaultSuffix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, layout: layout, logger: logger}
}

// Matches reports whether an absolute link is one worth downloading.
func (s *Source) Matches(link string) bool {
	return strings.HasPrefix(link, s.cfg.Prefix) && strings.HasSuffix(link, s.cfg.Suffix)
}

// Discover returns one descriptor per matching link, sorted by origin.
func (s *Source) Discover(ctx context.Context) ([]object.Descriptor, error) {
	c := colly.NewCollector(colly.StdlibContext(ctx))
	if s.cfg.UserAgent != "" {
		c.UserAgent = s.cfg.UserAgent
	}
	c.SetRequestTimeout(s.cfg.Timeout)

	seen := map[string]struct{}{}
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || !s.Matches(link) {
			return
		}
		seen[link] = struct{}{}
	})
	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(s.cfg.Page); err != nil {
		return nil, fmt.Errorf("visit %s: %w", s.cfg.Page, err)
	}
	if visitErr != nil {
		return nil, fmt.Errorf("visit %s: %w", s.cfg.Page, visitErr)
	}

	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)

	descs := make([]object.Descriptor, 0, len(links))
	for _, link := range links {
		descs = append(descs, s.layout.New(link, map[string]any{
			"website": s.cfg.Page,
			"url":     link,
		}))
	}
	s.logger.Info("discovered", zap.String("page", s.cfg.Page), zap.Int("count", len(descs)))
	return descs, nil
}
