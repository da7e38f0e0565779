package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/source"
	"github.com/JakeFAU/geomap-ingest/internal/source/bucket"
	"github.com/JakeFAU/geomap-ingest/internal/source/manifest"
	"github.com/JakeFAU/geomap-ingest/internal/source/webpage"
)

func newDiscoverCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List candidate map files as descriptors",
		Long: `discover scrapes a source and prints one descriptor per candidate file.
The output is the --input of the download stage.`,
		RunE: func(*cobra.Command, []string) error {
			return &UserError{Msg: "no source specified"}
		},
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", "", "write descriptors here instead of stdout")

	cmd.AddCommand(
		newDiscoverWebpageCmd(&output),
		newDiscoverManifestCmd(&output),
		newDiscoverBucketCmd(&output),
	)
	return cmd
}

func newDiscoverWebpageCmd(output *string) *cobra.Command {
	var cfg webpage.Config
	cmd := &cobra.Command{
		Use:   "webpage",
		Short: "Collect archive links from one HTML page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			layout, err := a.Layout()
			if err != nil {
				return err
			}
			dc := a.Config().Discover
			cfg.Page = firstNonEmpty(cfg.Page, dc.Webpage.Page)
			cfg.Prefix = firstNonEmpty(cfg.Prefix, dc.Webpage.Prefix)
			cfg.Suffix = firstNonEmpty(cfg.Suffix, dc.Webpage.Suffix)
			cfg.UserAgent = dc.UserAgent
			cfg.Timeout = a.Config().DiscoverTimeout()
			return emit(cmd, *output, webpage.New(cfg, layout, a.Logger().Named("discover")))
		},
	}
	cmd.Flags().StringVar(&cfg.Page, "page", "", "page to scrape (default "+webpage.DefaultPage+")")
	cmd.Flags().StringVar(&cfg.Prefix, "prefix", "", "keep links starting with this (default "+webpage.DefaultPrefix+")")
	cmd.Flags().StringVar(&cfg.Suffix, "suffix", "", "keep links ending with this (default "+webpage.DefaultSuffix+")")
	return cmd
}

func newDiscoverManifestCmd(output *string) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <csv>",
		Short: "Follow the product pages listed in a CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			layout, err := a.Layout()
			if err != nil {
				return err
			}
			dc := a.Config().Discover
			src := manifest.New(args[0], manifest.Config{
				UserAgent:         dc.UserAgent,
				Timeout:           a.Config().DiscoverTimeout(),
				RequestsPerSecond: dc.RequestsPerSecond,
			}, layout, a.Logger().Named("discover"))
			return emit(cmd, *output, src)
		},
	}
}

func newDiscoverBucketCmd(output *string) *cobra.Command {
	var (
		event  string
		suffix string
		expiry time.Duration
	)
	cmd := &cobra.Command{
		Use:   "bucket <name_template> <bucket> <prefix>",
		Short: "List files already in an object-store bucket",
		Long: `bucket lists <bucket>/<prefix> and mints a presigned URL for every
matching key. <name_template> may use {host}, {bucket} and {key}.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			layout, err := a.Layout()
			if err != nil {
				return err
			}
			store, err := a.ObjectStore(cmd.Context())
			if err != nil {
				return err
			}
			bc := a.Config().Discover.Bucket
			if expiry <= 0 {
				expiry = time.Duration(bc.URLExpiryHours) * time.Hour
			}
			src, err := bucket.New(store, bucket.Config{
				Host:         a.Config().ObjectStore.Host,
				Bucket:       args[1],
				Prefix:       args[2],
				Suffix:       firstNonEmpty(suffix, bc.Suffix),
				NameTemplate: args[0],
				Event:        firstNonEmpty(event, bc.Event),
				URLExpiry:    expiry,
			}, layout, a.Logger().Named("discover"))
			if err != nil {
				return err
			}
			return emit(cmd, *output, src)
		},
	}
	cmd.Flags().StringVar(&event, "event", "", "event recorded in each description")
	cmd.Flags().StringVar(&suffix, "suffix", "", "keep keys ending with this (default "+bucket.DefaultSuffix+")")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "presigned URL lifetime (default 168h)")
	return cmd
}

// emit runs src and writes its descriptors to path, or stdout when path is empty.
func emit(cmd *cobra.Command, path string, src source.Source) error {
	descs, err := src.Discover(cmd.Context())
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if path == "" {
		return source.Emit(object.NewWriter(cmd.OutOrStdout()), descs)
	}
	// #nosec G304 -- the path is supplied by the operator.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := source.Emit(object.NewWriter(f), descs); err != nil {
		f.Close() //nolint:errcheck,gosec // the write error wins
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
