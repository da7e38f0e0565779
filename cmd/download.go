package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
	"github.com/JakeFAU/geomap-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/geomap-ingest/internal/policy/retry"
)

func newDownloadCmd() *cobra.Command {
	var flags stageFlags
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Fetch every descriptor's origin into its local file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			downloader := pipeline.NewDownloader(nil, pipeline.DownloaderConfig{
				ChunkSize: cfg.Download.ChunkSizeBytes,
				Timeout:   cfg.DownloadTimeout(),
				UserAgent: cfg.Download.UserAgent,
				Pacer:     ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.Download.RequestsPerSecond}),
				Retry: retry.New(retry.Config{
					MaxAttempts: cfg.Download.MaxAttempts,
					BaseDelay:   time.Duration(cfg.Download.RetryBaseMillis) * time.Millisecond,
				}),
			}, a.Logger().Named("download"))
			return runStage(cmd, flags, downloader, cfg.Download.Concurrency)
		},
	}
	flags.bind(cmd)
	return cmd
}
