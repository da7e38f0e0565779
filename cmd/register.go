package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/geomap-ingest/internal/hash/sha256"
	"github.com/JakeFAU/geomap-ingest/internal/mediatype"
	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

func newRegisterCmd() *cobra.Command {
	var flags stageFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Upload downloaded files and record them in the metadata store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			store, err := a.ObjectStore(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := a.Repository(cmd.Context())
			if err != nil {
				return err
			}
			detector, err := mediatype.New(cfg.Register.MIMEDetection)
			if err != nil {
				return fmt.Errorf("register.mime_detection: %w", err)
			}
			registrar := pipeline.NewRegistrar(store, repo, sha256.New(cfg.Download.ChunkSizeBytes), detector, a.Logger().Named("register"))
			return runStage(cmd, flags, registrar, 1)
		},
	}
	flags.bind(cmd)
	return cmd
}
