package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

func newIntegrateCmd() *cobra.Command {
	var flags stageFlags
	cmd := &cobra.Command{
		Use:   "integrate <source_id_prefix>",
		Short: "Run the map ingestion toolchain over registered objects",
		Long: `integrate unpacks each registered file, hands its shapefiles or
GeoPackage to the ingestion toolchain under a slug built from
<source_id_prefix> and the file name, and marks the ingest process done.
Objects that are already ingested are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return &UserError{Msg: "integrate requires exactly one <source_id_prefix> argument"}
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()
			repo, err := a.Repository(cmd.Context())
			if err != nil {
				return err
			}
			store, err := a.ObjectStore(cmd.Context())
			if err != nil {
				return err
			}
			tc, err := a.Toolchain()
			if err != nil {
				return err
			}
			integrator, err := pipeline.NewIntegrator(repo, store, tc, pipeline.IntegratorConfig{
				SlugPrefix: args[0],
				MapScale:   cfg.Integrate.MapScale,
				Extractor: pipeline.Extractor{
					FilesLimit:    cfg.Integrate.ExtractMaxFiles,
					FileSizeLimit: cfg.Integrate.ExtractMaxBytes,
				},
			}, a.Logger().Named("integrate"))
			if err != nil {
				return err
			}
			return runStage(cmd, flags, integrator, 1)
		},
	}
	flags.bind(cmd)
	return cmd
}
