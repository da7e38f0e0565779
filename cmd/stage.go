package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/clock/system"
	"github.com/JakeFAU/geomap-ingest/internal/object"
	"github.com/JakeFAU/geomap-ingest/internal/pipeline"
)

// stageFlags are the descriptor files shared by every stage command.
type stageFlags struct {
	input  string
	output string
	errors string
}

func (f *stageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "descriptors to process (JSON lines); none means an empty batch")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "append finished descriptors here")
	cmd.Flags().StringVarP(&f.errors, "error", "e", "", "append failed descriptors here")
}

// runStage applies stage to every input descriptor. Both log files are
// emptied first and then written as items finish, in input order. Without
// --input the batch is empty.
func runStage(cmd *cobra.Command, flags stageFlags, stage pipeline.Stage, concurrency int) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger().With(zap.String("stage", stage.Name()))

	descs, err := object.ReadFile(flags.input)
	if err != nil {
		return err
	}
	if err := object.Truncate(flags.output, flags.errors); err != nil {
		return err
	}
	succeeded, err := object.OpenAppend(flags.output)
	if err != nil {
		return err
	}
	defer succeeded.Close() //nolint:errcheck // append-only log
	failed, err := object.OpenAppend(flags.errors)
	if err != nil {
		return err
	}
	defer failed.Close() //nolint:errcheck // append-only log

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Concurrency: concurrency,
		OnOutcome: func(d object.Descriptor, itemErr error) {
			w := succeeded
			if itemErr != nil {
				w = failed
			}
			if err := w.Append(d); err != nil {
				logger.Error("record outcome failed", zap.String("origin", d.Origin), zap.Error(err))
			}
		},
	}, system.New(), a.Logger())

	logger.Info("stage started", zap.Int("total", len(descs)), zap.String("input", flags.input))
	runner.Run(cmd.Context(), stage, descs)
	if err := cmd.Context().Err(); err != nil {
		return fmt.Errorf("%s interrupted: %w", stage.Name(), err)
	}
	return nil
}
