// Package cmd defines and implements the CLI commands for the geomap-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/app"
	"github.com/JakeFAU/geomap-ingest/internal/config"
	"github.com/JakeFAU/geomap-ingest/internal/id/uuid"
	"github.com/JakeFAU/geomap-ingest/internal/logging"
	"github.com/JakeFAU/geomap-ingest/internal/metrics"
)

// UserError reports an operator mistake, such as a missing subcommand.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// cli owns the root command and the App it builds for one invocation.
type cli struct {
	root       *cobra.Command
	configPath string
	verbose    bool
	appOpts    []app.Option
	app        *app.App
}

// newCLI creates the command tree. appOpts are handed to the App, which lets
// tests swap in fake backends.
func newCLI(appOpts ...app.Option) *cli {
	c := &cli{appOpts: appOpts}
	c.root = &cobra.Command{
		Use:   "geomap-ingest",
		Short: "Discover, download, register and integrate geologic map archives.",
		Long: `geomap-ingest moves published geologic maps into the map database.

Each stage reads descriptors (one JSON object per line) and writes the ones
it finished to --output and the ones it could not finish to --error, so a
failed batch is retried by feeding the error file back in.`,
		SilenceErrors: true,
		SilenceUsage:  true,

		// Runs after flag parsing, before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.buildApp()
			if err != nil {
				return err
			}
			c.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		RunE: func(*cobra.Command, []string) error {
			return &UserError{Msg: "no action specified"}
		},
	}

	c.root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (YAML, TOML or JSON)")
	c.root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	c.root.AddCommand(
		newDiscoverCmd(),
		newDownloadCmd(),
		newRegisterCmd(),
		newIntegrateCmd(),
	)
	return c
}

func (c *cli) buildApp() (*app.App, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, c.verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger.With(zap.String("run_id", runID)), c.appOpts...), nil
}

// finish exports metrics and releases the App, whether or not the command failed.
func (c *cli) finish() {
	if c.app == nil {
		return
	}
	if err := metrics.WriteTextfile(c.app.Config().Metrics.Textfile); err != nil {
		c.app.Logger().Warn("metrics export failed", zap.Error(err))
	}
	c.app.Close()
	c.app = nil
}

// execute runs the command tree and returns the process exit code.
func (c *cli) execute(ctx context.Context, args []string, stderr io.Writer) int {
	defer c.finish()
	c.root.SetArgs(args)
	err := c.root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if c.app != nil {
		c.app.Logger().Error("command failed", zap.Error(err))
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	var userErr *UserError
	if errors.As(err, &userErr) {
		fmt.Fprint(stderr, c.root.UsageString())
	}
	return 1
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI against os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newCLI().execute(ctx, os.Args[1:], os.Stderr)
}
