// Package toolchain runs the external map ingestion CLI as a subprocess.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/JakeFAU/geomap-ingest/internal/metrics"
)

// DefaultCommand is the ingestion CLI invoked when none is configured.
const DefaultCommand = "macrostrat-maps"

// Subcommands of the ingestion CLI.
const (
	SubIngest        = "ingest"
	SubPrepareFields = "prepare-fields"
	SubCreateRgeom   = "create-rgeom"
	SubCreateWebgeom = "create-webgeom"
)

// Config controls how the ingestion CLI is launched.
type Config struct {
	// Command is split with shell quoting rules, so it may carry fixed arguments.
	Command string
	Dir     string
	Env     []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Exec implements pipeline.Toolchain with one subprocess per step.
type Exec struct {
	argv   []string
	cfg    Config
	logger *zap.Logger
}

// New parses cfg.Command and returns an Exec.
func New(cfg Config, logger *zap.Logger) (*Exec, error) {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	argv, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse toolchain command %q: %w", cfg.Command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("toolchain command is empty")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{argv: argv, cfg: cfg, logger: logger}, nil
}

// Ingest loads files into a new source identified by slug.
func (e *Exec) Ingest(ctx context.Context, slug string, files []string) error {
	return e.run(ctx, SubIngest, append([]string{slug}, files...)...)
}

// PrepareFields normalizes the ingested fields of slug.
func (e *Exec) PrepareFields(ctx context.Context, slug string) error {
	return e.run(ctx, SubPrepareFields, slug)
}

// CreateRgeom builds the source's reference geometry.
func (e *Exec) CreateRgeom(ctx context.Context, sourceID int64) error {
	return e.run(ctx, SubCreateRgeom, strconv.FormatInt(sourceID, 10))
}

// CreateWebgeom builds the source's web geometry.
func (e *Exec) CreateWebgeom(ctx context.Context, sourceID int64) error {
	return e.run(ctx, SubCreateWebgeom, strconv.FormatInt(sourceID, 10))
}

func (e *Exec) run(ctx context.Context, sub string, args ...string) (err error) {
	defer func() { metrics.ObserveToolchainRun(sub, err) }()

	argv := make([]string, 0, len(e.argv)+1+len(args))
	argv = append(argv, e.argv[1:]...)
	argv = append(argv, sub)
	argv = append(argv, args...)

	// #nosec G204 -- the command is operator configuration, arguments are slugs, paths and ids.
	cmd := exec.CommandContext(ctx, e.argv[0], argv...)
	cmd.Dir = e.cfg.Dir
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	cmd.Stdin = nil
	cmd.Stdout = e.cfg.Stdout
	cmd.Stderr = e.cfg.Stderr

	e.logger.Debug("running toolchain", zap.String("command", shellquote.Join(cmd.Args...)))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w", e.argv[0], sub, err)
	}
	return nil
}
