package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/geomap-ingest/internal/metrics"
	"github.com/JakeFAU/geomap-ingest/internal/object"
)

// Clock abstracts time for duration measurements.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// RunnerConfig controls how a batch is driven.
type RunnerConfig struct {
	// Concurrency is the number of descriptors processed at once; values
	// below 2 run the batch sequentially.
	Concurrency int
	// OnOutcome is called once per descriptor, in input order, with nil for
	// success. It is never called concurrently.
	OnOutcome func(d object.Descriptor, err error)
}

// Result partitions a batch by outcome, each side in input order.
type Result struct {
	Succeeded []object.Descriptor
	Failed    []object.Descriptor
}

// Runner applies a stage to every descriptor of a batch, isolating failures.
type Runner struct {
	cfg    RunnerConfig
	clock  Clock
	logger *zap.Logger
}

// NewRunner constructs a Runner. A nil clock uses the wall clock.
func NewRunner(cfg RunnerConfig, clock Clock, logger *zap.Logger) *Runner {
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, clock: clock, logger: logger}
}

// Run processes descriptors with stage. One descriptor failing never stops
// the others; every descriptor ends up in exactly one partition.
func (r *Runner) Run(ctx context.Context, stage Stage, descriptors []object.Descriptor) Result {
	outcomes := make([]chan error, len(descriptors))
	for i := range outcomes {
		outcomes[i] = make(chan error, 1)
	}

	go func() {
		var g errgroup.Group
		limit := r.cfg.Concurrency
		if limit < 1 {
			limit = 1
		}
		g.SetLimit(limit)
		for i, d := range descriptors {
			g.Go(func() error {
				outcomes[i] <- r.runOne(ctx, stage, d)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var res Result
	for i, d := range descriptors {
		err := <-outcomes[i]
		if err != nil {
			res.Failed = append(res.Failed, d)
		} else {
			res.Succeeded = append(res.Succeeded, d)
		}
		if r.cfg.OnOutcome != nil {
			r.cfg.OnOutcome(d, err)
		}
	}

	r.logger.Info("stage finished",
		zap.String("stage", stage.Name()),
		zap.Int("total", len(descriptors)),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
	)
	return res
}

func (r *Runner) runOne(ctx context.Context, stage Stage, d object.Descriptor) (err error) {
	start := r.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		outcome := metrics.OutcomeSucceeded
		if err != nil {
			outcome = metrics.OutcomeFailed
			r.logger.Error("item failed",
				zap.String("stage", stage.Name()),
				zap.String("origin", d.Origin),
				zap.String("key", d.Key),
				zap.Error(err),
			)
		}
		metrics.ObserveStageItem(stage.Name(), outcome, r.clock.Now().Sub(start))
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stage.Process(ctx, d); err != nil {
		return err
	}
	if v, ok := stage.(Verifier); ok {
		done, err := v.Verify(ctx, d)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if !done {
			return ErrNotIngested
		}
	}
	return nil
}
