// Package etl implements the batch pipeline: extract, transform, feature
// engineering, load, train and batch predict, run strictly in sequence.
package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/transitx/transitx/internal/telemetry"
)

// Stage is one step of the batch pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// Runner executes stages in order and stops at the first failure. Outputs
// of completed stages are left in place.
type Runner struct {
	stages  []Stage
	logger  zerolog.Logger
	metrics *telemetry.Collectors
}

// NewRunner creates a runner for stages.
func NewRunner(logger zerolog.Logger, metrics *telemetry.Collectors, stages ...Stage) *Runner {
	return &Runner{stages: stages, logger: logger, metrics: metrics}
}

const tracerName = "github.com/transitx/transitx/internal/etl"

// Run executes every stage, each under its own span.
func (r *Runner) Run(ctx context.Context) error {
	started := time.Now()
	r.logger.Info().Int("stages", len(r.stages)).Msg("pipeline started")

	for _, s := range r.stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline cancelled before %s: %w", s.Name(), err)
		}

		start := time.Now()
		r.logger.Info().Str("stage", s.Name()).Msg("stage started")
		stageCtx, span := telemetry.StartSpan(ctx, tracerName, "etl."+s.Name(),
			attribute.String("pipeline.stage", s.Name()))
		err := s.Run(stageCtx)
		telemetry.EndSpan(span, err)
		d := time.Since(start)
		r.metrics.ObserveStage(s.Name(), d, err)

		if err != nil {
			r.logger.Error().Err(err).Str("stage", s.Name()).Dur("duration", d).Msg("stage failed")
			return fmt.Errorf("stage %s: %w", s.Name(), err)
		}
		r.logger.Info().Str("stage", s.Name()).Dur("duration", d).Msg("stage completed")
	}

	r.logger.Info().Dur("duration", time.Since(started)).Msg("pipeline finished")
	return nil
}
