package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/etl"
)

var (
	ErrMalformedMessage = errors.New("malformed job message")
	ErrUnknownJob       = errors.New("unknown job type")
	ErrJobDisabled      = errors.New("job is not configured on this worker")
)

// Message is the JSON body of a job message.
type Message struct {
	JobType string `json:"job_type"`

	// Stages applies to pipeline_run. Empty selects the default stages.
	Stages []string `json:"stages,omitempty"`
}

// Check is a named dependency probe run by health_check jobs.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// DispatcherConfig holds the collaborators jobs draw on. Nil members
// disable the matching job type.
type DispatcherConfig struct {
	Pipeline Pipeline
	Warmup   *WarmupJob
	Checks   []Check
	Logger   zerolog.Logger
}

// Dispatcher decodes job messages and runs them.
type Dispatcher struct {
	pipeline Pipeline
	warmup   *WarmupJob
	checks   []Check
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		pipeline: cfg.Pipeline,
		warmup:   cfg.Warmup,
		checks:   cfg.Checks,
		logger:   cfg.Logger,
	}
}

// Handle runs the job in data and returns its type. A nil error means the
// message should be acked.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) (string, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobPipelineRun:
		return msg.JobType, d.runPipeline(ctx, msg)
	case JobWeatherWarmup:
		return msg.JobType, d.runWarmup(ctx)
	case JobHealthCheck:
		return msg.JobType, d.runHealthCheck(ctx)
	default:
		return msg.JobType, fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}
}

// Permanent reports whether redelivering the message could not help.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrUnknownJob) ||
		errors.Is(err, ErrJobDisabled) ||
		errors.Is(err, etl.ErrUnknownStage)
}

func (d *Dispatcher) runPipeline(ctx context.Context, msg Message) error {
	if d.pipeline == nil {
		return fmt.Errorf("%w: %s", ErrJobDisabled, JobPipelineRun)
	}
	d.logger.Info().Strs("stages", msg.Stages).Msg("starting pipeline run")
	return d.pipeline.Run(ctx, msg.Stages)
}

func (d *Dispatcher) runWarmup(ctx context.Context) error {
	if d.warmup == nil {
		return fmt.Errorf("%w: %s", ErrJobDisabled, JobWeatherWarmup)
	}
	result := d.warmup.Run(ctx)

	// Consider it successful if at least half the lookups succeeded.
	if result.Failed > result.Successful {
		return fmt.Errorf("too many warm-up failures: %d/%d", result.Failed, result.Total)
	}
	return nil
}

func (d *Dispatcher) runHealthCheck(ctx context.Context) error {
	var errs []error
	for _, c := range d.checks {
		if err := c.Probe(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	d.logger.Debug().Int("checks", len(d.checks)).Msg("health check passed")
	return nil
}
