package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/weather"
)

// Resolver is the part of weather.Service the warm-up job drives.
type Resolver interface {
	Resolve(ctx context.Context, at time.Time) (*weather.Observation, error)
	Location() *time.Location
}

// WarmupJob resolves upcoming forecast days so the shared cache already
// holds them when predictions arrive.
type WarmupJob struct {
	config   WarmupConfig
	resolver Resolver
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu   sync.RWMutex
	last *WarmupResult
}

// WarmupJobConfig holds configuration for creating a WarmupJob.
type WarmupJobConfig struct {
	Config   WarmupConfig
	Resolver Resolver
	Clock    clockwork.Clock
	Logger   zerolog.Logger
}

// NewWarmupJob creates a warm-up job.
func NewWarmupJob(cfg WarmupJobConfig) *WarmupJob {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WarmupJob{
		config:   cfg.Config.withDefaults(),
		resolver: cfg.Resolver,
		clock:    clock,
		logger:   cfg.Logger,
	}
}

// WarmupResult contains the result of a warm-up run.
type WarmupResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Total      int
	Successful int
	Failed     int
	Sources    map[weather.Source]int
	Errors     []WarmupError
}

// WarmupError records one failed lookup.
type WarmupError struct {
	At    time.Time
	Error string
}

type lookupResult struct {
	at     time.Time
	source weather.Source
	err    error
}

// Run resolves every target with a bounded pool of workers. Individual
// failures are collected rather than aborting the run.
func (j *WarmupJob) Run(ctx context.Context) *WarmupResult {
	start := j.clock.Now()
	targets := j.config.Targets(start, j.resolver.Location())
	result := &WarmupResult{
		StartTime: start,
		Total:     len(targets),
		Sources:   make(map[weather.Source]int),
	}

	j.logger.Info().
		Int("targets", result.Total).
		Int("concurrency", j.config.Concurrency).
		Msg("starting weather warm-up")

	work := make(chan time.Time, len(targets))
	results := make(chan lookupResult, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.lookupWorker(ctx, work, results)
		}()
	}

	for _, at := range targets {
		work <- at
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, WarmupError{At: r.at, Error: r.err.Error()})
			continue
		}
		result.Successful++
		result.Sources[r.source]++
	}
	// Targets never picked up because ctx ended count as failures.
	result.Failed += result.Total - result.Successful - result.Failed

	result.EndTime = j.clock.Now()
	result.Duration = result.EndTime.Sub(start)

	j.mu.Lock()
	j.last = result
	j.mu.Unlock()

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("weather warm-up completed")

	return result
}

func (j *WarmupJob) lookupWorker(ctx context.Context, work <-chan time.Time, results chan<- lookupResult) {
	for at := range work {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lookupCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
		obs, err := j.resolver.Resolve(lookupCtx, at)
		cancel()

		r := lookupResult{at: at, err: err}
		if err == nil {
			r.source = obs.Source
		} else {
			j.logger.Warn().Err(err).Time("at", at).Msg("warm-up lookup failed")
		}
		results <- r
	}
}

// Last returns the most recent result, or nil before the first run.
func (j *WarmupJob) Last() *WarmupResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}
