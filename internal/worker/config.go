// Package worker runs background jobs for TransitX: pipeline runs triggered
// over Pub/Sub and weather cache warm-up ahead of the morning peak.
package worker

import (
	"time"
)

// Job types carried in the job_type field of a message.
const (
	JobPipelineRun   = "pipeline_run"
	JobWeatherWarmup = "weather_warmup"
	JobHealthCheck   = "health_check"
)

// WarmupConfig holds configuration for the weather warm-up job.
type WarmupConfig struct {
	// Days is how many civil days, today included, to pre-resolve.
	// Default: 7
	Days int

	// Hours are the local hours resolved on each day. Every hour of a day
	// shares one cached series, so a single hour is enough to warm it.
	// Default: [12]
	Hours []int

	// Concurrency is the number of concurrent lookups.
	// Default: 3
	Concurrency int

	// Timeout bounds each lookup.
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultWarmupConfig returns the default warm-up configuration.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Days:        7,
		Hours:       []int{12},
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

func (c WarmupConfig) withDefaults() WarmupConfig {
	def := DefaultWarmupConfig()
	if c.Days <= 0 {
		c.Days = def.Days
	}
	if len(c.Hours) == 0 {
		c.Hours = def.Hours
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Targets returns the instants to resolve, starting from the civil day of
// now in loc.
func (c WarmupConfig) Targets(now time.Time, loc *time.Location) []time.Time {
	c = c.withDefaults()
	local := now.In(loc)
	y, m, d := local.Date()

	targets := make([]time.Time, 0, c.Days*len(c.Hours))
	for day := 0; day < c.Days; day++ {
		for _, hour := range c.Hours {
			targets = append(targets, time.Date(y, m, d+day, hour, 0, 0, 0, loc))
		}
	}
	return targets
}
