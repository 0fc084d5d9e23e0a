// Package resilience wraps outbound HTTP calls to weather and open-data
// upstreams with a circuit breaker, per-attempt timeouts and retries.
package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker defaults for the upstream data providers.
const (
	// DefaultBreakerWindow matches the forecast cache TTL: failures older
	// than one cache generation no longer count against a closed breaker.
	DefaultBreakerWindow = 10 * time.Minute

	// DefaultBreakerCooldown is how long an open breaker fails fast before
	// letting trial requests through.
	DefaultBreakerCooldown = 30 * time.Second

	// DefaultHalfOpenProbes lets the warm-up pool's concurrent lookups
	// through together once the cooldown ends.
	DefaultHalfOpenProbes = 3

	minTripRequests  = 5
	tripFailureRatio = 0.5

	// Every attempt passes the breaker, so a fetch that exhausted the
	// default retries fails four times in a row. Two such fetches trip it.
	consecutiveFailures = 8
)

// CircuitBreakerConfig configures the breaker guarding one upstream.
type CircuitBreakerConfig struct {
	// Name identifies the upstream in logs and the provider registry.
	Name string

	// MaxRequests is how many trial requests pass while half-open.
	MaxRequests uint32

	// Interval is the window after which a closed breaker clears its counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// ReadyToTrip decides whether the counts open the breaker.
	// Defaults to DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig returns the breaker settings for a provider
// upstream.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: DefaultHalfOpenProbes,
		Interval:    DefaultBreakerWindow,
		Timeout:     DefaultBreakerCooldown,
		ReadyToTrip: DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens the breaker after eight failed attempts in a row,
// or when at least half of five or more attempts in the window failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= consecutiveFailures {
		return true
	}
	if counts.Requests < minTripRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= tripFailureRatio
}

// NewCircuitBreaker creates a breaker from cfg.
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig) *gobreaker.CircuitBreaker[T] {
	ready := cfg.ReadyToTrip
	if ready == nil {
		ready = DefaultReadyToTrip
	}
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   cfg.MaxRequests,
		Interval:      cfg.Interval,
		Timeout:       cfg.Timeout,
		ReadyToTrip:   ready,
		OnStateChange: cfg.OnStateChange,
	})
}
