// Package weather resolves the hourly weather for a civil date and hour in
// the service area, choosing between a historical archive and a forecast.
package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/transitx/transitx/internal/telemetry"
)

// Provider fetches hourly series for a single civil date.
type Provider interface {
	// Archive returns observed weather for a past date.
	Archive(ctx context.Context, area Area, date string) (*DaySeries, error)

	// Forecast returns predicted weather for today or a future date.
	Forecast(ctx context.Context, area Area, date string) (*DaySeries, error)

	// Name returns the provider name for logging.
	Name() string
}

const tracerName = "github.com/transitx/transitx/internal/weather"

// Default resolver settings.
const (
	DefaultForecastHorizonDays = 16
	DefaultArchiveTTL          = 24 * time.Hour
	DefaultForecastTTL         = 10 * time.Minute
)

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	Provider Provider
	Area     Area

	// Cache stores day series. Defaults to an in-memory cache.
	Cache Cache

	Logger  zerolog.Logger
	Clock   clockwork.Clock
	Metrics *telemetry.Collectors

	// ForecastHorizonDays is how many days, today included, the forecast covers.
	ForecastHorizonDays int

	ArchiveTTL  time.Duration
	ForecastTTL time.Duration
}

// Service resolves weather observations. It never substitutes default
// values: every failure is returned wrapped in ErrWeatherUnavailable.
type Service struct {
	provider    Provider
	area        Area
	location    *time.Location
	cache       Cache
	logger      zerolog.Logger
	clock       clockwork.Clock
	metrics     *telemetry.Collectors
	horizonDays int
	archiveTTL  time.Duration
	forecastTTL time.Duration
}

// NewService creates a weather service for the configured area.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Provider == nil {
		return nil, errors.New("weather provider is required")
	}
	loc, err := cfg.Area.Validate()
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache(clock)
	}
	horizon := cfg.ForecastHorizonDays
	if horizon <= 0 {
		horizon = DefaultForecastHorizonDays
	}
	archiveTTL := cfg.ArchiveTTL
	if archiveTTL == 0 {
		archiveTTL = DefaultArchiveTTL
	}
	forecastTTL := cfg.ForecastTTL
	if forecastTTL == 0 {
		forecastTTL = DefaultForecastTTL
	}

	return &Service{
		provider:    cfg.Provider,
		area:        cfg.Area,
		location:    loc,
		cache:       cache,
		logger:      cfg.Logger,
		clock:       clock,
		metrics:     cfg.Metrics,
		horizonDays: horizon,
		archiveTTL:  archiveTTL,
		forecastTTL: forecastTTL,
	}, nil
}

// Location returns the service-area timezone.
func (s *Service) Location() *time.Location {
	return s.location
}

// SourceFor reports which series covers the civil date of at, or
// ErrOutOfHorizon if no series does.
func (s *Service) SourceFor(at time.Time) (Source, error) {
	day := civilDate(at.In(s.location))
	today := civilDate(s.clock.Now().In(s.location))

	switch {
	case day.Before(today):
		return SourceArchive, nil
	case day.After(today.AddDate(0, 0, s.horizonDays-1)):
		return "", fmt.Errorf("%w: %s is more than %d days ahead", ErrOutOfHorizon, day.Format("2006-01-02"), s.horizonDays-1)
	default:
		return SourceForecast, nil
	}
}

// Resolve returns the weather at the date and hour of at, read in the
// service-area timezone.
func (s *Service) Resolve(ctx context.Context, at time.Time) (*Observation, error) {
	local := at.In(s.location)
	date := local.Format("2006-01-02")

	source, err := s.SourceFor(local)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeatherUnavailable, err)
	}

	day, err := s.day(ctx, source, date)
	if err != nil {
		s.metrics.ObserveWeather(string(source), "error")
		return nil, fmt.Errorf("%w: %w", ErrWeatherUnavailable, err)
	}

	reading, err := day.At(local.Hour())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeatherUnavailable, err)
	}
	if !finite(reading.Temperature) || !finite(reading.Precipitation) {
		return nil, fmt.Errorf("%w: %w: non-finite reading at %s", ErrWeatherUnavailable, ErrMalformedResponse, reading.Time)
	}

	return &Observation{
		Date:          date,
		Hour:          local.Hour(),
		Temperature:   reading.Temperature,
		Precipitation: reading.Precipitation,
		Source:        source,
		FetchedAt:     day.FetchedAt,
	}, nil
}

func (s *Service) day(ctx context.Context, source Source, date string) (*DaySeries, error) {
	key := s.cacheKey(source, date)

	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("weather cache read failed")
	} else if ok {
		s.metrics.ObserveWeather(string(source), "hit")
		return cached, nil
	}
	s.metrics.ObserveWeather(string(source), "miss")

	s.logger.Debug().
		Str("provider", s.provider.Name()).
		Str("source", string(source)).
		Str("date", date).
		Msg("fetching weather from provider")

	ctx, span := telemetry.StartSpan(ctx, tracerName, "weather.fetch",
		attribute.String("weather.provider", s.provider.Name()),
		attribute.String("weather.source", string(source)),
		attribute.String("weather.date", date),
	)

	var (
		day *DaySeries
		err error
		ttl time.Duration
	)
	switch source {
	case SourceArchive:
		day, err = s.provider.Archive(ctx, s.area, date)
		ttl = s.archiveTTL
	default:
		day, err = s.provider.Forecast(ctx, s.area, date)
		ttl = s.forecastTTL
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		s.logger.Error().Err(err).
			Str("source", string(source)).
			Str("date", date).
			Msg("failed to fetch weather")
		return nil, err
	}

	if err := s.cache.Set(ctx, key, day, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("weather cache write failed")
	}
	return day, nil
}

func (s *Service) cacheKey(source Source, date string) string {
	return fmt.Sprintf("weather:%s:%.2f:%.2f:%s", source, s.area.Lat, s.area.Lon, date)
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
