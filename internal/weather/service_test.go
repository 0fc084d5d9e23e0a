package weather_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/transitx/transitx/internal/weather"
)

var toronto = weather.Area{Lat: 43.7, Lon: -79.4, Timezone: "America/Toronto"}

// mockProvider is a test double for weather.Provider.
type mockProvider struct {
	mu            sync.Mutex
	archiveCalls  []string
	forecastCalls []string
	temperature   float64
	precipitation float64
	err           error
}

func (m *mockProvider) series(date string, source weather.Source) *weather.DaySeries {
	day := &weather.DaySeries{Date: date, Source: source}
	for h := 0; h < 24; h++ {
		day.Hours = append(day.Hours, weather.HourlyReading{
			Time:          fmt.Sprintf("%sT%02d:00", date, h),
			Temperature:   m.temperature + float64(h)/100,
			Precipitation: m.precipitation,
		})
	}
	return day
}

func (m *mockProvider) Archive(_ context.Context, _ weather.Area, date string) (*weather.DaySeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveCalls = append(m.archiveCalls, date)
	if m.err != nil {
		return nil, m.err
	}
	return m.series(date, weather.SourceArchive), nil
}

func (m *mockProvider) Forecast(_ context.Context, _ weather.Area, date string) (*weather.DaySeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forecastCalls = append(m.forecastCalls, date)
	if m.err != nil {
		return nil, m.err
	}
	return m.series(date, weather.SourceForecast), nil
}

func (m *mockProvider) Name() string { return "mock" }

func newService(t *testing.T, p weather.Provider, now time.Time) (*weather.Service, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	svc, err := weather.NewService(weather.ServiceConfig{
		Provider: p,
		Area:     toronto,
		Logger:   zerolog.Nop(),
		Clock:    clock,
	})
	require.NoError(t, err)
	return svc, clock
}

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	return loc
}

func TestService_PastDateUsesArchive(t *testing.T) {
	loc := mustLoc(t)
	p := &mockProvider{temperature: 22}
	svc, _ := newService(t, p, time.Date(2024, 8, 1, 12, 0, 0, 0, loc))

	obs, err := svc.Resolve(context.Background(), time.Date(2024, 7, 15, 8, 30, 0, 0, loc))
	require.NoError(t, err)

	assert.Equal(t, weather.SourceArchive, obs.Source)
	assert.Equal(t, "2024-07-15", obs.Date)
	assert.Equal(t, 8, obs.Hour)
	assert.InDelta(t, 22.08, obs.Temperature, 1e-9)
	assert.Equal(t, []string{"2024-07-15"}, p.archiveCalls)
	assert.Empty(t, p.forecastCalls)
}

func TestService_TodayUsesForecast(t *testing.T) {
	loc := mustLoc(t)
	p := &mockProvider{temperature: 10}
	svc, _ := newService(t, p, time.Date(2024, 7, 15, 6, 0, 0, 0, loc))

	obs, err := svc.Resolve(context.Background(), time.Date(2024, 7, 15, 23, 0, 0, 0, loc))
	require.NoError(t, err)

	assert.Equal(t, weather.SourceForecast, obs.Source)
	assert.Equal(t, 23, obs.Hour)
	assert.Equal(t, []string{"2024-07-15"}, p.forecastCalls)
}

func TestService_TodayIsJudgedInServiceTimezone(t *testing.T) {
	loc := mustLoc(t)
	p := &mockProvider{}
	// 02:00 UTC on the 16th is still the 15th in Toronto.
	svc, _ := newService(t, p, time.Date(2024, 7, 16, 2, 0, 0, 0, time.UTC))

	source, err := svc.SourceFor(time.Date(2024, 7, 15, 20, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, weather.SourceForecast, source)
}

func TestService_ForecastHorizon(t *testing.T) {
	loc := mustLoc(t)
	p := &mockProvider{}
	svc, _ := newService(t, p, time.Date(2024, 7, 1, 9, 0, 0, 0, loc))

	_, err := svc.Resolve(context.Background(), time.Date(2024, 7, 16, 9, 0, 0, 0, loc))
	require.NoError(t, err, "day 15 after today is the last forecast day")

	_, err = svc.Resolve(context.Background(), time.Date(2024, 7, 17, 9, 0, 0, 0, loc))
	assert.ErrorIs(t, err, weather.ErrWeatherUnavailable)
	assert.ErrorIs(t, err, weather.ErrOutOfHorizon)
	assert.Len(t, p.forecastCalls, 1, "no call for an out-of-horizon date")
}

func TestService_ProviderErrorIsUnavailable(t *testing.T) {
	loc := mustLoc(t)
	upstream := errors.New("connection refused")
	p := &mockProvider{err: upstream}
	svc, _ := newService(t, p, time.Date(2024, 8, 1, 12, 0, 0, 0, loc))

	obs, err := svc.Resolve(context.Background(), time.Date(2024, 7, 15, 8, 0, 0, 0, loc))

	assert.Nil(t, obs)
	assert.ErrorIs(t, err, weather.ErrWeatherUnavailable)
	assert.ErrorIs(t, err, upstream)
}

func TestService_NonFiniteReadingIsUnavailable(t *testing.T) {
	loc := mustLoc(t)
	p := &mockProvider{precipitation: math.NaN()}
	svc, _ := newService(t, p, time.Date(2024, 8, 1, 12, 0, 0, 0, loc))

	_, err := svc.Resolve(context.Background(), time.Date(2024, 7, 15, 8, 0, 0, 0, loc))

	assert.ErrorIs(t, err, weather.ErrWeatherUnavailable)
	assert.ErrorIs(t, err, weather.ErrMalformedResponse)
}

func TestService_FetchSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	loc := mustLoc(t)
	p := &mockProvider{}
	svc, _ := newService(t, p, time.Date(2024, 8, 1, 12, 0, 0, 0, loc))
	at := time.Date(2024, 7, 15, 8, 0, 0, 0, loc)

	_, err := svc.Resolve(context.Background(), at)
	require.NoError(t, err)
	_, err = svc.Resolve(context.Background(), at)
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1, "cache hits do not reach the provider")
	assert.Equal(t, "weather.fetch", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("weather.source", "archive"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("weather.date", "2024-07-15"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	p.err = errors.New("connection refused")
	_, err = svc.Resolve(context.Background(), time.Date(2024, 7, 14, 8, 0, 0, 0, loc))
	require.Error(t, err)

	spans = sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestService_CachesDaySeries(t *testing.T) {
	loc := mustLoc(t)
	p := &mockProvider{temperature: 5}
	svc, clock := newService(t, p, time.Date(2024, 7, 15, 6, 0, 0, 0, loc))

	for _, hour := range []int{7, 8, 9} {
		_, err := svc.Resolve(context.Background(), time.Date(2024, 7, 15, hour, 0, 0, 0, loc))
		require.NoError(t, err)
	}
	assert.Len(t, p.forecastCalls, 1)

	clock.Advance(weather.DefaultForecastTTL + time.Second)
	_, err := svc.Resolve(context.Background(), time.Date(2024, 7, 15, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Len(t, p.forecastCalls, 2, "forecast entry expired")
}

func TestNewService_Validation(t *testing.T) {
	_, err := weather.NewService(weather.ServiceConfig{Area: toronto})
	assert.Error(t, err)

	_, err = weather.NewService(weather.ServiceConfig{
		Provider: &mockProvider{},
		Area:     weather.Area{Lat: 91, Lon: 0, Timezone: "UTC"},
	})
	assert.ErrorIs(t, err, weather.ErrInvalidCoordinates)

	_, err = weather.NewService(weather.ServiceConfig{
		Provider: &mockProvider{},
		Area:     weather.Area{Lat: 43.7, Lon: -79.4, Timezone: "Mars/Olympus"},
	})
	assert.Error(t, err)
}

func TestDaySeries_At(t *testing.T) {
	day := &weather.DaySeries{Date: "2024-07-15", Hours: []weather.HourlyReading{
		{Time: "2024-07-15T00:00", Temperature: 18},
		{Time: "2024-07-15T01:00", Temperature: 17},
		{Time: "2024-07-15T02:00", Missing: true},
	}}

	r, err := day.At(1)
	require.NoError(t, err)
	assert.Equal(t, 17.0, r.Temperature)

	_, err = day.At(5)
	assert.ErrorIs(t, err, weather.ErrHourNotFound)

	_, err = day.At(2)
	assert.ErrorIs(t, err, weather.ErrHourNotFound)

	bad := &weather.DaySeries{Hours: []weather.HourlyReading{{Time: "yesterday"}}}
	_, err = bad.At(0)
	assert.ErrorIs(t, err, weather.ErrMalformedResponse)
}
