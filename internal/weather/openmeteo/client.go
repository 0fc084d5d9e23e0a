// Package openmeteo implements weather.Provider against the Open-Meteo
// archive and forecast APIs.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/provider/resilience"
	"github.com/transitx/transitx/internal/weather"
)

const (
	// ProviderName identifies this weather provider.
	ProviderName = "open-meteo"

	DefaultArchiveURL  = "https://archive-api.open-meteo.com/v1/archive"
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	hourlyVariables = "temperature_2m,precipitation"
	dateLayout      = "2006-01-02"
)

// ClientConfig holds configuration for the Open-Meteo client.
type ClientConfig struct {
	ArchiveURL  string
	ForecastURL string

	// ArchiveHTTP and ForecastHTTP default to resilient clients named
	// "open-meteo-archive" and "open-meteo-forecast".
	ArchiveHTTP  *resilience.Client
	ForecastHTTP *resilience.Client

	// Providers, if set, tracks the default clients.
	Providers *resilience.Registry

	// Clock stamps fetched series. Defaults to the real clock.
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Client is an Open-Meteo API client.
type Client struct {
	archiveURL   string
	forecastURL  string
	archiveHTTP  *resilience.Client
	forecastHTTP *resilience.Client
	clock        clockwork.Clock
	logger       zerolog.Logger
}

// NewClient creates a new Open-Meteo client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		archiveURL:   cfg.ArchiveURL,
		forecastURL:  cfg.ForecastURL,
		archiveHTTP:  cfg.ArchiveHTTP,
		forecastHTTP: cfg.ForecastHTTP,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.archiveURL == "" {
		c.archiveURL = DefaultArchiveURL
	}
	if c.forecastURL == "" {
		c.forecastURL = DefaultForecastURL
	}
	if c.archiveHTTP == nil {
		c.archiveHTTP = defaultHTTP("open-meteo-archive", cfg)
	}
	if c.forecastHTTP == nil {
		c.forecastHTTP = defaultHTTP("open-meteo-forecast", cfg)
	}
	return c
}

func defaultHTTP(name string, cfg ClientConfig) *resilience.Client {
	cc := resilience.DefaultClientConfig(name)
	cc.Registry = cfg.Providers
	cc.Logger = cfg.Logger
	return resilience.NewClient(cc)
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Archive fetches observed hourly weather for one past date.
func (c *Client) Archive(ctx context.Context, area weather.Area, date string) (*weather.DaySeries, error) {
	return c.day(ctx, c.archiveHTTP, c.archiveURL, weather.SourceArchive, area, date)
}

// Forecast fetches forecast hourly weather for today or a future date.
func (c *Client) Forecast(ctx context.Context, area weather.Area, date string) (*weather.DaySeries, error) {
	return c.day(ctx, c.forecastHTTP, c.forecastURL, weather.SourceForecast, area, date)
}

// ArchiveCSV streams the hourly archive between two dates, inclusive, in
// Open-Meteo's CSV format. The caller closes the returned reader.
func (c *Client) ArchiveCSV(ctx context.Context, area weather.Area, from, to time.Time) (io.ReadCloser, error) {
	q := query(area, from.Format(dateLayout), to.Format(dateLayout))
	q.Set("format", "csv")

	resp, err := c.get(ctx, c.archiveHTTP, c.archiveURL, q)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) day(ctx context.Context, hc *resilience.Client, base string, source weather.Source,
	area weather.Area, date string) (*weather.DaySeries, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	resp, err := c.get(ctx, hc, base, query(area, date, date))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body hourlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", weather.ErrMalformedResponse, err)
	}

	series, err := body.toSeries(date, source, c.clock.Now())
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("source", string(source)).
		Str("date", date).
		Int("hours", len(series.Hours)).
		Msg("fetched weather series")

	return series, nil
}

func (c *Client) get(ctx context.Context, hc *resilience.Client, base string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var apiErr errorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr) == nil && apiErr.Reason != "" {
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, apiErr.Reason)
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp, nil
}

func query(area weather.Area, start, end string) url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(area.Lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(area.Lon, 'f', -1, 64))
	q.Set("start_date", start)
	q.Set("end_date", end)
	q.Set("hourly", hourlyVariables)
	q.Set("timezone", area.Timezone)
	return q
}

// Open-Meteo API response structures.

type hourlyResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Hourly    struct {
		Time          []string   `json:"time"`
		Temperature   []*float64 `json:"temperature_2m"`
		Precipitation []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// toSeries keeps hours with null values as missing readings; the day is only
// unusable at those hours.
func (r *hourlyResponse) toSeries(date string, source weather.Source, fetchedAt time.Time) (*weather.DaySeries, error) {
	h := r.Hourly
	if len(h.Time) == 0 {
		return nil, fmt.Errorf("%w: no hourly data for %s", weather.ErrMalformedResponse, date)
	}
	if len(h.Temperature) != len(h.Time) || len(h.Precipitation) != len(h.Time) {
		return nil, fmt.Errorf("%w: hourly arrays differ in length", weather.ErrMalformedResponse)
	}

	series := &weather.DaySeries{
		Date:      date,
		Source:    source,
		Hours:     make([]weather.HourlyReading, 0, len(h.Time)),
		FetchedAt: fetchedAt,
	}
	for i, ts := range h.Time {
		if h.Temperature[i] == nil || h.Precipitation[i] == nil {
			series.Hours = append(series.Hours, weather.HourlyReading{Time: ts, Missing: true})
			continue
		}
		series.Hours = append(series.Hours, weather.HourlyReading{
			Time:          ts,
			Temperature:   *h.Temperature[i],
			Precipitation: *h.Precipitation[i],
		})
	}
	return series, nil
}
