package weather

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// Weather errors.
var (
	// ErrWeatherUnavailable wraps every failure to produce an observation.
	ErrWeatherUnavailable = errors.New("weather unavailable")

	ErrOutOfHorizon       = errors.New("date beyond forecast horizon")
	ErrHourNotFound       = errors.New("no reading for requested hour")
	ErrMalformedResponse  = errors.New("malformed weather response")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Source identifies which upstream series an observation came from.
type Source string

const (
	SourceArchive  Source = "archive"
	SourceForecast Source = "forecast"
)

// Area is the fixed service area weather is resolved for.
type Area struct {
	Lat      float64
	Lon      float64
	Timezone string
}

// Validate checks the coordinates and loads the timezone.
func (a Area) Validate() (*time.Location, error) {
	if a.Lat < -90 || a.Lat > 90 || a.Lon < -180 || a.Lon > 180 {
		return nil, ErrInvalidCoordinates
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// HourlyReading is one hour of a provider series. Time is the provider's
// local timestamp, e.g. "2024-07-15T08:00". Missing marks hours the provider
// has not published values for yet.
type HourlyReading struct {
	Time          string  `json:"time"`
	Temperature   float64 `json:"temperature_c"`
	Precipitation float64 `json:"precipitation_mm"`
	Missing       bool    `json:"missing,omitempty"`
}

// Hour parses the hour of day from Time.
func (r HourlyReading) Hour() (int, error) {
	t, err := time.Parse(HourLayout, r.Time)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q", ErrMalformedResponse, r.Time)
	}
	return t.Hour(), nil
}

// HourLayout is the timestamp format of hourly readings.
const HourLayout = "2006-01-02T15:04"

// DaySeries is the hourly series for one civil date.
type DaySeries struct {
	Date      string          `json:"date"`
	Source    Source          `json:"source"`
	Hours     []HourlyReading `json:"hours"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// At returns the reading for hour of day.
func (d *DaySeries) At(hour int) (HourlyReading, error) {
	for _, r := range d.Hours {
		h, err := r.Hour()
		if err != nil {
			return HourlyReading{}, err
		}
		if h == hour {
			if r.Missing {
				return HourlyReading{}, fmt.Errorf("%w: %s %02d:00 has no value", ErrHourNotFound, d.Date, hour)
			}
			return r, nil
		}
	}
	return HourlyReading{}, fmt.Errorf("%w: %s %02d:00", ErrHourNotFound, d.Date, hour)
}

// Observation is the weather at a civil date and hour.
type Observation struct {
	Date          string
	Hour          int
	Temperature   float64
	Precipitation float64
	Source        Source
	FetchedAt     time.Time
}
