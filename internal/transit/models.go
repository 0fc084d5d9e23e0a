// Package transit holds the bus-delay domain: prediction requests, their
// normalization rules and historical delay records.
package transit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain constants shared by training and serving.
const (
	// DefaultMinGap is the scheduled gap assumed when a request omits it.
	DefaultMinGap = 10

	// DefaultIncident is used when a request names no incident.
	DefaultIncident = "None"

	// DelayThresholdMinutes separates on-time from delayed trips.
	DelayThresholdMinutes = 3

	// MaxDelayMinutes caps historical delays before training.
	MaxDelayMinutes = 300

	// DateLayout and TimeLayout are the accepted request formats.
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Direction is a normalized compass direction of travel.
type Direction string

const (
	DirectionNorth Direction = "N"
	DirectionSouth Direction = "S"
	DirectionEast  Direction = "E"
	DirectionWest  Direction = "W"

	// DirectionUnknown marks historical records without a usable direction.
	DirectionUnknown Direction = "Unknown"
)

// ErrInvalidDirection is returned for tokens that are not a compass direction.
var ErrInvalidDirection = errors.New("invalid direction")

var directionSynonyms = map[string]Direction{
	"n": DirectionNorth, "north": DirectionNorth, "northbound": DirectionNorth,
	"s": DirectionSouth, "south": DirectionSouth, "southbound": DirectionSouth,
	"e": DirectionEast, "east": DirectionEast, "eastbound": DirectionEast,
	"w": DirectionWest, "west": DirectionWest, "westbound": DirectionWest,
}

// NormalizeDirection maps a direction token to N, S, E or W, ignoring case.
func NormalizeDirection(token string) (Direction, error) {
	d, ok := directionSynonyms[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, token)
	}
	return d, nil
}

// Directions lists the normalized directions.
func Directions() []Direction {
	return []Direction{DirectionNorth, DirectionSouth, DirectionEast, DirectionWest}
}

var incidents = []string{
	"Cleaning - Unsanitary",
	"Collision - TTC",
	"Diversion",
	"Emergency Services",
	"General Delay",
	"Held By",
	"Investigation",
	"Mechanical",
	"Operations - Operator",
	"Road Blocked - NON-TTC Collision",
	"Security",
	"Utilized Off Route",
	"Vision",
	"None",
}

var incidentSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(incidents))
	for _, i := range incidents {
		m[i] = struct{}{}
	}
	return m
}()

// Incidents returns the closed set of incident types a request may name.
func Incidents() []string {
	out := make([]string, len(incidents))
	copy(out, incidents)
	return out
}

// IsIncident reports whether s is a known incident type. Matching is exact.
func IsIncident(s string) bool {
	_, ok := incidentSet[s]
	return ok
}

// DelayRecord is one historical delay observation after parsing.
type DelayRecord struct {
	// At is the service-local date and time of the incident. When TimeKnown
	// is false only the date part is meaningful.
	At        time.Time
	TimeKnown bool
	Route     string
	Day       string
	Location  string
	Incident  string
	MinDelay  float64
	MinGap    *float64
	Direction string
	Vehicle   string
}

// IsDelayed applies the fixed delay threshold.
func IsDelayed(minutes float64) bool {
	return minutes > DelayThresholdMinutes
}

// MergedRecord is a delay record with the hourly weather matched on its
// civil date and hour. Weather fields are nil when nothing matched.
type MergedRecord struct {
	DelayRecord
	Temperature   *float64
	Precipitation *float64
}

// HasWeather reports whether both weather fields matched.
func (m MergedRecord) HasWeather() bool {
	return m.Temperature != nil && m.Precipitation != nil
}
