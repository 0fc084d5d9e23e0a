package etl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/transitx/transitx/internal/transit"
)

// ErrMissingColumn is returned when a required column has no recognized header.
var ErrMissingColumn = errors.New("required column missing")

// Header synonyms seen across yearly delay extracts, after lower-casing and
// trimming.
var (
	delayHeaders     = []string{"min_delay", "min delay", "min delay (min)", "min delay (mins)", "min delay mins"}
	gapHeaders       = []string{"min gap", "min_gap", "min gap (min)"}
	dateHeaders      = []string{"date", "report date"}
	routeHeaders     = []string{"route", "line"}
	timeHeaders      = []string{"time"}
	dayHeaders       = []string{"day"}
	locationHeaders  = []string{"location"}
	incidentHeaders  = []string{"incident"}
	directionHeaders = []string{"direction", "bound"}
	vehicleHeaders   = []string{"vehicle"}
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"2-Jan-06",
	"02-Jan-06",
	"2-Jan-2006",
	"January 2, 2006",
}

var timeLayouts = []string{"15:04", "15:04:05", "3:04:05 PM", "3:04 PM"}

// ParseStats counts what a parse kept and why rows were dropped.
type ParseStats struct {
	Kept      int
	NoDelay   int
	NoRoute   int
	BadDate   int
	Malformed int
}

// Dropped is the total number of dropped rows.
func (s ParseStats) Dropped() int {
	return s.NoDelay + s.NoRoute + s.BadDate + s.Malformed
}

type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

// index returns the column of the first synonym present, or -1.
func (h header) index(names []string) int {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i
		}
	}
	return -1
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ParseDelays reads one delay extract. Dates and times are interpreted in
// loc. Rows without a numeric delay, a route or a parsable date are dropped;
// rows with an unparsable time are kept with TimeKnown false.
func ParseDelays(r io.Reader, loc *time.Location) ([]transit.DelayRecord, ParseStats, error) {
	var stats ParseStats

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("reading delay header: %w", err)
	}
	h := newHeader(first)

	cols := struct{ delay, gap, date, route, tod, day, location, incident, direction, vehicle int }{
		delay:     h.index(delayHeaders),
		gap:       h.index(gapHeaders),
		date:      h.index(dateHeaders),
		route:     h.index(routeHeaders),
		tod:       h.index(timeHeaders),
		day:       h.index(dayHeaders),
		location:  h.index(locationHeaders),
		incident:  h.index(incidentHeaders),
		direction: h.index(directionHeaders),
		vehicle:   h.index(vehicleHeaders),
	}
	switch {
	case cols.delay < 0:
		return nil, stats, fmt.Errorf("%w: min_delay", ErrMissingColumn)
	case cols.route < 0:
		return nil, stats, fmt.Errorf("%w: route", ErrMissingColumn)
	case cols.date < 0:
		return nil, stats, fmt.Errorf("%w: date", ErrMissingColumn)
	}

	var out []transit.DelayRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Malformed++
				continue
			}
			return nil, stats, fmt.Errorf("reading delay rows: %w", err)
		}

		delay, err := strconv.ParseFloat(field(row, cols.delay), 64)
		if err != nil {
			stats.NoDelay++
			continue
		}
		route := field(row, cols.route)
		if route == "" {
			stats.NoRoute++
			continue
		}
		day, ok := parseDate(field(row, cols.date), loc)
		if !ok {
			stats.BadDate++
			continue
		}

		rec := transit.DelayRecord{
			At:        day,
			Route:     route,
			Day:       field(row, cols.day),
			Location:  field(row, cols.location),
			Incident:  field(row, cols.incident),
			MinDelay:  delay,
			Direction: field(row, cols.direction),
			Vehicle:   field(row, cols.vehicle),
		}
		if clock, ok := parseClock(field(row, cols.tod)); ok {
			rec.At = time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
			rec.TimeKnown = true
		}
		if rec.Day == "" {
			rec.Day = day.Weekday().String()
		}
		if gap, err := strconv.ParseFloat(field(row, cols.gap), 64); err == nil {
			rec.MinGap = &gap
		}

		out = append(out, rec)
		stats.Kept++
	}
	return out, stats, nil
}

func parseDate(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

func parseClock(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
