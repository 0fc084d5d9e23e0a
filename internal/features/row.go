package features

import (
	"strings"
	"time"
)

// Row is an un-encoded feature row. Categorical values are kept as labels
// until an Assembler encodes them.
type Row struct {
	Route         string
	DayOfWeek     string
	Location      string
	Incident      string
	MinGap        float64
	Direction     string
	Temperature   float64
	Precipitation float64
	Hour          int
	Month         int
	RushHour      bool
	IsWeekend     bool
	TempBin       TempBin
	RainIntensity RainBin
}

// Label returns the string value of a categorical column.
func (r Row) Label(column string) (string, bool) {
	switch column {
	case ColRoute:
		return r.Route, true
	case ColDayOfWeek:
		return r.DayOfWeek, true
	case ColLocation:
		return r.Location, true
	case ColIncident:
		return r.Incident, true
	case ColDirection:
		return r.Direction, true
	case ColTempBin:
		return string(r.TempBin), true
	case ColRainIntensity:
		return string(r.RainIntensity), true
	}
	return "", false
}

// Numeric returns the value of a numeric column. Flags are 0 or 1.
func (r Row) Numeric(column string) (float64, bool) {
	switch column {
	case ColMinGap:
		return r.MinGap, true
	case ColTemperature:
		return r.Temperature, true
	case ColPrecipitation:
		return r.Precipitation, true
	case ColHour:
		return float64(r.Hour), true
	case ColMonth:
		return float64(r.Month), true
	case ColRushHour:
		return flag(r.RushHour), true
	case ColIsWeekend:
		return flag(r.IsWeekend), true
	}
	return 0, false
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Input is the raw material for one row: request or historical record
// fields, the service-local instant and the resolved weather.
type Input struct {
	Route         string
	Direction     string
	Location      string
	Incident      string
	MinGap        float64
	At            time.Time
	Temperature   float64
	Precipitation float64
}

// BuildRow derives a Row from raw input. It is the only place labels are
// cleaned, so batch and online rows normalize identically.
func BuildRow(in Input) (Row, error) {
	bins, err := Categorize(in.Temperature, in.Precipitation)
	if err != nil {
		return Row{}, err
	}
	tf := ExtractTime(in.At)
	return Row{
		Route:         NormalizeRoute(in.Route),
		DayOfWeek:     tf.DayOfWeek,
		Location:      NormalizeLocation(in.Location),
		Incident:      strings.TrimSpace(in.Incident),
		MinGap:        in.MinGap,
		Direction:     strings.TrimSpace(in.Direction),
		Temperature:   in.Temperature,
		Precipitation: in.Precipitation,
		Hour:          tf.Hour,
		Month:         tf.Month,
		RushHour:      tf.RushHour,
		IsWeekend:     tf.IsWeekend,
		TempBin:       bins.Temp,
		RainIntensity: bins.Rain,
	}, nil
}

// NormalizeRoute trims the route and drops a zero fraction that spreadsheet
// exports add to numeric cells ("32.0" becomes "32").
func NormalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	whole, frac, ok := strings.Cut(route, ".")
	if !ok || whole == "" || !isDigits(whole) || strings.Trim(frac, "0") != "" {
		return route
	}
	return whole
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// NormalizeLocation upper-cases the location and collapses whitespace.
func NormalizeLocation(location string) string {
	return strings.ToUpper(strings.Join(strings.Fields(location), " "))
}
