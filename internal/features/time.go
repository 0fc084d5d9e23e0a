// Package features holds the feature transformations shared by the batch
// pipeline and the inference service. Both paths must derive rows through
// this package so that encoded vectors agree.
package features

import (
	"strings"
	"time"
)

// TimeFeatures are the calendar-derived inputs for a single instant.
type TimeFeatures struct {
	Hour      int
	Month     int
	DayOfWeek string
	RushHour  bool
	IsWeekend bool
}

var rushHours = map[int]struct{}{
	7: {}, 8: {}, 9: {},
	16: {}, 17: {}, 18: {},
}

// ExtractTime derives time features from a civil date and clock time.
// The instant is read in its own location; callers pass service-local time.
func ExtractTime(t time.Time) TimeFeatures {
	day := t.Weekday().String()
	return TimeFeatures{
		Hour:      t.Hour(),
		Month:     int(t.Month()),
		DayOfWeek: day,
		RushHour:  IsRushHour(t.Hour()),
		IsWeekend: IsWeekend(day),
	}
}

// IsRushHour reports whether hour falls in the morning or evening peak.
func IsRushHour(hour int) bool {
	_, ok := rushHours[hour]
	return ok
}

// IsWeekend reports whether the day name is Saturday or Sunday, ignoring case.
func IsWeekend(day string) bool {
	switch strings.ToLower(strings.TrimSpace(day)) {
	case "saturday", "sunday":
		return true
	default:
		return false
	}
}
