package etl

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/transitx/transitx/internal/transit"
)

// ErrNoWeatherHeader is returned when a weather export has no "time," line.
var ErrNoWeatherHeader = errors.New("weather export has no time header")

const weatherTimeLayout = "2006-01-02T15:04"

// HourKey identifies a civil date and hour.
type HourKey struct {
	Date string
	Hour int
}

// KeyOf returns the hour key of a service-local instant.
func KeyOf(t time.Time) HourKey {
	return HourKey{Date: t.Format(transit.DateLayout), Hour: t.Hour()}
}

// Reading is one hourly weather value pair.
type Reading struct {
	Temperature   float64
	Precipitation float64
}

// WeatherIndex maps civil hours to readings.
type WeatherIndex map[HourKey]Reading

// ParseWeather reads an hourly weather export. Any metadata preamble before
// the line starting with "time," is skipped. Hours with an empty or
// non-numeric value are left out of the index and counted as skipped.
func ParseWeather(r io.Reader, into WeatherIndex) (int, error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if strings.HasPrefix(strings.ToLower(strings.TrimPrefix(line, "\ufeff")), "time,") {
			return parseWeatherRows(io.MultiReader(strings.NewReader(line), br), into)
		}
		if errors.Is(err, io.EOF) {
			return 0, ErrNoWeatherHeader
		}
		if err != nil {
			return 0, fmt.Errorf("reading weather preamble: %w", err)
		}
	}
}

func parseWeatherRows(r io.Reader, into WeatherIndex) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("reading weather header: %w", err)
	}
	timeCol, tempCol, precipCol := -1, -1, -1
	for i, name := range first {
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case name == "time":
			timeCol = i
		case strings.HasPrefix(name, "temperature_2m"):
			tempCol = i
		case strings.HasPrefix(name, "precipitation"):
			precipCol = i
		}
	}
	if timeCol < 0 || tempCol < 0 || precipCol < 0 {
		return 0, fmt.Errorf("%w: time, temperature_2m and precipitation", ErrMissingColumn)
	}

	skipped := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			return skipped, fmt.Errorf("reading weather rows: %w", err)
		}
		at, err := time.Parse(weatherTimeLayout, field(row, timeCol))
		if err != nil {
			skipped++
			continue
		}
		temp, err1 := strconv.ParseFloat(field(row, tempCol), 64)
		precip, err2 := strconv.ParseFloat(field(row, precipCol), 64)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		into[KeyOf(at)] = Reading{Temperature: temp, Precipitation: precip}
	}
}

// Merge left-joins delays with weather on civil date and hour. Records
// without a known time never match.
func Merge(delays []transit.DelayRecord, index WeatherIndex) (merged []transit.MergedRecord, matched int) {
	merged = make([]transit.MergedRecord, len(delays))
	for i, d := range delays {
		merged[i] = transit.MergedRecord{DelayRecord: d}
		if !d.TimeKnown {
			continue
		}
		if r, ok := index[KeyOf(d.At)]; ok {
			temp, precip := r.Temperature, r.Precipitation
			merged[i].Temperature = &temp
			merged[i].Precipitation = &precip
			matched++
		}
	}
	return merged, matched
}
