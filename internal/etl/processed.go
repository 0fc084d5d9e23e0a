package etl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/transitx/transitx/internal/transit"
)

// ProcessedColumns is the header of the merged delay and weather table.
var ProcessedColumns = []string{
	"date", "time", "route", "day", "location", "incident",
	"min_delay", "min_gap", "direction", "vehicle",
	"temperature", "precipitation",
}

// WriteProcessed writes merged records. Unknown times and missing values
// are written as empty cells.
func WriteProcessed(w io.Writer, records []transit.MergedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ProcessedColumns); err != nil {
		return err
	}
	row := make([]string, len(ProcessedColumns))
	for _, r := range records {
		row[0] = r.At.Format(transit.DateLayout)
		row[1] = ""
		if r.TimeKnown {
			row[1] = r.At.Format(transit.TimeLayout)
		}
		row[2] = r.Route
		row[3] = r.Day
		row[4] = r.Location
		row[5] = r.Incident
		row[6] = formatFloat(r.MinDelay)
		row[7] = formatOptional(r.MinGap)
		row[8] = r.Direction
		row[9] = r.Vehicle
		row[10] = formatOptional(r.Temperature)
		row[11] = formatOptional(r.Precipitation)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadProcessed reads a table written by WriteProcessed.
func ReadProcessed(r io.Reader, loc *time.Location) ([]transit.MergedRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ProcessedColumns)

	first, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading processed header: %w", err)
	}
	for i, name := range ProcessedColumns {
		if first[i] != name {
			return nil, fmt.Errorf("%w: column %d is %q, expected %q", ErrMissingColumn, i, first[i], name)
		}
	}

	var out []transit.MergedRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading processed rows: %w", err)
		}

		day, err := time.ParseInLocation(transit.DateLayout, row[0], loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: date: %w", line, err)
		}
		delay, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: min_delay: %w", line, err)
		}
		rec := transit.MergedRecord{DelayRecord: transit.DelayRecord{
			At:        day,
			Route:     row[2],
			Day:       row[3],
			Location:  row[4],
			Incident:  row[5],
			MinDelay:  delay,
			Direction: row[8],
			Vehicle:   row[9],
		}}
		if row[1] != "" {
			clock, err := time.Parse(transit.TimeLayout, row[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: time: %w", line, err)
			}
			rec.At = time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
			rec.TimeKnown = true
		}
		if rec.MinGap, err = parseOptional(row[7]); err != nil {
			return nil, fmt.Errorf("line %d: min_gap: %w", line, err)
		}
		if rec.Temperature, err = parseOptional(row[10]); err != nil {
			return nil, fmt.Errorf("line %d: temperature: %w", line, err)
		}
		if rec.Precipitation, err = parseOptional(row[11]); err != nil {
			return nil, fmt.Errorf("line %d: precipitation: %w", line, err)
		}
		out = append(out, rec)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func parseOptional(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
