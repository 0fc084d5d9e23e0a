package etl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/prediction"
	"github.com/transitx/transitx/internal/training"
	"github.com/transitx/transitx/internal/transit"
)

// Target columns appended after the feature columns.
const (
	ColMinDelay         = "min_delay"
	ColIsDelayed        = "is_delayed"
	ColPredDelayMinutes = "pred_delay_minutes"
	ColPredIsDelayed    = "pred_is_delayed"
)

// Clip bounds historical delays.
type Clip struct {
	Min float64
	Max float64
}

// Apply clamps v into [Min, Max].
func (c Clip) Apply(v float64) float64 {
	return min(max(v, c.Min), c.Max)
}

// RowStats counts rows kept and dropped by the feature stage.
type RowStats struct {
	Kept       int
	NoTime     int
	NoWeather  int
	NoGap      int
	BadWeather int
}

// Dropped is the total number of dropped rows.
func (s RowStats) Dropped() int {
	return s.NoTime + s.NoWeather + s.NoGap + s.BadWeather
}

// BuildRows derives an un-encoded feature row and clipped delay per merged
// record, through the same row builder the inference service uses.
func BuildRows(records []transit.MergedRecord, clip Clip) ([]features.Row, []float64, RowStats) {
	var stats RowStats
	rows := make([]features.Row, 0, len(records))
	delays := make([]float64, 0, len(records))
	for _, r := range records {
		switch {
		case !r.TimeKnown:
			stats.NoTime++
			continue
		case !r.HasWeather():
			stats.NoWeather++
			continue
		case r.MinGap == nil:
			stats.NoGap++
			continue
		}
		row, err := features.BuildRow(features.Input{
			Route:         r.Route,
			Direction:     HistoricalDirection(r.Direction),
			Location:      r.Location,
			Incident:      r.Incident,
			MinGap:        *r.MinGap,
			At:            r.At,
			Temperature:   *r.Temperature,
			Precipitation: *r.Precipitation,
		})
		if err != nil {
			stats.BadWeather++
			continue
		}
		rows = append(rows, row)
		delays = append(delays, clip.Apply(r.MinDelay))
		stats.Kept++
	}
	return rows, delays, stats
}

// boundCodes are the abbreviations the delay extracts record for direction
// of travel, e.g. "WB" or "w/b". They only appear in historical data.
var boundCodes = map[string]transit.Direction{
	"nb": transit.DirectionNorth, "n/b": transit.DirectionNorth,
	"sb": transit.DirectionSouth, "s/b": transit.DirectionSouth,
	"eb": transit.DirectionEast, "e/b": transit.DirectionEast,
	"wb": transit.DirectionWest, "w/b": transit.DirectionWest,
}

// HistoricalDirection normalizes a recorded direction. Empty values become
// Unknown; tokens that are not compass directions are kept trimmed.
func HistoricalDirection(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return string(transit.DirectionUnknown)
	}
	if d, err := transit.NormalizeDirection(raw); err == nil {
		return string(d)
	}
	if d, ok := boundCodes[strings.ToLower(raw)]; ok {
		return string(d)
	}
	return raw
}

// WriteFeatures writes the encoded table with the delay targets.
func WriteFeatures(w io.Writer, ds training.Dataset) error {
	header := append(ds.Schema.Names(), ColMinDelay, ColIsDelayed)
	return writeTable(w, header, ds, func(i int) []string {
		return []string{formatFloat(ds.Delay[i]), formatFlag(ds.Delayed[i] == 1)}
	})
}

// WritePredictions writes the encoded table, its targets and one batch
// prediction per row.
func WritePredictions(w io.Writer, ds training.Dataset, events []prediction.Event) error {
	if len(events) != len(ds.X) {
		return fmt.Errorf("%d predictions for %d rows", len(events), len(ds.X))
	}
	header := append(ds.Schema.Names(), ColMinDelay, ColIsDelayed, ColPredDelayMinutes, ColPredIsDelayed)
	return writeTable(w, header, ds, func(i int) []string {
		return []string{
			formatFloat(ds.Delay[i]),
			formatFlag(ds.Delayed[i] == 1),
			strconv.Itoa(events[i].PredDelayMinutes),
			formatFlag(events[i].PredIsDelayed),
		}
	})
}

func writeTable(w io.Writer, header []string, ds training.Dataset, extra func(i int) []string) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, 0, len(header))
	for i, x := range ds.X {
		row = row[:0]
		for j, col := range ds.Schema.Columns {
			row = append(row, features.FormatValue(col.Kind, x[j]))
		}
		row = append(row, extra(i)...)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFeatures reads a table written by WriteFeatures. The header must list
// schema's columns in order.
func ReadFeatures(r io.Reader, schema features.Schema) (training.Dataset, error) {
	ds := training.Dataset{Schema: schema}
	want := append(schema.Names(), ColMinDelay, ColIsDelayed)

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(want)
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err != nil {
		return ds, fmt.Errorf("reading feature header: %w", err)
	}
	for i := range want {
		if first[i] != want[i] {
			return ds, fmt.Errorf("%w: column %d is %q, expected %q", features.ErrSchemaMismatch, i, first[i], want[i])
		}
	}

	width := schema.Len()
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ds, nil
		}
		if err != nil {
			return ds, fmt.Errorf("reading feature rows: %w", err)
		}
		x := make([]float64, width)
		for j := 0; j < width; j++ {
			if x[j], err = strconv.ParseFloat(row[j], 64); err != nil {
				return ds, fmt.Errorf("line %d: %s: %w", line, want[j], err)
			}
		}
		delay, err := strconv.ParseFloat(row[width], 64)
		if err != nil {
			return ds, fmt.Errorf("line %d: %s: %w", line, ColMinDelay, err)
		}
		delayed, err := strconv.ParseFloat(row[width+1], 64)
		if err != nil {
			return ds, fmt.Errorf("line %d: %s: %w", line, ColIsDelayed, err)
		}
		ds.X = append(ds.X, x)
		ds.Delay = append(ds.Delay, delay)
		ds.Delayed = append(ds.Delayed, delayed)
	}
}

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
