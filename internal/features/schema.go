package features

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Column names of the feature row, in model order.
const (
	ColRoute         = "route"
	ColDayOfWeek     = "dayofweek"
	ColLocation      = "location"
	ColIncident      = "incident"
	ColMinGap        = "min_gap"
	ColDirection     = "direction"
	ColTemperature   = "temperature"
	ColPrecipitation = "precipitation"
	ColHour          = "hour"
	ColMonth         = "month"
	ColRushHour      = "rush_hour"
	ColIsWeekend     = "is_weekend"
	ColTempBin       = "temp_bin"
	ColRainIntensity = "rain_intensity"
)

// ColumnKind describes how a column is represented in the encoded vector.
type ColumnKind string

const (
	KindCategorical ColumnKind = "categorical"
	KindNumeric     ColumnKind = "numeric"
)

// Column is a single entry of a schema descriptor.
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// Schema is the ordered column list a model was trained on.
type Schema struct {
	Columns []Column `json:"columns"`
}

// ErrSchemaMismatch is returned when two schema descriptors disagree.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// RowSchema returns the descriptor of the feature row.
func RowSchema() Schema {
	return Schema{Columns: []Column{
		{ColRoute, KindCategorical},
		{ColDayOfWeek, KindCategorical},
		{ColLocation, KindCategorical},
		{ColIncident, KindCategorical},
		{ColMinGap, KindNumeric},
		{ColDirection, KindCategorical},
		{ColTemperature, KindNumeric},
		{ColPrecipitation, KindNumeric},
		{ColHour, KindNumeric},
		{ColMonth, KindNumeric},
		{ColRushHour, KindNumeric},
		{ColIsWeekend, KindNumeric},
		{ColTempBin, KindCategorical},
		{ColRainIntensity, KindCategorical},
	}}
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Categorical returns the names of categorical columns in order.
func (s Schema) Categorical() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Kind == KindCategorical {
			names = append(names, c.Name)
		}
	}
	return names
}

// Len returns the number of columns.
func (s Schema) Len() int {
	return len(s.Columns)
}

// Fingerprint is a stable hash of names, kinds and order.
func (s Schema) Fingerprint() string {
	var b strings.Builder
	for _, c := range s.Columns {
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(string(c.Kind))
		b.WriteByte('|')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// Compatible returns ErrSchemaMismatch describing the first difference
// between s and other, or nil if both describe the same row.
func (s Schema) Compatible(other Schema) error {
	if len(s.Columns) != len(other.Columns) {
		return fmt.Errorf("%w: %d columns, expected %d", ErrSchemaMismatch, len(other.Columns), len(s.Columns))
	}
	for i := range s.Columns {
		want, got := s.Columns[i], other.Columns[i]
		if want.Name != got.Name {
			return fmt.Errorf("%w: column %d is %q, expected %q", ErrSchemaMismatch, i, got.Name, want.Name)
		}
		if want.Kind != got.Kind {
			return fmt.Errorf("%w: column %q is %s, expected %s", ErrSchemaMismatch, got.Name, got.Kind, want.Kind)
		}
	}
	return nil
}
