package features_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitx/transitx/internal/features"
)

func sampleRows(t *testing.T) []features.Row {
	t.Helper()
	inputs := []features.Input{
		{Route: "32", Direction: "E", Location: "Kennedy Station", Incident: "None", MinGap: 10,
			At: time.Date(2024, 7, 15, 8, 30, 0, 0, time.UTC), Temperature: 22, Precipitation: 0},
		{Route: "7", Direction: "N", Location: "BATHURST STATION", Incident: "Mechanical", MinGap: 20,
			At: time.Date(2024, 1, 6, 17, 5, 0, 0, time.UTC), Temperature: -4, Precipitation: 1.2},
		{Route: "505", Direction: "W", Location: "DUNDAS WEST", Incident: "Diversion", MinGap: 8,
			At: time.Date(2023, 4, 11, 12, 0, 0, 0, time.UTC), Temperature: 14, Precipitation: 6},
	}
	rows := make([]features.Row, 0, len(inputs))
	for _, in := range inputs {
		row, err := features.BuildRow(in)
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestBuildRow(t *testing.T) {
	row, err := features.BuildRow(features.Input{
		Route:         " 32.0 ",
		Direction:     "E",
		Location:      "  kennedy   station ",
		Incident:      "None",
		MinGap:        10,
		At:            time.Date(2024, 7, 15, 8, 30, 0, 0, time.UTC),
		Temperature:   22,
		Precipitation: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, "32", row.Route)
	assert.Equal(t, "KENNEDY STATION", row.Location)
	assert.Equal(t, "Monday", row.DayOfWeek)
	assert.Equal(t, 8, row.Hour)
	assert.Equal(t, 7, row.Month)
	assert.True(t, row.RushHour)
	assert.False(t, row.IsWeekend)
	assert.Equal(t, features.TempWarm, row.TempBin)
	assert.Equal(t, features.RainNone, row.RainIntensity)
}

func TestBuildRow_NaNWeather(t *testing.T) {
	_, err := features.BuildRow(features.Input{
		Route: "32", At: time.Now(), Temperature: math.NaN(),
	})
	assert.ErrorIs(t, err, features.ErrNonFinite)
}

func TestNewAssembler_RequiresAllCategoricalColumns(t *testing.T) {
	reg := features.FitLabels(map[string][]string{"route": {"32"}})

	_, err := features.NewAssembler(reg)
	assert.ErrorIs(t, err, features.ErrColumnNotFit)
}

func TestAssembler_EncodeOrder(t *testing.T) {
	rows := sampleRows(t)
	reg := features.Fit(features.RowSchema(), rows)
	asm, err := features.NewAssembler(reg)
	require.NoError(t, err)

	vec, err := asm.Encode(rows[0])
	require.NoError(t, err)
	require.Len(t, vec, 14)

	// route labels sorted: "32", "505", "7"
	assert.Equal(t, 0.0, vec[0])
	// dayofweek labels sorted: Monday, Saturday, Tuesday
	assert.Equal(t, 0.0, vec[1])
	// location: BATHURST STATION, DUNDAS WEST, KENNEDY STATION
	assert.Equal(t, 2.0, vec[2])
	// incident: Diversion, Mechanical, None
	assert.Equal(t, 2.0, vec[3])
	assert.Equal(t, 10.0, vec[4])
	// direction: E, N, W
	assert.Equal(t, 0.0, vec[5])
	assert.Equal(t, 22.0, vec[6])
	assert.Equal(t, 0.0, vec[7])
	assert.Equal(t, 8.0, vec[8])
	assert.Equal(t, 7.0, vec[9])
	assert.Equal(t, 1.0, vec[10])
	assert.Equal(t, 0.0, vec[11])
	// temp_bin: Freezing, Mild, Warm
	assert.Equal(t, 2.0, vec[12])
	// rain_intensity: Heavy, Light, None
	assert.Equal(t, 2.0, vec[13])
}

func TestAssembler_BatchAndOnlineAgree(t *testing.T) {
	rows := sampleRows(t)
	reg := features.Fit(features.RowSchema(), rows)
	asm, err := features.NewAssembler(reg)
	require.NoError(t, err)

	batch, err := asm.Encode(rows[1])
	require.NoError(t, err)

	_, online, err := asm.Assemble(features.Input{
		Route: "7", Direction: "N", Location: "bathurst station", Incident: "Mechanical", MinGap: 20,
		At: time.Date(2024, 1, 6, 17, 5, 0, 0, time.UTC), Temperature: -4, Precipitation: 1.2,
	})
	require.NoError(t, err)

	assert.Equal(t, batch, online)
}

func TestAssembler_UnseenLabelsEncodeAsUnknown(t *testing.T) {
	rows := sampleRows(t)
	reg := features.Fit(features.RowSchema(), rows)
	asm, err := features.NewAssembler(reg)
	require.NoError(t, err)

	_, vec, err := asm.Assemble(features.Input{
		Route: "999", Direction: "S", Location: "NEW LOOP", Incident: "Vision", MinGap: 10,
		At: time.Date(2024, 3, 3, 3, 0, 0, 0, time.UTC), Temperature: 5, Precipitation: 3,
	})
	require.NoError(t, err)

	route, err := asm.Decode(features.ColRoute, vec[0])
	require.NoError(t, err)
	assert.Equal(t, features.UnknownLabel, route)

	tempBin, err := asm.Decode(features.ColTempBin, vec[12])
	require.NoError(t, err)
	assert.Equal(t, features.UnknownLabel, tempBin, "Cold was not in the fit set")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "3", features.FormatValue(features.KindCategorical, 3))
	assert.Equal(t, "22.5", features.FormatValue(features.KindNumeric, 22.5))
	assert.Equal(t, "10", features.FormatValue(features.KindNumeric, 10))
}
