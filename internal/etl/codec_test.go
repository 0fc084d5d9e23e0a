package etl_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitx/transitx/internal/etl"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/training"
	"github.com/transitx/transitx/internal/transit"
)

func toronto(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	return loc
}

func fptr(v float64) *float64 { return &v }

func TestParseDelays(t *testing.T) {
	loc := toronto(t)
	in := strings.Join([]string{
		"Date,Route,Time,Day,Location,Incident,Min Delay,Min Gap,Direction,Vehicle",
		"2024-01-02,32,08:15,Tuesday,KENNEDY STATION,Mechanical,12,20,E,8412",
		"2024-01-02,7,,,BATHURST STATION,Diversion,5,,,",
		"2024-01-03,,09:00,Wednesday,X,Security,4,8,N,1",
		"2024-01-03,36,09:00,Wednesday,X,Security,n/a,8,N,1",
		"not a date,36,09:00,Wednesday,X,Security,3,8,N,1",
		"02-Jan-24,505,17:40:00,Tuesday,DUNDAS WEST,Vision,0,10,WB,9001",
	}, "\n")

	recs, stats, err := etl.ParseDelays(strings.NewReader(in), loc)
	require.NoError(t, err)

	assert.Equal(t, etl.ParseStats{Kept: 3, NoDelay: 1, NoRoute: 1, BadDate: 1}, stats)
	assert.Equal(t, 3, stats.Dropped())
	require.Len(t, recs, 3)

	first := recs[0]
	assert.True(t, first.TimeKnown)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 15, 0, 0, loc), first.At)
	assert.Equal(t, "32", first.Route)
	assert.Equal(t, 12.0, first.MinDelay)
	assert.Equal(t, fptr(20), first.MinGap)
	assert.Equal(t, "8412", first.Vehicle)

	second := recs[1]
	assert.False(t, second.TimeKnown)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, loc), second.At)
	assert.Equal(t, "Tuesday", second.Day, "day derived from the date")
	assert.Nil(t, second.MinGap)

	third := recs[2]
	assert.Equal(t, time.Date(2024, 1, 2, 17, 40, 0, 0, loc), third.At)
	assert.Equal(t, "WB", third.Direction)
}

func TestParseDelays_HeaderSynonyms(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"underscore", "report date,line,time,min_delay,min_gap"},
		{"minutes suffix", "Report Date,Line,Time,Min Delay (mins),Min Gap (min)"},
		{"bare mins", " DATE , ROUTE ,TIME,min delay mins,min gap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.header + "\n2023-06-01,29,07:05,6,12\n"
			recs, _, err := etl.ParseDelays(strings.NewReader(in), time.UTC)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, 6.0, recs[0].MinDelay)
			assert.Equal(t, fptr(12), recs[0].MinGap)
			assert.Equal(t, "29", recs[0].Route)
		})
	}
}

func TestParseDelays_MissingDelayColumn(t *testing.T) {
	_, _, err := etl.ParseDelays(strings.NewReader("date,route,time,delay\n2024-01-01,1,00:00,3\n"), time.UTC)
	assert.ErrorIs(t, err, etl.ErrMissingColumn)
}

const weatherExport = "latitude,longitude,elevation,utc_offset_seconds,timezone,timezone_abbreviation\n" +
	"43.7,-79.4,175.0,-18000,America/Toronto,GMT-5\n" +
	"\n" +
	"time,temperature_2m (°C),precipitation (mm)\n" +
	"2024-01-02T07:00,-3.1,0.00\n" +
	"2024-01-02T08:00,-2.5,0.40\n" +
	"2024-01-02T09:00,,0.10\n"

func TestParseWeather(t *testing.T) {
	index := make(etl.WeatherIndex)
	skipped, err := etl.ParseWeather(strings.NewReader(weatherExport), index)
	require.NoError(t, err)

	assert.Equal(t, 1, skipped)
	assert.Len(t, index, 2)
	assert.Equal(t, etl.Reading{Temperature: -2.5, Precipitation: 0.4}, index[etl.HourKey{Date: "2024-01-02", Hour: 8}])
}

func TestParseWeather_NoHeader(t *testing.T) {
	_, err := etl.ParseWeather(strings.NewReader("latitude,longitude\n43.7,-79.4\n"), make(etl.WeatherIndex))
	assert.ErrorIs(t, err, etl.ErrNoWeatherHeader)
}

func TestMerge(t *testing.T) {
	loc := toronto(t)
	index := etl.WeatherIndex{
		{Date: "2024-01-02", Hour: 8}: {Temperature: -2.5, Precipitation: 0.4},
		{Date: "2024-01-02", Hour: 0}: {Temperature: -6, Precipitation: 0},
	}
	delays := []transit.DelayRecord{
		{At: time.Date(2024, 1, 2, 8, 59, 0, 0, loc), TimeKnown: true, Route: "32"},
		{At: time.Date(2024, 1, 2, 9, 0, 0, 0, loc), TimeKnown: true, Route: "7"},
		{At: time.Date(2024, 1, 2, 0, 0, 0, 0, loc), TimeKnown: false, Route: "505"},
	}

	merged, matched := etl.Merge(delays, index)
	require.Len(t, merged, 3)
	assert.Equal(t, 1, matched)
	assert.Equal(t, fptr(-2.5), merged[0].Temperature)
	assert.False(t, merged[1].HasWeather())
	assert.False(t, merged[2].HasWeather(), "unknown time never matches midnight")
}

func TestProcessedTable(t *testing.T) {
	loc := toronto(t)
	records := []transit.MergedRecord{
		{
			DelayRecord: transit.DelayRecord{
				At: time.Date(2024, 1, 2, 8, 15, 0, 0, loc), TimeKnown: true, Route: "32", Day: "Tuesday",
				Location: "KENNEDY STATION, EB", Incident: "Mechanical", MinDelay: 12, MinGap: fptr(20),
				Direction: "E", Vehicle: "8412",
			},
			Temperature:   fptr(-2.5),
			Precipitation: fptr(0.4),
		},
		{
			DelayRecord: transit.DelayRecord{
				At: time.Date(2024, 1, 3, 0, 0, 0, 0, loc), Route: "7", Day: "Wednesday", MinDelay: 5,
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, etl.WriteProcessed(&buf, records))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(etl.ProcessedColumns, ",")+"\n"))

	got, err := etl.ReadProcessed(&buf, loc)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].At.Equal(records[0].At))
	assert.Equal(t, records[0].Location, got[0].Location)
	assert.Equal(t, records[0].Precipitation, got[0].Precipitation)
	assert.False(t, got[1].TimeKnown)
	assert.Nil(t, got[1].MinGap)
	assert.Nil(t, got[1].Temperature)
}

func TestBuildRows(t *testing.T) {
	loc := toronto(t)
	at := time.Date(2024, 7, 15, 8, 30, 0, 0, loc)
	weathered := func(r transit.DelayRecord) transit.MergedRecord {
		return transit.MergedRecord{DelayRecord: r, Temperature: fptr(22), Precipitation: fptr(0)}
	}
	records := []transit.MergedRecord{
		weathered(transit.DelayRecord{At: at, TimeKnown: true, Route: "32", Location: "kennedy station",
			Incident: "None", MinDelay: 450, MinGap: fptr(10), Direction: "eastbound"}),
		weathered(transit.DelayRecord{At: at, TimeKnown: true, Route: "7", MinDelay: -3, MinGap: fptr(5)}),
		weathered(transit.DelayRecord{At: at, TimeKnown: false, Route: "7", MinDelay: 4, MinGap: fptr(5)}),
		{DelayRecord: transit.DelayRecord{At: at, TimeKnown: true, Route: "7", MinDelay: 4, MinGap: fptr(5)}},
		weathered(transit.DelayRecord{At: at, TimeKnown: true, Route: "7", MinDelay: 4}),
	}

	rows, delays, stats := etl.BuildRows(records, etl.Clip{Min: 0, Max: 300})
	assert.Equal(t, etl.RowStats{Kept: 2, NoTime: 1, NoWeather: 1, NoGap: 1}, stats)
	require.Len(t, rows, 2)
	assert.Equal(t, []float64{300, 0}, delays)

	assert.Equal(t, "E", rows[0].Direction)
	assert.Equal(t, "KENNEDY STATION", rows[0].Location)
	assert.Equal(t, features.TempWarm, rows[0].TempBin)
	assert.True(t, rows[0].RushHour)
	assert.Equal(t, "Unknown", rows[1].Direction)
}

func TestHistoricalDirection(t *testing.T) {
	tests := map[string]string{
		"":           "Unknown",
		"  ":         "Unknown",
		"n":          "N",
		"Southbound": "S",
		"WEST":       "W",
		"WB":         "W",
		"eb":         "E",
		" NB ":       "N",
		"s/b":        "S",
		"B":          "B",
	}
	for in, want := range tests {
		assert.Equal(t, want, etl.HistoricalDirection(in), "input %q", in)
	}
}

func TestFeatureTable(t *testing.T) {
	schema := features.Schema{Columns: []features.Column{
		{Name: features.ColRoute, Kind: features.KindCategorical},
		{Name: features.ColTemperature, Kind: features.KindNumeric},
	}}
	ds := training.Dataset{
		Schema:  schema,
		X:       [][]float64{{3, -2.5}, {0, 21}},
		Delay:   []float64{12, 1},
		Delayed: []float64{1, 0},
	}

	var buf bytes.Buffer
	require.NoError(t, etl.WriteFeatures(&buf, ds))
	assert.Equal(t, "route,temperature,min_delay,is_delayed\n3,-2.5,12,1\n0,21,1,0\n", buf.String())

	got, err := etl.ReadFeatures(strings.NewReader(buf.String()), schema)
	require.NoError(t, err)
	assert.Equal(t, ds, got)

	reordered := features.Schema{Columns: []features.Column{schema.Columns[1], schema.Columns[0]}}
	_, err = etl.ReadFeatures(strings.NewReader(buf.String()), reordered)
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)
}

func TestParseStages(t *testing.T) {
	got, err := etl.ParseStages("")
	require.NoError(t, err)
	assert.Equal(t, etl.DefaultStages, got)

	got, err = etl.ParseStages("all")
	require.NoError(t, err)
	assert.Equal(t, etl.AllStages, got)

	got, err = etl.ParseStages("predict, Train")
	require.NoError(t, err)
	assert.Equal(t, []string{etl.StageTrain, etl.StagePredict}, got, "execution order, not input order")

	_, err = etl.ParseStages("extract,deploy")
	assert.ErrorIs(t, err, etl.ErrUnknownStage)
}
