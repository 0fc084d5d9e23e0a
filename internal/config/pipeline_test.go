package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitx/transitx/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultPipeline(t *testing.T) {
	cfg := config.DefaultPipeline()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []int{2023, 2024}, cfg.Years)
	assert.Equal(t, "America/Toronto", cfg.Area.Timezone)
	assert.InDelta(t, 300.0, cfg.Features.ClipMax, 1e-9)
	assert.Equal(t, "transit_delay_weather", cfg.Load.Table)

	tc := cfg.TrainingConfig(zerolog.Nop(), nil)
	assert.Equal(t, 20, tc.NIter)
	assert.Equal(t, 3, tc.Folds)
	assert.Equal(t, uint64(42), tc.Seed)
	assert.Equal(t, 648, tc.Space.Size())
}

func TestLoadPipeline_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.LoadPipeline(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPipeline(), cfg)

	cfg, err = config.LoadPipeline("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPipeline(), cfg)
}

func TestLoadPipeline_Overrides(t *testing.T) {
	path := writeFile(t, `
years: [2022]
training:
  n_iter: 5
  search_space:
    max_depth: [3, 5]
load:
  table: delays_scratch
`)
	cfg, err := config.LoadPipeline(path)
	require.NoError(t, err)

	assert.Equal(t, []int{2022}, cfg.Years)
	assert.Equal(t, 5, cfg.Training.NIter)
	assert.Equal(t, []int{3, 5}, cfg.Training.Space.MaxDepth)
	assert.Equal(t, []int{200, 300, 500}, cfg.Training.Space.NEstimators)
	assert.Equal(t, 3, cfg.Training.CVFolds)
	assert.Equal(t, "delays_scratch", cfg.Load.Table)
}

func TestLoadPipeline_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no years", "years: []"},
		{"bad latitude", "area: {lat: 123, lon: -79.4, timezone: America/Toronto}"},
		{"bad timezone", "area: {lat: 43.7, lon: -79.4, timezone: Mars/Olympus}"},
		{"test size", "training: {test_size: 1.5}"},
		{"one fold", "training: {cv_folds: 1}"},
		{"clip bounds", "features: {clip_min: 10, clip_max: 5}"},
		{"bad table", "load: {table: \"x; drop table y\"}"},
		{"bad depth", "training: {search_space: {max_depth: [0]}}"},
		{"bad url", "sources: {ckan_base_url: not a url}"},
		{"not yaml", "years: [2023"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadPipeline(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestAreaConfig_WeatherArea(t *testing.T) {
	area := config.DefaultPipeline().Area.WeatherArea()
	_, err := area.Validate()
	require.NoError(t, err)
	assert.InDelta(t, 43.7, area.Lat, 1e-9)
}
