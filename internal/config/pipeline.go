package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/transitx/transitx/internal/delaystore"
	"github.com/transitx/transitx/internal/model"
	"github.com/transitx/transitx/internal/opendata"
	"github.com/transitx/transitx/internal/telemetry"
	"github.com/transitx/transitx/internal/training"
	"github.com/transitx/transitx/internal/transit"
	"github.com/transitx/transitx/internal/weather"
	"github.com/transitx/transitx/internal/weather/openmeteo"
)

// Pipeline is the batch pipeline definition.
type Pipeline struct {
	Years    []int          `yaml:"years" validate:"required,min=1,dive,gte=2014,lte=2100"`
	Area     AreaConfig     `yaml:"area"`
	Sources  SourcesConfig  `yaml:"sources"`
	Features FeaturesConfig `yaml:"features"`
	Training TrainingConfig `yaml:"training"`
	Load     LoadConfig     `yaml:"load"`
}

// AreaConfig is the service area weather is fetched for.
type AreaConfig struct {
	Lat      float64 `yaml:"lat" validate:"latitude"`
	Lon      float64 `yaml:"lon" validate:"longitude"`
	Timezone string  `yaml:"timezone" validate:"required,timezone"`
}

// SourcesConfig holds upstream endpoints.
type SourcesConfig struct {
	CKANBaseURL        string `yaml:"ckan_base_url" validate:"required,url"`
	DatasetID          string `yaml:"dataset_id" validate:"required"`
	WeatherArchiveURL  string `yaml:"weather_archive_url" validate:"required,url"`
	WeatherForecastURL string `yaml:"weather_forecast_url" validate:"required,url"`
}

// FeaturesConfig bounds historical delays.
type FeaturesConfig struct {
	ClipMin float64 `yaml:"clip_min" validate:"gte=0"`
	ClipMax float64 `yaml:"clip_max" validate:"gtfield=ClipMin"`
}

// TrainingConfig mirrors training.Config.
type TrainingConfig struct {
	Space    training.SearchSpace `yaml:"search_space"`
	NIter    int                  `yaml:"n_iter" validate:"gte=1"`
	CVFolds  int                  `yaml:"cv_folds" validate:"gte=2"`
	TestSize float64              `yaml:"test_size" validate:"gt=0,lt=1"`
	Seed     uint64               `yaml:"seed"`
	Workers  int                  `yaml:"workers" validate:"gte=0"`
}

// LoadConfig names the PostgreSQL table the load stage replaces.
type LoadConfig struct {
	Table string `yaml:"table" validate:"required,sqlident"`
}

// DefaultPipeline returns the built-in pipeline definition.
func DefaultPipeline() Pipeline {
	tc := training.DefaultConfig()
	return Pipeline{
		Years: []int{2023, 2024},
		Area:  AreaConfig{Lat: 43.7, Lon: -79.4, Timezone: "America/Toronto"},
		Sources: SourcesConfig{
			CKANBaseURL:        opendata.DefaultBaseURL,
			DatasetID:          opendata.DefaultDatasetID,
			WeatherArchiveURL:  openmeteo.DefaultArchiveURL,
			WeatherForecastURL: openmeteo.DefaultForecastURL,
		},
		Features: FeaturesConfig{ClipMin: 0, ClipMax: transit.MaxDelayMinutes},
		Training: TrainingConfig{
			Space:    tc.Space,
			NIter:    tc.NIter,
			CVFolds:  tc.Folds,
			TestSize: tc.TestSize,
			Seed:     tc.Seed,
		},
		Load: LoadConfig{Table: delaystore.DefaultTable},
	}
}

// LoadPipeline reads path over the defaults. An empty path or a missing
// file yields the defaults.
func LoadPipeline(path string) (Pipeline, error) {
	cfg := DefaultPipeline()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Pipeline{}, fmt.Errorf("reading pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Pipeline{}, fmt.Errorf("parsing pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Pipeline{}, err
	}
	return cfg, nil
}

var sqlIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlIdent.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks every section, including the search space.
func (p Pipeline) Validate() error {
	if err := newValidator().Struct(p); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	return nil
}

// WeatherArea converts the area section.
func (a AreaConfig) WeatherArea() weather.Area {
	return weather.Area{Lat: a.Lat, Lon: a.Lon, Timezone: a.Timezone}
}

// TrainingConfig builds the trainer configuration.
func (p Pipeline) TrainingConfig(logger zerolog.Logger, metrics *telemetry.Collectors) training.Config {
	return training.Config{
		Space:    p.Training.Space,
		Base:     model.DefaultParams(),
		NIter:    p.Training.NIter,
		Folds:    p.Training.CVFolds,
		TestSize: p.Training.TestSize,
		Seed:     p.Training.Seed,
		Workers:  p.Training.Workers,
		Logger:   logger,
		Metrics:  metrics,
	}
}
