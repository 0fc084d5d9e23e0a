package etl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/config"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/model"
	"github.com/transitx/transitx/internal/opendata"
	"github.com/transitx/transitx/internal/prediction"
	"github.com/transitx/transitx/internal/telemetry"
	"github.com/transitx/transitx/internal/training"
	"github.com/transitx/transitx/internal/transit"
	"github.com/transitx/transitx/internal/weather"
)

// Stage names.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StageFeatures  = "features"
	StageLoad      = "load"
	StageTrain     = "train"
	StagePredict   = "predict"
)

// DefaultStages run when no stage list is given.
var DefaultStages = []string{StageExtract, StageTransform, StageFeatures, StageLoad, StageTrain}

// AllStages is every stage in execution order.
var AllStages = []string{StageExtract, StageTransform, StageFeatures, StageLoad, StageTrain, StagePredict}

// Artifact file names.
const (
	ProcessedFile   = "transit_transformed_data.csv"
	FeaturesFile    = "transit_features.csv"
	PredictionsFile = "transit_predictions.csv"
)

// DelayFile is the raw delay extract name for year.
func DelayFile(year int) string { return fmt.Sprintf("ttc_bus_delay_%d.csv", year) }

// WeatherFile is the raw weather export name for year.
func WeatherFile(year int) string { return fmt.Sprintf("weather_%d.csv", year) }

// ErrUnknownStage is returned for stage names outside AllStages.
var ErrUnknownStage = errors.New("unknown stage")

// DelaySource downloads yearly delay extracts as CSV.
type DelaySource interface {
	FetchYearCSV(ctx context.Context, year int, w io.Writer) (opendata.Resource, error)
}

// WeatherSource streams hourly weather exports as CSV.
type WeatherSource interface {
	ArchiveCSV(ctx context.Context, area weather.Area, from, to time.Time) (io.ReadCloser, error)
}

// TableSink replaces the analysis table with merged records.
type TableSink interface {
	Replace(ctx context.Context, records []transit.MergedRecord) (int64, error)
}

// Deps are the collaborators stages draw on. Only the ones a selected stage
// needs must be set.
type Deps struct {
	Pipeline config.Pipeline
	Store    artifact.Store

	Delays  DelaySource
	Weather WeatherSource
	Table   TableSink

	// Publisher is optional for the predict stage.
	Publisher prediction.Publisher

	Clock   clockwork.Clock
	Logger  zerolog.Logger
	Metrics *telemetry.Collectors
}

// ParseStages turns a comma-separated list into stage names in execution
// order. "" selects DefaultStages and "all" selects AllStages.
func ParseStages(list string) ([]string, error) {
	list = strings.TrimSpace(list)
	switch list {
	case "":
		return slices.Clone(DefaultStages), nil
	case "all":
		return slices.Clone(AllStages), nil
	}
	want := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if !slices.Contains(AllStages, name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
		want[name] = true
	}
	var out []string
	for _, name := range AllStages {
		if want[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Build returns the named stages, checking each has its dependencies.
func Build(d Deps, names []string) ([]Stage, error) {
	if d.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	loc, err := d.Pipeline.Area.WeatherArea().Validate()
	if err != nil {
		return nil, err
	}
	b := base{deps: d, loc: loc}

	stages := make([]Stage, 0, len(names))
	for _, name := range names {
		b.logger = d.Logger.With().Str("stage", name).Logger()
		switch name {
		case StageExtract:
			if d.Delays == nil || d.Weather == nil {
				return nil, errors.New("extract needs delay and weather sources")
			}
			stages = append(stages, &extractStage{b})
		case StageTransform:
			stages = append(stages, &transformStage{b})
		case StageFeatures:
			stages = append(stages, &featuresStage{b})
		case StageLoad:
			if d.Table == nil {
				return nil, errors.New("load needs a table sink")
			}
			stages = append(stages, &loadStage{b})
		case StageTrain:
			stages = append(stages, &trainStage{b})
		case StagePredict:
			stages = append(stages, &predictStage{b})
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, name)
		}
	}
	return stages, nil
}

type base struct {
	deps   Deps
	loc    *time.Location
	logger zerolog.Logger
}

func (b base) read(ctx context.Context, container, name string, fn func(io.Reader) error) error {
	rc, err := b.deps.Store.Get(ctx, container, name)
	if err != nil {
		return fmt.Errorf("opening %s/%s: %w", container, name, err)
	}
	defer rc.Close()
	return fn(rc)
}

func (b base) write(ctx context.Context, container, name string, fn func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return fmt.Errorf("encoding %s/%s: %w", container, name, err)
	}
	if err := b.deps.Store.Put(ctx, container, name, &buf); err != nil {
		return fmt.Errorf("storing %s/%s: %w", container, name, err)
	}
	b.logger.Info().Str("artifact", container+"/"+name).Msg("artifact written")
	return nil
}

func (b base) featureTable(ctx context.Context) (training.Dataset, error) {
	var ds training.Dataset
	err := b.read(ctx, artifact.ContainerModelInput, FeaturesFile, func(r io.Reader) error {
		var err error
		ds, err = ReadFeatures(r, features.RowSchema())
		return err
	})
	return ds, err
}

func (b base) processed(ctx context.Context) ([]transit.MergedRecord, error) {
	var records []transit.MergedRecord
	err := b.read(ctx, artifact.ContainerProcessed, ProcessedFile, func(r io.Reader) error {
		var err error
		records, err = ReadProcessed(r, b.loc)
		return err
	})
	return records, err
}

type extractStage struct{ base }

func (s *extractStage) Name() string { return StageExtract }

func (s *extractStage) Run(ctx context.Context) error {
	area := s.deps.Pipeline.Area.WeatherArea()
	now := s.deps.Clock.Now().In(s.loc)
	yesterday := time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, s.loc)

	for _, year := range s.deps.Pipeline.Years {
		err := s.write(ctx, artifact.ContainerRaw, DelayFile(year), func(w io.Writer) error {
			res, err := s.deps.Delays.FetchYearCSV(ctx, year, w)
			if err == nil {
				s.logger.Info().Int("year", year).Str("resource", res.Name).Msg("delay extract downloaded")
			}
			return err
		})
		if err != nil {
			return err
		}

		from := time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
		to := time.Date(year, time.December, 31, 0, 0, 0, 0, s.loc)
		if to.After(yesterday) {
			to = yesterday
		}
		if to.Before(from) {
			return fmt.Errorf("no archived weather for %d yet", year)
		}

		rc, err := s.deps.Weather.ArchiveCSV(ctx, area, from, to)
		if err != nil {
			return fmt.Errorf("weather export %d: %w", year, err)
		}
		err = s.deps.Store.Put(ctx, artifact.ContainerRaw, WeatherFile(year), rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("storing weather export %d: %w", year, err)
		}
		s.logger.Info().Int("year", year).Str("to", to.Format(transit.DateLayout)).Msg("weather export downloaded")
	}
	return nil
}

type transformStage struct{ base }

func (s *transformStage) Name() string { return StageTransform }

func (s *transformStage) Run(ctx context.Context) error {
	var delays []transit.DelayRecord
	var total ParseStats
	index := make(WeatherIndex)

	for _, year := range s.deps.Pipeline.Years {
		err := s.read(ctx, artifact.ContainerRaw, DelayFile(year), func(r io.Reader) error {
			recs, stats, err := ParseDelays(r, s.loc)
			if err != nil {
				return fmt.Errorf("%s: %w", DelayFile(year), err)
			}
			s.logger.Info().
				Int("year", year).
				Int("kept", stats.Kept).
				Int("no_delay", stats.NoDelay).
				Int("no_route", stats.NoRoute).
				Int("bad_date", stats.BadDate).
				Int("malformed", stats.Malformed).
				Msg("delay extract parsed")
			delays = append(delays, recs...)
			total.Kept += stats.Kept
			total.NoDelay += stats.NoDelay
			total.NoRoute += stats.NoRoute
			total.BadDate += stats.BadDate
			total.Malformed += stats.Malformed
			return nil
		})
		if err != nil {
			return err
		}

		err = s.read(ctx, artifact.ContainerRaw, WeatherFile(year), func(r io.Reader) error {
			skipped, err := ParseWeather(r, index)
			if err != nil {
				return fmt.Errorf("%s: %w", WeatherFile(year), err)
			}
			if skipped > 0 {
				s.logger.Warn().Int("year", year).Int("skipped", skipped).Msg("weather hours without values")
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	merged, matched := Merge(delays, index)
	s.deps.Metrics.ObserveRows(StageTransform, total.Kept, total.Dropped())
	s.logger.Info().
		Int("rows", len(merged)).
		Int("with_weather", matched).
		Int("weather_hours", len(index)).
		Msg("delays merged with weather")

	return s.write(ctx, artifact.ContainerProcessed, ProcessedFile, func(w io.Writer) error {
		return WriteProcessed(w, merged)
	})
}

type featuresStage struct{ base }

func (s *featuresStage) Name() string { return StageFeatures }

func (s *featuresStage) Run(ctx context.Context) error {
	records, err := s.processed(ctx)
	if err != nil {
		return err
	}

	fc := s.deps.Pipeline.Features
	rows, delays, stats := BuildRows(records, Clip{Min: fc.ClipMin, Max: fc.ClipMax})
	s.deps.Metrics.ObserveRows(StageFeatures, stats.Kept, stats.Dropped())
	s.logger.Info().
		Int("kept", stats.Kept).
		Int("no_time", stats.NoTime).
		Int("no_weather", stats.NoWeather).
		Int("no_gap", stats.NoGap).
		Int("bad_weather", stats.BadWeather).
		Msg("feature rows built")
	if len(rows) == 0 {
		return model.ErrEmptyDataset
	}

	schema := features.RowSchema()
	registry := features.Fit(schema, rows)
	asm, err := features.NewAssembler(registry)
	if err != nil {
		return err
	}

	ds := training.Dataset{
		Schema:  schema,
		X:       make([][]float64, len(rows)),
		Delay:   delays,
		Delayed: make([]float64, len(rows)),
	}
	for i, row := range rows {
		vec, err := asm.Encode(row)
		if err != nil {
			return err
		}
		ds.X[i] = vec
		if transit.IsDelayed(delays[i]) {
			ds.Delayed[i] = 1
		}
	}

	if err := s.write(ctx, artifact.ContainerModelInput, FeaturesFile, func(w io.Writer) error {
		return WriteFeatures(w, ds)
	}); err != nil {
		return err
	}
	return training.SaveEncoders(ctx, s.deps.Store, registry)
}

type loadStage struct{ base }

func (s *loadStage) Name() string { return StageLoad }

func (s *loadStage) Run(ctx context.Context) error {
	records, err := s.processed(ctx)
	if err != nil {
		return err
	}
	n, err := s.deps.Table.Replace(ctx, records)
	if err != nil {
		return err
	}
	s.deps.Metrics.ObserveRows(StageLoad, int(n), len(records)-int(n))
	return nil
}

type trainStage struct{ base }

func (s *trainStage) Name() string { return StageTrain }

func (s *trainStage) Run(ctx context.Context) error {
	ds, err := s.featureTable(ctx)
	if err != nil {
		return err
	}
	cfg := s.deps.Pipeline.TrainingConfig(s.logger, s.deps.Metrics)
	res, err := training.Run(ctx, cfg, ds)
	if err != nil {
		return err
	}
	return training.Persist(ctx, s.deps.Store, res)
}

type predictStage struct{ base }

func (s *predictStage) Name() string { return StagePredict }

func (s *predictStage) Run(ctx context.Context) error {
	ds, err := s.featureTable(ctx)
	if err != nil {
		return err
	}
	regressor, classifier, err := training.LoadModels(ctx, s.deps.Store, ds.Schema)
	if err != nil {
		return err
	}

	batch, err := prediction.NewBatch(prediction.BatchConfig{
		Regressor:  regressor,
		Classifier: classifier,
		Schema:     ds.Schema,
		Publisher:  s.deps.Publisher,
		Logger:     s.logger,
		Clock:      s.deps.Clock,
	})
	if err != nil {
		return err
	}
	events, err := batch.Predict(ctx, ds.X)
	if err != nil {
		return err
	}
	s.deps.Metrics.ObserveRows(StagePredict, len(events), 0)

	return s.write(ctx, artifact.ContainerPredictions, PredictionsFile, func(w io.Writer) error {
		return WritePredictions(w, ds, events)
	})
}
