// Package main runs the TransitX batch pipeline once and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"

	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/config"
	"github.com/transitx/transitx/internal/database"
	"github.com/transitx/transitx/internal/delaystore"
	"github.com/transitx/transitx/internal/etl"
	"github.com/transitx/transitx/internal/opendata"
	"github.com/transitx/transitx/internal/prediction"
	"github.com/transitx/transitx/internal/telemetry"
	"github.com/transitx/transitx/internal/weather/openmeteo"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "transitx-pipeline"

	stageList := flag.String("stages", "", `comma-separated stages to run, or "all" (default: every stage but predict)`)
	configPath := flag.String("config", "", "pipeline YAML file (overrides PIPELINE_CONFIG)")
	flag.Parse()

	cfg := config.FromEnv()
	log := cfg.NewLogger(serviceName, Version)

	if *configPath != "" {
		cfg.PipelineConfigPath = *configPath
	}
	pipeline, err := config.LoadPipeline(cfg.PipelineConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pipeline config")
	}

	stages, err := etl.ParseStages(*stageList)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -stages")
	}

	log.Info().
		Str("build_time", BuildTime).
		Strs("stages", stages).
		Ints("years", pipeline.Years).
		Msg("starting TransitX pipeline")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	// Flushes stage spans; also called before a failing exit.
	flushTelemetry := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}
	defer flushTelemetry()

	store, err := artifact.Open(cfg.ArtifactBackend, cfg.ArtifactLocation(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open artifact store")
	}
	defer store.Close()

	deps := etl.Deps{
		Pipeline: pipeline,
		Store:    store,
		Delays: opendata.NewClient(opendata.ClientConfig{
			BaseURL:   pipeline.Sources.CKANBaseURL,
			DatasetID: pipeline.Sources.DatasetID,
			Logger:    log,
		}),
		Weather: openmeteo.NewClient(openmeteo.ClientConfig{
			ArchiveURL:  pipeline.Sources.WeatherArchiveURL,
			ForecastURL: pipeline.Sources.WeatherForecastURL,
			Logger:      log,
		}),
		Clock:   clockwork.NewRealClock(),
		Logger:  log,
		Metrics: telemetry.NewCollectors(),
	}

	if slices.Contains(stages, etl.StageLoad) {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Str("database", dbConfig.Database).
			Str("table", pipeline.Load.Table).
			Msg("database connected")
		deps.Table = delaystore.NewPostgresStore(pool, pipeline.Load.Table, log)
	}

	if slices.Contains(stages, etl.StagePredict) && len(cfg.KafkaBrokers) > 0 {
		publisher := prediction.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPredictionTopic, log)
		defer publisher.Close()
		deps.Publisher = publisher
	}

	built, err := etl.Build(deps, stages)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build stages")
	}

	start := time.Now()
	if err := etl.NewRunner(log, deps.Metrics, built...).Run(ctx); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("pipeline failed")
		flushTelemetry()
		os.Exit(1) //nolint:gocritic // deferred cleanup is best-effort
	}
	log.Info().Dur("duration", time.Since(start)).Msg("pipeline completed")
}
