// Package main provides the entrypoint for the TransitX background worker.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/api/handler"
	"github.com/transitx/transitx/internal/api/middleware"
	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/config"
	"github.com/transitx/transitx/internal/database"
	"github.com/transitx/transitx/internal/delaystore"
	"github.com/transitx/transitx/internal/etl"
	"github.com/transitx/transitx/internal/opendata"
	"github.com/transitx/transitx/internal/prediction"
	"github.com/transitx/transitx/internal/provider/resilience"
	"github.com/transitx/transitx/internal/telemetry"
	"github.com/transitx/transitx/internal/weather"
	"github.com/transitx/transitx/internal/weather/openmeteo"
	"github.com/transitx/transitx/internal/weather/rediscache"
	"github.com/transitx/transitx/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "transitx-worker"

	cfg := config.FromEnv()
	log := cfg.NewLogger(serviceName, Version)

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting TransitX worker")

	pipeline, err := config.LoadPipeline(cfg.PipelineConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pipeline config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	collectors := telemetry.NewCollectors()
	providers := resilience.NewRegistry()
	clock := clockwork.NewRealClock()

	store, err := artifact.Open(cfg.ArtifactBackend, cfg.ArtifactLocation(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open artifact store")
	}
	defer store.Close()

	checks := []worker.Check{{
		Name: "artifacts",
		Probe: func(ctx context.Context) error {
			_, err := store.List(ctx, artifact.ContainerModels)
			return err
		},
	}}

	weatherClient := openmeteo.NewClient(openmeteo.ClientConfig{
		ArchiveURL:  pipeline.Sources.WeatherArchiveURL,
		ForecastURL: pipeline.Sources.WeatherForecastURL,
		Providers:   providers,
		Clock:       clock,
		Logger:      log,
	})

	deps := etl.Deps{
		Pipeline: pipeline,
		Store:    store,
		Delays: opendata.NewClient(opendata.ClientConfig{
			BaseURL:   pipeline.Sources.CKANBaseURL,
			DatasetID: pipeline.Sources.DatasetID,
			Providers: providers,
			Logger:    log,
		}),
		Weather: weatherClient,
		Clock:   clock,
		Logger:  log,
		Metrics: collectors,
	}

	// The load stage needs PostgreSQL; without it pipeline runs that
	// include load fail and are redelivered.
	pool, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		log.Warn().Err(err).Msg("database unavailable, load stage disabled")
	} else {
		defer pool.Close()
		deps.Table = delaystore.NewPostgresStore(pool, pipeline.Load.Table, log)
		checks = append(checks, worker.Check{Name: "database", Probe: pool.Ping})
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := prediction.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaPredictionTopic, log)
		defer publisher.Close()
		deps.Publisher = publisher
	}

	// Warming only pays off when the API reads the same cache.
	var warmup *worker.WarmupJob
	if cfg.RedisURL != "" {
		cache, err := rediscache.Open(ctx, cfg.RedisURL, "transitx:weather:")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer cache.Close()
		checks = append(checks, worker.Check{Name: "redis", Probe: cache.Ping})

		weatherService, err := weather.NewService(weather.ServiceConfig{
			Provider: weatherClient,
			Area:     pipeline.Area.WeatherArea(),
			Cache:    cache,
			Logger:   log,
			Clock:    clock,
			Metrics:  collectors,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create weather service")
		}

		warmupConfig := worker.DefaultWarmupConfig()
		warmupConfig.Days = cfg.WarmupDays
		warmup = worker.NewWarmupJob(worker.WarmupJobConfig{
			Config:   warmupConfig,
			Resolver: weatherService,
			Clock:    clock,
			Logger:   log,
		})
	} else {
		log.Warn().Msg("REDIS_URL not set, weather warm-up disabled")
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		Pipeline: worker.NewStagePipeline(deps),
		Warmup:   warmup,
		Checks:   checks,
		Logger:   log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      healthRouter(log, checks, providers, clock, collectors),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.GCPProjectID != "" {
		sub, err := worker.NewSubscriber(ctx, worker.SubscriberConfig{
			ProjectID:        cfg.GCPProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			Dispatcher:       dispatcher,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub subscriber")
		}
		defer sub.Close()

		go func() {
			if err := sub.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub subscriber stopped")
			}
		}()
	} else {
		log.Warn().Msg("GCP_PROJECT_ID not set, not consuming job messages")
	}

	if warmup != nil {
		go runWarmupLoop(ctx, warmup, clock, weather.DefaultForecastTTL)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// runWarmupLoop refreshes forecast days as often as cached forecasts expire.
func runWarmupLoop(ctx context.Context, job *worker.WarmupJob, clock clockwork.Clock, every time.Duration) {
	job.Run(ctx)

	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			job.Run(ctx)
		}
	}
}

func healthRouter(log zerolog.Logger, checks []worker.Check, providers *resilience.Registry, clock clockwork.Clock, collectors *telemetry.Collectors) http.Handler {
	probes := make([]handler.Check, len(checks))
	for i, c := range checks {
		probes[i] = handler.Check{Name: c.Name, Probe: c.Probe}
	}
	ops := handler.NewOpsHandler(Version, BuildTime, probes, providers, clock)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.SecurityHeaders)
	r.Get("/health", ops.HealthCheck)
	r.Get("/ready", ops.ReadinessCheck)
	r.Get("/status", ops.SystemStatus)
	r.Handle("/metrics", collectors.Handler())
	return r
}
