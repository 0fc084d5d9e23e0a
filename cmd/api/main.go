// Package main provides the entrypoint for the TransitX inference API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/transitx/transitx/internal/api"
	"github.com/transitx/transitx/internal/api/handler"
	"github.com/transitx/transitx/internal/api/middleware"
	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/auth"
	"github.com/transitx/transitx/internal/config"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/prediction"
	"github.com/transitx/transitx/internal/provider/resilience"
	"github.com/transitx/transitx/internal/telemetry"
	"github.com/transitx/transitx/internal/training"
	"github.com/transitx/transitx/internal/transit"
	"github.com/transitx/transitx/internal/weather"
	"github.com/transitx/transitx/internal/weather/openmeteo"
	"github.com/transitx/transitx/internal/weather/rediscache"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "transitx-api"

	issueFor := flag.String("issue-token", "", "print an operator token for `subject` and exit")
	flag.Parse()

	cfg := config.FromEnv()
	log := cfg.NewLogger(serviceName, Version)

	if *issueFor != "" {
		if err := issueToken(cfg, *issueFor); err != nil {
			log.Fatal().Err(err).Msg("failed to issue token")
		}
		return
	}

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting TransitX API")

	pipeline, err := config.LoadPipeline(cfg.PipelineConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load pipeline config")
	}

	ctx := context.Background()

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

	httpMetrics, err := middleware.NewMetrics(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize http metrics")
	}
	collectors := telemetry.NewCollectors()

	store, err := artifact.Open(cfg.ArtifactBackend, cfg.ArtifactLocation(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open artifact store")
	}
	defer store.Close()

	// Serving needs the artifacts of a completed training run.
	encoders, err := training.LoadEncoders(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load encoders; run the train stage first")
	}
	encoders.OnUnseen(collectors.ObserveUnseen)

	assembler, err := features.NewAssembler(encoders)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build feature assembler")
	}
	regressor, _, err := training.LoadModels(ctx, store, assembler.Schema())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load models")
	}
	log.Info().
		Int("columns", len(assembler.Schema().Columns)).
		Int("trees", len(regressor.Trees)).
		Msg("models loaded")

	providers := resilience.NewRegistry()
	checks := []handler.Check{{
		Name: "artifacts",
		Probe: func(ctx context.Context) error {
			_, err := store.List(ctx, artifact.ContainerModels)
			return err
		},
	}}

	var cache weather.Cache
	if cfg.RedisURL != "" {
		redisCache, err := rediscache.Open(ctx, cfg.RedisURL, "transitx:weather:")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		cache = redisCache
		checks = append(checks, handler.Check{Name: "redis", Probe: redisCache.Ping})
		log.Info().Msg("weather cache: redis")
	}

	weatherService, err := weather.NewService(weather.ServiceConfig{
		Provider: openmeteo.NewClient(openmeteo.ClientConfig{
			ArchiveURL:  pipeline.Sources.WeatherArchiveURL,
			ForecastURL: pipeline.Sources.WeatherForecastURL,
			Providers:   providers,
			Logger:      log,
		}),
		Area:    pipeline.Area.WeatherArea(),
		Cache:   cache,
		Logger:  log,
		Metrics: collectors,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create weather service")
	}

	predictor, err := prediction.NewService(prediction.ServiceConfig{
		Validator: transit.NewValidator(weatherService.Location()),
		Weather:   weatherService,
		Assembler: assembler,
		Regressor: regressor,
		Logger:    log,
		Metrics:   collectors,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create prediction service")
	}

	var tokens *auth.Service
	if cfg.JWTSigningKey != "" {
		tokens, err = auth.NewService(auth.Config{SigningKey: cfg.JWTSigningKey, Issuer: cfg.JWTIssuer})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create token service")
		}
	} else {
		log.Warn().Msg("JWT_SIGNING_KEY not set, operator endpoints disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		ServiceName:     serviceName,
		RequireTLS:      cfg.RequireTLS,
		Logger:          log,
		Metrics:         httpMetrics,
		MetricsHandler:  collectors.Handler(),
		Predictor:       predictor,
		Encoders:        encoders,
		Artifacts:       store,
		Tokens:          tokens,
		Providers:       providers,
		Checks:          checks,
		PredictionLimit: cfg.PredictionRateLimit,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func issueToken(cfg config.Service, subject string) error {
	tokens, err := auth.NewService(auth.Config{SigningKey: cfg.JWTSigningKey, Issuer: cfg.JWTIssuer})
	if err != nil {
		return err
	}
	token, expiresAt, err := tokens.Issue(subject, auth.RoleOperator)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}
