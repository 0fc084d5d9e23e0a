// Package config reads process settings from the environment and the
// pipeline definition from YAML.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Service holds process wiring read from the environment.
type Service struct {
	Port     string
	Env      string
	LogLevel string

	OTelEnabled     bool
	OTLPEndpoint    string
	OTelSampleRatio float64

	RedisURL string

	ArtifactBackend    string
	ArtifactDir        string
	ArtifactSQLitePath string

	KafkaBrokers         []string
	KafkaPredictionTopic string

	JWTSigningKey string
	JWTIssuer     string
	RequireTLS    bool

	GCPProjectID       string
	PubSubSubscription string

	// WarmupDays is how many forecast days the worker keeps cached.
	WarmupDays int

	PipelineConfigPath string

	// PredictionRateLimit is requests per minute per client IP.
	PredictionRateLimit int
	RequestTimeout      time.Duration
}

// FromEnv reads Service from the environment, applying defaults.
func FromEnv() Service {
	return Service{
		Port:     getEnv("APP_PORT", "8080"),
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),

		RedisURL: os.Getenv("REDIS_URL"),

		ArtifactBackend:    getEnv("ARTIFACT_BACKEND", "file"),
		ArtifactDir:        getEnv("ARTIFACT_DIR", "data"),
		ArtifactSQLitePath: getEnv("ARTIFACT_SQLITE_PATH", "data/artifacts.db"),

		KafkaBrokers:         getEnvList("KAFKA_BROKERS"),
		KafkaPredictionTopic: getEnv("KAFKA_PREDICTIONS_TOPIC", "transit.predictions"),

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:     getEnv("JWT_ISSUER", "transitx"),
		RequireTLS:    getEnvBool("REQUIRE_TLS", false),

		GCPProjectID:       os.Getenv("GCP_PROJECT_ID"),
		PubSubSubscription: getEnv("PUBSUB_SUBSCRIPTION", "transitx-pipeline"),
		WarmupDays:         getEnvInt("WARMUP_DAYS", 7),

		PipelineConfigPath: os.Getenv("PIPELINE_CONFIG"),

		PredictionRateLimit: getEnvInt("PREDICTION_RATE_LIMIT", 30),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

// IsDevelopment reports APP_ENV=development.
func (s Service) IsDevelopment() bool {
	return s.Env == "development"
}

// ArtifactLocation is the directory or database path for the configured backend.
func (s Service) ArtifactLocation() string {
	if s.ArtifactBackend == "sqlite" {
		return s.ArtifactSQLitePath
	}
	return s.ArtifactDir
}

// NewLogger builds the root logger for a process.
func (s Service) NewLogger(service, version string) zerolog.Logger {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil || s.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if s.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
