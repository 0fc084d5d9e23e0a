// Package api assembles the HTTP surface of the TransitX inference service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/api/handler"
	"github.com/transitx/transitx/internal/api/middleware"
	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/auth"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/provider/resilience"
)

// RouterConfig holds the collaborators of the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	ServiceName string
	RequireTLS  bool

	Logger zerolog.Logger
	Clock  clockwork.Clock

	// Metrics records OpenTelemetry HTTP instruments when set.
	Metrics *middleware.Metrics
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler

	Predictor handler.Predictor
	Encoders  *features.Registry
	Artifacts artifact.Store
	Tokens    *auth.Service
	Providers *resilience.Registry
	Checks    []handler.Check

	// PredictionLimit overrides the per-IP prediction budget per minute.
	PredictionLimit int
}

// NewRouter wires middleware and routes.
func NewRouter(cfg RouterConfig) *chi.Mux {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "transitx-api"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	ops := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Checks, cfg.Providers, cfg.Clock)
	metadata := handler.NewMetadataHandler()
	predictions := handler.NewPredictionHandler(cfg.Predictor, cfg.Logger)

	predictBudget := middleware.PredictionRateLimit
	if cfg.PredictionLimit > 0 {
		predictBudget.RequestLimit = cfg.PredictionLimit
	}
	predictLimit := middleware.RateLimitByIP(predictBudget)
	standardLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Get("/", ops.Root)
		r.Get("/health", ops.LegacyHealth)
		r.With(middleware.RequireJSON, predictLimit).Post("/predict", predictions.Predict)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		var operator func(http.Handler) http.Handler
		if cfg.Tokens != nil {
			authn := middleware.Auth(cfg.Tokens)
			role := middleware.RequireRole(auth.RoleOperator)
			operator = func(next http.Handler) http.Handler { return authn(role(next)) }
		}

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", ops.HealthCheck)
			r.Get("/ready", ops.ReadinessCheck)
			if operator != nil {
				r.With(operator).Get("/status", ops.SystemStatus)
			}
		})

		r.Route("/metadata", func(r chi.Router) {
			r.Use(standardLimit)
			r.Get("/enums", metadata.GetEnums)
		})

		r.With(middleware.RequireJSON, predictLimit).Post("/predictions", predictions.Predict)

		// Operator routes exist only when token validation is configured.
		if operator != nil && cfg.Encoders != nil && cfg.Artifacts != nil {
			admin := handler.NewAdminHandler(cfg.Encoders, cfg.Artifacts, cfg.Clock, cfg.Logger)
			r.Route("/admin", func(r chi.Router) {
				r.Use(operator)
				r.Use(middleware.RateLimitBySubject(middleware.AdminRateLimit))
				r.Get("/encoders", admin.GetEncoders)
				r.Post("/encoders/persist", admin.PersistEncoders)
			})
		}
	})

	return r
}
