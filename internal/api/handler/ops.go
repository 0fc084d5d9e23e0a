// Package handler implements the HTTP handlers of the TransitX API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"

	"github.com/transitx/transitx/internal/api/models"
	"github.com/transitx/transitx/internal/api/response"
	"github.com/transitx/transitx/internal/provider/resilience"
)

const checkTimeout = 2 * time.Second

// Check is a named readiness probe of an in-process dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// OpsHandler serves the probes and the status report.
type OpsHandler struct {
	version   string
	buildTime string
	checks    []Check
	providers *resilience.Registry
	clock     clockwork.Clock
}

// NewOpsHandler creates an OpsHandler. providers may be nil.
func NewOpsHandler(version, buildTime string, checks []Check, providers *resilience.Registry, clock clockwork.Clock) *OpsHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
		providers: providers,
		clock:     clock,
	}
}

// Root handles GET / with a short service description.
func (h *OpsHandler) Root(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{
		"message":      "Welcome to TransitX API",
		"version":      h.version,
		"health_check": "/health",
		"predict":      "/v1/predictions",
	})
}

// LegacyHealth handles GET /health.
func (h *OpsHandler) LegacyHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.clock.Now().Format(time.RFC3339),
	})
}

// HealthCheck handles GET /v1/ops/health. It never touches dependencies.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Any failing check answers 503.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.runChecks(r.Context())
	details := make(map[string]any, len(subsystems))
	status := models.HealthStatusOK
	for _, s := range subsystems {
		details[s.Name] = s.Status
		if s.Status != models.HealthStatusOK {
			status = models.HealthStatusFail
		}
	}

	code := http.StatusOK
	if status != models.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.Health{
		Status:  status,
		Time:    models.Timestamp(h.clock.Now()),
		Details: details,
	})
}

// SystemStatus handles GET /v1/ops/status with subsystem checks and the
// circuit state of every upstream provider.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	subsystems := h.runChecks(r.Context())
	providers := h.providerStatus()

	overall := models.HealthStatusOK
	for _, s := range subsystems {
		if s.Status == models.HealthStatusFail {
			overall = models.HealthStatusFail
		}
	}
	if overall == models.HealthStatusOK {
		for _, p := range providers {
			if p.Status != models.HealthStatusOK {
				overall = models.HealthStatusDegraded
			}
		}
	}

	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status:     overall,
		Time:       models.Timestamp(h.clock.Now()),
		Subsystems: subsystems,
		Providers:  providers,
	})
}

func (h *OpsHandler) runChecks(ctx context.Context) []models.SubsystemStatus {
	out := make([]models.SubsystemStatus, 0, len(h.checks))
	for _, c := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Probe(cctx)
		cancel()

		s := models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			s.Status = models.HealthStatusFail
			s.Detail = err.Error()
		}
		out = append(out, s)
	}
	return out
}

func (h *OpsHandler) providerStatus() []models.ProviderStatus {
	if h.providers == nil {
		return []models.ProviderStatus{}
	}
	snap := h.providers.Snapshot()
	out := make([]models.ProviderStatus, 0, len(snap))
	for _, p := range snap {
		status := models.HealthStatusOK
		switch p.CircuitState {
		case gobreaker.StateHalfOpen:
			status = models.HealthStatusDegraded
		case gobreaker.StateOpen:
			status = models.HealthStatusFail
		}
		out = append(out, models.ProviderStatus{
			Provider:      p.Name,
			Status:        status,
			CircuitState:  p.CircuitState.String(),
			Failures:      p.Counts.ConsecutiveFailures,
			LastSuccessAt: models.TimestampPtr(p.LastSuccessAt),
			LastFailureAt: models.TimestampPtr(p.LastFailureAt),
			Message:       p.LastError,
		})
	}
	return out
}
