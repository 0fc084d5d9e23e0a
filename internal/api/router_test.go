package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitx/transitx/internal/api"
	"github.com/transitx/transitx/internal/api/handler"
	"github.com/transitx/transitx/internal/api/models"
	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/auth"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/prediction"
	"github.com/transitx/transitx/internal/provider/resilience"
	"github.com/transitx/transitx/internal/telemetry"
	"github.com/transitx/transitx/internal/training"
	"github.com/transitx/transitx/internal/transit"
	"github.com/transitx/transitx/internal/weather"
)

// stubPredictor answers by route: "503" fails the weather lookup, "500"
// fails internally, anything else succeeds.
type stubPredictor struct {
	mu    sync.Mutex
	calls []transit.Request
}

func (s *stubPredictor) Predict(_ context.Context, req transit.Request) (*prediction.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	switch req.Route {
	case "":
		return nil, &transit.ValidationError{Fields: []transit.FieldError{
			{Field: "route", Message: "is required", Code: "required"},
		}}
	case "503":
		return nil, fmt.Errorf("%w: %w", weather.ErrWeatherUnavailable, errors.New("connection refused"))
	case "504":
		return nil, fmt.Errorf("%w: %w", weather.ErrWeatherUnavailable, weather.ErrOutOfHorizon)
	case "500":
		return nil, errors.New("tree walk failed")
	}
	return &prediction.Response{
		DateTime:              req.Date + " " + req.Time,
		Route:                 req.Route,
		Direction:             "E",
		Location:              "KENNEDY STATION",
		Incident:              "None",
		PredictedDelayMinutes: 7,
		IsDelayed:             true,
		TemperatureC:          22,
		WeatherCondition:      "Warm",
		RainCondition:         "None",
		Summary:               prediction.Summary("Warm", "None", 7, true),
	}, nil
}

type testEnv struct {
	router    http.Handler
	predictor *stubPredictor
	store     artifact.Store
	tokens    *auth.Service
	registry  *features.Registry
	ready     error
}

const signingKey = "router-test-signing-key-0123456789abcdef"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC))

	store, err := artifact.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	tokens, err := auth.NewService(auth.Config{SigningKey: signingKey, Clock: clock})
	require.NoError(t, err)

	providers := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("open-meteo")
	cfg.Registry = providers
	resilience.NewClient(cfg)

	env := &testEnv{
		predictor: &stubPredictor{},
		store:     store,
		tokens:    tokens,
		registry: features.NewRegistry(map[string][]string{
			features.ColRoute:     {"32", "7"},
			features.ColDirection: {"E", "W"},
		}),
	}
	env.router = api.NewRouter(api.RouterConfig{
		Version:        "1.2.3",
		BuildTime:      "2025-04-30T00:00:00Z",
		Logger:         zerolog.Nop(),
		Clock:          clock,
		MetricsHandler: telemetry.NewCollectors().Handler(),
		Predictor:      env.predictor,
		Encoders:       env.registry,
		Artifacts:      store,
		Tokens:         tokens,
		Providers:      providers,
		Checks: []handler.Check{
			{Name: "models", Probe: func(context.Context) error { return env.ready }},
		},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) operatorToken(t *testing.T) string {
	t.Helper()
	token, _, err := e.tokens.Issue("ops@transitx", auth.RoleOperator)
	require.NoError(t, err)
	return token
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

const kennedy = `{"date":"2024-07-15","time":"08:30","route":"32","direction":"East",` +
	`"location":"KENNEDY STATION","incident":"None","min_gap":10}`

func TestRouter_Predict(t *testing.T) {
	for _, path := range []string{"/v1/predictions", "/predict"} {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, path, kennedy, "")

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "2024-07-15 08:30", body["datetime"])
			assert.Equal(t, float64(7), body["predicted_delay_minutes"])
			assert.Equal(t, true, body["is_delayed"])
			assert.Equal(t, "Warm", body["Weather_condition"])
			assert.Equal(t, "None", body["rain_condition"])
			assert.Contains(t, body, "temperature_C")
			assert.Contains(t, body, "precipitation_mm")

			require.Len(t, env.predictor.calls, 1)
			gap := env.predictor.calls[0].MinGap
			require.NotNil(t, gap)
			assert.Equal(t, 10, *gap)
		})
	}
}

func TestRouter_PredictErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		kind   models.Kind
		detail string
	}{
		{"validation", `{"date":"2024-07-15","time":"08:30"}`, http.StatusBadRequest, models.KindValidation, "request has invalid fields"},
		{"malformed json", `{"route":`, http.StatusBadRequest, models.KindValidation, "request body must be a JSON object"},
		{"wrong type", `{"route":32}`, http.StatusBadRequest, models.KindValidation, "field route must be a string"},
		{"weather down", `{"route":"503"}`, http.StatusServiceUnavailable, models.KindWeatherUnavailable, "weather data is temporarily unavailable, retry later"},
		{"beyond horizon", `{"route":"504"}`, http.StatusServiceUnavailable, models.KindWeatherUnavailable, "no forecast is available that far ahead"},
		{"internal", `{"route":"500"}`, http.StatusInternalServerError, models.KindInternal, "prediction failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(t, http.MethodPost, "/v1/predictions", tt.body, "")

			assert.Equal(t, tt.status, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.kind.Type, p.Type)
			assert.Equal(t, tt.detail, p.Detail)
			assert.Equal(t, "/v1/predictions", p.Instance)
			assert.Equal(t, rec.Header().Get("X-Request-Id"), p.TraceID)
		})
	}
}

func TestRouter_PredictFieldErrors(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/predict", `{"date":"2024-07-15"}`, "")

	p := decodeProblem(t, rec)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, models.FieldError{Field: "route", Message: "is required", Code: "required"}, p.Errors[0])
}

func TestRouter_PredictRejectsNonJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/predictions", strings.NewReader("route=32"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Empty(t, env.predictor.calls)
}

func TestRouter_PredictBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	body := `{"location":"` + strings.Repeat("x", 20<<10) + `"}`
	rec := env.do(t, http.MethodPost, "/v1/predictions", body, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request body too large", decodeProblem(t, rec).Detail)
}

func TestRouter_Root(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome to TransitX API")

	rec = env.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","time":"2025-05-01T09:00:00Z"}`, rec.Body.String())
}

func TestRouter_SecurityHeaders(t *testing.T) {
	rec := newTestEnv(t).do(t, http.MethodGet, "/v1/ops/health", "", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouter_Ops(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Details["version"])

	rec = env.do(t, http.MethodGet, "/v1/ops/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.ready = errors.New("regressor not loaded")
	rec = env.do(t, http.MethodGet, "/v1/ops/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Equal(t, string(models.HealthStatusFail), health.Details["models"])
}

func TestRouter_Status(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/ops/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/ops/status", "", env.operatorToken(t))
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "models", status.Subsystems[0].Name)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "open-meteo", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
}

func TestRouter_Enums(t *testing.T) {
	rec := newTestEnv(t).do(t, http.MethodGet, "/v1/metadata/enums", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var enums models.Enums
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enums))
	assert.Len(t, enums.Incidents, 14)
	assert.Contains(t, enums.Incidents, "Road Blocked - NON-TTC Collision")
	assert.Equal(t, []string{"N", "S", "E", "W"}, enums.Directions)
	assert.Equal(t, []string{"Freezing", "Cold", "Mild", "Warm"}, enums.TemperatureBins)
	assert.Equal(t, []string{"None", "Light", "Moderate", "Heavy"}, enums.RainBins)
	assert.Equal(t, 3, enums.DelayThreshold)
}

func TestRouter_AdminEncoders(t *testing.T) {
	env := newTestEnv(t)
	token := env.operatorToken(t)

	rec := env.do(t, http.MethodGet, "/v1/admin/encoders", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	viewer, _, err := env.tokens.Issue("someone", "viewer")
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/admin/encoders", "", viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	_, err = env.registry.Encode(features.ColRoute, "999")
	require.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/v1/admin/encoders", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.EncoderSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, []models.EncoderColumn{
		{Column: features.ColDirection, Labels: 2, FitSize: 2},
		{Column: features.ColRoute, Labels: 3, FitSize: 2, Unknown: true},
	}, summary.Columns)

	rec = env.do(t, http.MethodPost, "/v1/admin/encoders/persist", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.PersistResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, training.EncodersFile, result.Name)

	saved, err := training.LoadEncoders(context.Background(), env.store)
	require.NoError(t, err)
	routes, ok := saved.Table(features.ColRoute)
	require.True(t, ok)
	assert.Equal(t, []string{"32", "7", features.UnknownLabel}, routes.Labels())
}

func TestRouter_Metrics(t *testing.T) {
	rec := newTestEnv(t).do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("go_goroutines")))
}

func TestRouter_WithoutTokens(t *testing.T) {
	store, err := artifact.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	router := api.NewRouter(api.RouterConfig{
		Logger:    zerolog.Nop(),
		Predictor: &stubPredictor{},
		Encoders:  features.NewRegistry(map[string][]string{features.ColRoute: {"1"}}),
		Artifacts: store,
	})

	for _, path := range []string{"/v1/ops/status", "/v1/admin/encoders"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
