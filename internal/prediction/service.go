// Package prediction serves delay predictions: the online inference service,
// the batch predictor and the prediction stream publisher.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/model"
	"github.com/transitx/transitx/internal/telemetry"
	"github.com/transitx/transitx/internal/transit"
	"github.com/transitx/transitx/internal/weather"
)

// WeatherResolver returns the weather at a service-local instant.
type WeatherResolver interface {
	Resolve(ctx context.Context, at time.Time) (*weather.Observation, error)
}

// ServiceConfig holds the collaborators of the inference service.
type ServiceConfig struct {
	Validator *transit.Validator
	Weather   WeatherResolver
	Assembler *features.Assembler
	Regressor *model.Model

	Logger  zerolog.Logger
	Metrics *telemetry.Collectors
}

// Response is the result of one prediction. The JSON keys are part of the
// public API and are kept stable for existing clients.
type Response struct {
	DateTime              string  `json:"datetime"`
	Route                 string  `json:"route"`
	Direction             string  `json:"direction"`
	Location              string  `json:"location"`
	Incident              string  `json:"incident"`
	PredictedDelayMinutes int     `json:"predicted_delay_minutes"`
	IsDelayed             bool    `json:"is_delayed"`
	TemperatureC          float64 `json:"temperature_C"`
	PrecipitationMM       float64 `json:"precipitation_mm"`
	WeatherCondition      string  `json:"Weather_condition"`
	RainCondition         string  `json:"rain_condition"`
	Summary               string  `json:"summary"`
}

// Service runs the inference path for single requests. It holds no
// per-request state and is safe for concurrent use.
type Service struct {
	validator *transit.Validator
	weather   WeatherResolver
	assembler *features.Assembler
	regressor *model.Model
	logger    zerolog.Logger
	metrics   *telemetry.Collectors
}

// NewService checks that the regressor was trained on the assembler's
// schema and returns a ready service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Validator == nil {
		return nil, errors.New("request validator is required")
	}
	if cfg.Weather == nil {
		return nil, errors.New("weather resolver is required")
	}
	if cfg.Assembler == nil {
		return nil, errors.New("feature assembler is required")
	}
	if cfg.Regressor == nil {
		return nil, errors.New("regressor is required")
	}
	if cfg.Regressor.Objective != model.ObjectiveSquaredError {
		return nil, fmt.Errorf("%w: serving needs %s, got %s",
			model.ErrObjectiveMismatch, model.ObjectiveSquaredError, cfg.Regressor.Objective)
	}
	if err := cfg.Assembler.Schema().Compatible(cfg.Regressor.Schema); err != nil {
		return nil, fmt.Errorf("regressor: %w", err)
	}

	return &Service{
		validator: cfg.Validator,
		weather:   cfg.Weather,
		assembler: cfg.Assembler,
		regressor: cfg.Regressor,
		logger:    cfg.Logger.With().Str("component", "prediction").Logger(),
		metrics:   cfg.Metrics,
	}, nil
}

// Registry returns the encoder registry used for serving.
func (s *Service) Registry() *features.Registry {
	return s.assembler.Registry()
}

// Predict validates req, resolves the weather and predicts the delay.
// Validation failures are *transit.ValidationError and happen before any
// weather lookup. Weather failures wrap weather.ErrWeatherUnavailable.
func (s *Service) Predict(ctx context.Context, req transit.Request) (*Response, error) {
	n, err := s.validator.Normalize(req)
	if err != nil {
		return nil, err
	}

	obs, err := s.weather.Resolve(ctx, n.At)
	if err != nil {
		s.metrics.ObservePredictionError()
		return nil, err
	}

	_, vec, err := s.assembler.Assemble(features.Input{
		Route:         n.Route,
		Direction:     string(n.Direction),
		Location:      n.Location,
		Incident:      n.Incident,
		MinGap:        float64(n.MinGap),
		At:            n.At,
		Temperature:   obs.Temperature,
		Precipitation: obs.Precipitation,
	})
	if err != nil {
		s.metrics.ObservePredictionError()
		return nil, fmt.Errorf("assembling features: %w", err)
	}

	raw, err := s.regressor.Predict(vec)
	if err != nil {
		s.metrics.ObservePredictionError()
		return nil, fmt.Errorf("predicting delay: %w", err)
	}
	minutes := DelayMinutes(raw)
	delayed := transit.IsDelayed(float64(minutes))

	tempLabel, rainLabel, err := s.decodeBins(vec)
	if err != nil {
		s.metrics.ObservePredictionError()
		return nil, err
	}

	s.metrics.ObservePrediction(minutes, delayed)
	s.logger.Debug().
		Str("route", n.Route).
		Str("date", n.Date).
		Str("time", n.Time).
		Str("weather_source", string(obs.Source)).
		Int("predicted_delay_minutes", minutes).
		Bool("is_delayed", delayed).
		Msg("prediction served")

	return &Response{
		DateTime:              n.Date + " " + n.Time,
		Route:                 n.Route,
		Direction:             string(n.Direction),
		Location:              n.Location,
		Incident:              n.Incident,
		PredictedDelayMinutes: minutes,
		IsDelayed:             delayed,
		TemperatureC:          obs.Temperature,
		PrecipitationMM:       obs.Precipitation,
		WeatherCondition:      tempLabel,
		RainCondition:         rainLabel,
		Summary:               Summary(tempLabel, rainLabel, minutes, delayed),
	}, nil
}

// decodeBins maps the encoded bin codes back to labels. A bin never seen
// at fit time decodes to Unknown.
func (s *Service) decodeBins(vec features.Vector) (temp, rain string, err error) {
	schema := s.assembler.Schema()
	for i, col := range schema.Columns {
		switch col.Name {
		case features.ColTempBin:
			temp, err = s.assembler.Decode(col.Name, vec[i])
		case features.ColRainIntensity:
			rain, err = s.assembler.Decode(col.Name, vec[i])
		}
		if err != nil {
			return "", "", fmt.Errorf("decoding %s: %w", col.Name, err)
		}
	}
	return temp, rain, nil
}

// DelayMinutes rounds a raw regressor output half to even and clamps it at
// zero.
func DelayMinutes(raw float64) int {
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	return int(math.RoundToEven(raw))
}

// Summary composes the one-line description returned with a prediction.
func Summary(tempBin, rainBin string, minutes int, delayed bool) string {
	var weatherPart string
	switch {
	case rainBin == string(features.RainHeavy) || rainBin == string(features.RainModerate):
		weatherPart = "Wet conditions may slow down traffic."
	case tempBin == string(features.TempFreezing) || tempBin == string(features.TempCold):
		weatherPart = "Cold temperatures might slightly impact operations."
	default:
		weatherPart = "Weather conditions are normal."
	}

	delayPart := "Bus is expected to be on time."
	if delayed {
		delayPart = fmt.Sprintf("Expected delay of around %d minutes.", minutes)
	}
	return weatherPart + " " + delayPart
}
