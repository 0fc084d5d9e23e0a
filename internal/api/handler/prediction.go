package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/api/models"
	"github.com/transitx/transitx/internal/api/response"
	"github.com/transitx/transitx/internal/prediction"
	"github.com/transitx/transitx/internal/transit"
	"github.com/transitx/transitx/internal/weather"
)

const maxPredictionBody = 16 << 10

// Predictor is the inference service behind the prediction endpoint.
type Predictor interface {
	Predict(ctx context.Context, req transit.Request) (*prediction.Response, error)
}

// PredictionHandler serves single delay predictions.
type PredictionHandler struct {
	predictor Predictor
	logger    zerolog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(p Predictor, logger zerolog.Logger) *PredictionHandler {
	return &PredictionHandler{predictor: p, logger: logger}
}

// Predict handles POST /v1/predictions and POST /predict.
func (h *PredictionHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req transit.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictionBody))
	if err := dec.Decode(&req); err != nil {
		response.BadRequest(w, r, decodeDetail(err), nil)
		return
	}

	res, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, res)
}

func (h *PredictionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *transit.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]models.FieldError, len(verr.Fields))
		for i, f := range verr.Fields {
			fields[i] = models.FieldError{Field: f.Field, Message: f.Message, Code: f.Code}
		}
		response.BadRequest(w, r, "request has invalid fields", fields)
	case errors.Is(err, weather.ErrWeatherUnavailable):
		h.logger.Warn().Err(err).Msg("weather unavailable for prediction")
		response.Fail(w, r, models.KindWeatherUnavailable, weatherDetail(err))
	default:
		h.logger.Error().Err(err).Msg("prediction failed")
		response.InternalError(w, r, "prediction failed")
	}
}

func weatherDetail(err error) string {
	if errors.Is(err, weather.ErrOutOfHorizon) {
		return "no forecast is available that far ahead"
	}
	return "weather data is temporarily unavailable, retry later"
}

func decodeDetail(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &typeErr):
		return fmt.Sprintf("field %s must be a %s", typeErr.Field, typeErr.Type)
	case errors.As(err, &maxErr):
		return "request body too large"
	default:
		return "request body must be a JSON object"
	}
}
