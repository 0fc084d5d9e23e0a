package handler

import (
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/transitx/transitx/internal/api/middleware"
	"github.com/transitx/transitx/internal/api/models"
	"github.com/transitx/transitx/internal/api/response"
	"github.com/transitx/transitx/internal/artifact"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/training"
)

// AdminHandler exposes the serving encoder registry to operators.
type AdminHandler struct {
	registry *features.Registry
	store    artifact.Store
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(registry *features.Registry, store artifact.Store, clock clockwork.Clock, logger zerolog.Logger) *AdminHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AdminHandler{registry: registry, store: store, clock: clock, logger: logger}
}

// GetEncoders handles GET /v1/admin/encoders.
func (h *AdminHandler) GetEncoders(w http.ResponseWriter, r *http.Request) {
	cols := h.registry.Columns()
	summary := models.EncoderSummary{Columns: make([]models.EncoderColumn, 0, len(cols))}
	for _, col := range cols {
		t, _ := h.registry.Table(col)
		labels := t.Labels()
		summary.Columns = append(summary.Columns, models.EncoderColumn{
			Column:  col,
			Labels:  len(labels),
			FitSize: t.FitSize(),
			Unknown: len(labels) > t.FitSize(),
		})
	}
	response.JSON(w, r, http.StatusOK, summary)
}

// PersistEncoders handles POST /v1/admin/encoders/persist. It writes the
// registry back, including Unknown codes appended while serving, so the
// next process assigns them the same codes.
func (h *AdminHandler) PersistEncoders(w http.ResponseWriter, r *http.Request) {
	if err := training.SaveEncoders(r.Context(), h.store, h.registry); err != nil {
		h.logger.Error().Err(err).Msg("persisting encoders")
		response.InternalError(w, r, "encoders could not be saved")
		return
	}
	h.logger.Info().
		Str("operator", middleware.GetSubject(r.Context())).
		Msg("encoders persisted")
	response.JSON(w, r, http.StatusOK, models.PersistResult{
		Container: artifact.ContainerModels,
		Name:      training.EncodersFile,
		SavedAt:   models.Timestamp(h.clock.Now()),
	})
}
