package handler

import (
	"net/http"

	"github.com/transitx/transitx/internal/api/models"
	"github.com/transitx/transitx/internal/api/response"
	"github.com/transitx/transitx/internal/features"
	"github.com/transitx/transitx/internal/transit"
)

// MetadataHandler serves the closed value sets of the API.
type MetadataHandler struct {
	enums models.Enums
}

// NewMetadataHandler creates a MetadataHandler.
func NewMetadataHandler() *MetadataHandler {
	enums := models.Enums{
		Incidents:      transit.Incidents(),
		DelayThreshold: transit.DelayThresholdMinutes,
	}
	for _, d := range transit.Directions() {
		enums.Directions = append(enums.Directions, string(d))
	}
	for _, b := range features.TempBins() {
		enums.TemperatureBins = append(enums.TemperatureBins, string(b))
	}
	for _, b := range features.RainBins() {
		enums.RainBins = append(enums.RainBins, string(b))
	}
	return &MetadataHandler{enums: enums}
}

// GetEnums handles GET /v1/metadata/enums.
func (h *MetadataHandler) GetEnums(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.enums)
}
