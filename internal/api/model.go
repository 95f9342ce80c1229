package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/upstream"
)

// ModelHandler proxies the hosted wake word model catalog.
type ModelHandler struct {
	upstream *upstream.Client
	log      zerolog.Logger
}

func NewModelHandler(up *upstream.Client, log zerolog.Logger) *ModelHandler {
	return &ModelHandler{upstream: up, log: log.With().Str("component", "api").Logger()}
}

func (h *ModelHandler) GetModels(w http.ResponseWriter, r *http.Request) {
	modelType, _ := QueryString(r, "type")
	if modelType != "wakenet" {
		WriteError(w, http.StatusBadRequest, "invalid model type")
		return
	}

	models, err := h.upstream.Models(r.Context(), modelType)
	if err != nil {
		h.log.Error().Err(err).Msg("model catalog fetch failed")
		WriteError(w, http.StatusBadGateway, "model catalog fetch failed")
		return
	}
	WriteJSON(w, http.StatusOK, models)
}
