package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/ota"
)

// OTAHandler serves firmware images to satellites, pulling them from the
// upstream release host on the first request for a version and platform.
type OTAHandler struct {
	cache *ota.Cache
	log   zerolog.Logger
}

func NewOTAHandler(cache *ota.Cache, log zerolog.Logger) *OTAHandler {
	return &OTAHandler{cache: cache, log: log.With().Str("component", "api").Logger()}
}

func (h *OTAHandler) GetFirmware(w http.ResponseWriter, r *http.Request) {
	version, ok := QueryString(r, "version")
	if !ok {
		WriteError(w, http.StatusBadRequest, "version required")
		return
	}
	platform, ok := QueryString(r, "platform")
	if !ok {
		WriteError(w, http.StatusBadRequest, "platform required")
		return
	}

	path, err := h.cache.Get(r.Context(), version, platform)
	if err != nil {
		var ue *ota.UpstreamStatusError
		switch {
		case errors.Is(err, ota.ErrUnsafePath):
			h.log.Warn().Str("version", version).Str("platform", platform).Msg("unsafe ota path rejected")
			WriteErrorDetail(w, http.StatusBadRequest, "invalid asset path", err.Error())
		case errors.Is(err, ota.ErrNotFound):
			WriteError(w, http.StatusNotFound, "OTA File Not Found")
		case errors.As(err, &ue):
			WriteError(w, ue.StatusCode, "upstream firmware fetch failed")
		default:
			h.log.Error().Err(err).Str("version", version).Str("platform", platform).Msg("ota fetch failed")
			WriteError(w, http.StatusBadGateway, "ota fetch failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}
