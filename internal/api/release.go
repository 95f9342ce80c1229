package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/ota"
	"github.com/roost-io/roost/internal/store"
)

// ReleaseHandler lists firmware releases and manages the local cache.
type ReleaseHandler struct {
	catalog *ota.Catalog
	cache   *ota.Cache
	store   *store.Store
	log     zerolog.Logger
}

func NewReleaseHandler(catalog *ota.Catalog, cache *ota.Cache, st *store.Store, log zerolog.Logger) *ReleaseHandler {
	return &ReleaseHandler{
		catalog: catalog,
		cache:   cache,
		store:   st,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// ListReleases returns the merged release catalog. type=was additionally
// annotates each asset with the server-local download URL devices use and
// whether the image is already cached.
func (h *ReleaseHandler) ListReleases(w http.ResponseWriter, r *http.Request) {
	releaseType, _ := QueryString(r, "type")
	switch releaseType {
	case "willow", "was":
	default:
		WriteError(w, http.StatusBadRequest, "invalid release type")
		return
	}

	releases, err := h.catalog.Merged(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("release catalog fetch failed")
		WriteError(w, http.StatusBadGateway, "release catalog fetch failed")
		return
	}

	if releaseType == "was" {
		wasURL := h.store.WasURL()
		if wasURL == "" {
			WriteError(w, http.StatusInternalServerError, "WAS URL not set")
			return
		}
		h.catalog.AnnotateForDevices(releases, wasURL)
	}
	WriteJSON(w, http.StatusOK, releases)
}

// PostRelease runs one cache-control action: pre-fetch an image or drop a
// cached file.
func (h *ReleaseHandler) PostRelease(w http.ResponseWriter, r *http.Request) {
	action, _ := QueryString(r, "action")

	switch action {
	case "cache":
		var body struct {
			Version   string `json:"version"`
			Platform  string `json:"platform"`
			WillowURL string `json:"willow_url"`
			Size      int64  `json:"size"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := h.cache.CacheAsset(r.Context(), body.Version, body.Platform, body.WillowURL, body.Size); err != nil {
			var ue *ota.UpstreamStatusError
			switch {
			case errors.Is(err, ota.ErrUnsafePath):
				h.log.Warn().Str("version", body.Version).Str("platform", body.Platform).Msg("unsafe release path rejected")
				WriteErrorDetail(w, http.StatusBadRequest, "invalid asset path", err.Error())
			case errors.As(err, &ue):
				WriteError(w, ue.StatusCode, "upstream firmware fetch failed")
			default:
				h.log.Error().Err(err).Str("version", body.Version).Msg("release cache failed")
				WriteError(w, http.StatusBadGateway, "release cache failed")
			}
			return
		}
		WriteJSON(w, http.StatusOK, nil)

	case "delete":
		var body struct {
			Path string `json:"path"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := h.cache.Delete(body.Path); err != nil {
			switch {
			case errors.Is(err, ota.ErrUnsafePath):
				h.log.Warn().Str("path", body.Path).Msg("unsafe release path rejected")
				WriteErrorDetail(w, http.StatusBadRequest, "invalid asset path", err.Error())
			case os.IsNotExist(err):
				WriteError(w, http.StatusNotFound, "release file not found")
			default:
				h.log.Error().Err(err).Str("path", body.Path).Msg("release delete failed")
				WriteError(w, http.StatusInternalServerError, "release delete failed")
			}
			return
		}
		WriteJSON(w, http.StatusOK, nil)

	default:
		WriteError(w, http.StatusBadRequest, "invalid release action")
	}
}
