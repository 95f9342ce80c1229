package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/ota"
)

// AssetHandler serves user-provided media (chime sounds, display images)
// from the asset directory.
type AssetHandler struct {
	dir string
	log zerolog.Logger
}

func NewAssetHandler(dir string, log zerolog.Logger) *AssetHandler {
	return &AssetHandler{dir: dir, log: log.With().Str("component", "api").Logger()}
}

// GetAsset streams one asset file. Audio is restricted to the formats
// satellite firmware can decode.
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	name, ok := QueryString(r, "asset")
	if !ok {
		WriteError(w, http.StatusBadRequest, "asset name required")
		return
	}
	assetType, ok := QueryString(r, "type")
	if !ok {
		WriteError(w, http.StatusBadRequest, "asset type required")
		return
	}
	switch assetType {
	case "audio", "image", "other":
	default:
		WriteError(w, http.StatusBadRequest, "invalid asset type")
		return
	}

	path, err := ota.SecurePath(h.dir, assetType, name)
	if err != nil {
		if errors.Is(err, ota.ErrUnsafePath) {
			h.log.Warn().Str("asset", name).Str("type", assetType).Msg("unsafe asset path rejected")
			WriteErrorDetail(w, http.StatusBadRequest, "invalid asset path", err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "asset path resolution failed")
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		WriteError(w, http.StatusNotFound, "Asset File Not Found")
		return
	}

	// Sniff the real content type; file extensions are not trusted.
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "asset type detection failed")
		return
	}

	if assetType == "audio" && !mime.Is("audio/flac") && !mime.Is("audio/x-wav") {
		WriteError(w, http.StatusBadRequest, "unsupported Audio Asset file format")
		return
	}

	w.Header().Set("Content-Type", mime.String())
	http.ServeFile(w, r, path)
}
