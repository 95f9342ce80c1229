package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/endpoint"
	"github.com/roost-io/roost/internal/satellite"
	"github.com/roost-io/roost/internal/store"
	"github.com/roost-io/roost/internal/upstream"
)

// ConfigHandler serves the stored satellite settings records and applies
// admin updates to connected devices.
type ConfigHandler struct {
	store     *store.Store
	devices   *satellite.Manager
	endpoints *endpoint.Manager
	upstream  *upstream.Client
	log       zerolog.Logger
}

func NewConfigHandler(st *store.Store, devices *satellite.Manager, endpoints *endpoint.Manager, up *upstream.Client, log zerolog.Logger) *ConfigHandler {
	return &ConfigHandler{
		store:     st,
		devices:   devices,
		endpoints: endpoints,
		upstream:  up,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// GetConfig returns one settings record, or its hosted default when
// default=true is passed.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	configType, ok := QueryString(r, "type")
	if !ok {
		WriteError(w, http.StatusBadRequest, "config type required")
		return
	}
	useDefault := QueryBool(r, "default")

	// The timezone table lives in a disk cache; default=true forces an
	// upstream refresh before reading it.
	if configType == "tz" {
		tz, err := h.upstream.TZ(r.Context(), useDefault)
		if err != nil {
			WriteError(w, http.StatusBadGateway, "timezone fetch failed")
			return
		}
		WriteJSON(w, http.StatusOK, tz)
		return
	}

	switch configType {
	case "config", "nvs", "ha_url", "ha_token", "multinet", "was":
	default:
		WriteError(w, http.StatusBadRequest, "invalid config type")
		return
	}

	if useDefault {
		defaults, err := h.upstream.DefaultConfig(r.Context(), configType)
		if err != nil {
			if errors.Is(err, upstream.ErrNotObject) {
				WriteError(w, http.StatusBadRequest, "Invalid default config")
				return
			}
			WriteError(w, http.StatusBadGateway, "default config fetch failed")
			return
		}
		WriteJSON(w, http.StatusOK, defaults)
		return
	}

	switch configType {
	case "config":
		cfg := h.store.ReadConfig()
		// The stored v2 URL carries the bare text parameter; admin clients
		// expect the v1 form without it.
		if cfg.WISTTSURLV2 != nil {
			v1 := StripTTSText(*cfg.WISTTSURLV2)
			cfg.WISTTSURL = &v1
			cfg.WISTTSURLV2 = nil
		}
		WriteJSON(w, http.StatusOK, cfg)

	case "nvs":
		WriteJSON(w, http.StatusOK, h.store.ReadNVS())

	case "ha_token":
		cfg := h.store.ReadConfig()
		if cfg.HassToken == nil {
			WriteError(w, http.StatusNotFound, "Home Assistant token not set")
			return
		}
		WritePlainText(w, http.StatusOK, *cfg.HassToken)

	case "ha_url":
		cfg := h.store.ReadConfig()
		if cfg.HassHost == nil {
			WriteError(w, http.StatusNotFound, "Home Assistant host not set")
			return
		}
		port := 8123
		if cfg.HassPort != nil {
			port = *cfg.HassPort
		}
		tls := cfg.HassTLS != nil && *cfg.HassTLS
		WritePlainText(w, http.StatusOK, endpoint.BaseURL(*cfg.HassHost, port, tls, false))

	case "multinet", "was":
		blob := h.store.ReadBlob(configType)
		if blob == nil {
			blob = json.RawMessage("{}")
		}
		WriteJSON(w, http.StatusOK, blob)
	}
}

// PostConfig persists one settings record. apply=true pushes the update to
// every connected device; a body containing only a hostname resends the
// stored record to that device instead.
func (h *ConfigHandler) PostConfig(w http.ResponseWriter, r *http.Request) {
	configType, _ := QueryString(r, "type")
	apply := QueryBool(r, "apply")

	switch configType {
	case "config":
		h.postSatelliteConfig(w, r, apply)
	case "nvs":
		h.postNVS(w, r, apply)
	case "was":
		h.postWasBlob(w, r)
	default:
		WriteError(w, http.StatusBadRequest, "invalid config type")
	}
}

func (h *ConfigHandler) postSatelliteConfig(w http.ResponseWriter, r *http.Request, apply bool) {
	var data map[string]json.RawMessage
	if err := DecodeJSON(r, &data); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if raw, ok := data["hostname"]; ok {
		h.resend(raw, "config", h.store.ReadConfig())
		h.endpoints.Reload(h.store.ReadConfig())
		WriteJSON(w, http.StatusOK, nil)
		return
	}

	// Devices consume the v2 TTS URL; the admin UI submits the v1 form.
	if raw, ok := data["wis_tts_url"]; ok {
		var v1 string
		if err := json.Unmarshal(raw, &v1); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid wis_tts_url")
			return
		}
		v2, err := ConstructTTSURL(v1)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid wis_tts_url")
			return
		}
		v2raw, _ := json.Marshal(v2)
		data["wis_tts_url_v2"] = v2raw
		delete(data, "wis_tts_url")
	}

	if err := h.store.WriteConfig(data); err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			WriteError(w, http.StatusBadRequest, verr.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "config write failed")
		return
	}

	if apply {
		h.broadcast("config", data)
	}
	h.endpoints.Reload(h.store.ReadConfig())
	WriteJSON(w, http.StatusOK, nil)
}

func (h *ConfigHandler) postNVS(w http.ResponseWriter, r *http.Request, apply bool) {
	var data map[string]json.RawMessage
	if err := DecodeJSON(r, &data); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if raw, ok := data["hostname"]; ok {
		h.resend(raw, "nvs", h.store.ReadNVS())
		WriteJSON(w, http.StatusOK, nil)
		return
	}

	buf, _ := json.Marshal(data)
	var nvs store.NVS
	if err := json.Unmarshal(buf, &nvs); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid NVS record")
		return
	}

	if err := h.store.WriteNVS(&nvs); err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			WriteError(w, http.StatusBadRequest, verr.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "nvs write failed")
		return
	}

	if apply {
		h.broadcast("nvs", data)
	}
	WriteJSON(w, http.StatusOK, nil)
}

// postWasBlob stores the client tooling's record verbatim. It is never
// pushed to devices, so apply is ignored.
func (h *ConfigHandler) postWasBlob(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.store.WriteBlob(store.BlobWas, raw); err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			WriteError(w, http.StatusBadRequest, verr.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "blob write failed")
		return
	}
	WriteJSON(w, http.StatusOK, nil)
}

// resend pushes the stored record to a single device, framed exactly as an
// apply broadcast would frame it. Delivery problems are logged, not surfaced:
// the admin UI treats the post as fire-and-forget.
func (h *ConfigHandler) resend(rawHostname json.RawMessage, container string, record any) {
	var hostname string
	if err := json.Unmarshal(rawHostname, &hostname); err != nil {
		h.log.Error().Err(err).Str("record", container).Msg("bad hostname in config post")
		return
	}

	sess := h.devices.ByHostname(hostname)
	if sess == nil {
		h.log.Error().Str("hostname", hostname).Str("record", container).Msg("device not connected")
		return
	}

	msg, err := json.Marshal(map[string]any{container: record})
	if err != nil {
		h.log.Error().Err(err).Str("record", container).Msg("config message marshal failed")
		return
	}
	if err := sess.SendText(msg); err != nil {
		h.log.Error().Err(err).Str("hostname", hostname).Str("record", container).Msg("config resend failed")
	}
}

func (h *ConfigHandler) broadcast(container string, data map[string]json.RawMessage) {
	msg, err := json.Marshal(map[string]map[string]json.RawMessage{container: data})
	if err != nil {
		h.log.Error().Err(err).Str("record", container).Msg("config message marshal failed")
		return
	}
	h.devices.Broadcast(msg)
}
