package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/notify"
	"github.com/roost-io/roost/internal/satellite"
	"github.com/roost-io/roost/internal/store"
	"github.com/roost-io/roost/internal/upstream"
)

// ClientHandler answers the admin UI's device list and forwards device
// actions (restart, update, identify, notify, label changes).
type ClientHandler struct {
	devices  *satellite.Manager
	store    *store.Store
	queue    *notify.Queue
	upstream *upstream.Client
	log      zerolog.Logger
}

func NewClientHandler(devices *satellite.Manager, st *store.Store, queue *notify.Queue, up *upstream.Client, log zerolog.Logger) *ClientHandler {
	return &ClientHandler{
		devices:  devices,
		store:    st,
		queue:    queue,
		upstream: up,
		log:      log.With().Str("component", "api").Logger(),
	}
}

// clientView is one row of the admin device list: live session state joined
// with the stored label.
type clientView struct {
	Hostname string  `json:"hostname"`
	Platform string  `json:"platform"`
	MAC      string  `json:"mac_addr"`
	IP       string  `json:"ip"`
	Port     int     `json:"port"`
	Version  string  `json:"version"`
	Label    *string `json:"label"`
}

// ListClients returns connected devices, one row per MAC. A device that
// reconnects can appear twice in the session table briefly; the first
// session wins.
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	labels := make(map[string]string)
	for _, cl := range h.store.ListClientLabels() {
		labels[cl.MAC] = cl.Label
	}

	clients := []clientView{}
	seen := make(map[string]bool)
	for _, sess := range h.devices.Sessions() {
		mac := sess.MAC()
		if seen[mac] {
			continue
		}
		seen[mac] = true

		ip, portStr, _ := net.SplitHostPort(sess.RemoteAddr())
		port, _ := strconv.Atoi(portStr)

		view := clientView{
			Hostname: sess.Hostname(),
			Platform: sess.Platform(),
			MAC:      mac,
			IP:       ip,
			Port:     port,
			Version:  sess.Version(),
		}
		if label, ok := labels[mac]; ok && label != "" {
			view.Label = &label
		}
		clients = append(clients, view)
	}

	// Sorting by label only makes sense when every device has one; mixed
	// sets fall back to hostname.
	allLabeled := len(clients) > 0
	for i := range clients {
		if clients[i].Label == nil {
			allLabeled = false
			break
		}
	}
	sort.SliceStable(clients, func(i, j int) bool {
		if allLabeled {
			return *clients[i].Label < *clients[j].Label
		}
		return clients[i].Hostname < clients[j].Hostname
	})

	WriteJSON(w, http.StatusOK, clients)
}

// PostClient performs one device action named by the action query parameter.
func (h *ClientHandler) PostClient(w http.ResponseWriter, r *http.Request) {
	action, _ := QueryString(r, "action")

	switch action {
	case "restart", "identify":
		var body struct {
			Hostname string `json:"hostname"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		h.sendCommand(body.Hostname, map[string]string{"cmd": action})
		WriteJSON(w, http.StatusOK, nil)

	case "update":
		var body struct {
			Hostname string `json:"hostname"`
			OTAURL   string `json:"ota_url"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		h.sendCommand(body.Hostname, map[string]string{"cmd": "ota_start", "ota_url": body.OTAURL})
		WriteJSON(w, http.StatusOK, nil)

	case "config":
		var body struct {
			MAC   string `json:"mac_addr"`
			Label string `json:"label"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := h.store.UpsertClientLabel(body.MAC, body.Label); err != nil {
			var verr *store.ValidationError
			if errors.As(err, &verr) {
				WriteError(w, http.StatusBadRequest, verr.Error())
				return
			}
			WriteError(w, http.StatusInternalServerError, "label write failed")
			return
		}
		WriteJSON(w, http.StatusOK, nil)

	case "notify":
		msg, err := notify.DecodeMsg(r.Body)
		if err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid notification", err.Error())
			return
		}
		// Hosted speech synthesis is warmed before delivery so the device
		// does not time out fetching the audio.
		if msg.Data.AudioURL != nil {
			h.upstream.WarmTTS(r.Context(), *msg.Data.AudioURL)
		}
		if err := h.queue.Add(msg); err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid notification", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, nil)

	default:
		WriteError(w, http.StatusBadRequest, "invalid client action")
	}
}

// sendCommand forwards a command frame to one device by hostname. Unknown
// hostnames and send failures are logged; device commands are
// fire-and-forget from the admin's point of view.
func (h *ClientHandler) sendCommand(hostname string, cmd map[string]string) {
	sess := h.devices.ByHostname(hostname)
	if sess == nil {
		h.log.Error().Str("hostname", hostname).Msg("device not connected")
		return
	}
	msg, err := json.Marshal(cmd)
	if err != nil {
		h.log.Error().Err(err).Msg("command marshal failed")
		return
	}
	if err := sess.SendText(msg); err != nil {
		h.log.Error().Err(err).Str("hostname", hostname).Msg("command send failed")
	}
}
