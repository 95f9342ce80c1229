package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/endpoint"
	"github.com/roost-io/roost/internal/metrics"
	"github.com/roost-io/roost/internal/notify"
	"github.com/roost-io/roost/internal/satellite"
	"github.com/roost-io/roost/internal/store"
	"github.com/roost-io/roost/internal/wake"
)

// DeviceSocket upgrades satellite connections and routes their frames. One
// goroutine per device runs the read loop; writes go through the session's
// write pump.
type DeviceSocket struct {
	store     *store.Store
	devices   *satellite.Manager
	wake      *wake.Arbiter
	notify    *notify.Queue
	endpoints *endpoint.Manager
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

type DeviceSocketOptions struct {
	Store     *store.Store
	Devices   *satellite.Manager
	Wake      *wake.Arbiter
	Notify    *notify.Queue
	Endpoints *endpoint.Manager
	Log       zerolog.Logger
}

func NewDeviceSocket(opts DeviceSocketOptions) *DeviceSocket {
	return &DeviceSocket{
		store:     opts.Store,
		devices:   opts.Devices,
		wake:      opts.Wake,
		notify:    opts.Notify,
		endpoints: opts.Endpoints,
		log:       opts.Log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			// Satellites are firmware clients on the LAN, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *DeviceSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	sess := h.devices.Accept(conn, r.Header.Get("User-Agent"))
	defer h.devices.Disconnect(sess)

	for {
		data, err := sess.NextMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn().Err(err).Str("hostname", sess.Hostname()).Msg("device connection lost")
			}
			return
		}
		if bye := h.dispatch(r.Context(), sess, data); bye {
			return
		}
	}
}

// dispatch routes one frame by its first recognized key. Wake frames go
// first: arbitration is latency sensitive. The return value reports a
// goodbye frame.
func (h *DeviceSocket) dispatch(ctx context.Context, sess *satellite.Session, data []byte) bool {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Warn().Err(err).Str("hostname", sess.Hostname()).Msg("malformed device frame")
		return false
	}

	switch {
	case msg["wake_start"] != nil:
		metrics.DeviceMessagesTotal.WithLabelValues("wake_start").Inc()
		var start struct {
			WakeVolume *float64 `json:"wake_volume"`
		}
		if err := json.Unmarshal(msg["wake_start"], &start); err == nil && start.WakeVolume != nil {
			h.wake.Feed(sess, *start.WakeVolume)
		} else {
			h.wake.Open()
		}

	case msg["wake_end"] != nil:
		// Received but carries nothing the server acts on.
		metrics.DeviceMessagesTotal.WithLabelValues("wake_end").Inc()

	case msg["notify_done"] != nil:
		metrics.DeviceMessagesTotal.WithLabelValues("notify_done").Inc()
		var id int64
		if err := json.Unmarshal(msg["notify_done"], &id); err != nil {
			h.log.Warn().Err(err).Str("hostname", sess.Hostname()).Msg("bad notify_done id")
			return false
		}
		h.notify.Done(sess, id)

	case msg["cmd"] != nil:
		metrics.DeviceMessagesTotal.WithLabelValues("cmd").Inc()
		h.handleCmd(ctx, sess, msg)

	case msg["goodbye"] != nil:
		metrics.DeviceMessagesTotal.WithLabelValues("goodbye").Inc()
		return true

	case msg["hello"] != nil:
		metrics.DeviceMessagesTotal.WithLabelValues("hello").Inc()
		h.handleHello(sess, msg["hello"])

	default:
		h.log.Debug().RawJSON("frame", data).Msg("unhandled device frame")
	}
	return false
}

func (h *DeviceSocket) handleCmd(ctx context.Context, sess *satellite.Session, msg map[string]json.RawMessage) {
	var cmd string
	if err := json.Unmarshal(msg["cmd"], &cmd); err != nil {
		h.log.Warn().Err(err).Str("hostname", sess.Hostname()).Msg("bad cmd frame")
		return
	}

	switch cmd {
	case "endpoint":
		var data map[string]any
		if err := json.Unmarshal(msg["data"], &data); err != nil {
			h.log.Warn().Err(err).Str("hostname", sess.Hostname()).Msg("bad endpoint data")
			h.sendResult(sess, endpoint.ErrorResult())
			return
		}
		h.forwardIntent(ctx, sess, data)

	case "get_config":
		raw, err := json.Marshal(map[string]*store.Config{"config": h.store.ReadConfig()})
		if err != nil {
			h.log.Error().Err(err).Msg("config marshal failed")
			return
		}
		if err := sess.SendText(raw); err != nil {
			h.log.Warn().Err(err).Str("hostname", sess.Hostname()).Msg("config send failed")
		}

	default:
		h.log.Debug().Str("cmd", cmd).Str("hostname", sess.Hostname()).Msg("unknown device command")
	}
}

// forwardIntent hands a recognized utterance to the command endpoint. A nil
// result with nil error means the endpoint answers asynchronously through
// the session; anything else is answered here, errors as the stock failure
// result so the device always gets closure.
func (h *DeviceSocket) forwardIntent(ctx context.Context, sess *satellite.Session, data map[string]any) {
	ep := h.endpoints.Current()
	if ep == nil {
		h.log.Warn().Str("hostname", sess.Hostname()).Msg("no command endpoint configured")
		h.sendResult(sess, endpoint.ErrorResult())
		return
	}

	metrics.EndpointSendsTotal.WithLabelValues(ep.Name()).Inc()
	result, err := ep.Send(ctx, data, sess)
	if err != nil {
		metrics.EndpointErrorsTotal.WithLabelValues(ep.Name()).Inc()
		h.log.Error().Err(err).Str("endpoint", ep.Name()).Str("hostname", sess.Hostname()).Msg("endpoint send failed")
		h.sendResult(sess, endpoint.ErrorResult())
		return
	}
	if result != nil {
		h.sendResult(sess, result)
	}
}

func (h *DeviceSocket) sendResult(sess *satellite.Session, result *endpoint.Result) {
	raw, err := json.Marshal(endpoint.Response{Result: *result})
	if err != nil {
		return
	}
	if err := sess.SendText(raw); err != nil {
		h.log.Warn().Err(err).Str("hostname", sess.Hostname()).Msg("result send failed")
	}
}

func (h *DeviceSocket) handleHello(sess *satellite.Session, raw json.RawMessage) {
	var hello satellite.Hello
	if err := json.Unmarshal(raw, &hello); err != nil {
		h.log.Warn().Err(err).Msg("bad hello frame")
		return
	}

	if hello.Hostname != "" {
		sess.SetHostname(hello.Hostname)
	}
	if hello.HWType != "" {
		sess.SetPlatform(strings.ToUpper(hello.HWType))
	}
	if mac := hello.MACAddr.String(); mac != "" {
		sess.SetMAC(mac)
	}
	h.log.Info().
		Str("hostname", sess.Hostname()).
		Str("platform", sess.Platform()).
		Str("mac", sess.MAC()).
		Msg("device identified")
}
