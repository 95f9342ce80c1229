package endpoint

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	haReconnectDelay   = 1 * time.Second
	haHandshakeTimeout = 10 * time.Second
	haWriteWait        = 10 * time.Second
)

// haMessage is the envelope for everything Home Assistant sends over the
// WebSocket API. Only the fields for the message types we react to are
// declared.
type haMessage struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Event   *haEvent        `json:"event"`
}

type haEvent struct {
	Type string `json:"type"`
	Data struct {
		IntentOutput struct {
			Response haIntentResponse `json:"response"`
		} `json:"intent_output"`
	} `json:"data"`
}

type haIntentResponse struct {
	ResponseType string `json:"response_type"`
	Speech       map[string]struct {
		Speech string `json:"speech"`
	} `json:"speech"`
}

type haDevice struct {
	ID          string  `json:"id"`
	Identifiers [][]any `json:"identifiers"`
}

// pipelineRun asks Home Assistant to resolve an intent without running the
// speech stages; the satellite already did wake and recognition.
type pipelineRun struct {
	EndStage   string         `json:"end_stage"`
	ID         int64          `json:"id"`
	Input      map[string]any `json:"input"`
	StartStage string         `json:"start_stage"`
	Type       string         `json:"type"`
	DeviceID   string         `json:"device_id,omitempty"`
}

// HomeAssistantWebSocketEndpoint keeps a persistent connection to Home
// Assistant's WebSocket API and runs intents through assist pipelines.
// Results arrive asynchronously and are pushed to the originating satellite
// once the matching intent-end event comes back.
type HomeAssistantWebSocketEndpoint struct {
	url   string
	token string
	log   zerolog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	lastID   atomic.Int64

	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[int64]Satellite
	devices     map[string]string
	deviceReqID int64
}

func NewHomeAssistantWebSocketEndpoint(host string, port int, tls bool, token string, log zerolog.Logger) *HomeAssistantWebSocketEndpoint {
	e := &HomeAssistantWebSocketEndpoint{
		url:     BaseURL(host, port, tls, true) + "/api/websocket",
		token:   token,
		done:    make(chan struct{}),
		pending: make(map[int64]Satellite),
		devices: make(map[string]string),
		log:     log.With().Str("component", "endpoint").Str("endpoint", "Home Assistant WebSocket").Logger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)
	return e
}

func (e *HomeAssistantWebSocketEndpoint) Name() string { return "Home Assistant WebSocket" }

// run dials and reads until the connection drops, then retries after a fixed
// delay. Correlations cannot survive a reconnect, so the pending map is
// cleared each time the connection ends.
func (e *HomeAssistantWebSocketEndpoint) run(ctx context.Context) {
	defer close(e.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := e.session(ctx); err != nil && ctx.Err() == nil {
			e.log.Info().Err(err).Msg("connection ended, reconnecting")
		}

		e.mu.Lock()
		e.conn = nil
		dropped := len(e.pending)
		e.pending = make(map[int64]Satellite)
		e.mu.Unlock()
		if dropped > 0 {
			e.log.Warn().Int("dropped", dropped).Msg("pending intent correlations lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(haReconnectDelay):
		}
	}
}

func (e *HomeAssistantWebSocketEndpoint) session(ctx context.Context) error {
	// Compression off keeps frames readable in packet captures.
	dialer := websocket.Dialer{
		HandshakeTimeout:  haHandshakeTimeout,
		EnableCompression: false,
	}
	conn, resp, err := dialer.DialContext(ctx, e.url, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	e.log.Info().Str("url", e.url).Msg("connected to Home Assistant")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		e.handleMessage(raw)
	}
}

func (e *HomeAssistantWebSocketEndpoint) handleMessage(raw []byte) {
	var msg haMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.log.Debug().Err(err).Msg("unparseable frame")
		return
	}

	switch msg.Type {
	case "auth_required":
		if err := e.writeJSON(map[string]any{"type": "auth", "access_token": e.token}); err != nil {
			e.log.Error().Err(err).Msg("auth send failed")
		}
	case "auth_ok":
		id := e.nextID()
		e.mu.Lock()
		e.deviceReqID = id
		e.mu.Unlock()
		if err := e.writeJSON(map[string]any{"type": "config/device_registry/list", "id": id}); err != nil {
			e.log.Error().Err(err).Msg("device registry request failed")
		}
	case "auth_invalid":
		e.log.Error().Msg("Home Assistant rejected the access token")
	case "result":
		e.handleResult(&msg)
	case "event":
		e.handleEvent(&msg)
	}
}

// handleResult consumes the device registry listing and maps satellite MACs
// to Home Assistant device ids via the willow identifier pairs.
func (e *HomeAssistantWebSocketEndpoint) handleResult(msg *haMessage) {
	e.mu.Lock()
	want := e.deviceReqID
	e.mu.Unlock()
	if !msg.Success || msg.ID != want {
		return
	}

	var devices []haDevice
	if err := json.Unmarshal(msg.Result, &devices); err != nil {
		e.log.Warn().Err(err).Msg("device registry decode failed")
		return
	}

	mapped := make(map[string]string)
	for _, dev := range devices {
		for _, ident := range dev.Identifiers {
			if len(ident) != 2 {
				continue
			}
			domain, ok := ident[0].(string)
			if !ok || domain != "willow" {
				continue
			}
			if mac, ok := ident[1].(string); ok {
				mapped[mac] = dev.ID
			}
		}
	}

	e.mu.Lock()
	e.devices = mapped
	e.mu.Unlock()
	e.log.Debug().Int("devices", len(mapped)).Msg("device registry mapped")
}

// handleEvent resolves an intent-end event to the satellite that asked.
func (e *HomeAssistantWebSocketEndpoint) handleEvent(msg *haMessage) {
	if msg.Event == nil || msg.Event.Type != "intent-end" {
		return
	}

	e.mu.Lock()
	sat, ok := e.pending[msg.ID]
	if ok {
		delete(e.pending, msg.ID)
	}
	e.mu.Unlock()
	if !ok {
		e.log.Warn().Int64("id", msg.ID).Msg("intent result without a waiting session")
		return
	}

	response := msg.Event.Data.IntentOutput.Response
	res := Result{OK: response.ResponseType == "action_done"}
	// Not all intents return speech.
	if plain, found := response.Speech["plain"]; found {
		res.Speech = sanitizeSpeech(plain.Speech)
	}

	payload, err := json.Marshal(Response{Result: res})
	if err != nil {
		e.log.Error().Err(err).Msg("result encode failed")
		return
	}
	if err := sat.SendText(payload); err != nil {
		e.log.Warn().Err(err).Str("mac", sat.MAC()).Msg("result delivery failed")
	}
}

// Send posts an assist pipeline run and records the correlation; the reply
// reaches the satellite from handleEvent.
func (e *HomeAssistantWebSocketEndpoint) Send(_ context.Context, data map[string]any, sat Satellite) (*Result, error) {
	input := make(map[string]any, len(data))
	for k, v := range data {
		if k == "language" {
			continue
		}
		input[k] = v
	}

	id := e.nextID()
	frame := pipelineRun{
		EndStage:   "intent",
		ID:         id,
		Input:      input,
		StartStage: "intent",
		Type:       "assist_pipeline/run",
	}
	if devID, found := e.deviceFor(sat.MAC()); found {
		frame.DeviceID = devID
		e.log.Info().Str("mac", sat.MAC()).Str("device_id", devID).Msg("Home Assistant has a device for this satellite")
	}

	e.mu.Lock()
	if e.conn == nil {
		e.mu.Unlock()
		return nil, &RuntimeError{Op: "Home Assistant WebSocket not connected"}
	}
	e.pending[id] = sat
	e.mu.Unlock()

	if err := e.writeJSON(frame); err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, &RuntimeError{Op: "send pipeline run", Err: err}
	}
	return nil, nil
}

func (e *HomeAssistantWebSocketEndpoint) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return &RuntimeError{Op: "Home Assistant WebSocket not connected"}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(haWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// haStart anchors correlation ids to process start. Process-relative
// nanoseconds stay small enough to survive JSON decoders that read numbers
// as float64.
var haStart = time.Now()

// nextID hands out strictly increasing correlation ids.
func (e *HomeAssistantWebSocketEndpoint) nextID() int64 {
	for {
		last := e.lastID.Load()
		id := time.Since(haStart).Nanoseconds()
		if id <= last {
			id = last + 1
		}
		if e.lastID.CompareAndSwap(last, id) {
			return id
		}
	}
}

// deviceFor looks up the Home Assistant device id registered for a
// satellite MAC.
func (e *HomeAssistantWebSocketEndpoint) deviceFor(mac string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.devices[mac]
	return id, ok
}

// PendingCount reports in-flight intent correlations.
func (e *HomeAssistantWebSocketEndpoint) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *HomeAssistantWebSocketEndpoint) Stop() {
	e.stopOnce.Do(func() {
		e.log.Info().Msg("stopping Home Assistant WebSocket endpoint")
		e.cancel()
		<-e.done
	})
}
