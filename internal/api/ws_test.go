package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/endpoint"
	"github.com/roost-io/roost/internal/notify"
	"github.com/roost-io/roost/internal/satellite"
	"github.com/roost-io/roost/internal/store"
	"github.com/roost-io/roost/internal/wake"
)

type socketEnv struct {
	srv     *httptest.Server
	store   *store.Store
	devices *satellite.Manager
	queue   *notify.Queue
}

func newSocketEnv(t *testing.T) *socketEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "roost.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	devices := satellite.NewManager(zerolog.Nop())
	arb := wake.NewArbiter(wake.Options{Window: 100 * time.Millisecond, Log: zerolog.Nop()})
	t.Cleanup(arb.Stop)
	queue := notify.NewQueue(notify.Options{Manager: devices, Log: zerolog.Nop()})

	ws := NewDeviceSocket(DeviceSocketOptions{
		Store:     st,
		Devices:   devices,
		Wake:      arb,
		Notify:    queue,
		Endpoints: endpoint.NewManager(zerolog.Nop()),
		Log:       zerolog.Nop(),
	})

	srv := httptest.NewServer(ws)
	t.Cleanup(srv.Close)

	return &socketEnv{srv: srv, store: st, devices: devices, queue: queue}
}

func (e *socketEnv) dial(t *testing.T, ua string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http")
	hdr := http.Header{}
	if ua != "" {
		hdr.Set("User-Agent", ua)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("frame is not a JSON object: %v (%s)", err, data)
	}
	return msg
}

// waitFor polls cond until it holds or the deadline passes. Device frames
// are handled on the server's read goroutine, so state changes are async.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDeviceSocketIdentify(t *testing.T) {
	env := newSocketEnv(t)

	t.Run("octet_mac", func(t *testing.T) {
		conn := env.dial(t, "Willow/2.1.0")
		sendFrame(t, conn, `{"hello":{"hostname":"kitchen","hw_type":"esp32-s3-box-3","mac_addr":[188,221,194,1,2,3]}}`)

		waitFor(t, func() bool { return env.devices.ByHostname("kitchen") != nil })

		sess := env.devices.ByHostname("kitchen")
		if got := sess.MAC(); got != "bc:dd:c2:01:02:03" {
			t.Errorf("MAC = %q, want bc:dd:c2:01:02:03", got)
		}
		if got := sess.Platform(); got != "ESP32-S3-BOX-3" {
			t.Errorf("Platform = %q, want ESP32-S3-BOX-3", got)
		}
		if got := sess.Version(); got != "2.1.0" {
			t.Errorf("Version = %q, want 2.1.0", got)
		}
	})

	t.Run("string_mac", func(t *testing.T) {
		conn := env.dial(t, "")
		sendFrame(t, conn, `{"hello":{"hostname":"porch","hw_type":"esp32","mac_addr":"aa:bb:cc:dd:ee:ff"}}`)

		waitFor(t, func() bool { return env.devices.ByMAC("aa:bb:cc:dd:ee:ff") != nil })

		if env.devices.ByHostname("porch") == nil {
			t.Error("hostname not applied")
		}
	})
}

func TestDeviceSocketGetConfig(t *testing.T) {
	env := newSocketEnv(t)
	if err := env.store.WriteConfig(map[string]json.RawMessage{
		"speaker_volume": json.RawMessage(`60`),
	}); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	conn := env.dial(t, "")
	sendFrame(t, conn, `{"cmd":"get_config"}`)

	msg := readFrame(t, conn)
	if msg["config"] == nil {
		t.Fatalf("expected config container, got %v", msg)
	}
	var cfg store.Config
	if err := json.Unmarshal(msg["config"], &cfg); err != nil {
		t.Fatalf("config payload: %v", err)
	}
	if cfg.SpeakerVolume == nil || *cfg.SpeakerVolume != 60 {
		t.Errorf("speaker_volume not delivered: %+v", cfg)
	}
}

func TestDeviceSocketEndpointUnconfigured(t *testing.T) {
	env := newSocketEnv(t)
	conn := env.dial(t, "")

	sendFrame(t, conn, `{"cmd":"endpoint","data":{"text":"turn on the kitchen lights"}}`)

	msg := readFrame(t, conn)
	if msg["result"] == nil {
		t.Fatalf("expected result frame, got %v", msg)
	}
	var result endpoint.Result
	if err := json.Unmarshal(msg["result"], &result); err != nil {
		t.Fatalf("result payload: %v", err)
	}
	if result.OK || result.Speech != "Error!" {
		t.Errorf("expected stock failure result, got %+v", result)
	}
}

func TestDeviceSocketWakeArbitration(t *testing.T) {
	env := newSocketEnv(t)
	quiet := env.dial(t, "")
	loud := env.dial(t, "")

	sendFrame(t, quiet, `{"wake_start":{"wake_volume":-42.5}}`)
	sendFrame(t, loud, `{"wake_start":{"wake_volume":-17.0}}`)

	decode := func(msg map[string]json.RawMessage) bool {
		t.Helper()
		if msg["wake_result"] == nil {
			t.Fatalf("expected wake_result frame, got %v", msg)
		}
		var res struct {
			Won bool `json:"won"`
		}
		if err := json.Unmarshal(msg["wake_result"], &res); err != nil {
			t.Fatalf("wake_result payload: %v", err)
		}
		return res.Won
	}

	if won := decode(readFrame(t, loud)); !won {
		t.Error("loudest detection should win the wake window")
	}
	if won := decode(readFrame(t, quiet)); won {
		t.Error("quieter detection should lose the wake window")
	}
}

func TestDeviceSocketGoodbye(t *testing.T) {
	env := newSocketEnv(t)
	conn := env.dial(t, "")

	waitFor(t, func() bool { return env.devices.Count() == 1 })
	sendFrame(t, conn, `{"goodbye":true}`)
	waitFor(t, func() bool { return env.devices.Count() == 0 })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed after goodbye")
	}
}

func TestDeviceSocketSurvivesBadFrames(t *testing.T) {
	env := newSocketEnv(t)
	conn := env.dial(t, "")

	sendFrame(t, conn, `this is not json`)
	sendFrame(t, conn, `{"unknown_key":1}`)
	sendFrame(t, conn, `{"notify_done":"not a number"}`)
	sendFrame(t, conn, `{"notify_done":123}`)
	sendFrame(t, conn, `{"wake_end":{}}`)

	// The session must still be serviceable after the junk.
	sendFrame(t, conn, `{"cmd":"get_config"}`)
	msg := readFrame(t, conn)
	if msg["config"] == nil {
		t.Fatalf("expected config container, got %v", msg)
	}
	if env.devices.Count() != 1 {
		t.Errorf("session count = %d, want 1", env.devices.Count())
	}
}
