package endpoint

import (
	"encoding/json"
	"net/url"
	"strconv"
	"testing"
	"time"
)

// fakeSat captures frames an endpoint pushes back to a satellite.
type fakeSat struct {
	mac string
	ch  chan []byte
}

func newFakeSat(mac string) *fakeSat {
	return &fakeSat{mac: mac, ch: make(chan []byte, 8)}
}

func (s *fakeSat) MAC() string { return s.mac }

func (s *fakeSat) SendText(msg []byte) error {
	s.ch <- msg
	return nil
}

func (s *fakeSat) recv(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-s.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for satellite frame")
		return nil
	}
}

// hostPort splits an httptest server URL into the host/port form endpoint
// constructors take.
func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %s: %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("port of %s: %v", rawURL, err)
	}
	return u.Hostname(), port
}

func TestSanitizeSpeech(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean", in: "All lights are on", want: "All lights are on"},
		{name: "newlines", in: "line one\nline two", want: "line one line two"},
		{name: "crlf", in: "line one\r\nline two", want: "line one  line two"},
		{name: "leading_whitespace", in: "  \t answer", want: "answer"},
		{name: "leading_newline", in: "\nanswer", want: "answer"},
		{name: "trailing_kept", in: "answer ", want: "answer "},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeSpeech(tt.in); got != tt.want {
				t.Errorf("sanitizeSpeech(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		tls  bool
		ws   bool
		want string
	}{
		{name: "http", host: "hass.local", port: 8123, tls: false, ws: false, want: "http://hass.local:8123"},
		{name: "https", host: "hass.local", port: 443, tls: true, ws: false, want: "https://hass.local:443"},
		{name: "ws", host: "10.0.0.2", port: 8123, tls: false, ws: true, want: "ws://10.0.0.2:8123"},
		{name: "wss", host: "hass.example.com", port: 8123, tls: true, ws: true, want: "wss://hass.example.com:8123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BaseURL(tt.host, tt.port, tt.tls, tt.ws); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResultWireShape(t *testing.T) {
	payload, err := json.Marshal(Response{Result: *ErrorResult()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"result":{"ok":false,"speech":"Error!"}}`
	if string(payload) != want {
		t.Errorf("error response = %s, want %s", payload, want)
	}
}
