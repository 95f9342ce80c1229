// Package endpoint forwards recognized voice commands to the configured
// command endpoint (Home Assistant, openHAB, generic REST, or MQTT) and
// normalizes whatever comes back into the result frame satellites expect.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode"
)

const (
	connectTimeout = 1 * time.Second
	readTimeout    = 30 * time.Second
)

// Result is the normalized outcome of a command: whether the endpoint
// completed the action and what the satellite should speak or display.
type Result struct {
	OK     bool   `json:"ok"`
	Speech string `json:"speech"`
}

// Response is the wire envelope sent back to the satellite.
type Response struct {
	Result Result `json:"result"`
}

// ErrorResult is what a satellite receives when a command cannot be
// completed for any reason.
func ErrorResult() *Result {
	return &Result{OK: false, Speech: "Error!"}
}

// Satellite is the slice of a device session an endpoint needs: identity for
// device correlation and a way to push an asynchronous result back.
type Satellite interface {
	MAC() string
	SendText(msg []byte) error
}

// Endpoint is one configured command destination. Send forwards the
// satellite's intent payload. A nil Result with nil error means the result
// arrives asynchronously (or not at all) and the caller should not reply.
// Stop releases any background task; it must be safe to call more than once.
type Endpoint interface {
	Name() string
	Send(ctx context.Context, data map[string]any, sat Satellite) (*Result, error)
	Stop()
}

// ConfigError reports endpoint settings that can never work, detected at
// construction time.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "command endpoint config: " + e.Reason
}

// RuntimeError reports a transient failure while contacting the endpoint.
type RuntimeError struct {
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("command endpoint: %s", e.Op)
	}
	return fmt.Sprintf("command endpoint: %s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// sanitizeSpeech collapses newlines and carriage returns to spaces and strips
// leading whitespace so the satellite display renders a single clean line.
func sanitizeSpeech(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

// newHTTPClient separates the connect timeout from the overall request
// timeout the way satellites expect: fail fast on unreachable hosts, allow
// slow responses.
func newHTTPClient(connect, read time.Duration) *http.Client {
	return &http.Client{
		Timeout: read,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connect}).DialContext,
			TLSHandshakeTimeout: read,
		},
	}
}

// BaseURL renders scheme://host:port for a Home Assistant style service,
// choosing between HTTP and WebSocket schemes.
func BaseURL(host string, port int, tls, ws bool) string {
	scheme := "http"
	if ws {
		scheme = "ws"
	}
	if tls {
		scheme += "s"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}
