package endpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// RestAuthType selects how REST requests authenticate.
type RestAuthType int

const (
	RestAuthNone RestAuthType = iota + 1
	RestAuthBasic
	RestAuthHeader
)

// ParseRestAuthType maps the stored config value (case-insensitive) to a
// RestAuthType.
func ParseRestAuthType(s string) (RestAuthType, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return RestAuthNone, nil
	case "BASIC":
		return RestAuthBasic, nil
	case "HEADER":
		return RestAuthHeader, nil
	default:
		return 0, &ConfigError{Reason: fmt.Sprintf("invalid REST auth type %q", s)}
	}
}

// RestConfig carries the credentials for a REST style endpoint. Only the
// fields matching AuthType are consulted.
type RestConfig struct {
	AuthType   RestAuthType
	AuthHeader string
	AuthUser   string
	AuthPass   string
}

// RestEndpoint POSTs the intent payload as JSON to a user-supplied URL and
// treats any 2xx response body as speech.
type RestEndpoint struct {
	url    string
	config RestConfig
	client *http.Client
	log    zerolog.Logger
}

func NewRestEndpoint(url string, config RestConfig, log zerolog.Logger) *RestEndpoint {
	if config.AuthType == 0 {
		config.AuthType = RestAuthNone
	}
	return &RestEndpoint{
		url:    url,
		config: config,
		client: newHTTPClient(connectTimeout, readTimeout),
		log:    log.With().Str("component", "endpoint").Str("endpoint", "REST").Logger(),
	}
}

func (e *RestEndpoint) Name() string { return "REST" }

func (e *RestEndpoint) Send(ctx context.Context, data map[string]any, _ Satellite) (*Result, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, &RuntimeError{Op: "encode payload", Err: err}
	}
	resp, err := e.post(ctx, e.url, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return textResult(resp)
}

// post applies the configured auth and issues the request. Shared with the
// variants that specialize the URL or payload.
func (e *RestEndpoint) post(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &RuntimeError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	switch e.config.AuthType {
	case RestAuthBasic:
		req.SetBasicAuth(e.config.AuthUser, e.config.AuthPass)
	case RestAuthHeader:
		req.Header.Set("Authorization", e.config.AuthHeader)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &RuntimeError{Op: "post", Err: err}
	}
	return resp, nil
}

func (e *RestEndpoint) Stop() {}

// textResult turns a REST response into a Result: 2xx carries its body as
// speech, anything else is the stock error reply.
func textResult(resp *http.Response) (*Result, error) {
	res := ErrorResult()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &RuntimeError{Op: "read response", Err: err}
		}
		res.OK = true
		res.Speech = sanitizeSpeech(string(b))
	}
	return res, nil
}
