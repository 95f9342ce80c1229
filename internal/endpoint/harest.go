package endpoint

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// HomeAssistantRestEndpoint drives Home Assistant's conversation API. It is
// the fallback when the instance does not support assist pipelines.
type HomeAssistantRestEndpoint struct {
	rest *RestEndpoint
	log  zerolog.Logger
}

func NewHomeAssistantRestEndpoint(host string, port int, tls bool, token string, log zerolog.Logger) *HomeAssistantRestEndpoint {
	url := BaseURL(host, port, tls, false) + "/api/conversation/process"
	return &HomeAssistantRestEndpoint{
		rest: NewRestEndpoint(url, RestConfig{
			AuthType:   RestAuthHeader,
			AuthHeader: "Bearer " + token,
		}, log),
		log: log.With().Str("component", "endpoint").Str("endpoint", "Home Assistant REST").Logger(),
	}
}

func (e *HomeAssistantRestEndpoint) Name() string { return "Home Assistant REST" }

func (e *HomeAssistantRestEndpoint) Send(ctx context.Context, data map[string]any, _ Satellite) (*Result, error) {
	out := map[string]any{"text": data["text"]}
	if lang, ok := data["language"]; ok {
		out["language"] = lang
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, &RuntimeError{Op: "encode payload", Err: err}
	}
	resp, err := e.rest.post(ctx, e.rest.url, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return e.parseResponse(resp)
}

// parseResponse extracts the plain speech from a conversation result. Not
// every intent produces speech, so an absent plain block is empty speech,
// not an error.
func (e *HomeAssistantRestEndpoint) parseResponse(resp *http.Response) (*Result, error) {
	res := ErrorResult()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, nil
	}

	var body struct {
		Response struct {
			Speech map[string]struct {
				Speech string `json:"speech"`
			} `json:"speech"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &RuntimeError{Op: "decode response", Err: err}
	}

	res.OK = true
	res.Speech = ""
	if plain, ok := body.Response.Speech["plain"]; ok {
		res.Speech = sanitizeSpeech(plain.Speech)
	}
	return res, nil
}

func (e *HomeAssistantRestEndpoint) Stop() {}
