package endpoint

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// OpenhabEndpoint hands the raw command text to openHAB's voice interpreter
// API. openHAB expects the API token as the basic-auth username.
type OpenhabEndpoint struct {
	rest *RestEndpoint
	log  zerolog.Logger
}

func NewOpenhabEndpoint(url, token string, log zerolog.Logger) *OpenhabEndpoint {
	return &OpenhabEndpoint{
		rest: NewRestEndpoint(url+"/rest/voice/interpreters", RestConfig{
			AuthType: RestAuthBasic,
			AuthUser: token,
		}, log),
		log: log.With().Str("component", "endpoint").Str("endpoint", "openHAB").Logger(),
	}
}

func (e *OpenhabEndpoint) Name() string { return "openHAB" }

func (e *OpenhabEndpoint) Send(ctx context.Context, data map[string]any, _ Satellite) (*Result, error) {
	text, ok := data["text"].(string)
	if !ok {
		return nil, &RuntimeError{Op: fmt.Sprintf("payload text missing or not a string: %v", data["text"])}
	}
	resp, err := e.rest.post(ctx, e.rest.url, "text/plain", []byte(text))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return textResult(resp)
}

func (e *OpenhabEndpoint) Stop() {}
