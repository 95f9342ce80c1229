package endpoint

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func conversationReply(speech string) string {
	return `{"response":{"response_type":"action_done","speech":{"plain":{"speech":"` + speech + `"}}}}`
}

func TestHomeAssistantRest_Send(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		io.WriteString(w, conversationReply("Turned on the light"))
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	e := NewHomeAssistantRestEndpoint(host, port, false, "secret-token", zerolog.Nop())
	res, err := e.Send(context.Background(), map[string]any{"text": "turn on the light", "language": "en"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotPath != "/api/conversation/process" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["text"] != "turn on the light" || gotBody["language"] != "en" {
		t.Errorf("body = %v", gotBody)
	}
	if !res.OK || res.Speech != "Turned on the light" {
		t.Errorf("result = %+v", res)
	}
}

func TestHomeAssistantRest_LanguageOptional(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		io.WriteString(w, conversationReply("ok"))
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	e := NewHomeAssistantRestEndpoint(host, port, false, "t", zerolog.Nop())
	if _, err := e.Send(context.Background(), map[string]any{"text": "hi"}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, present := gotBody["language"]; present {
		t.Errorf("language sent despite absent input: %v", gotBody)
	}
}

func TestHomeAssistantRest_NoSpeechBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Some intents (e.g. nevermind) answer without plain speech.
		io.WriteString(w, `{"response":{"response_type":"action_done","speech":{}}}`)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	e := NewHomeAssistantRestEndpoint(host, port, false, "t", zerolog.Nop())
	res, err := e.Send(context.Background(), map[string]any{"text": "never mind"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.OK || res.Speech != "" {
		t.Errorf("result = %+v, want ok with empty speech", res)
	}
}

func TestHomeAssistantRest_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.URL)
	e := NewHomeAssistantRestEndpoint(host, port, false, "bad", zerolog.Nop())
	res, err := e.Send(context.Background(), map[string]any{"text": "hi"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.OK || res.Speech != "Error!" {
		t.Errorf("result = %+v, want stock error", res)
	}
}
