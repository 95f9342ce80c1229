// Package upstream talks to the hosted Willow services: the release
// catalog, stock device configuration, timezone data, and TTS warm-up
// fetches ahead of notification delivery.
package upstream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/metrics"
)

// Hosted service endpoints. Overridable for tests and self-hosted mirrors.
const (
	DefaultReleasesURL = "https://worker.heywillow.io/api/release?format=was"
	DefaultConfigURL   = "https://worker.heywillow.io/api/config"
	DefaultTZURL       = "https://worker.heywillow.io/api/asset?type=tz"
	DefaultModelsURL   = "https://worker.heywillow.io/api/model"
)

const (
	fetchTimeout = 15 * time.Second

	// TTS warm-up pulls synthesized audio into the speech server's cache
	// before devices fetch it, so the read window is generous.
	warmConnectTimeout = 1 * time.Second
	warmTimeout        = 60 * time.Second
)

// ErrNotObject means a default config fetch returned JSON that is not an
// object and cannot replace a config record.
var ErrNotObject = errors.New("default config is not a JSON object")

// Client fetches hosted catalog and configuration data.
type Client struct {
	releasesURL string
	configURL   string
	tzURL       string
	modelsURL   string
	tzPath      string

	client *http.Client
	warm   *http.Client
	log    zerolog.Logger
}

type Options struct {
	// ReleasesURL, ConfigURL, TZURL, and ModelsURL default to the hosted
	// service when empty.
	ReleasesURL string
	ConfigURL   string
	TZURL       string
	ModelsURL   string

	// TZPath is the local cache file for timezone data.
	TZPath string

	Log zerolog.Logger
}

func NewClient(opts Options) *Client {
	c := &Client{
		releasesURL: opts.ReleasesURL,
		configURL:   opts.ConfigURL,
		tzURL:       opts.TZURL,
		modelsURL:   opts.ModelsURL,
		tzPath:      opts.TZPath,
		client:      &http.Client{Timeout: fetchTimeout},
		warm: &http.Client{
			Timeout: warmTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: warmConnectTimeout}).DialContext,
				// Speech servers commonly run with self-signed certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		log: opts.Log.With().Str("component", "upstream").Logger(),
	}
	if c.releasesURL == "" {
		c.releasesURL = DefaultReleasesURL
	}
	if c.configURL == "" {
		c.configURL = DefaultConfigURL
	}
	if c.tzURL == "" {
		c.tzURL = DefaultTZURL
	}
	if c.modelsURL == "" {
		c.modelsURL = DefaultModelsURL
	}
	return c
}

// Releases fetches the hosted firmware catalog. Records pass through as
// decoded JSON so fields this server does not know about survive.
func (c *Client) Releases(ctx context.Context) ([]map[string]any, error) {
	var releases []map[string]any
	if err := c.getJSON(ctx, c.releasesURL, "releases", &releases); err != nil {
		return nil, err
	}
	return releases, nil
}

// DefaultConfig fetches the stock record for a config type. ErrNotObject
// when the service answers with anything but a JSON object.
func (c *Client) DefaultConfig(ctx context.Context, configType string) (map[string]any, error) {
	var v any
	url := fmt.Sprintf("%s?type=%s", c.configURL, configType)
	if err := c.getJSON(ctx, url, "config", &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// TZ returns the cached timezone table, refreshing it from the hosted
// service first when asked. A missing or unreadable cache file reads as an
// empty table.
func (c *Client) TZ(ctx context.Context, refresh bool) (map[string]any, error) {
	if refresh {
		var tz map[string]any
		if err := c.getJSON(ctx, c.tzURL, "tz", &tz); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(tz)
		if err != nil {
			return nil, err
		}
		if err := renameio.WriteFile(c.tzPath, raw, 0o644); err != nil {
			return nil, fmt.Errorf("tz cache write: %w", err)
		}
	}

	var tz map[string]any
	raw, err := os.ReadFile(c.tzPath)
	if err != nil || json.Unmarshal(raw, &tz) != nil {
		return map[string]any{}, nil
	}
	return tz, nil
}

// Models fetches the hosted model list for a model type, passed through as
// decoded JSON.
func (c *Client) Models(ctx context.Context, modelType string) (any, error) {
	var v any
	url := fmt.Sprintf("%s?type=%s", c.modelsURL, modelType)
	if err := c.getJSON(ctx, url, "models", &v); err != nil {
		return nil, err
	}
	return v, nil
}

// WarmTTS pulls notification audio through the speech server once so the
// synthesized file is cached before devices request it. Only URLs that
// point at a TTS route are touched; failures are logged and swallowed since
// the notification goes out either way.
func (c *Client) WarmTTS(ctx context.Context, audioURL string) {
	if !strings.Contains(audioURL, "/api/tts") {
		return
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("tts").Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("TTS warm-up skipped")
		return
	}
	if user := req.URL.User; user != nil {
		if pass, ok := user.Password(); ok && user.Username() != "" {
			req.SetBasicAuth(user.Username(), pass)
		}
	}

	resp, err := c.warm.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("TTS warm-up failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	c.log.Debug().Int("status", resp.StatusCode).Msg("TTS audio warmed")
}

func (c *Client) getJSON(ctx context.Context, url, target string, out any) error {
	metrics.UpstreamRequestsTotal.WithLabelValues(target).Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s fetch: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s fetch: status %d", target, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", target, err)
	}
	return nil
}
