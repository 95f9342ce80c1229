package endpoint

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/roost-io/roost/internal/store"
)

// Manager owns the active command endpoint and swaps it out when the stored
// config changes. A failed swap leaves no endpoint in place; the server keeps
// running and satellites get error results until the config is fixed.
type Manager struct {
	log   zerolog.Logger
	probe *http.Client

	mu  sync.Mutex
	cur Endpoint
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:   log.With().Str("component", "endpoint").Logger(),
		probe: newHTTPClient(connectTimeout, readTimeout),
	}
}

// Reload tears down the previous endpoint and builds one from cfg. Endpoint
// mode off or a construction error leaves the manager empty.
func (m *Manager) Reload(cfg *store.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		m.cur.Stop()
		m.cur = nil
	}

	if cfg == nil || cfg.WasMode == nil || !*cfg.WasMode {
		m.log.Debug().Msg("endpoint mode disabled")
		return
	}

	name := strOr(cfg.CommandEndpoint, "")
	ep, err := m.build(name, cfg)
	if err != nil {
		m.log.Error().Err(err).Str("endpoint", name).Msg("command endpoint init failed")
		return
	}

	m.cur = ep
	m.log.Info().Str("endpoint", ep.Name()).Msg("command endpoint ready")
}

func (m *Manager) build(name string, cfg *store.Config) (Endpoint, error) {
	switch name {
	case "Home Assistant":
		host := strOr(cfg.HassHost, "")
		if host == "" {
			return nil, &ConfigError{Reason: "Home Assistant host not set"}
		}
		port := intOr(cfg.HassPort, 8123)
		tls := boolOr(cfg.HassTLS, false)
		token := strOr(cfg.HassToken, "")
		if m.supportsAssistPipeline(host, port, tls, token) {
			return NewHomeAssistantWebSocketEndpoint(host, port, tls, token, m.log), nil
		}
		m.log.Info().Msg("assist pipelines unavailable, using the conversation API")
		return NewHomeAssistantRestEndpoint(host, port, tls, token, m.log), nil

	case "MQTT":
		config := MqttConfig{
			AuthType: MqttAuthNone,
			Hostname: strOr(cfg.MQTTHost, ""),
			Port:     intOr(cfg.MQTTPort, 8883),
			TLS:      boolOr(cfg.MQTTTLS, true),
			Topic:    strOr(cfg.MQTTTopic, ""),
			Username: strOr(cfg.MQTTUsername, ""),
			Password: strOr(cfg.MQTTPassword, ""),
		}
		if cfg.MQTTAuthType != nil {
			at, err := ParseMqttAuthType(*cfg.MQTTAuthType)
			if err != nil {
				return nil, err
			}
			config.AuthType = at
		}
		return NewMqttEndpoint(config, m.log)

	case "openHAB":
		url := strOr(cfg.OpenhabURL, "")
		if url == "" {
			return nil, &ConfigError{Reason: "openHAB URL not set"}
		}
		return NewOpenhabEndpoint(url, strOr(cfg.OpenhabToken, ""), m.log), nil

	case "REST":
		url := strOr(cfg.RestURL, "")
		if url == "" {
			return nil, &ConfigError{Reason: "REST URL not set"}
		}
		config := RestConfig{
			AuthType:   RestAuthNone,
			AuthHeader: strOr(cfg.RestAuthHeader, ""),
			AuthUser:   strOr(cfg.RestAuthUser, ""),
			AuthPass:   strOr(cfg.RestAuthPass, ""),
		}
		if cfg.RestAuthType != nil {
			at, err := ParseRestAuthType(*cfg.RestAuthType)
			if err != nil {
				return nil, err
			}
			config.AuthType = at
		}
		return NewRestEndpoint(url, config, m.log), nil

	case "":
		return nil, &ConfigError{Reason: "command endpoint not selected"}
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown command endpoint %q", name)}
	}
}

// supportsAssistPipeline checks whether the Home Assistant instance is new
// enough for the WebSocket pipeline API. Any probe failure selects the REST
// fallback rather than blocking endpoint setup.
func (m *Manager) supportsAssistPipeline(host string, port int, tls bool, token string) bool {
	url := BaseURL(host, port, tls, false) + "/api/components"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("component probe request failed")
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.probe.Do(req)
	if err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("component probe failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.log.Warn().Int("status", resp.StatusCode).Msg("component probe rejected")
		return false
	}

	var components []string
	if err := json.NewDecoder(resp.Body).Decode(&components); err != nil {
		m.log.Warn().Err(err).Msg("component probe decode failed")
		return false
	}
	return slices.Contains(components, "assist_pipeline")
}

// Current returns the active endpoint, or nil when none is configured.
func (m *Manager) Current() Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// PendingCount reports in-flight async correlations for metrics; zero for
// endpoints that answer synchronously.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.cur.(interface{ PendingCount() int }); ok {
		return pc.PendingCount()
	}
	return 0
}

// Stop tears down the active endpoint.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		m.cur.Stop()
		m.cur = nil
	}
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
