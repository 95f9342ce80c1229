package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MqttAuthType selects how the MQTT broker connection authenticates.
type MqttAuthType int

const (
	MqttAuthNone MqttAuthType = iota + 1
	MqttAuthUserPW
)

// ParseMqttAuthType maps the stored config value (case-insensitive) to an
// MqttAuthType.
func ParseMqttAuthType(s string) (MqttAuthType, error) {
	switch strings.ToUpper(s) {
	case "NONE":
		return MqttAuthNone, nil
	case "USERPW":
		return MqttAuthUserPW, nil
	default:
		return 0, &ConfigError{Reason: fmt.Sprintf("invalid MQTT auth type %q", s)}
	}
}

// MqttConfig is the broker connection spec for the MQTT endpoint.
type MqttConfig struct {
	AuthType MqttAuthType
	Hostname string
	Port     int
	TLS      bool
	Topic    string
	Username string
	Password string
}

// Validate rejects configs that can never connect.
func (c *MqttConfig) Validate() error {
	if c.Hostname == "" {
		return &ConfigError{Reason: "MQTT host not set"}
	}
	if c.Topic == "" {
		return &ConfigError{Reason: "MQTT topic not set"}
	}
	if c.AuthType == MqttAuthUserPW {
		if c.Username == "" {
			return &ConfigError{Reason: "user/password auth enabled without username"}
		}
		if c.Password == "" {
			return &ConfigError{Reason: "user/password auth enabled without password"}
		}
	}
	return nil
}

// brokerURL renders the paho broker address, picking the TLS scheme.
func (c *MqttConfig) brokerURL() string {
	scheme := "tcp"
	if c.TLS {
		scheme = "ssl"
	}
	port := c.Port
	if port == 0 {
		port = 8883
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Hostname, port)
}

// MqttEndpoint publishes commands to a broker topic. Delivery is one-way:
// there is no response correlation, so satellites get no synchronous result.
type MqttEndpoint struct {
	config    MqttConfig
	conn      mqtt.Client
	connected atomic.Bool
	log       zerolog.Logger
}

func NewMqttEndpoint(config MqttConfig, log zerolog.Logger) (*MqttEndpoint, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &MqttEndpoint{
		config: config,
		log:    log.With().Str("component", "endpoint").Str("endpoint", "MQTT").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(config.brokerURL()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(e.onConnect).
		SetConnectionLostHandler(e.onConnectionLost).
		SetDefaultPublishHandler(e.onMessage)

	if config.Username != "" && config.Password != "" {
		clientOpts.SetUsername(config.Username)
		clientOpts.SetPassword(config.Password)
	}

	e.conn = mqtt.NewClient(clientOpts)
	// Connect in the background; satellites get a runtime error until the
	// broker is reachable rather than blocking endpoint selection.
	e.conn.Connect()

	return e, nil
}

func (e *MqttEndpoint) Name() string { return "MQTT" }

func (e *MqttEndpoint) onConnect(client mqtt.Client) {
	e.connected.Store(true)
	e.log.Info().Str("topic", e.config.Topic).Msg("mqtt connected, subscribing")

	token := client.Subscribe(e.config.Topic, 0, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		e.log.Error().Err(err).Msg("mqtt subscribe failed")
	}
}

func (e *MqttEndpoint) onConnectionLost(_ mqtt.Client, err error) {
	e.connected.Store(false)
	e.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (e *MqttEndpoint) onMessage(_ mqtt.Client, msg mqtt.Message) {
	e.log.Info().
		Str("topic", msg.Topic()).
		Int("payload_size", len(msg.Payload())).
		Msg("mqtt message received")
}

// Send publishes the payload and returns no result; MQTT consumers are not
// expected to answer.
func (e *MqttEndpoint) Send(_ context.Context, data map[string]any, _ Satellite) (*Result, error) {
	if !e.connected.Load() {
		return nil, &RuntimeError{Op: "MQTT not connected"}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, &RuntimeError{Op: "encode payload", Err: err}
	}
	e.conn.Publish(e.config.Topic, 0, false, payload)
	return nil, nil
}

func (e *MqttEndpoint) Stop() {
	e.log.Info().Msg("stopping MQTT endpoint")
	e.conn.Disconnect(250)
	e.connected.Store(false)
}
