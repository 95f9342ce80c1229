package endpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseMqttAuthType(t *testing.T) {
	tests := []struct {
		in      string
		want    MqttAuthType
		wantErr bool
	}{
		{in: "none", want: MqttAuthNone},
		{in: "USERPW", want: MqttAuthUserPW},
		{in: "userpw", want: MqttAuthUserPW},
		{in: "certificate", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMqttAuthType(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMqttAuthType(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMqttAuthType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMqttConfigValidate(t *testing.T) {
	base := MqttConfig{
		AuthType: MqttAuthNone,
		Hostname: "broker.local",
		Topic:    "roost/commands",
	}
	tests := []struct {
		name    string
		mutate  func(c *MqttConfig)
		wantErr bool
	}{
		{name: "anonymous_ok", mutate: func(c *MqttConfig) {}},
		{name: "missing_host", mutate: func(c *MqttConfig) { c.Hostname = "" }, wantErr: true},
		{name: "missing_topic", mutate: func(c *MqttConfig) { c.Topic = "" }, wantErr: true},
		{
			name: "userpw_complete",
			mutate: func(c *MqttConfig) {
				c.AuthType = MqttAuthUserPW
				c.Username = "roost"
				c.Password = "hunter2"
			},
		},
		{
			name: "userpw_missing_username",
			mutate: func(c *MqttConfig) {
				c.AuthType = MqttAuthUserPW
				c.Password = "hunter2"
			},
			wantErr: true,
		},
		{
			name: "userpw_missing_password",
			mutate: func(c *MqttConfig) {
				c.AuthType = MqttAuthUserPW
				c.Username = "roost"
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("error = %v, want ConfigError", err)
				}
			}
		})
	}
}

func TestMqttBrokerURL(t *testing.T) {
	tests := []struct {
		name   string
		config MqttConfig
		want   string
	}{
		{
			name:   "tls_default_port",
			config: MqttConfig{Hostname: "broker.local", TLS: true},
			want:   "ssl://broker.local:8883",
		},
		{
			name:   "plain",
			config: MqttConfig{Hostname: "broker.local", Port: 1883, TLS: false},
			want:   "tcp://broker.local:1883",
		},
		{
			name:   "tls_custom_port",
			config: MqttConfig{Hostname: "10.0.0.5", Port: 8884, TLS: true},
			want:   "ssl://10.0.0.5:8884",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.brokerURL(); got != tt.want {
				t.Errorf("brokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMqttEndpoint_SendWhileDisconnected(t *testing.T) {
	// Port 1 is never a broker; the background connect keeps failing while
	// send calls must return a runtime error instead of blocking.
	e, err := NewMqttEndpoint(MqttConfig{
		Hostname: "127.0.0.1",
		Port:     1,
		TLS:      false,
		Topic:    "roost/commands",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMqttEndpoint: %v", err)
	}
	defer e.Stop()

	_, err = e.Send(context.Background(), map[string]any{"text": "hi"}, nil)
	var runtimeErr *RuntimeError
	if !errors.As(err, &runtimeErr) {
		t.Fatalf("error = %v, want RuntimeError", err)
	}
}

func TestMqttEndpoint_InvalidConfig(t *testing.T) {
	_, err := NewMqttEndpoint(MqttConfig{
		AuthType: MqttAuthUserPW,
		Hostname: "broker.local",
		Topic:    "roost/commands",
		Username: "roost",
	}, zerolog.Nop())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigError", err)
	}
}
