package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

// Config is the satellite settings record. Every field is optional at rest;
// nil means "not set" and is omitted from JSON. Field order is alphabetical
// so serialized messages have stable, sorted keys.
type Config struct {
	AEC               *bool   `json:"aec,omitempty"`
	AudioCodec        *string `json:"audio_codec,omitempty"`
	AudioResponseType *string `json:"audio_response_type,omitempty"`
	BSS               *bool   `json:"bss,omitempty"`
	CommandEndpoint   *string `json:"command_endpoint,omitempty"`
	DisplayTimeout    *int    `json:"display_timeout,omitempty"`
	HassHost          *string `json:"hass_host,omitempty"`
	HassPort          *int    `json:"hass_port,omitempty"`
	HassTLS           *bool   `json:"hass_tls,omitempty"`
	HassToken         *string `json:"hass_token,omitempty"`
	LCDBrightness     *int    `json:"lcd_brightness,omitempty"`
	MicGain           *int    `json:"mic_gain,omitempty"`
	MQTTAuthType      *string `json:"mqtt_auth_type,omitempty"`
	MQTTHost          *string `json:"mqtt_host,omitempty"`
	MQTTPassword      *string `json:"mqtt_password,omitempty"`
	MQTTPort          *int    `json:"mqtt_port,omitempty"`
	MQTTTLS           *bool   `json:"mqtt_tls,omitempty"`
	MQTTTopic         *string `json:"mqtt_topic,omitempty"`
	MQTTUsername      *string `json:"mqtt_username,omitempty"`
	Multiwake         *bool   `json:"multiwake,omitempty"`
	NTPConfig         *string `json:"ntp_config,omitempty"`
	NTPHost           *string `json:"ntp_host,omitempty"`
	OpenhabToken      *string `json:"openhab_token,omitempty"`
	OpenhabURL        *string `json:"openhab_url,omitempty"`
	RecordBuffer      *int    `json:"record_buffer,omitempty"`
	RestAuthHeader    *string `json:"rest_auth_header,omitempty"`
	RestAuthPass      *string `json:"rest_auth_pass,omitempty"`
	RestAuthType      *string `json:"rest_auth_type,omitempty"`
	RestAuthUser      *string `json:"rest_auth_user,omitempty"`
	RestURL           *string `json:"rest_url,omitempty"`
	ShowPrereleases   *bool   `json:"show_prereleases,omitempty"`
	SpeakerVolume     *int    `json:"speaker_volume,omitempty"`
	SpeechRecMode     *string `json:"speech_rec_mode,omitempty"`
	StreamTimeout     *int    `json:"stream_timeout,omitempty"`
	Timezone          *string `json:"timezone,omitempty"`
	TimezoneName      *string `json:"timezone_name,omitempty"`
	VADMode           *int    `json:"vad_mode,omitempty"`
	VADTimeout        *int    `json:"vad_timeout,omitempty"`
	WakeConfirmation  *bool   `json:"wake_confirmation,omitempty"`
	WakeMode          *string `json:"wake_mode,omitempty"`
	WakeWord          *string `json:"wake_word,omitempty"`
	WasMode           *bool   `json:"was_mode,omitempty"`
	WISTTSURL         *string `json:"wis_tts_url,omitempty"`
	WISTTSURLV2       *string `json:"wis_tts_url_v2,omitempty"`
	WISURL            *string `json:"wis_url,omitempty"`
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindBool
)

// configFields is the closed set of recognized settings. Adding a field here
// is a schema change: it must also be added to Config and, when bounded, to
// configRanges.
var configFields = map[string]fieldKind{
	"aec":                 kindBool,
	"audio_codec":         kindString,
	"audio_response_type": kindString,
	"bss":                 kindBool,
	"command_endpoint":    kindString,
	"display_timeout":     kindInt,
	"hass_host":           kindString,
	"hass_port":           kindInt,
	"hass_tls":            kindBool,
	"hass_token":          kindString,
	"lcd_brightness":      kindInt,
	"mic_gain":            kindInt,
	"mqtt_auth_type":      kindString,
	"mqtt_host":           kindString,
	"mqtt_password":       kindString,
	"mqtt_port":           kindInt,
	"mqtt_tls":            kindBool,
	"mqtt_topic":          kindString,
	"mqtt_username":       kindString,
	"multiwake":           kindBool,
	"ntp_config":          kindString,
	"ntp_host":            kindString,
	"openhab_token":       kindString,
	"openhab_url":         kindString,
	"record_buffer":       kindInt,
	"rest_auth_header":    kindString,
	"rest_auth_pass":      kindString,
	"rest_auth_type":      kindString,
	"rest_auth_user":      kindString,
	"rest_url":            kindString,
	"show_prereleases":    kindBool,
	"speaker_volume":      kindInt,
	"speech_rec_mode":     kindString,
	"stream_timeout":      kindInt,
	"timezone":            kindString,
	"timezone_name":       kindString,
	"vad_mode":            kindInt,
	"vad_timeout":         kindInt,
	"wake_confirmation":   kindBool,
	"wake_mode":           kindString,
	"wake_word":           kindString,
	"was_mode":            kindBool,
	"wis_tts_url":         kindString,
	"wis_tts_url_v2":      kindString,
	"wis_url":             kindString,
}

type intRange struct{ min, max int }

var configRanges = map[string]intRange{
	"speaker_volume":  {0, 100},
	"lcd_brightness":  {0, 1023},
	"display_timeout": {0, 600},
}

// ValidationError marks user input that must not be persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ReadConfig returns the stored config record with only the fields that have
// a non-empty stored value. It never fails outward: unreadable rows are
// logged and skipped.
func (s *Store) ReadConfig() *Config {
	values := s.readValues("config")

	fields := make(map[string]any, len(values))
	for name, value := range values {
		kind, ok := configFields[name]
		if !ok {
			s.log.Warn().Str("field", name).Msg("unrecognized config row, skipping")
			continue
		}
		typed, err := parseStored(kind, value)
		if err != nil {
			s.log.Error().Err(err).Str("field", name).Str("value", value).Msg("bad stored config value, skipping")
			continue
		}
		fields[name] = typed
	}

	cfg := &Config{}
	raw, err := json.Marshal(fields)
	if err == nil {
		err = json.Unmarshal(raw, cfg)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("config decode failed")
		return &Config{}
	}
	return cfg
}

// WriteConfig upserts the given fields in one transaction. A JSON null
// clears the field; unknown fields are skipped with a warning; values that
// match what is stored are no-ops. On any error the store is unchanged.
func (s *Store) WriteConfig(partial map[string]json.RawMessage) error {
	coerced := make(map[string]string, len(partial))

	for name, raw := range partial {
		kind, ok := configFields[name]
		if !ok {
			s.log.Warn().Str("field", name).Msg("unrecognized config field, skipping")
			continue
		}
		if isJSONNull(raw) {
			coerced[name] = ""
			continue
		}
		value, err := coerceValue(kind, raw)
		if err != nil {
			return &ValidationError{Field: name, Reason: err.Error()}
		}
		if err := checkRange(name, kind, value); err != nil {
			return err
		}
		coerced[name] = value
	}

	return s.inTx(func(tx *sql.Tx) error {
		for name, value := range coerced {
			if err := upsertValue(tx, "config", name, "", value); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
		}
		return nil
	})
}

// HasConfig reports whether any config rows exist at all (used to gate the
// one-shot legacy migration).
func (s *Store) HasConfig() bool {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM config WHERE config_type = 'config'`).Scan(&n); err != nil {
		s.log.Error().Err(err).Msg("config count failed")
		return false
	}
	return n > 0
}

// parseStored converts canonical stored text back to a typed value.
func parseStored(kind fieldKind, value string) (any, error) {
	switch kind {
	case kindBool:
		return strconv.ParseBool(value)
	case kindInt:
		return strconv.Atoi(value)
	default:
		return value, nil
	}
}

// coerceValue renders an incoming JSON value to canonical stored text.
// Strings holding non-string types are accepted and canonicalized.
func coerceValue(kind fieldKind, raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("malformed value: %w", err)
	}

	switch kind {
	case kindBool:
		switch t := v.(type) {
		case bool:
			return strconv.FormatBool(t), nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return "", fmt.Errorf("expected boolean, got %q", t)
			}
			return strconv.FormatBool(b), nil
		}
		return "", fmt.Errorf("expected boolean, got %T", v)

	case kindInt:
		switch t := v.(type) {
		case float64:
			if t != float64(int64(t)) {
				return "", fmt.Errorf("expected integer, got %v", t)
			}
			return strconv.FormatInt(int64(t), 10), nil
		case string:
			n, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return "", fmt.Errorf("expected integer, got %q", t)
			}
			return strconv.FormatInt(n, 10), nil
		}
		return "", fmt.Errorf("expected integer, got %T", v)

	default:
		switch t := v.(type) {
		case string:
			return t, nil
		case bool:
			return strconv.FormatBool(t), nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		}
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func checkRange(name string, kind fieldKind, value string) error {
	if kind != kindInt || value == "" {
		return nil
	}
	r, ok := configRanges[name]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return &ValidationError{Field: name, Reason: "not an integer"}
	}
	if n < r.min || n > r.max {
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be in [%d, %d]", r.min, r.max)}
	}
	return nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
