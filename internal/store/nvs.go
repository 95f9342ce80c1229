package store

import (
	"database/sql"
	"fmt"
	"net/url"
)

// NVS is the satellite's non-volatile settings record: the server URL the
// device dials back to and its Wi-Fi credentials. Key casing matches what
// the firmware expects.
type NVS struct {
	WAS  NVSWas  `json:"WAS"`
	WIFI NVSWifi `json:"WIFI"`
}

type NVSWas struct {
	URL string `json:"URL"`
}

type NVSWifi struct {
	PSK  string `json:"PSK"`
	SSID string `json:"SSID"`
}

// Validate rejects records a satellite could not boot with. Empty fields are
// allowed (partially-filled records are tolerated at rest).
func (n *NVS) Validate() error {
	if n.WAS.URL != "" {
		u, err := url.Parse(n.WAS.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return &ValidationError{Field: "WAS.URL", Reason: "must be a ws:// or wss:// URL"}
		}
	}
	if n.WIFI.SSID != "" {
		if l := len(n.WIFI.SSID); l < 2 || l > 32 {
			return &ValidationError{Field: "WIFI.SSID", Reason: "length must be in [2, 32]"}
		}
	}
	if n.WIFI.PSK != "" {
		if l := len(n.WIFI.PSK); l < 8 || l > 63 {
			return &ValidationError{Field: "WIFI.PSK", Reason: "length must be in [8, 63]"}
		}
	}
	return nil
}

// ReadNVS returns the stored NVS record; missing fields read as empty.
func (s *Store) ReadNVS() *NVS {
	values := s.readValues("nvs")
	return &NVS{
		WAS:  NVSWas{URL: values["URL"]},
		WIFI: NVSWifi{SSID: values["SSID"], PSK: values["PSK"]},
	}
}

// WriteNVS validates and persists the record in one transaction. Empty
// fields clear their rows.
func (s *Store) WriteNVS(n *NVS) error {
	if err := n.Validate(); err != nil {
		return err
	}

	return s.inTx(func(tx *sql.Tx) error {
		rows := []struct{ name, namespace, value string }{
			{"URL", "WAS", n.WAS.URL},
			{"SSID", "WIFI", n.WIFI.SSID},
			{"PSK", "WIFI", n.WIFI.PSK},
		}
		for _, r := range rows {
			if err := upsertValue(tx, "nvs", r.name, r.namespace, r.value); err != nil {
				return fmt.Errorf("write nvs %s: %w", r.name, err)
			}
		}
		return nil
	})
}

// WasURL returns the configured server URL satellites dial back to, or ""
// when not set.
func (s *Store) WasURL() string {
	return s.ReadNVS().WAS.URL
}
