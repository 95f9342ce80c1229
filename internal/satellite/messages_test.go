package satellite

import (
	"encoding/json"
	"testing"
)

func TestHexMAC(t *testing.T) {
	tests := []struct {
		name   string
		octets []int
		want   string
	}{
		{"normal", []int{186, 221, 0, 17, 34, 51}, "ba:dd:00:11:22:33"},
		{"zero_padded", []int{0, 1, 2, 3, 4, 5}, "00:01:02:03:04:05"},
		{"too_short", []int{1, 2, 3}, ""},
		{"too_long", []int{1, 2, 3, 4, 5, 6, 7}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HexMAC(tt.octets); got != tt.want {
				t.Errorf("HexMAC(%v) = %q, want %q", tt.octets, got, tt.want)
			}
		})
	}
}

func TestMACAddrUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"octet_list", `[186, 221, 0, 17, 34, 51]`, "ba:dd:00:11:22:33"},
		{"preformatted_string", `"AA:BB:CC:DD:EE:FF"`, "AA:BB:CC:DD:EE:FF"},
		{"short_list", `[1, 2]`, ""},
		{"object", `{"oops": true}`, ""},
		{"number", `42`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m MACAddr
			if err := json.Unmarshal([]byte(tt.in), &m); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.in, err)
			}
			if m.String() != tt.want {
				t.Errorf("MACAddr from %s = %q, want %q", tt.in, m, tt.want)
			}
		})
	}
}

func TestHelloDecode(t *testing.T) {
	raw := `{"hostname": "willow-kitchen", "hw_type": "esp32_s3_box", "mac_addr": [186, 221, 0, 17, 34, 51]}`

	var h Hello
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if h.Hostname != "willow-kitchen" {
		t.Errorf("Hostname = %q, want willow-kitchen", h.Hostname)
	}
	if h.HWType != "esp32_s3_box" {
		t.Errorf("HWType = %q, want esp32_s3_box", h.HWType)
	}
	if h.MACAddr.String() != "ba:dd:00:11:22:33" {
		t.Errorf("MACAddr = %q, want ba:dd:00:11:22:33", h.MACAddr)
	}
}
