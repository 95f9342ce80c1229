package satellite

import (
	"encoding/json"
	"fmt"
)

// Hello is a device's self-identification, sent once after connecting.
// Fields are applied independently; absent fields leave the session as-is.
type Hello struct {
	Hostname string  `json:"hostname"`
	HWType   string  `json:"hw_type"`
	MACAddr  MACAddr `json:"mac_addr"`
}

// MACAddr decodes a hardware address sent either as six integer octets or as
// a preformatted string. Octets normalize to lowercase colon-separated hex;
// strings pass through unchanged. Malformed values decode to "".
type MACAddr string

func (m *MACAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = MACAddr(s)
		return nil
	}

	var octets []int
	if err := json.Unmarshal(data, &octets); err == nil {
		*m = MACAddr(HexMAC(octets))
		return nil
	}

	*m = ""
	return nil
}

func (m MACAddr) String() string {
	return string(m)
}

// HexMAC renders integer octets as a lowercase colon-separated hardware
// address. Anything other than exactly six octets renders "".
func HexMAC(octets []int) string {
	if len(octets) != 6 {
		return ""
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		byte(octets[0]), byte(octets[1]), byte(octets[2]),
		byte(octets[3]), byte(octets[4]), byte(octets[5]))
}
