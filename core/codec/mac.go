package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MAC is a BLE device address in display order (most significant byte first).
type MAC [6]byte

// ParseMAC parses "AA:BB:CC:DD:EE:FF" (':' or '-' separated, or bare hex).
func ParseMAC(s string) (MAC, error) {
	var mac MAC
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return mac, fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	if len(b) != len(mac) {
		return mac, fmt.Errorf("invalid MAC address %q: expected 6 bytes, got %d", s, len(b))
	}
	copy(mac[:], b)
	return mac, nil
}

// String formats the address as upper-case colon-separated hex.
func (m MAC) String() string {
	parts := make([]string, len(m))
	for i, b := range m {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
