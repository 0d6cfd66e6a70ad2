package models

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MAC is a 6-byte IEEE 802 hardware address.
type MAC [6]byte

// ParseMAC accepts colon, hyphen, dot (Cisco) or bare hex notation.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	clean := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return m, fmt.Errorf("invalid MAC address %q: want 12 hex digits", s)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return m, fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	copy(m[:], b)
	return m, nil
}

// String renders the address as lowercase colon-separated hex.
func (m MAC) String() string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 0, 17)
	for i, b := range m {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, digits[b>>4], digits[b&0x0f])
	}
	return string(buf)
}

// Less orders MACs bytewise.
func (m MAC) Less(o MAC) bool {
	for i := range m {
		if m[i] != o[i] {
			return m[i] < o[i]
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
