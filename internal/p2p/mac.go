package p2p

import (
	"fmt"
	"strings"
)

// MacAddress is a 48-bit IEEE MAC address. The zero value means "no address".
type MacAddress [6]byte

// ParseMAC parses exactly six colon-separated groups of two hex digits.
// Either case is accepted; String always returns the uppercase form.
func ParseMAC(s string) (MacAddress, error) {
	var m MacAddress
	if len(s) != 17 {
		return m, fmt.Errorf("mac address %q: want 17 characters, got %d", s, len(s))
	}
	for i := 0; i < 6; i++ {
		if i > 0 && s[i*3-1] != ':' {
			return m, fmt.Errorf("mac address %q: missing ':' separator", s)
		}
		hi, ok1 := fromHex(s[i*3])
		lo, ok2 := fromHex(s[i*3+1])
		if !ok1 || !ok2 {
			return m, fmt.Errorf("mac address %q: invalid hex digit", s)
		}
		m[i] = hi<<4 | lo
	}
	return m, nil
}

// MustParseMAC is like ParseMAC but panics on error. Intended for constants and tests.
func MustParseMAC(s string) MacAddress {
	m, err := ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// String returns the canonical AA:BB:CC:DD:EE:FF form.
func (m MacAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether m is the unset address.
func (m MacAddress) IsZero() bool {
	return m == MacAddress{}
}

// Key returns the lowercase address without separators, suitable for topic
// names and identifiers.
func (m MacAddress) Key() string {
	return strings.ToLower(strings.ReplaceAll(m.String(), ":", ""))
}

func (m MacAddress) MarshalText() ([]byte, error) {
	if m.IsZero() {
		return []byte{}, nil
	}
	return []byte(m.String()), nil
}

func (m *MacAddress) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*m = MacAddress{}
		return nil
	}
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
