package p2p

import (
	"strconv"
	"strings"
)

// ParsePeerInfo parses the reply to "P2P_PEER <addr>": the peer address on
// the first line followed by key=value lines. The result carries only the
// advertised details; Status is left at its default.
func ParsePeerInfo(text string) (Device, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	addr, err := ParseMAC(strings.TrimSpace(lines[0]))
	if err != nil {
		return Device{}, parseErrorf(text, "peer address: %v", err)
	}
	d := NewDevice(addr)
	for _, line := range lines[1:] {
		key, val, ok := strings.Cut(strings.TrimRight(line, "\r"), "=")
		if !ok {
			continue
		}
		switch key {
		case "device_name":
			d.Name = val
		case "pri_dev_type":
			d.PrimaryType = val
		case "sec_dev_type":
			d.SecondaryType = val
		case "config_methods":
			n, err := parsePeerHex(val, 16)
			if err != nil {
				return Device{}, parseErrorf(text, "config_methods %q: %v", val, err)
			}
			d.WPSConfigMethods = uint16(n)
		case "dev_capab":
			n, err := parsePeerHex(val, 8)
			if err != nil {
				return Device{}, parseErrorf(text, "dev_capab %q: %v", val, err)
			}
			d.DeviceCapability = uint8(n)
		case "group_capab":
			n, err := parsePeerHex(val, 8)
			if err != nil {
				return Device{}, parseErrorf(text, "group_capab %q: %v", val, err)
			}
			d.GroupCapability = uint8(n)
		case "wfd_subelems":
			// Subelement 0 (device info), length 6.
			if strings.HasPrefix(val, "000006") && len(val) >= 18 {
				d.WFD = &WFDInfo{Raw: "0x" + val[6:18]}
			}
		}
	}
	return d, nil
}

func parsePeerHex(v string, bits int) (uint64, error) {
	v = strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	return strconv.ParseUint(v, 16, bits)
}
