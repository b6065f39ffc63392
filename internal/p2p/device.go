package p2p

import (
	"encoding/hex"
	"fmt"
)

// Status is the connection state of a peer as last observed.
type Status int

const (
	StatusUnavailable Status = iota
	StatusConnected
	StatusInvited
	StatusFailed
	StatusAvailable
)

var statusNames = [...]string{"unavailable", "connected", "invited", "failed", "available"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Device is a P2P peer. Identity is the Address; every other field is
// presentation or metadata that may change between sightings.
type Device struct {
	Name             string     `json:"name"`
	Address          MacAddress `json:"address"`
	PrimaryType      string     `json:"primary_type,omitempty"`
	SecondaryType    string     `json:"secondary_type,omitempty"`
	WPSConfigMethods uint16     `json:"wps_config_methods"`
	DeviceCapability uint8      `json:"device_capability"`
	GroupCapability  uint8      `json:"group_capability"`
	Status           Status     `json:"status"`
	WFD              *WFDInfo   `json:"wfd_info,omitempty"`
}

// NewDevice returns a device with only its address set and status Unavailable.
func NewDevice(addr MacAddress) Device {
	return Device{Address: addr, Status: StatusUnavailable}
}

// Equal reports whether d and o are the same peer. Only the address counts.
func (d Device) Equal(o Device) bool {
	return d.Address == o.Address
}

// Clone returns a copy that shares no memory with d.
func (d Device) Clone() Device {
	if d.WFD != nil {
		w := *d.WFD
		d.WFD = &w
	}
	return d
}

func (d Device) WPSDisplaySupported() bool { return WPSDisplay(d.WPSConfigMethods) }

func (d Device) WPSPBCSupported() bool { return WPSPushButton(d.WPSConfigMethods) }

func (d Device) WPSKeypadSupported() bool { return WPSKeypad(d.WPSConfigMethods) }

func (d Device) ServiceDiscoverySupported() bool { return ServiceDiscovery(d.DeviceCapability) }

func (d Device) InvitationSupported() bool { return InvitationProcedure(d.DeviceCapability) }

func (d Device) DeviceLimitReached() bool { return DeviceLimit(d.DeviceCapability) }

func (d Device) IsGroupOwner() bool { return GroupOwner(d.GroupCapability) }

func (d Device) GroupLimitReached() bool { return GroupLimit(d.GroupCapability) }

// hasCapabilities reports whether any of the three raw bitmasks is set.
// The bitmasks are merged as one block; see Registry.Observe.
func (d Device) hasCapabilities() bool {
	return d.WPSConfigMethods != 0 || d.DeviceCapability != 0 || d.GroupCapability != 0
}

// WFDInfo is the Wi-Fi Display device information subelement as reported in
// wfd_dev_info. Raw is authoritative; the accessors decode the first six
// bytes (device info, session management control port, max throughput) and
// return zero for blobs that are too short or not hex.
type WFDInfo struct {
	Raw string `json:"raw"`
}

// Device-info bits of the WFD subelement.
const (
	WFDDeviceTypeMask       uint16 = 0x3
	WFDSessionAvailableMask uint16 = 0x30
	WFDSessionAvailable     uint16 = 0x10
)

func (w WFDInfo) word(i int) uint16 {
	s := w.Raw
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) < 6 {
		return 0
	}
	return uint16(b[i*2])<<8 | uint16(b[i*2+1])
}

func (w WFDInfo) DeviceInfo() uint16 { return w.word(0) }

func (w WFDInfo) ControlPort() uint16 { return w.word(1) }

func (w WFDInfo) MaxThroughput() uint16 { return w.word(2) }

// Enabled reports whether the peer advertises an available WFD session.
func (w WFDInfo) Enabled() bool {
	return w.DeviceInfo()&WFDSessionAvailableMask == WFDSessionAvailable
}

// DeviceType returns the WFD device type (source, primary sink, ...).
func (w WFDInfo) DeviceType() uint16 {
	return w.DeviceInfo() & WFDDeviceTypeMask
}
