package p2p

import (
	"strconv"
	"strings"
)

// EventKind identifies which control-interface event a line carried.
type EventKind int

const (
	EventDeviceFound EventKind = iota + 1
	EventDeviceLost
	EventStaConnected
	EventStaDisconnected
	EventGroupStarted
	EventGroupRemoved
	EventInvitationReceived
	EventBareAddress
)

// Leading tokens of the recognised events.
const (
	PrefixDeviceFound        = "P2P-DEVICE-FOUND"
	PrefixDeviceLost         = "P2P-DEVICE-LOST"
	PrefixStaConnected       = "AP-STA-CONNECTED"
	PrefixStaDisconnected    = "AP-STA-DISCONNECTED"
	PrefixGroupStarted       = "P2P-GROUP-STARTED"
	PrefixGroupRemoved       = "P2P-GROUP-REMOVED"
	PrefixInvitationReceived = "P2P-INVITATION-RECEIVED"
)

var kindNames = map[EventKind]string{
	EventDeviceFound:        PrefixDeviceFound,
	EventDeviceLost:         PrefixDeviceLost,
	EventStaConnected:       PrefixStaConnected,
	EventStaDisconnected:    PrefixStaDisconnected,
	EventGroupStarted:       PrefixGroupStarted,
	EventGroupRemoved:       PrefixGroupRemoved,
	EventInvitationReceived: PrefixInvitationReceived,
	EventBareAddress:        "BARE-ADDRESS",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(k)) + ")"
}

// Invitation is a received P2P invitation to join or re-invoke a group.
type Invitation struct {
	Source         MacAddress `json:"source"`
	GroupOwner     MacAddress `json:"go_dev_addr"`
	BSSID          MacAddress `json:"bssid"`
	PersistentID   int        `json:"persistent_id"`
	UnknownNetwork bool       `json:"unknown_network"`
}

// Event is the result of parsing one line. Exactly one of Device, Group and
// Invitation is set, according to Kind.
type Event struct {
	Kind       EventKind
	Device     *Device
	Group      *Group
	Invitation *Invitation

	// StationAddress is the positional interface address of AP-STA events.
	StationAddress MacAddress
	// Reason is the reason= token of P2P-GROUP-REMOVED.
	Reason string
	// PSK is the raw psk= value of P2P-GROUP-STARTED.
	PSK string
}

// Parse turns one control-interface event line into an Event. Unrecognised
// lines and lines missing a required field return a *ParseError; a failed
// parse never returns a partially filled record.
func Parse(line string) (Event, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Event{}, parseErrorf(line, "empty line")
	}
	if addr, err := ParseMAC(trimmed); err == nil {
		d := NewDevice(addr)
		return Event{Kind: EventBareAddress, Device: &d}, nil
	}

	toks, err := tokenize(trimmed)
	if err != nil {
		return Event{}, parseErrorf(line, "%v", err)
	}
	f := fields{line: line, toks: toks[1:]}

	switch toks[0].raw {
	case PrefixDeviceFound:
		return parseDeviceFound(&f)
	case PrefixDeviceLost:
		return parseDeviceLost(&f)
	case PrefixStaConnected:
		return parseSta(&f, EventStaConnected, StatusConnected)
	case PrefixStaDisconnected:
		return parseSta(&f, EventStaDisconnected, StatusAvailable)
	case PrefixGroupStarted:
		return parseGroupStarted(&f)
	case PrefixGroupRemoved:
		return parseGroupRemoved(&f)
	case PrefixInvitationReceived:
		return parseInvitation(&f)
	}
	return Event{}, parseErrorf(line, "unrecognised event %q", toks[0].raw)
}

func parseDeviceFound(f *fields) (Event, error) {
	addr, err := f.positionalMAC(0, "device address")
	if err != nil {
		return Event{}, err
	}
	if v, ok := f.value("p2p_dev_addr"); ok {
		if addr, err = f.mac("p2p_dev_addr", v); err != nil {
			return Event{}, err
		}
	}
	d := NewDevice(addr)
	d.Status = StatusAvailable

	if d.PrimaryType, err = f.required("pri_dev_type"); err != nil {
		return Event{}, err
	}
	if d.Name, err = f.required("name"); err != nil {
		return Event{}, err
	}
	d.SecondaryType, _ = f.value("sec_dev_type")

	v, err := f.required("config_methods")
	if err != nil {
		return Event{}, err
	}
	methods, err := f.hex("config_methods", v, 16)
	if err != nil {
		return Event{}, err
	}
	d.WPSConfigMethods = uint16(methods)

	if v, err = f.required("dev_capab"); err != nil {
		return Event{}, err
	}
	devCapab, err := f.hex("dev_capab", v, 8)
	if err != nil {
		return Event{}, err
	}
	d.DeviceCapability = uint8(devCapab)

	if v, ok := f.value("group_capab"); ok {
		groupCapab, err := f.hex("group_capab", v, 8)
		if err != nil {
			return Event{}, err
		}
		d.GroupCapability = uint8(groupCapab)
	}
	if v, ok := f.value("wfd_dev_info"); ok && v != "" {
		d.WFD = &WFDInfo{Raw: v}
	}
	return Event{Kind: EventDeviceFound, Device: &d}, nil
}

func parseDeviceLost(f *fields) (Event, error) {
	v, err := f.required("p2p_dev_addr")
	if err != nil {
		return Event{}, err
	}
	addr, err := f.mac("p2p_dev_addr", v)
	if err != nil {
		return Event{}, err
	}
	d := NewDevice(addr)
	return Event{Kind: EventDeviceLost, Device: &d}, nil
}

func parseSta(f *fields, kind EventKind, status Status) (Event, error) {
	sta, err := f.positionalMAC(0, "station address")
	if err != nil {
		return Event{}, err
	}
	addr := sta
	if v, ok := f.value("p2p_dev_addr"); ok {
		if addr, err = f.mac("p2p_dev_addr", v); err != nil {
			return Event{}, err
		}
	}
	d := NewDevice(addr)
	d.Status = status
	return Event{Kind: kind, Device: &d, StationAddress: sta}, nil
}

func parseGroupStarted(f *fields) (Event, error) {
	g, err := f.groupHead()
	if err != nil {
		return Event{}, err
	}
	if g.NetworkName, err = f.required("ssid"); err != nil {
		return Event{}, err
	}
	v, err := f.required("go_dev_addr")
	if err != nil {
		return Event{}, err
	}
	goAddr, err := f.mac("go_dev_addr", v)
	if err != nil {
		return Event{}, err
	}
	if v, ok := f.value("freq"); ok {
		freq, err := strconv.Atoi(v)
		if err != nil || freq < 0 {
			return Event{}, parseErrorf(f.line, "freq %q is not a frequency", v)
		}
		g.Frequency = freq
	}
	g.Passphrase, _ = f.value("passphrase")
	psk, _ := f.value("psk")

	owner := NewDevice(goAddr)
	owner.Status = StatusConnected
	g.SetOwner(owner)
	if f.flag("PERSISTENT") {
		g.NetworkID = NetworkIDPersistent
	}
	return Event{Kind: EventGroupStarted, Group: g, PSK: psk}, nil
}

func parseGroupRemoved(f *fields) (Event, error) {
	g, err := f.groupHead()
	if err != nil {
		return Event{}, err
	}
	reason, _ := f.value("reason")
	return Event{Kind: EventGroupRemoved, Group: g, Reason: reason}, nil
}

func parseInvitation(f *fields) (Event, error) {
	inv := Invitation{PersistentID: NetworkIDTemporary}
	v, err := f.required("sa")
	if err != nil {
		return Event{}, err
	}
	if inv.Source, err = f.mac("sa", v); err != nil {
		return Event{}, err
	}
	if v, ok := f.value("go_dev_addr"); ok {
		if inv.GroupOwner, err = f.mac("go_dev_addr", v); err != nil {
			return Event{}, err
		}
	}
	if v, ok := f.value("bssid"); ok {
		if inv.BSSID, err = f.mac("bssid", v); err != nil {
			return Event{}, err
		}
	}
	if v, ok := f.value("persistent"); ok {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			return Event{}, parseErrorf(f.line, "persistent %q is not a network id", v)
		}
		inv.PersistentID = id
	}
	inv.UnknownNetwork = f.flag("unknown-network")
	return Event{Kind: EventInvitationReceived, Invitation: &inv}, nil
}

// token is one whitespace-delimited field. For key=value tokens raw is empty
// and key/value are set; quotes around the value have been removed.
type token struct {
	raw   string
	key   string
	value string
}

func (t token) isKV() bool { return t.key != "" }

// tokenize splits on spaces and tabs. A value that starts with ' or " runs to
// the matching quote and may contain whitespace; there are no escapes.
func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			break
		}
		var key string
		start := i
		for i < len(s) && !isSpace(s[i]) && s[i] != '=' {
			i++
		}
		if i < len(s) && s[i] == '=' && i > start {
			key = s[start:i]
			i++
		} else {
			i = start
		}

		var val string
		if i < len(s) && (s[i] == '\'' || s[i] == '"') {
			q := s[i]
			end := strings.IndexByte(s[i+1:], q)
			if end < 0 {
				return nil, &unterminatedError{at: i}
			}
			val = s[i+1 : i+1+end]
			i += end + 2
			if i < len(s) && !isSpace(s[i]) {
				return nil, &unterminatedError{at: i, trailing: true}
			}
		} else {
			vs := i
			for i < len(s) && !isSpace(s[i]) {
				i++
			}
			val = s[vs:i]
		}
		if key != "" {
			toks = append(toks, token{key: key, value: val})
		} else {
			toks = append(toks, token{raw: val})
		}
	}
	if len(toks) == 0 || toks[0].isKV() {
		return nil, errNoEventName
	}
	return toks, nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

type unterminatedError struct {
	at       int
	trailing bool
}

func (e *unterminatedError) Error() string {
	if e.trailing {
		return "text after closing quote at offset " + strconv.Itoa(e.at)
	}
	return "unterminated quote at offset " + strconv.Itoa(e.at)
}

type constError string

func (e constError) Error() string { return string(e) }

const errNoEventName = constError("line does not start with an event name")

// fields is the parsed remainder of a line after the event name.
type fields struct {
	line string
	toks []token
}

// positional returns the n-th token that is not key=value.
func (f *fields) positional(n int) (string, bool) {
	for _, t := range f.toks {
		if t.isKV() {
			continue
		}
		if n == 0 {
			return t.raw, true
		}
		n--
	}
	return "", false
}

func (f *fields) positionalMAC(n int, what string) (MacAddress, error) {
	v, ok := f.positional(n)
	if !ok {
		return MacAddress{}, parseErrorf(f.line, "missing %s", what)
	}
	return f.mac(what, v)
}

// value returns the first value for key. Later duplicates are ignored.
func (f *fields) value(key string) (string, bool) {
	for _, t := range f.toks {
		if t.key == key {
			return t.value, true
		}
	}
	return "", false
}

func (f *fields) required(key string) (string, error) {
	v, ok := f.value(key)
	if !ok {
		return "", parseErrorf(f.line, "missing %s", key)
	}
	return v, nil
}

// flag reports whether the literal word appears as a bare token after the
// positional head, either as is or in brackets ("[PERSISTENT]").
func (f *fields) flag(word string) bool {
	for _, t := range f.toks {
		if !t.isKV() && (t.raw == word || t.raw == "["+word+"]") {
			return true
		}
	}
	return false
}

func (f *fields) mac(name, v string) (MacAddress, error) {
	m, err := ParseMAC(v)
	if err != nil {
		return MacAddress{}, parseErrorf(f.line, "%s: %v", name, err)
	}
	return m, nil
}

func (f *fields) hex(name, v string, bits int) (uint64, error) {
	s := v
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	n, err := strconv.ParseUint(s, 16, bits)
	if err != nil {
		return 0, parseErrorf(f.line, "%s %q is not a %d-bit hex value", name, v, bits)
	}
	return n, nil
}

// groupHead parses the "<iface> <GO|client>" prefix shared by group events.
func (f *fields) groupHead() (*Group, error) {
	iface, ok := f.positional(0)
	if !ok || iface == "" {
		return nil, parseErrorf(f.line, "missing interface")
	}
	role, ok := f.positional(1)
	if !ok {
		return nil, parseErrorf(f.line, "missing role")
	}
	g := &Group{Interface: iface, NetworkID: NetworkIDTemporary}
	switch role {
	case "GO":
		g.IsOwner = true
	case "client":
	default:
		return nil, parseErrorf(f.line, "role %q is neither GO nor client", role)
	}
	return g, nil
}
