package p2p

import (
	"strconv"
	"strings"
)

// NetworkEntry is one row of the supplicant's LIST_NETWORKS reply.
type NetworkEntry struct {
	ID    int
	SSID  string
	BSSID string
	Flags string
}

// Persistent reports whether the row is a stored P2P persistent group.
func (e NetworkEntry) Persistent() bool {
	return strings.Contains(e.Flags, "[P2P-PERSISTENT]")
}

// ParseNetworkList parses a LIST_NETWORKS reply:
//
//	network id / ssid / bssid / flags
//	0	DIRECT-xy	fa:7b:7a:42:02:13	[DISABLED][P2P-PERSISTENT]
//
// The header line and rows whose id is not a number are skipped.
func ParseNetworkList(text string) []NetworkEntry {
	var out []NetworkEntry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		cols := strings.Split(line, "\t")
		if len(cols) < 2 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(cols[0]))
		if err != nil {
			continue
		}
		e := NetworkEntry{ID: id, SSID: cols[1]}
		if len(cols) > 2 {
			e.BSSID = cols[2]
		}
		if len(cols) > 3 {
			e.Flags = cols[3]
		}
		out = append(out, e)
	}
	return out
}

// FindPersistent returns the id of the first persistent entry with ssid whose
// BSSID is addr. BSSIDs that fail to parse never match.
func FindPersistent(entries []NetworkEntry, ssid string, addr MacAddress) (int, bool) {
	for _, e := range entries {
		if !e.Persistent() || e.SSID != ssid {
			continue
		}
		if b, err := ParseMAC(e.BSSID); err == nil && b == addr {
			return e.ID, true
		}
	}
	return 0, false
}
