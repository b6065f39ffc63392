// Package ctrl talks to a supplicant control interface.
// Backends: unix datagram socket (wpa_ctrl) and a serial console.
package ctrl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"p2p-go-home/internal/p2p"
)

var (
	// ErrClosed is returned by Request after Close.
	ErrClosed = errors.New("ctrl: connection closed")
	// ErrCommandFailed is returned when the supplicant answers FAIL or
	// UNKNOWN COMMAND.
	ErrCommandFailed = errors.New("ctrl: command failed")
)

// Conn is a control-interface connection. Request sends one command and
// returns its reply; unsolicited lines are delivered to the OnEvent handler
// from the connection's read goroutine.
type Conn interface {
	Request(ctx context.Context, cmd string) (string, error)
	OnEvent(handler func(line string))
	Close() error
}

// checkReply trims a raw reply and maps failure replies to ErrCommandFailed.
func checkReply(cmd, reply string) (string, error) {
	reply = strings.TrimRight(reply, "\r\n\x00 ")
	switch {
	case reply == "FAIL" || strings.HasPrefix(reply, "FAIL-"):
		return reply, fmt.Errorf("%s: %s: %w", commandName(cmd), reply, ErrCommandFailed)
	case reply == "UNKNOWN COMMAND":
		return reply, fmt.Errorf("%s: %w", commandName(cmd), ErrCommandFailed)
	}
	return reply, nil
}

func commandName(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return cmd
}

// isEventLine reports whether line carries a "<N>" priority prefix.
func isEventLine(line string) bool {
	_, ok := stripPriority(line)
	return ok
}

func stripPriority(line string) (string, bool) {
	if len(line) < 3 || line[0] != '<' {
		return line, false
	}
	end := strings.IndexByte(line, '>')
	if end < 2 {
		return line, false
	}
	for _, c := range line[1:end] {
		if c < '0' || c > '9' {
			return line, false
		}
	}
	return line[end+1:], true
}

// NormalizeEvent strips the "<N>" priority prefix and an "IFNAME=<if> "
// prefix, in either order, leaving the bare event text.
func NormalizeEvent(line string) string {
	_, ev := SplitEvent(line)
	return ev
}

// SplitEvent is NormalizeEvent that also returns the interface named by an
// "IFNAME=<if>" prefix, or "" when the line carried none.
func SplitEvent(line string) (iface, event string) {
	line = strings.TrimRight(line, "\r\n\x00")
	for i := 0; i < 2; i++ {
		line, _ = stripPriority(line)
		if rest, ok := strings.CutPrefix(line, "IFNAME="); ok {
			name, tail, found := strings.Cut(rest, " ")
			iface = name
			if found {
				line = tail
			} else {
				line = ""
			}
		}
	}
	return iface, strings.TrimSpace(line)
}

// Command builders for the supplicant P2P command set.

func FindCmd(timeoutSec int) string {
	if timeoutSec <= 0 {
		return "P2P_FIND"
	}
	return fmt.Sprintf("P2P_FIND %d", timeoutSec)
}

const (
	StopFindCmd     = "P2P_STOP_FIND"
	ListNetworksCmd = "LIST_NETWORKS"
)

// ConnectCmd starts push-button group formation with addr.
func ConnectCmd(addr p2p.MacAddress, persistent bool) string {
	cmd := "P2P_CONNECT " + strings.ToLower(addr.String()) + " pbc"
	if persistent {
		cmd += " persistent"
	}
	return cmd
}

func GroupRemoveCmd(iface string) string {
	return "P2P_GROUP_REMOVE " + iface
}

func RemoveNetworkCmd(networkID int) string {
	return fmt.Sprintf("REMOVE_NETWORK %d", networkID)
}

func PeerCmd(addr p2p.MacAddress) string {
	return "P2P_PEER " + strings.ToLower(addr.String())
}
