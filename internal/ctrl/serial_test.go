package ctrl

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeConsole answers commands on the far end of a pipe.
func fakeConsole(t *testing.T, end net.Conn, replies map[string]string) {
	t.Helper()
	go func() {
		r := bufio.NewReader(end)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(line)
			reply, ok := replies[cmd]
			if !ok {
				reply = "UNKNOWN COMMAND\n"
			}
			// Echo the command like an interactive console does.
			if _, err := end.Write([]byte(cmd + "\n" + reply)); err != nil {
				return
			}
		}
	}()
}

func newTestSerial(t *testing.T, replies map[string]string) (*SerialConn, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	fakeConsole(t, remote, replies)
	c := newSerialConn(local, testLogger())
	t.Cleanup(func() {
		c.Close()
		remote.Close()
	})
	return c, remote
}

func TestSerialRequestOK(t *testing.T) {
	c, _ := newTestSerial(t, map[string]string{"P2P_FIND 30": "OK\n"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := c.Request(ctx, "P2P_FIND 30")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "OK" {
		t.Errorf("reply = %q, want OK", reply)
	}
}

func TestSerialRequestMultiLineBySilence(t *testing.T) {
	c, _ := newTestSerial(t, map[string]string{
		"LIST_NETWORKS": "network id / ssid / bssid / flags\n0\tDIRECT-ab\tfa:7b:7a:42:02:13\t[P2P-PERSISTENT]\n",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := c.Request(ctx, "LIST_NETWORKS")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "DIRECT-ab") || !strings.HasPrefix(reply, "network id") {
		t.Errorf("reply = %q", reply)
	}
}

func TestSerialRequestFailure(t *testing.T) {
	c, _ := newTestSerial(t, map[string]string{"P2P_GROUP_REMOVE x": "FAIL\n"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.Request(ctx, "P2P_GROUP_REMOVE x"); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("err = %v, want ErrCommandFailed", err)
	}
	if _, err := c.Request(ctx, "NOPE"); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("unknown err = %v, want ErrCommandFailed", err)
	}
}

func TestSerialEvents(t *testing.T) {
	c, remote := newTestSerial(t, nil)

	got := make(chan string, 1)
	c.OnEvent(func(line string) { got <- line })

	go remote.Write([]byte("> <3>P2P-DEVICE-LOST p2p_dev_addr=fa:7b:7a:42:02:13\r\n"))

	select {
	case line := <-got:
		if NormalizeEvent(line) != "P2P-DEVICE-LOST p2p_dev_addr=fa:7b:7a:42:02:13" {
			t.Errorf("event = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSerialClosed(t *testing.T) {
	c, _ := newTestSerial(t, nil)
	c.Close()
	if _, err := c.Request(context.Background(), "PING"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
