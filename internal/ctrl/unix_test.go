package ctrl

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSupplicant is a minimal wpa_ctrl server on a unixgram socket.
type fakeSupplicant struct {
	conn *net.UnixConn

	mu      sync.Mutex
	monitor *net.UnixAddr
	seen    []string
	attach  string
}

func newFakeSupplicant(t *testing.T) (*fakeSupplicant, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "ctrl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "wlan0")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	f := &fakeSupplicant{conn: conn, attach: "OK\n"}
	go f.serve()
	return f, path
}

func (f *fakeSupplicant) serve() {
	buf := make([]byte, 4096)
	for {
		n, from, err := f.conn.ReadFromUnix(buf)
		if err != nil {
			return
		}
		cmd := string(buf[:n])
		f.mu.Lock()
		f.seen = append(f.seen, cmd)
		var reply string
		switch {
		case cmd == "ATTACH":
			f.monitor = from
			reply = f.attach
		case cmd == "DETACH":
			reply = "OK\n"
		case cmd == "PING":
			reply = "PONG\n"
		case strings.HasPrefix(cmd, "P2P_FIND"):
			reply = "OK\n"
		case cmd == "SLOW":
			f.mu.Unlock()
			continue
		default:
			reply = "UNKNOWN COMMAND\n"
		}
		f.mu.Unlock()
		f.conn.WriteToUnix([]byte(reply), from)
	}
}

func (f *fakeSupplicant) event(line string) error {
	f.mu.Lock()
	mon := f.monitor
	f.mu.Unlock()
	if mon == nil {
		return errors.New("no monitor attached")
	}
	_, err := f.conn.WriteToUnix([]byte(line), mon)
	return err
}

func TestUnixRequestAndEvents(t *testing.T) {
	f, path := newFakeSupplicant(t)

	c, err := DialUnix(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := c.Request(ctx, "PING")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "PONG" {
		t.Errorf("reply = %q, want PONG", reply)
	}

	if _, err := c.Request(ctx, "BOGUS"); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("err = %v, want ErrCommandFailed", err)
	}

	got := make(chan string, 1)
	c.OnEvent(func(line string) { got <- line })
	if err := f.event("<3>P2P-DEVICE-LOST p2p_dev_addr=fa:7b:7a:42:02:13"); err != nil {
		t.Fatal(err)
	}
	select {
	case line := <-got:
		if !strings.HasPrefix(line, "<3>P2P-DEVICE-LOST") {
			t.Errorf("event = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnixRequestContextCancel(t *testing.T) {
	_, path := newFakeSupplicant(t)
	c, err := DialUnix(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.Request(ctx, "SLOW"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestUnixAttachRejected(t *testing.T) {
	f, path := newFakeSupplicant(t)
	f.mu.Lock()
	f.attach = "FAIL\n"
	f.mu.Unlock()

	if _, err := DialUnix(path, testLogger()); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("err = %v, want ErrCommandFailed", err)
	}
}

func TestUnixClosed(t *testing.T) {
	_, path := newFakeSupplicant(t)
	c, err := DialUnix(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Request(context.Background(), "PING"); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
