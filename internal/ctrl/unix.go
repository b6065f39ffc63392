package ctrl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	unixReplyTimeout = 10 * time.Second
	unixAttachWait   = 2 * time.Second
	unixMaxDatagram  = 4096
)

var unixSeq atomic.Uint32

// UnixConn implements Conn over the wpa_ctrl unix datagram protocol: one
// socket for commands, one ATTACHed monitor socket for events.
type UnixConn struct {
	cmd     *net.UnixConn
	monitor *net.UnixConn
	locals  []string
	logger  *slog.Logger

	cmdMu sync.Mutex

	handlerMu sync.RWMutex
	onEvent   func(string)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialUnix connects to the control socket at path and attaches a monitor.
func DialUnix(path string, logger *slog.Logger) (*UnixConn, error) {
	cmd, cmdLocal, err := dialUnixgram(path)
	if err != nil {
		return nil, fmt.Errorf("ctrl: dial %s: %w", path, err)
	}
	monitor, monLocal, err := dialUnixgram(path)
	if err != nil {
		cmd.Close()
		os.Remove(cmdLocal)
		return nil, fmt.Errorf("ctrl: dial monitor %s: %w", path, err)
	}

	c := &UnixConn{
		cmd:     cmd,
		monitor: monitor,
		locals:  []string{cmdLocal, monLocal},
		logger:  logger,
		done:    make(chan struct{}),
	}
	if err := c.attach(); err != nil {
		c.closeSockets()
		return nil, err
	}
	c.wg.Add(1)
	go c.readLoop()
	logger.Info("control interface attached", "path", path)
	return c, nil
}

func dialUnixgram(remote string) (*net.UnixConn, string, error) {
	local := filepath.Join(os.TempDir(), fmt.Sprintf("p2p-home-%d-%d", os.Getpid(), unixSeq.Add(1)))
	os.Remove(local)
	conn, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: local, Net: "unixgram"},
		&net.UnixAddr{Name: remote, Net: "unixgram"})
	if err != nil {
		return nil, "", err
	}
	return conn, local, nil
}

func (c *UnixConn) attach() error {
	if _, err := c.monitor.Write([]byte("ATTACH")); err != nil {
		return fmt.Errorf("ctrl: attach: %w", err)
	}
	buf := make([]byte, unixMaxDatagram)
	c.monitor.SetReadDeadline(time.Now().Add(unixAttachWait))
	defer c.monitor.SetReadDeadline(time.Time{})
	for {
		n, err := c.monitor.Read(buf)
		if err != nil {
			return fmt.Errorf("ctrl: attach: %w", err)
		}
		reply := string(buf[:n])
		if isEventLine(reply) {
			continue
		}
		if _, err := checkReply("ATTACH", reply); err != nil {
			return err
		}
		return nil
	}
}

func (c *UnixConn) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, unixMaxDatagram)
	for {
		n, err := c.monitor.Read(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Error("control monitor read", "err", err)
			select {
			case <-time.After(time.Second):
			case <-c.done:
				return
			}
			continue
		}
		line := string(buf[:n])
		if !isEventLine(line) {
			c.logger.Debug("control monitor reply ignored", "reply", line)
			continue
		}
		c.handlerMu.RLock()
		h := c.onEvent
		c.handlerMu.RUnlock()
		if h != nil {
			h(line)
		}
	}
}

// Request sends cmd and waits for the reply on the command socket.
func (c *UnixConn) Request(ctx context.Context, cmd string) (string, error) {
	select {
	case <-c.done:
		return "", ErrClosed
	default:
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	deadline := time.Now().Add(unixReplyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.cmd.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { c.cmd.SetDeadline(time.Now()) })
	defer stop()

	if _, err := c.cmd.Write([]byte(cmd)); err != nil {
		return "", c.requestErr(ctx, cmd, err)
	}
	buf := make([]byte, unixMaxDatagram)
	for {
		n, err := c.cmd.Read(buf)
		if err != nil {
			return "", c.requestErr(ctx, cmd, err)
		}
		reply := string(buf[:n])
		// The command socket is not attached, but stray events are harmless.
		if isEventLine(reply) {
			continue
		}
		c.logger.Debug("control request", "cmd", commandName(cmd), "reply_len", n)
		return checkReply(cmd, reply)
	}
}

func (c *UnixConn) requestErr(ctx context.Context, cmd string, err error) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ctrl %s: %w", commandName(cmd), ctx.Err())
	}
	// The socket deadline can fire just before the context's own timer.
	if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		return fmt.Errorf("ctrl %s: %w", commandName(cmd), context.DeadlineExceeded)
	}
	return fmt.Errorf("ctrl %s: %w", commandName(cmd), err)
}

func (c *UnixConn) OnEvent(handler func(line string)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onEvent = handler
}

// Close detaches the monitor and removes the local socket files.
func (c *UnixConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.monitor.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		c.monitor.Write([]byte("DETACH"))
		close(c.done)
		err = c.closeSockets()
		c.wg.Wait()
	})
	return err
}

func (c *UnixConn) closeSockets() error {
	err := errors.Join(c.cmd.Close(), c.monitor.Close())
	for _, p := range c.locals {
		os.Remove(p)
	}
	return err
}
