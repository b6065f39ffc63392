package ctrl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	serialSilence      = 300 * time.Millisecond
	serialReplyTimeout = 5 * time.Second
)

// SerialConn implements Conn over a line-oriented supplicant console on a
// UART. Lines with a "<N>" prefix are events, everything else belongs to the
// reply of the request in flight.
type SerialConn struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger

	reqMu   sync.Mutex
	writeMu sync.Mutex

	// replies carries non-event lines while a request is in flight.
	replies chan string
	waiting sync.Mutex
	active  bool

	handlerMu sync.RWMutex
	onEvent   func(string)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenSerial opens the console on portName at baudRate.
func OpenSerial(portName string, baudRate int, logger *slog.Logger) (*SerialConn, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("ctrl: open %s: %w", portName, err)
	}
	// USB CDC ACM adapters want DTR/RTS asserted.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	logger.Info("control console opened", "port", portName, "baud", baudRate)
	return newSerialConn(port, logger), nil
}

func newSerialConn(port io.ReadWriteCloser, logger *slog.Logger) *SerialConn {
	c := &SerialConn{
		port:    port,
		reader:  bufio.NewReader(port),
		logger:  logger,
		replies: make(chan string, 64),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *SerialConn) readLoop() {
	defer c.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-c.done:
			return
		default:
		}

		raw, err := c.reader.ReadString('\n')
		if err != nil && raw == "" {
			select {
			case <-c.done:
				return
			default:
			}
			if err == io.EOF || strings.Contains(err.Error(), "closed") {
				return
			}
			c.logger.Error("control console read", "err", err)
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			if backoff < maxBackoff {
				backoff = min(backoff*2, maxBackoff)
			}
			continue
		}
		backoff = 10 * time.Millisecond
		c.dispatch(raw)
	}
}

func (c *SerialConn) dispatch(raw string) {
	line := strings.TrimRight(raw, "\r\n")
	// Interactive consoles print events after the prompt.
	if strings.HasPrefix(line, "> ") {
		line = line[2:]
	}
	if line == "" {
		return
	}
	if isEventLine(line) {
		c.handlerMu.RLock()
		h := c.onEvent
		c.handlerMu.RUnlock()
		if h != nil {
			h(line)
		}
		return
	}

	c.waiting.Lock()
	active := c.active
	c.waiting.Unlock()
	if !active {
		c.logger.Debug("control console unsolicited line", "line", line)
		return
	}
	select {
	case c.replies <- line:
	default:
		c.logger.Warn("control console reply overflow", "line", line)
	}
}

// Request writes cmd and collects reply lines until OK, FAIL, a bare prompt
// or a short silence after the first line.
func (c *SerialConn) Request(ctx context.Context, cmd string) (string, error) {
	select {
	case <-c.done:
		return "", ErrClosed
	default:
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.setActive(true)
	defer c.setActive(false)
	for len(c.replies) > 0 {
		<-c.replies
	}

	c.writeMu.Lock()
	_, err := io.WriteString(c.port, cmd+"\n")
	c.writeMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("ctrl %s: serial write: %w", commandName(cmd), err)
	}

	timeout := time.NewTimer(serialReplyTimeout)
	defer timeout.Stop()
	silence := time.NewTimer(time.Hour)
	silence.Stop()
	defer silence.Stop()

	var lines []string
	for {
		select {
		case line := <-c.replies:
			if line == cmd {
				continue // echo
			}
			if line == ">" {
				if len(lines) > 0 {
					return checkReply(cmd, strings.Join(lines, "\n"))
				}
				continue
			}
			if line == "FAIL" || line == "UNKNOWN COMMAND" {
				return checkReply(cmd, line)
			}
			lines = append(lines, line)
			if line == "OK" {
				return checkReply(cmd, strings.Join(lines, "\n"))
			}
			silence.Reset(serialSilence)
		case <-silence.C:
			return checkReply(cmd, strings.Join(lines, "\n"))
		case <-timeout.C:
			if len(lines) > 0 {
				return checkReply(cmd, strings.Join(lines, "\n"))
			}
			return "", fmt.Errorf("ctrl %s: no reply within %s", commandName(cmd), serialReplyTimeout)
		case <-ctx.Done():
			return "", fmt.Errorf("ctrl %s: %w", commandName(cmd), ctx.Err())
		case <-c.done:
			return "", ErrClosed
		}
	}
}

func (c *SerialConn) setActive(v bool) {
	c.waiting.Lock()
	c.active = v
	c.waiting.Unlock()
}

func (c *SerialConn) OnEvent(handler func(line string)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onEvent = handler
}

// Close stops the read loop and closes the port.
func (c *SerialConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.port.Close()
		c.wg.Wait()
	})
	return err
}
