package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/victorarias/resident/internal/protocol"
)

const (
	// pollInterval bounds each blocking read so cancellation is noticed promptly.
	pollInterval = 250 * time.Millisecond
	// maxLineLength caps a single response line.
	maxLineLength = 1 << 20
)

// Addr returns the loopback address for a worker port.
func Addr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// SendOptions tune a single exchange. Zero values pick the defaults.
type SendOptions struct {
	ConnectTimeout time.Duration
	Timeout        time.Duration
	InterruptGrace time.Duration

	// OnLine receives every output line, in order, as it arrives.
	OnLine func(line string)

	// OnInterrupt runs once when ctx is cancelled mid-exchange. The exchange
	// keeps reading afterwards so the worker can unwind.
	OnInterrupt func()
}

func (o SendOptions) withDefaults() SendOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = protocol.DefaultConnectTimeout
	}
	if o.Timeout <= 0 {
		o.Timeout = protocol.DefaultCommandTimeout
	}
	if o.InterruptGrace <= 0 {
		o.InterruptGrace = protocol.DefaultInterruptGrace
	}
	return o
}

// Client talks to one worker. Every call uses its own connection.
type Client struct {
	addr string
}

// New creates a client for addr ("host:port").
func New(addr string) *Client {
	return &Client{addr: addr}
}

// ForPort creates a client for a loopback worker port.
func ForPort(port int) *Client {
	return New(Addr(port))
}

func (c *Client) Addr() string {
	return c.addr
}

// Send submits payload and returns the output lines. A worker-reported
// failure is a *protocol.RemoteError; anything that leaves the outcome
// unknown is a *protocol.TransportError. A cancelled ctx yields
// protocol.ErrInterrupted once the exchange has unwound.
func (c *Client) Send(ctx context.Context, payload string, opts SendOptions) ([]string, error) {
	if err := protocol.ValidatePayload(payload); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, protocol.ErrInterrupted
	}
	opts = opts.withDefaults()

	conn, err := net.DialTimeout("tcp", c.addr, opts.ConnectTimeout)
	if err != nil {
		return nil, &protocol.TransportError{Op: "dial", Addr: c.addr, Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(opts.Timeout)
	conn.SetWriteDeadline(deadline)
	if err := protocol.WriteRequest(conn, payload); err != nil {
		return nil, &protocol.TransportError{Op: "write", Addr: c.addr, Err: err}
	}

	return c.readResponse(ctx, conn, deadline, opts)
}

func (c *Client) readResponse(ctx context.Context, conn net.Conn, deadline time.Time, opts SendOptions) ([]string, error) {
	var (
		dec         protocol.Decoder
		pending     []byte
		chunk       = make([]byte, 4096)
		interrupted bool
		giveUp      time.Time
	)

	for {
		if !interrupted && ctx.Err() != nil {
			interrupted = true
			giveUp = time.Now().Add(opts.InterruptGrace)
			if opts.OnInterrupt != nil {
				opts.OnInterrupt()
			}
		}

		now := time.Now()
		if interrupted && now.After(giveUp) {
			return dec.Output(), protocol.ErrInterrupted
		}
		if now.After(deadline) {
			if interrupted {
				return dec.Output(), protocol.ErrInterrupted
			}
			return dec.Output(), &protocol.TransportError{Op: "read", Addr: c.addr, Err: errTimeout}
		}

		step := now.Add(pollInterval)
		if step.After(deadline) {
			step = deadline
		}
		conn.SetReadDeadline(step)

		n, err := conn.Read(chunk)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := strings.ToValidUTF8(string(pending[:idx]), "�")
				pending = pending[idx+1:]
				if dec.Feed(line, opts.OnLine) {
					if interrupted {
						return dec.Output(), protocol.ErrInterrupted
					}
					return dec.Result()
				}
			}
			if len(pending) > maxLineLength {
				return dec.Output(), &protocol.TransportError{Op: "read", Addr: c.addr, Err: errLineTooLong}
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if interrupted {
				return dec.Output(), protocol.ErrInterrupted
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return dec.Output(), &protocol.TransportError{Op: "read", Addr: c.addr, Err: err}
		}
	}
}

var (
	errTimeout     = errors.New("timed out waiting for response")
	errLineTooLong = fmt.Errorf("response line longer than %d bytes", maxLineLength)
)

// Ping checks that a worker answers the probe command within timeout.
func (c *Client) Ping(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = protocol.DefaultPingTimeout
	}
	out, err := c.Send(context.Background(), protocol.CmdPing, SendOptions{
		ConnectTimeout: timeout,
		Timeout:        timeout,
	})
	if err != nil {
		return err
	}
	for _, line := range out {
		if strings.Contains(line, protocol.PingAck) {
			return nil
		}
	}
	return fmt.Errorf("unexpected reply to %s from %s: %q", protocol.CmdPing, c.addr, strings.Join(out, "\n"))
}

// Quit asks the worker to shut down. The worker may exit before answering,
// so a dropped or silent connection after the request is success; only a
// failure to connect is reported.
func (c *Client) Quit(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = protocol.DefaultQuitTimeout
	}
	_, err := c.Send(context.Background(), protocol.CmdQuit, SendOptions{
		ConnectTimeout: timeout,
		Timeout:        timeout,
	})
	var te *protocol.TransportError
	if errors.As(err, &te) && te.Op == "dial" {
		return err
	}
	return nil
}
