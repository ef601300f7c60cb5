// Package vmix implements the vMix line-oriented TCP protocol client
// with TALLY subscription.
package vmix

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/4throck/switcher-client/internal/platform"
	"github.com/4throck/switcher-client/internal/tally"
)

const (
	silenceTimeout    = 5000 * time.Millisecond
	keepaliveInterval = 3000 * time.Millisecond
	recvPollTimeout   = 5 * time.Millisecond
	dialTimeout       = 5 * time.Second
	maxChannels       = 64
)

// Callbacks mirrors the facade's callback set; see atem.Callbacks.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnTallyChanged func(packed uint64)
	OnStateChanged func(name string)
}

// State is the mirrored vMix state.
type State struct {
	Connected  bool
	Subscribed bool

	LastContactMillis   uint32
	LastKeepaliveMillis uint32

	TallyRaw     [maxChannels]uint8
	TallyPacked  uint64
	NumCameras   int
	ProgramInput int
	PreviewInput int

	userCameraLimit      uint8
	cameraOffset         uint8
	effectiveCameraLimit int
}

func newState() *State {
	return &State{effectiveCameraLimit: tally.MaxChannels}
}

func (s *State) recomputeCameraLimit() {
	s.effectiveCameraLimit = tally.EffectiveCameraLimit(s.userCameraLimit, s.NumCameras)
}

// Client is the vMix TCP protocol client.
type Client struct {
	host string
	port int

	dialer platform.Dialer
	clock  platform.Clock
	sock   platform.TCPSocket

	buf   bytes.Buffer
	state *State
	cb    Callbacks
	debug bool
}

func New(dialer platform.Dialer, clock platform.Clock, host string, port int) *Client {
	return &Client{dialer: dialer, clock: clock, host: host, port: port, state: newState()}
}

func (c *Client) SetCallbacks(cb Callbacks) { c.cb = cb }
func (c *Client) SetDebug(v bool)           { c.debug = v }
func (c *Client) IsConnected() bool         { return c.state.Connected }

// IsInitialized reports whether the SUBSCRIBE TALLY handshake has
// completed. A bare TCP connection without the subscription ack does
// not count.
func (c *Client) IsInitialized() bool { return c.state.Subscribed }

func (c *Client) logf(format string, args ...interface{}) {
	if c.debug {
		log.Printf("[vmix] "+format, args...)
	}
}

// Connect dials TCP and sends the TALLY subscription request. A prior
// socket, if any, is closed first so repeated connects stay idempotent.
func (c *Client) Connect(timeout time.Duration) error {
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
		c.buf.Reset()
	}
	sock, err := c.dialer.DialTCP(c.host, c.port, timeout)
	if err != nil {
		return fmt.Errorf("vmix: dial failed: %w", err)
	}
	c.sock = sock
	c.state = newState()
	c.state.Connected = true
	c.state.LastContactMillis = c.clock.MillisNow()

	if _, err := c.sock.Send([]byte("SUBSCRIBE TALLY\r\n")); err != nil {
		return fmt.Errorf("vmix: subscribe send failed: %w", err)
	}
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
	return nil
}

// ConnectStart kicks off the TCP connect and subscription. The dial
// itself is bounded by dialTimeout; ConnectCheck reports the result.
func (c *Client) ConnectStart() error { return c.Connect(dialTimeout) }

func (c *Client) ConnectCheck() (bool, error) { return c.state.Connected, nil }

func (c *Client) Disconnect() {
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.state = newState()
	c.buf.Reset()
}

// Loop drains the socket, splits complete lines, and dispatches them.
func (c *Client) Loop() error {
	if c.sock == nil {
		return errors.New("vmix: not connected")
	}

	chunk := make([]byte, 4096)
	for {
		n, err := c.sock.Recv(chunk, recvPollTimeout)
		if err != nil {
			return c.fail(fmt.Errorf("vmix: socket error: %w", err))
		}
		if n == 0 {
			break
		}
		c.buf.Write(chunk[:n])
		c.state.LastContactMillis = c.clock.MillisNow()
	}

	c.drainLines()

	now := c.clock.MillisNow()
	if c.state.Connected && now-c.state.LastContactMillis > uint32(silenceTimeout.Milliseconds()) {
		return c.fail(errors.New("vmix: silence timeout"))
	}

	if c.state.Connected && now-c.state.LastKeepaliveMillis >= uint32(keepaliveInterval.Milliseconds()) {
		c.sock.Send([]byte("TALLY\r\n"))
		c.state.LastKeepaliveMillis = now
	}

	return nil
}

func (c *Client) fail(err error) error {
	wasConnected := c.state.Connected
	c.Disconnect()
	if wasConnected && c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected()
	}
	return err
}

func (c *Client) drainLines() {
	for {
		data := c.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		line = bytes.TrimSuffix(line, []byte("\r"))
		c.buf.Next(idx + 1)
		c.handleLine(string(line))
	}
}

func (c *Client) handleLine(line string) {
	switch {
	case line == "SUBSCRIBE OK TALLY":
		c.state.Subscribed = true
		if c.cb.OnStateChanged != nil {
			c.cb.OnStateChanged("SUBSCRIBE")
		}

	case len(line) > len("TALLY OK ") && line[:len("TALLY OK ")] == "TALLY OK ":
		digits := line[len("TALLY OK "):]
		c.handleTally(digits)

	default:
		c.logf("unrecognized response: %q", line)
	}
}

func (c *Client) handleTally(digits string) {
	n := len(digits)
	if n > maxChannels {
		n = maxChannels
	}
	c.state.NumCameras = len(digits)
	c.state.recomputeCameraLimit()

	program, preview := 0, 0
	for i := 0; i < n; i++ {
		var v uint8
		switch digits[i] {
		case '1':
			v = 1
		case '2':
			v = 2
		default:
			v = 0
		}
		c.state.TallyRaw[i] = v
		if v == 1 && program == 0 {
			program = i + 1
		}
		if v == 2 && preview == 0 {
			preview = i + 1
		}
	}
	c.state.ProgramInput = program
	c.state.PreviewInput = preview

	packed := c.repack(n)
	if packed != c.state.TallyPacked {
		c.state.TallyPacked = packed
		if c.cb.OnTallyChanged != nil {
			c.cb.OnTallyChanged(packed)
		}
	}
	if c.cb.OnStateChanged != nil {
		c.cb.OnStateChanged("TALLY")
	}
}

func (c *Client) repack(n int) uint64 {
	if n > tally.MaxChannels {
		n = tally.MaxChannels
	}
	var packed uint64
	for i := 0; i < n; i++ {
		packed = tally.Set(packed, i, tally.State(c.state.TallyRaw[i]))
	}
	return packed
}

func (c *Client) State() *State { return c.state }

func (c *Client) SetCameraLimit(limit uint8) {
	c.state.userCameraLimit = limit
	c.state.recomputeCameraLimit()
}

func (c *Client) CameraLimit() uint8        { return c.state.userCameraLimit }
func (c *Client) EffectiveCameraLimit() int { return c.state.effectiveCameraLimit }

func (c *Client) SetCameraOffset(offset uint8) { c.state.cameraOffset = offset }
func (c *Client) CameraOffset() uint8          { return c.state.cameraOffset }

// --- control operations ---

func (c *Client) send(line string) error {
	if c.sock == nil {
		return errors.New("vmix: not connected")
	}
	_, err := c.sock.Send([]byte(line))
	return err
}

func (c *Client) Cut() error  { return c.send("FUNCTION Cut\r\n") }
func (c *Client) Auto() error { return c.send("FUNCTION Fade\r\n") }

func (c *Client) SetPreview(input int) error {
	return c.send(fmt.Sprintf("FUNCTION PreviewInput Input=%d\r\n", input))
}

func (c *Client) SetProgram(input int) error {
	return c.send(fmt.Sprintf("FUNCTION ActiveInput Input=%d\r\n", input))
}

func (c *Client) QuickPlay(input int) error {
	return c.send(fmt.Sprintf("FUNCTION QuickPlay Input=%d\r\n", input))
}

func (c *Client) OverlayIn(k int, input int) error {
	return c.send(fmt.Sprintf("FUNCTION OverlayInput%dIn Input=%d\r\n", k, input))
}

func (c *Client) OverlayOut(k int) error {
	return c.send(fmt.Sprintf("FUNCTION OverlayInput%dOut\r\n", k))
}

// Function sends a generic "FUNCTION <name>[ <params>]" command.
func (c *Client) Function(name, params string) error {
	if params == "" {
		return c.send(fmt.Sprintf("FUNCTION %s\r\n", name))
	}
	return c.send(fmt.Sprintf("FUNCTION %s %s\r\n", name, params))
}

// Unsubscribe cancels the TALLY subscription without dropping the
// connection. Further TALLY OK pushes stop; keepalive polls still run.
func (c *Client) Unsubscribe() error {
	if err := c.send("UNSUBSCRIBE TALLY\r\n"); err != nil {
		return err
	}
	c.state.Subscribed = false
	return nil
}

// Quit asks vMix to close the session from its side.
func (c *Client) Quit() error { return c.send("QUIT\r\n") }
