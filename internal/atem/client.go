package atem

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/4throck/switcher-client/internal/platform"
)

const (
	silenceTimeout    = 5000 * time.Millisecond
	keepaliveInterval = 1000 * time.Millisecond
	recvPollTimeout   = 5 * time.Millisecond
)

// Callbacks mirrors the facade's callback set. Backends know nothing
// about user callbacks beyond this raw shape — the facade adapts it
// into deduplicated tally events.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnTallyChanged func(packed uint64)
	OnStateChanged func(name string)
}

// Client is the ATEM protocol client: UDP reliability, command
// parser, and state store.
type Client struct {
	host string
	port int

	dialer platform.Dialer
	clock  platform.Clock
	sock   platform.UDPSocket

	state *State
	cb    Callbacks
	debug bool
}

func New(dialer platform.Dialer, clock platform.Clock, host string, port int) *Client {
	return &Client{
		dialer: dialer,
		clock:  clock,
		host:   host,
		port:   port,
		state:  newState(),
	}
}

func (c *Client) SetCallbacks(cb Callbacks) { c.cb = cb }
func (c *Client) SetDebug(v bool)           { c.debug = v }
func (c *Client) IsConnected() bool         { return c.state.Connected }
func (c *Client) IsInitialized() bool       { return c.state.Initialized }

func (c *Client) logf(format string, args ...interface{}) {
	if c.debug {
		log.Printf("[atem] "+format, args...)
	}
}

// ErrConnectTimeout is returned by Connect when no Hello reply arrives
// within the caller's budget.
var ErrConnectTimeout = errors.New("atem: connect timeout")

// Connect performs the blocking Hello/ACK handshake.
func (c *Client) Connect(timeout time.Duration) error {
	if err := c.dial(); err != nil {
		return err
	}

	deadline := c.clock.MillisNow() + uint32(timeout.Milliseconds())
	for c.clock.MillisNow() < deadline {
		if c.tryHandshake() {
			return nil
		}
		c.clock.Sleep(time.Millisecond)
	}
	return ErrConnectTimeout
}

// ConnectStart begins a nonblocking connect: dials and sends Hello.
func (c *Client) ConnectStart() error {
	return c.dial()
}

// ConnectCheck polls for the Hello reply without blocking. Returns
// (true, nil) once connected, (false, nil) while still waiting.
func (c *Client) ConnectCheck() (bool, error) {
	if c.state.Connected {
		return true, nil
	}
	return c.tryHandshake(), nil
}

func (c *Client) dial() error {
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	sock, err := c.dialer.DialUDP(c.host, c.port)
	if err != nil {
		return fmt.Errorf("atem: dial failed: %w", err)
	}
	c.sock = sock
	c.state = newState()
	if _, err := c.sock.SendTo(helloPacket()); err != nil {
		return fmt.Errorf("atem: hello send failed: %w", err)
	}
	return nil
}

// tryHandshake performs one nonblocking receive attempt, completing
// the handshake if a Hello-flagged packet arrives.
func (c *Client) tryHandshake() bool {
	buf := make([]byte, 2048)
	n, err := c.sock.RecvFrom(buf, recvPollTimeout)
	if err != nil || n < headerLen {
		return false
	}
	h := decodeHeader(buf[:n])
	if h.flags&flagHello == 0 {
		return false
	}

	c.state.SessionID = h.session
	c.state.LastReceivedPacketID = h.packetID
	c.state.Connected = true
	c.state.LastContactMillis = c.clock.MillisNow()

	if _, err := c.sock.SendTo(ackPacket(h.session, h.packetID)); err != nil {
		c.logf("ack send failed: %v", err)
	}
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
	return true
}

// Disconnect closes the socket and resets to a fresh, reusable state.
func (c *Client) Disconnect() {
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.state = newState()
}

// Loop drains the socket, updates state, handles keepalives and the
// silence timeout. A socket error or silence timeout disconnects,
// fires OnDisconnected once, and returns an error; every later call
// returns a not-connected error until the client connects again.
func (c *Client) Loop() error {
	if c.sock == nil {
		return errors.New("atem: not connected")
	}

	buf := make([]byte, 2048)
	for {
		n, err := c.sock.RecvFrom(buf, recvPollTimeout)
		if err != nil {
			return c.fail(fmt.Errorf("atem: socket error: %w", err))
		}
		if n == 0 {
			break
		}
		c.handlePacket(buf[:n])
	}

	now := c.clock.MillisNow()
	if c.state.Connected && now-c.state.LastContactMillis > uint32(silenceTimeout.Milliseconds()) {
		return c.fail(errors.New("atem: silence timeout"))
	}

	if c.state.Initialized && now-c.state.LastKeepaliveMillis >= uint32(keepaliveInterval.Milliseconds()) {
		c.sendKeepalive()
		c.state.LastKeepaliveMillis = now
	}

	if c.state.Initialized && c.state.tallyNeedsUpdate {
		packed := c.state.recomputeTally()
		if c.cb.OnTallyChanged != nil {
			c.cb.OnTallyChanged(packed)
		}
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

// handlePacket validates, ACKs, dedupes, and parses one inbound packet.
func (c *Client) handlePacket(raw []byte) {
	if len(raw) < headerLen {
		return // malformed — last-contact not updated
	}
	h := decodeHeader(raw)

	if c.state.SessionID == 0 && h.session != 0 {
		c.state.SessionID = h.session
	} else if c.state.SessionID != 0 && h.session != 0 && h.session != c.state.SessionID {
		return // cross-session packet dropped silently
	}

	if h.flags&flagACKRequest != 0 && c.state.SessionID != 0 {
		c.sock.SendTo(ackPacket(c.state.SessionID, h.packetID))
	}

	c.state.LastContactMillis = c.clock.MillisNow()

	skipParse := false
	if c.state.Initialized {
		if h.packetID <= c.state.LastReceivedPacketID {
			skipParse = true
		} else {
			c.state.LastReceivedPacketID = h.packetID
			if h.flags&flagResend != 0 {
				skipParse = true
			}
		}
	} else {
		c.state.LastReceivedPacketID = h.packetID
	}

	if skipParse {
		return
	}

	if len(raw) > headerLen {
		for _, cmd := range parseCommands(raw[headerLen:]) {
			c.applyCommand(cmd.name, cmd.payload)
			// Commands arriving before InCm suppress user callbacks;
			// InCm itself flips Initialized and so is reported.
			if c.state.Initialized && c.cb.OnStateChanged != nil {
				c.cb.OnStateChanged(cmd.name)
			}
		}
	}
}

func (c *Client) sendKeepalive() {
	pkt := encodeHeader(header{flags: flagACK, length: headerLen, session: c.state.SessionID, ackID: c.state.LastReceivedPacketID})
	if _, err := c.sock.SendTo(pkt); err != nil {
		c.logf("keepalive send failed: %v", err)
	}
}

// sendCommand assigns the next local packet id and transmits one
// command with flags=ACK_REQUEST.
func (c *Client) sendCommand(cmdBytes []byte) error {
	if !c.state.Initialized {
		return errors.New("atem: not initialized")
	}
	c.state.LocalPacketID++
	total := headerLen + len(cmdBytes)
	pkt := encodeHeader(header{
		flags:    flagACKRequest,
		length:   uint16(total),
		session:  c.state.SessionID,
		packetID: c.state.LocalPacketID,
	})
	pkt = append(pkt, cmdBytes...)
	_, err := c.sock.SendTo(pkt)
	return err
}

// --- control operations ---

func (c *Client) Cut(me uint8) error  { return c.sendCommand(cmdDCut(me)) }
func (c *Client) Auto(me uint8) error { return c.sendCommand(cmdDAut(me)) }

func (c *Client) SetProgram(me uint8, source uint16) error {
	return c.sendCommand(cmdCPgI(me, source))
}

func (c *Client) SetPreview(me uint8, source uint16) error {
	return c.sendCommand(cmdCPvI(me, source))
}

func (c *Client) SetDSKOnAir(dsk uint8, onAir bool) error {
	return c.sendCommand(cmdCDsL(dsk, onAir))
}

func (c *Client) AutoDSK(dsk uint8) error { return c.sendCommand(cmdDDsA(dsk)) }

func (c *Client) SetDSKTie(dsk uint8, tie bool) error {
	return c.sendCommand(cmdCDsT(dsk, tie))
}

func (c *Client) SetKeyerOnAir(me, keyer uint8, onAir bool) error {
	return c.sendCommand(cmdCKOn(me, keyer, onAir))
}

func (c *Client) SetNextTransition(me uint8, bkgd bool, nextKeyMask uint8) error {
	return c.sendCommand(cmdCTTp(me, bkgd, nextKeyMask))
}

// --- read access for the facade ---

func (c *Client) State() *State { return c.state }

func (c *Client) SetCameraLimit(limit uint8) {
	c.state.userCameraLimit = limit
	c.state.recomputeCameraLimit()
}

func (c *Client) CameraLimit() uint8        { return c.state.userCameraLimit }
func (c *Client) EffectiveCameraLimit() int { return c.state.effectiveCameraLimit }

func (c *Client) SetCameraOffset(offset uint8) { c.state.cameraOffset = offset }
func (c *Client) CameraOffset() uint8          { return c.state.cameraOffset }
