package obs

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/4throck/switcher-client/internal/jsonlite"
	"github.com/4throck/switcher-client/internal/platform"
	"github.com/4throck/switcher-client/internal/ws"
)

const (
	silenceTimeout    = 5000 * time.Millisecond
	keepaliveInterval = 10000 * time.Millisecond
	recvPollTimeout   = 5 * time.Millisecond
	handshakeTimeout  = 10 * time.Second
	wsPath            = "/"
)

// ErrConnectTimeout is returned by Connect when the Hello/Identified
// exchange does not complete within the caller's budget.
var ErrConnectTimeout = errors.New("obs: connect timeout")

// Callbacks mirrors the facade's callback set; see atem.Callbacks.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnTallyChanged func(packed uint64)
	OnStateChanged func(name string)
	// OnSceneChanged fires whenever the scene table is refreshed.
	OnSceneChanged func()
}

// Client is the OBS Studio protocol client. All I/O goes through the
// platform socket the dialer hands out; the WebSocket framing on top
// of it is the internal ws package.
type Client struct {
	host     string
	port     int
	password string

	dialer platform.Dialer
	clock  platform.Clock
	conn   *ws.Conn

	state *State
	cb    Callbacks
	debug bool

	lastContactMillis   uint32
	lastKeepaliveMillis uint32
}

func New(dialer platform.Dialer, clock platform.Clock, host string, port int, password string) *Client {
	return &Client{
		dialer:   dialer,
		clock:    clock,
		host:     host,
		port:     port,
		password: password,
		state:    newState(),
	}
}

func (c *Client) SetCallbacks(cb Callbacks) { c.cb = cb }
func (c *Client) SetDebug(v bool)           { c.debug = v }
func (c *Client) IsConnected() bool         { return c.state.Connected }
func (c *Client) IsInitialized() bool       { return c.state.Initialized }

func (c *Client) logf(format string, args ...interface{}) {
	if c.debug {
		log.Printf("[obs] "+format, args...)
	}
}

// Connect dials TCP, runs the WebSocket upgrade, the Hello/Identify/
// Identified exchange, and requests the initial scene list and studio
// mode state. A prior connection, if any, is closed first.
func (c *Client) Connect(timeout time.Duration) error {
	if c.conn != nil {
		c.Disconnect()
	}

	sock, err := c.dialer.DialTCP(c.host, c.port, timeout)
	if err != nil {
		return fmt.Errorf("obs: dial failed: %w", err)
	}
	c.conn = ws.NewConn(sock, c.clock)
	c.state = newState()

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if err := c.conn.Handshake(addr, wsPath, timeout); err != nil {
		c.closeTransport()
		return fmt.Errorf("obs: websocket handshake failed: %w", err)
	}
	c.state.Connected = true
	c.lastContactMillis = c.clock.MillisNow()
	c.lastKeepaliveMillis = c.lastContactMillis

	if err := c.identify(timeout); err != nil {
		c.closeTransport()
		c.state = newState()
		return err
	}
	c.state.Authenticated = true
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}

	if err := c.sendRequest("GetSceneList", nil); err != nil {
		c.logf("GetSceneList send failed: %v", err)
	}
	if err := c.sendRequest("GetStudioModeEnabled", nil); err != nil {
		c.logf("GetStudioModeEnabled send failed: %v", err)
	}

	return nil
}

// ConnectStart runs the dial plus the full Identify exchange, bounded
// by handshakeTimeout; ConnectCheck then reports the outcome.
func (c *Client) ConnectStart() error { return c.Connect(handshakeTimeout) }

func (c *Client) ConnectCheck() (bool, error) {
	return c.state.Connected, nil
}

// identify waits for the server Hello, answers with Identify (carrying
// the auth string when the Hello holds a challenge), and waits for
// Identified.
func (c *Client) identify(timeout time.Duration) error {
	hello, err := c.awaitOp(opHello, timeout)
	if err != nil {
		return fmt.Errorf("obs: no Hello: %w", err)
	}

	auth := ""
	if a := hello.Get("d").Get("authentication"); a != nil {
		auth = generateAuthString(c.password, a.Get("salt").Str(), a.Get("challenge").Str())
	}

	msg, err := buildIdentify(auth)
	if err != nil {
		return fmt.Errorf("obs: build Identify: %w", err)
	}
	if err := c.conn.SendText(msg); err != nil {
		return fmt.Errorf("obs: send Identify: %w", err)
	}

	if _, err := c.awaitOp(opIdentified, timeout); err != nil {
		return fmt.Errorf("obs: authentication failed: %w", err)
	}
	return nil
}

// awaitOp polls until a message with the wanted opcode arrives. Other
// messages arriving first are dropped (nothing else is expected before
// Identified).
func (c *Client) awaitOp(want int, timeout time.Duration) (*jsonlite.Value, error) {
	deadline := c.clock.MillisNow() + uint32(timeout.Milliseconds())
	for {
		op, payload, ok, err := c.conn.Poll(recvPollTimeout)
		if err != nil {
			return nil, err
		}
		if ok {
			if op == ws.OpText {
				v, err := jsonlite.Parse(payload)
				if err == nil && v.Get("op").Int() == want {
					return v, nil
				}
			}
			continue
		}
		if c.clock.MillisNow() >= deadline {
			return nil, ErrConnectTimeout
		}
		c.clock.Sleep(time.Millisecond)
	}
}

func (c *Client) closeTransport() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Disconnect() {
	c.closeTransport()
	c.state = newState()
}

// Loop drains one nonblocking read cycle, dispatches Events and
// RequestResponses, and paces keepalive pings. A received pong counts
// as contact but carries no message.
func (c *Client) Loop() error {
	if c.conn == nil {
		return errors.New("obs: not connected")
	}

	for {
		op, payload, ok, err := c.conn.Poll(recvPollTimeout)
		if err != nil {
			return c.fail(fmt.Errorf("obs: socket error: %w", err))
		}
		if !ok {
			break
		}
		c.lastContactMillis = c.clock.MillisNow()
		if op == ws.OpText {
			c.dispatch(payload)
		}
	}

	now := c.clock.MillisNow()
	if c.state.Connected && now-c.lastContactMillis > uint32(silenceTimeout.Milliseconds()) {
		return c.fail(errors.New("obs: silence timeout"))
	}

	if c.state.Authenticated && now-c.lastKeepaliveMillis >= uint32(keepaliveInterval.Milliseconds()) {
		if err := c.conn.Ping(); err != nil {
			return c.fail(fmt.Errorf("obs: keepalive failed: %w", err))
		}
		c.lastKeepaliveMillis = now
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

func (c *Client) dispatch(raw []byte) {
	v, err := jsonlite.Parse(raw)
	if err != nil {
		c.logf("malformed message: %v", err)
		return
	}

	d := v.Get("d")
	switch v.Get("op").Int() {
	case opEvent:
		c.handleEvent(d)
	case opRequestResponse:
		c.handleResponse(d)
	}
}

func (c *Client) handleResponse(d *jsonlite.Value) {
	switch d.Get("requestType").Str() {
	case "GetSceneList":
		c.applySceneList(d.Get("responseData"))
	case "GetStudioModeEnabled":
		c.state.StudioMode = d.Get("responseData").Get("studioModeEnabled").Bool()
		if c.cb.OnStateChanged != nil {
			c.cb.OnStateChanged("StudioModeEnabled")
		}
	}
}

// applySceneList stores the mirrored scene table. OBS returns scenes
// in reverse order; reverse them back into display order, then resolve
// program/preview indices by name.
func (c *Client) applySceneList(rd *jsonlite.Value) {
	scenes := rd.Get("scenes")
	total := scenes.Len()
	n := total
	if n > maxScenes {
		n = maxScenes
	}
	for i := 0; i < n; i++ {
		name := scenes.Index(total - 1 - i).Get("sceneName").Str()
		c.state.Scenes[i] = Scene{Name: name}
	}
	c.state.NumScenes = n
	c.state.recomputeCameraLimit()

	c.state.ProgramName = rd.Get("currentProgramSceneName").Str()
	c.state.ProgramIndex = c.state.sceneIndexByName(c.state.ProgramName)
	c.state.PreviewName = rd.Get("currentPreviewSceneName").Str()
	c.state.PreviewIndex = c.state.sceneIndexByName(c.state.PreviewName)

	c.state.Initialized = true
	c.fireTally()
	if c.cb.OnSceneChanged != nil {
		c.cb.OnSceneChanged()
	}
}

func (c *Client) handleEvent(d *jsonlite.Value) {
	ed := d.Get("eventData")
	switch d.Get("eventType").Str() {
	case "CurrentProgramSceneChanged":
		c.state.ProgramName = ed.Get("sceneName").Str()
		c.state.ProgramIndex = c.state.sceneIndexByName(c.state.ProgramName)
		c.fireTally()

	case "CurrentPreviewSceneChanged":
		c.state.PreviewName = ed.Get("sceneName").Str()
		c.state.PreviewIndex = c.state.sceneIndexByName(c.state.PreviewName)
		c.fireTally()

	case "StudioModeStateChanged":
		enabled := ed.Get("studioModeEnabled").Bool()
		c.state.StudioMode = enabled
		if !enabled {
			c.state.PreviewIndex = -1
			c.state.PreviewName = ""
		}
		c.fireTally()
		if c.cb.OnStateChanged != nil {
			c.cb.OnStateChanged("StudioModeStateChanged")
		}

	case "SceneListChanged":
		if err := c.sendRequest("GetSceneList", nil); err != nil {
			c.logf("re-request GetSceneList failed: %v", err)
		}
	}
}

func (c *Client) fireTally() {
	packed := c.state.recomputeTally()
	if c.cb.OnTallyChanged != nil {
		c.cb.OnTallyChanged(packed)
	}
}

func (c *Client) nextRequestID() string {
	c.state.nextRequestID++
	return strconv.FormatUint(uint64(c.state.nextRequestID), 10)
}

func (c *Client) sendRequest(requestType string, data func(*jsonlite.Builder)) error {
	if c.conn == nil {
		return errors.New("obs: not connected")
	}
	msg, err := buildRequest(requestType, c.nextRequestID(), data)
	if err != nil {
		return err
	}
	return c.conn.SendText(msg)
}

// --- control operations ---

// ErrSceneIndex reports a 1-based scene index outside the mirrored
// scene table.
var ErrSceneIndex = errors.New("obs: scene index out of range")

// SetProgramScene sets the program scene by 1-based facade index,
// translating to the 0-based scene table internally.
func (c *Client) SetProgramScene(index int) error {
	name, err := c.sceneNameFor1Based(index)
	if err != nil {
		return err
	}
	return c.sendRequest("SetCurrentProgramScene", func(b *jsonlite.Builder) {
		b.Key("sceneName").String(name)
	})
}

func (c *Client) SetPreviewScene(index int) error {
	name, err := c.sceneNameFor1Based(index)
	if err != nil {
		return err
	}
	return c.sendRequest("SetCurrentPreviewScene", func(b *jsonlite.Builder) {
		b.Key("sceneName").String(name)
	})
}

func (c *Client) sceneNameFor1Based(index int) (string, error) {
	i := index - 1
	if i < 0 || i >= c.state.NumScenes {
		return "", fmt.Errorf("%w: %d", ErrSceneIndex, index)
	}
	return c.state.Scenes[i].Name, nil
}

func (c *Client) SetStudioMode(enabled bool) error {
	err := c.sendRequest("SetStudioModeEnabled", func(b *jsonlite.Builder) {
		b.Key("studioModeEnabled").Bool(enabled)
	})
	if err != nil {
		return err
	}
	return c.sendRequest("GetStudioModeEnabled", nil)
}

// ErrNotStudioMode is returned by Auto when studio mode is disabled.
var ErrNotStudioMode = errors.New("obs: not in studio mode")

// Auto triggers the studio-mode transition; fails if not in studio mode.
func (c *Client) Auto() error {
	if !c.state.StudioMode {
		return ErrNotStudioMode
	}
	return c.sendRequest("TriggerStudioModeTransition", nil)
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
