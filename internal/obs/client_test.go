package obs

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/4throck/switcher-client/internal/jsonlite"
	"github.com/4throck/switcher-client/internal/platform"
)

func TestGenerateAuthStringMatchesReferenceAlgorithm(t *testing.T) {
	got := generateAuthString("secret", "S", "C")

	h1 := sha256.Sum256([]byte("secretS"))
	b64Secret := base64.StdEncoding.EncodeToString(h1[:])
	h2 := sha256.Sum256([]byte(b64Secret + "C"))
	want := base64.StdEncoding.EncodeToString(h2[:])

	if got != want {
		t.Fatalf("generateAuthString = %q, want %q", got, want)
	}
}

// scriptedServer emulates an obs-websocket v5 server on the far side
// of a FakeTCPSocket: it answers the HTTP upgrade, pushes Hello, and
// responds synchronously to every Request the client sends, recording
// their types.
type scriptedServer struct {
	t           *testing.T
	sock        *platform.FakeTCPSocket
	requireAuth bool

	pending     []byte // client bytes not yet consumed
	upgraded    bool
	identify    *jsonlite.Value
	requests    []string
	lastRequest *jsonlite.Value
}

func newScriptedServer(t *testing.T, sock *platform.FakeTCPSocket, requireAuth bool) *scriptedServer {
	s := &scriptedServer{t: t, sock: sock, requireAuth: requireAuth}
	sock.OnSend = s.onSend
	return s
}

func (s *scriptedServer) onSend(b []byte) {
	s.pending = append(s.pending, b...)

	if !s.upgraded {
		i := bytes.Index(s.pending, []byte("\r\n\r\n"))
		if i < 0 {
			return
		}
		head := string(s.pending[:i])
		s.pending = s.pending[i+4:]
		s.acceptUpgrade(head)
	}

	for {
		payload, ok := s.nextClientText()
		if !ok {
			return
		}
		v, err := jsonlite.Parse(payload)
		if err != nil {
			s.t.Errorf("server got malformed JSON %q: %v", payload, err)
			return
		}
		switch v.Get("op").Int() {
		case opIdentify:
			s.identify = v
			s.push(`{"op":2,"d":{"negotiatedRpcVersion":1}}`)
		case opRequest:
			rt := v.Get("d").Get("requestType").Str()
			rid := v.Get("d").Get("requestId").Str()
			s.requests = append(s.requests, rt)
			s.lastRequest = v
			s.respond(rt, rid)
		}
	}
}

func (s *scriptedServer) acceptUpgrade(head string) {
	key := ""
	for _, line := range strings.Split(head, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if found && strings.EqualFold(strings.TrimSpace(name), "Sec-WebSocket-Key") {
			key = strings.TrimSpace(value)
		}
	}
	if key == "" {
		s.t.Errorf("upgrade request missing Sec-WebSocket-Key: %q", head)
		return
	}
	sum := sha1.Sum([]byte(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
	accept := base64.StdEncoding.EncodeToString(sum[:])
	s.sock.PushString("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n")
	s.upgraded = true

	if s.requireAuth {
		s.push(`{"op":0,"d":{"obsWebSocketVersion":"5.0.0","rpcVersion":1,` +
			`"authentication":{"challenge":"C","salt":"S"}}}`)
	} else {
		s.push(`{"op":0,"d":{"obsWebSocketVersion":"5.0.0","rpcVersion":1}}`)
	}
}

// nextClientText consumes one complete masked client frame, skipping
// control frames, and returns its unmasked text payload.
func (s *scriptedServer) nextClientText() ([]byte, bool) {
	for {
		d := s.pending
		if len(d) < 2 {
			return nil, false
		}
		op := d[0] & 0x0F
		masked := d[1]&0x80 != 0
		plen := int(d[1] & 0x7F)
		off := 2
		switch plen {
		case 126:
			if len(d) < 4 {
				return nil, false
			}
			plen = int(binary.BigEndian.Uint16(d[2:4]))
			off = 4
		case 127:
			if len(d) < 10 {
				return nil, false
			}
			plen = int(binary.BigEndian.Uint64(d[2:10]))
			off = 10
		}
		maskOff := off
		if masked {
			off += 4
		}
		if len(d) < off+plen {
			return nil, false
		}
		payload := make([]byte, plen)
		copy(payload, d[off:off+plen])
		if masked {
			mask := d[maskOff : maskOff+4]
			for i := range payload {
				payload[i] ^= mask[i&3]
			}
		}
		s.pending = d[off+plen:]
		if op == 0x1 {
			return payload, true
		}
		// ping or close from the client, nothing to answer in tests
	}
}

// push wraps msg in an unmasked server text frame and queues it.
func (s *scriptedServer) push(msg string) {
	p := []byte(msg)
	var hdr []byte
	if len(p) < 126 {
		hdr = []byte{0x81, byte(len(p))}
	} else {
		hdr = []byte{0x81, 126, byte(len(p) >> 8), byte(len(p))}
	}
	s.sock.PushString(string(hdr) + msg)
}

func (s *scriptedServer) respond(requestType, requestID string) {
	switch requestType {
	case "GetSceneList":
		s.push(`{"op":7,"d":{"requestType":"GetSceneList","requestId":"` + requestID + `",` +
			`"requestStatus":{"result":true},"responseData":{` +
			`"scenes":[{"sceneName":"C"},{"sceneName":"B"},{"sceneName":"A"}],` +
			`"currentProgramSceneName":"A","currentPreviewSceneName":"B"}}}`)
	case "GetStudioModeEnabled":
		s.push(`{"op":7,"d":{"requestType":"GetStudioModeEnabled","requestId":"` + requestID + `",` +
			`"requestStatus":{"result":true},"responseData":{"studioModeEnabled":true}}}`)
	default:
		s.push(`{"op":7,"d":{"requestType":"` + requestType + `","requestId":"` + requestID + `",` +
			`"requestStatus":{"result":true},"responseData":{}}}`)
	}
}

func (s *scriptedServer) requestCount(requestType string) int {
	n := 0
	for _, r := range s.requests {
		if r == requestType {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T, requireAuth bool, password string) (*Client, *scriptedServer, *platform.FakeClock) {
	t.Helper()
	sock := platform.NewFakeTCPSocket()
	srv := newScriptedServer(t, sock, requireAuth)
	dialer := &platform.FakeDialer{TCP: sock}
	clock := platform.NewFakeClock()
	c := New(dialer, clock, "127.0.0.1", 4455, password)
	if err := c.Connect(2 * time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c, srv, clock
}

func TestIdentifyOmitsAuthenticationWhenHelloHasNone(t *testing.T) {
	c, srv, _ := newTestClient(t, false, "")

	if srv.identify == nil {
		t.Fatalf("server never received Identify")
	}
	if srv.identify.Get("d").Get("authentication") != nil {
		t.Fatalf("Identify should omit the authentication member")
	}
	if got := srv.identify.Get("d").Get("eventSubscriptions").Int(); got != eventSubscriptions {
		t.Fatalf("eventSubscriptions = %d, want %d", got, eventSubscriptions)
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected after Identified")
	}
}

func TestAuthHandshakeAndInitialRequestsAppearOnce(t *testing.T) {
	c, srv, _ := newTestClient(t, true, "secret")

	auth := srv.identify.Get("d").Get("authentication").Str()
	if want := generateAuthString("secret", "S", "C"); auth != want {
		t.Fatalf("Identify auth = %q, want %q", auth, want)
	}

	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if !c.IsInitialized() {
		t.Fatalf("expected initialized after GetSceneList response")
	}
	if n := srv.requestCount("GetSceneList"); n != 1 {
		t.Fatalf("GetSceneList sent %d times, want 1", n)
	}
	if n := srv.requestCount("GetStudioModeEnabled"); n != 1 {
		t.Fatalf("GetStudioModeEnabled sent %d times, want 1", n)
	}
}

func TestSceneListReversedOrderAndTallyPacking(t *testing.T) {
	c, _, _ := newTestClient(t, false, "")

	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}

	s := c.State()
	if !s.Initialized {
		t.Fatalf("expected initialized")
	}
	if s.Scenes[0].Name != "A" || s.Scenes[1].Name != "B" || s.Scenes[2].Name != "C" {
		t.Fatalf("scene order = %v, want [A B C]", s.Scenes[:3])
	}
	if s.ProgramIndex != 0 || s.PreviewIndex != 1 {
		t.Fatalf("program=%d preview=%d, want 0/1", s.ProgramIndex, s.PreviewIndex)
	}
	if !s.StudioMode {
		t.Fatalf("expected studio mode enabled")
	}
	// channel 0 Program, channel 1 Preview
	if want := uint64(0b10_01); s.TallyPacked != want {
		t.Fatalf("TallyPacked = %#b, want %#b", s.TallyPacked, want)
	}
}

func TestSceneListChangedTriggersRefetch(t *testing.T) {
	c, srv, _ := newTestClient(t, false, "")
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}

	srv.push(`{"op":5,"d":{"eventType":"SceneListChanged","eventData":{}}}`)
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if n := srv.requestCount("GetSceneList"); n != 2 {
		t.Fatalf("GetSceneList sent %d times after SceneListChanged, want 2", n)
	}
}

func TestSetProgramSceneSendsSceneNameByIndex(t *testing.T) {
	c, srv, _ := newTestClient(t, false, "")
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}

	if err := c.SetProgramScene(3); err != nil {
		t.Fatalf("SetProgramScene: %v", err)
	}
	if n := srv.requestCount("SetCurrentProgramScene"); n != 1 {
		t.Fatalf("SetCurrentProgramScene sent %d times, want 1", n)
	}
	// Index 3 is 1-based: the third scene in display order is "C". The
	// scripted server parsed the name back out of the masked frame the
	// client built, so this checks the wire content end to end.
	got := srv.lastRequest.Get("d").Get("requestData").Get("sceneName").Str()
	if got != "C" {
		t.Fatalf("sceneName on the wire = %q, want %q", got, "C")
	}
}

func TestSilenceTimeoutDisconnectsOnce(t *testing.T) {
	c, _, clock := newTestClient(t, false, "")
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}

	disconnects := 0
	c.SetCallbacks(Callbacks{OnDisconnected: func() { disconnects++ }})

	clock.Advance(5001 * time.Millisecond)
	if err := c.Loop(); err == nil {
		t.Fatalf("expected Loop to fail after silence timeout")
	}
	if disconnects != 1 {
		t.Fatalf("on_disconnected fired %d times, want 1", disconnects)
	}
	if c.IsConnected() {
		t.Fatalf("expected disconnected state")
	}
}
