package vmix

import (
	"testing"
	"time"

	"github.com/4throck/switcher-client/internal/platform"
)

func newTestClient() (*Client, *platform.FakeDialer, *platform.FakeClock) {
	dialer := &platform.FakeDialer{TCP: platform.NewFakeTCPSocket()}
	clock := platform.NewFakeClock()
	c := New(dialer, clock, "127.0.0.1", 8099)
	return c, dialer, clock
}

func TestMidLineSplitProducesExactlyOneTallyChange(t *testing.T) {
	c, dialer, _ := newTestClient()
	if err := c.Connect(0); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	changes := 0
	var lastPacked uint64
	c.SetCallbacks(Callbacks{OnTallyChanged: func(p uint64) {
		changes++
		lastPacked = p
	}})

	dialer.TCP.PushString("SUBSCRIBE OK TALLY\r\nTALLY OK 0")
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop 1: %v", err)
	}
	dialer.TCP.PushString("1200\r\n")
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop 2: %v", err)
	}

	if !c.state.Subscribed {
		t.Fatalf("expected subscribed=true")
	}
	if !c.IsInitialized() {
		t.Fatalf("expected IsInitialized to follow Subscribed")
	}
	if changes != 1 {
		t.Fatalf("on_tally_changed fired %d times, want 1", changes)
	}
	if c.state.ProgramInput != 2 || c.state.PreviewInput != 3 {
		t.Fatalf("program=%d preview=%d, want 2/3", c.state.ProgramInput, c.state.PreviewInput)
	}
	if lastPacked != c.state.TallyPacked {
		t.Fatalf("callback packed value %#b did not match final state %#b", lastPacked, c.state.TallyPacked)
	}
}

func TestTallyKeepaliveWireBytes(t *testing.T) {
	c, dialer, clock := newTestClient()
	if err := c.Connect(0); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	clock.Advance(keepaliveInterval)
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}

	last := dialer.TCP.Sent[len(dialer.TCP.Sent)-1]
	want := []byte("TALLY\r\n")
	if string(last) != string(want) {
		t.Fatalf("keepalive bytes = %q, want %q", last, want)
	}
}

func TestUnsubscribeClearsSubscribedFlag(t *testing.T) {
	c, dialer, _ := newTestClient()
	if err := c.Connect(0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dialer.TCP.PushString("SUBSCRIBE OK TALLY\r\n")
	if err := c.Loop(); err != nil {
		t.Fatalf("Loop: %v", err)
	}
	if !c.IsInitialized() {
		t.Fatalf("expected subscribed after SUBSCRIBE OK TALLY")
	}

	if err := c.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if c.IsInitialized() {
		t.Fatalf("expected subscribed=false after unsubscribe")
	}
	last := dialer.TCP.Sent[len(dialer.TCP.Sent)-1]
	if string(last) != "UNSUBSCRIBE TALLY\r\n" {
		t.Fatalf("unsubscribe bytes = %q", last)
	}
}

func TestPeerCloseIsFatalNotSilent(t *testing.T) {
	c, dialer, _ := newTestClient()
	if err := c.Connect(0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	disconnected := 0
	c.SetCallbacks(Callbacks{OnDisconnected: func() { disconnected++ }})

	dialer.TCP.Closed = true
	if err := c.Loop(); err == nil {
		t.Fatalf("expected Loop to fail when the peer closed the connection")
	}
	if disconnected != 1 {
		t.Fatalf("disconnected fired %d times, want 1", disconnected)
	}
}

func TestSilenceTimeout(t *testing.T) {
	c, _, clock := newTestClient()
	if err := c.Connect(0); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	disconnected := 0
	c.SetCallbacks(Callbacks{OnDisconnected: func() { disconnected++ }})

	clock.Advance(5001 * time.Millisecond)
	if err := c.Loop(); err == nil {
		t.Fatalf("expected silence timeout error")
	}
	if disconnected != 1 {
		t.Fatalf("disconnected fired %d times, want 1", disconnected)
	}
}
