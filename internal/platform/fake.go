package platform

import (
	"io"
	"sync"
	"time"
)

// FakeClock is a manually-advanced clock for deterministic timeout tests.
type FakeClock struct {
	mu     sync.Mutex
	millis uint32
}

func NewFakeClock() *FakeClock { return &FakeClock{} }

func (c *FakeClock) MillisNow() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.millis
}

// Sleep advances the fake clock instead of blocking.
func (c *FakeClock) Sleep(d time.Duration) {
	c.Advance(d)
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.millis += uint32(d.Milliseconds())
}

// FakeUDPSocket is an in-memory UDP endpoint: writes go to Sent,
// reads are served from an Inbox filled by the test.
type FakeUDPSocket struct {
	mu     sync.Mutex
	Sent   [][]byte
	Inbox  [][]byte
	closed bool
}

func NewFakeUDPSocket() *FakeUDPSocket { return &FakeUDPSocket{} }

func (s *FakeUDPSocket) SendTo(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	s.Sent = append(s.Sent, cp)
	return len(b), nil
}

func (s *FakeUDPSocket) Push(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	s.Inbox = append(s.Inbox, cp)
}

func (s *FakeUDPSocket) RecvFrom(b []byte, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Inbox) == 0 {
		return 0, nil
	}
	next := s.Inbox[0]
	s.Inbox = s.Inbox[1:]
	n := copy(b, next)
	return n, nil
}

func (s *FakeUDPSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FakeTCPSocket is an in-memory TCP endpoint with the same tri-state
// recv contract as the real one, including a Closed flag that makes
// Recv return io.EOF the way a peer-closed socket does.
type FakeTCPSocket struct {
	mu     sync.Mutex
	Sent   [][]byte
	Inbox  []byte
	Closed bool

	// OnSend, when set, observes every payload after it is recorded.
	// The callback runs outside the lock and may Push bytes back into
	// the inbox, acting as a synchronous scripted peer.
	OnSend func(b []byte)
}

func NewFakeTCPSocket() *FakeTCPSocket { return &FakeTCPSocket{} }

func (s *FakeTCPSocket) Send(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	s.mu.Lock()
	s.Sent = append(s.Sent, cp)
	cb := s.OnSend
	s.mu.Unlock()
	if cb != nil {
		cb(cp)
	}
	return len(b), nil
}

// PushString appends to the inbound byte stream, simulating a partial
// or full line arriving on the wire.
func (s *FakeTCPSocket) PushString(str string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inbox = append(s.Inbox, []byte(str)...)
}

func (s *FakeTCPSocket) Recv(b []byte, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Inbox) == 0 {
		if s.Closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(b, s.Inbox)
	s.Inbox = s.Inbox[n:]
	return n, nil
}

func (s *FakeTCPSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// FakeDialer hands out pre-built fake sockets instead of dialing.
type FakeDialer struct {
	UDP *FakeUDPSocket
	TCP *FakeTCPSocket
}

func (d *FakeDialer) DialUDP(host string, port int) (UDPSocket, error) {
	if d.UDP == nil {
		d.UDP = NewFakeUDPSocket()
	}
	return d.UDP, nil
}

func (d *FakeDialer) DialTCP(host string, port int, timeout time.Duration) (TCPSocket, error) {
	if d.TCP == nil {
		d.TCP = NewFakeTCPSocket()
	}
	return d.TCP, nil
}
