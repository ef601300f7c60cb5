package platform

import (
	"fmt"
	"net"
	"time"
)

var processStart = time.Now()

// RealClock is the wall-clock Clock backing production handles.
type RealClock struct{}

func (RealClock) MillisNow() uint32 {
	return uint32(time.Since(processStart).Milliseconds())
}

func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealDialer opens actual OS sockets via net.
type RealDialer struct{}

func (RealDialer) DialUDP(host string, port int) (UDPSocket, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &realUDPSocket{conn: conn}, nil
}

func (RealDialer) DialTCP(host string, port int, timeout time.Duration) (TCPSocket, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return nil, err
	}
	return &realTCPSocket{conn: conn}, nil
}

type realUDPSocket struct {
	conn *net.UDPConn
}

func (s *realUDPSocket) SendTo(b []byte) (int, error) {
	return s.conn.Write(b)
}

func (s *realUDPSocket) RecvFrom(b []byte, timeout time.Duration) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(b)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (s *realUDPSocket) Close() error { return s.conn.Close() }

type realTCPSocket struct {
	conn net.Conn
}

func (s *realTCPSocket) Send(b []byte) (int, error) {
	return s.conn.Write(b)
}

func (s *realTCPSocket) Recv(b []byte, timeout time.Duration) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(b)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		// A TCP peer close surfaces here as io.EOF — map to the
		// fatal path, never to the "no data" path.
		return 0, err
	}
	return n, nil
}

func (s *realTCPSocket) Close() error { return s.conn.Close() }
