// Package atem implements the Blackmagic ATEM UDP protocol client:
// reliable delivery over UDP (session id, packet id, ACK/resend) plus
// the command stream parser and control-command encoder.
package atem

import "encoding/binary"

const (
	headerLen = 12
	helloLen  = 20

	flagACKRequest    uint16 = 0x01
	flagHello         uint16 = 0x02
	flagResend        uint16 = 0x04
	flagRequestResend uint16 = 0x08
	flagACK           uint16 = 0x10
)

// header is the 12-byte ATEM packet header, network byte order.
type header struct {
	flags    uint16
	length   uint16 // payload length including this header
	session  uint16
	ackID    uint16
	packetID uint16
}

func encodeHeader(h header) []byte {
	b := make([]byte, headerLen)
	binary.BigEndian.PutUint16(b[0:2], (h.flags<<11)|(h.length&0x07FF))
	binary.BigEndian.PutUint16(b[2:4], h.session)
	binary.BigEndian.PutUint16(b[4:6], h.ackID)
	binary.BigEndian.PutUint16(b[10:12], h.packetID)
	return b
}

func decodeHeader(b []byte) header {
	word0 := binary.BigEndian.Uint16(b[0:2])
	return header{
		flags:    word0 >> 11,
		length:   word0 & 0x07FF,
		session:  binary.BigEndian.Uint16(b[2:4]),
		ackID:    binary.BigEndian.Uint16(b[4:6]),
		packetID: binary.BigEndian.Uint16(b[10:12]),
	}
}

// helloPacket builds the fixed 20-byte Hello packet.
func helloPacket() []byte {
	b := make([]byte, helloLen)
	copy(b, encodeHeader(header{flags: flagHello, length: helloLen}))
	b[9] = 0x3A
	b[12] = 0x01
	return b
}

// ackPacket builds a 12-byte header-only ACK for the given session and
// packet id. Session 0x1234 ack id 5 encodes as
// [0x80,0x0C, 0x12,0x34, 0x00,0x05, 0,0,0,0, 0,0].
func ackPacket(session, ackID uint16) []byte {
	return encodeHeader(header{flags: flagACK, length: headerLen, session: session, ackID: ackID})
}

// commandHeaderLen is the 8-byte header preceding each command's payload.
const commandHeaderLen = 8

// command is one parsed entry from a command stream.
type command struct {
	name    string
	payload []byte
}

// parseCommands walks the command stream starting at payload (the
// bytes after the 12-byte packet header) and returns each entry.
// Malformed entries stop the walk at the point of failure without
// raising an error — a truncated trailing command is simply dropped.
func parseCommands(payload []byte) []command {
	var out []command
	offset := 0
	for offset+commandHeaderLen <= len(payload) {
		cmdLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
		if cmdLen < commandHeaderLen || offset+cmdLen > len(payload) {
			break
		}
		name := string(payload[offset+4 : offset+8])
		body := payload[offset+commandHeaderLen : offset+cmdLen]
		out = append(out, command{name: name, payload: body})
		offset += cmdLen
	}
	return out
}

// buildCommand wraps a 4-char command name and payload in its 8-byte
// command header, ready to append after a packet header.
func buildCommand(name string, payload []byte) []byte {
	total := commandHeaderLen + len(payload)
	b := make([]byte, total)
	binary.BigEndian.PutUint16(b[0:2], uint16(total))
	copy(b[4:8], name)
	copy(b[8:], payload)
	return b
}
