// Package obs implements the OBS Studio client: an RFC 6455 WebSocket
// client and a minimal JSON layer carried over the platform socket
// abstraction, speaking the obs-websocket v5 protocol with
// SHA-256/Base64 challenge-response authentication.
package obs

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/4throck/switcher-client/internal/jsonlite"
)

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

// eventSubscriptions bitmask: General(1) | Scenes(4) = 5.
const eventSubscriptions = 0x005

// buildCapacity bounds every outbound message; control requests are
// far smaller than this.
const buildCapacity = 2048

// generateAuthString implements the obs-websocket v5 auth algorithm:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func generateAuthString(password, salt, challenge string) string {
	h1 := sha256.Sum256([]byte(password + salt))
	b64Secret := base64.StdEncoding.EncodeToString(h1[:])

	h2 := sha256.Sum256([]byte(b64Secret + challenge))
	return base64.StdEncoding.EncodeToString(h2[:])
}

// buildIdentify assembles the op-1 Identify message. auth is included
// only when non-empty (the Hello carried an authentication challenge).
func buildIdentify(auth string) ([]byte, error) {
	b := jsonlite.NewBuilder(buildCapacity)
	b.BeginObject().
		Key("op").Int(opIdentify).
		Key("d").BeginObject().
		Key("rpcVersion").Int(1)
	if auth != "" {
		b.Key("authentication").String(auth)
	}
	b.Key("eventSubscriptions").Int(eventSubscriptions).
		EndObject().
		EndObject()
	return b.Bytes()
}

// buildRequest assembles an op-6 Request. data, when non-nil, writes
// the requestData members into an open object.
func buildRequest(requestType, requestID string, data func(*jsonlite.Builder)) ([]byte, error) {
	b := jsonlite.NewBuilder(buildCapacity)
	b.BeginObject().
		Key("op").Int(opRequest).
		Key("d").BeginObject().
		Key("requestType").String(requestType).
		Key("requestId").String(requestID)
	if data != nil {
		b.Key("requestData").BeginObject()
		data(b)
		b.EndObject()
	}
	b.EndObject().EndObject()
	return b.Bytes()
}
