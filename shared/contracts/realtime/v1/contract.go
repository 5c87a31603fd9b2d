// Package v1 defines the MergeMeet realtime protocol v1 contract.
//
// Frames are flat JSON objects discriminated by a top-level "type" field.
// This package is intentionally stable and dependency-light. It is shared
// between the engine, its consumers, and tooling to keep the wire protocol
// authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
)

// Frame type constants (wire-stable).
const (
	// TypeAuth carries the access token immediately after transport open
	// (client -> server). The token is never embedded in the connection URL.
	TypeAuth = "auth"
	// TypeAuthSuccess acknowledges the handshake (server -> client).
	TypeAuthSuccess = "auth_success"

	// TypePing is the server heartbeat probe; TypePong is the client reply.
	TypePing = "ping"
	TypePong = "pong"

	// TypeChatMessage sends a message into a match (client -> server).
	TypeChatMessage = "chat_message"
	// TypeNewMessage broadcasts an accepted message (server -> client).
	TypeNewMessage = "new_message"

	// TypeTyping carries a typing indicator in both directions.
	TypeTyping = "typing"

	// TypeReadReceipt requests (client -> server) or confirms
	// (server -> client, with read_at) that a message was read.
	TypeReadReceipt = "read_receipt"

	// TypeJoinMatch / TypeLeaveMatch scope server-side fanout to the
	// conversation the client currently has open.
	TypeJoinMatch  = "join_match"
	TypeLeaveMatch = "leave_match"

	// TypeMessageDeleted notifies that a message was removed (server -> client).
	TypeMessageDeleted = "message_deleted"

	// TypeError is a generic server error frame.
	TypeError = "error"
)

// KnownTypes is the set of frame types this protocol revision understands.
// Frames outside this set are silently ignored by the dispatcher; new server
// frame types must not break older clients.
var KnownTypes = map[string]struct{}{
	TypeAuth:           {},
	TypeAuthSuccess:    {},
	TypePing:           {},
	TypePong:           {},
	TypeChatMessage:    {},
	TypeNewMessage:     {},
	TypeTyping:         {},
	TypeReadReceipt:    {},
	TypeJoinMatch:      {},
	TypeLeaveMatch:     {},
	TypeMessageDeleted: {},
	TypeError:          {},
}

// Head is the minimal decode of any frame: just the discriminator.
type Head struct {
	Type string `json:"type"`
}

// PeekType extracts the frame discriminator without decoding the rest of
// the frame. Returns an error for malformed JSON or a missing/empty type.
func PeekType(data []byte) (string, error) {
	var h Head
	if err := json.Unmarshal(data, &h); err != nil {
		return "", err
	}
	if strings.TrimSpace(h.Type) == "" {
		return "", errors.New("missing field: type")
	}
	return h.Type, nil
}
