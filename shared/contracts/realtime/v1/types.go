package v1

import (
	"strings"
	"time"
)

// Message type constants for ChatMessage.MessageType.
const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeGIF   = "GIF"
)

// Auth is the handshake frame sent immediately after transport open.
type Auth struct {
	Type   string `json:"type"`
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// NewAuth constructs a handshake frame for the given credentials.
func NewAuth(token, userID string) Auth {
	return Auth{Type: TypeAuth, Token: token, UserID: userID}
}

// AuthSuccess acknowledges the handshake.
type AuthSuccess struct {
	Type string `json:"type"`
}

// Pong is the client reply to a server ping.
type Pong struct {
	Type string `json:"type"`
}

// NewPong constructs a heartbeat reply.
func NewPong() Pong { return Pong{Type: TypePong} }

// ChatMessage requests delivery of a new message into a match.
type ChatMessage struct {
	Type        string `json:"type"`
	MatchID     string `json:"match_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
}

// NewChatMessage constructs an outbound chat message frame. An empty
// messageType defaults to TEXT.
func NewChatMessage(matchID, content, messageType string) ChatMessage {
	if messageType == "" {
		messageType = MessageTypeText
	}
	return ChatMessage{
		Type:        TypeChatMessage,
		MatchID:     matchID,
		Content:     content,
		MessageType: messageType,
	}
}

// Typing carries a typing indicator. UserID is set only on inbound frames;
// the server derives the sender for outbound ones.
type Typing struct {
	Type     string `json:"type"`
	MatchID  string `json:"match_id"`
	UserID   string `json:"user_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// NewTyping constructs an outbound typing indicator frame.
func NewTyping(matchID string, isTyping bool) Typing {
	return Typing{Type: TypeTyping, MatchID: matchID, IsTyping: isTyping}
}

// ReadReceipt requests (outbound, ReadAt zero) or confirms (inbound,
// ReadAt set by the server) that a message was read.
type ReadReceipt struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	ReadAt    time.Time `json:"read_at,omitzero"`
}

// NewReadReceipt constructs an outbound read receipt request.
func NewReadReceipt(messageID string) ReadReceipt {
	return ReadReceipt{Type: TypeReadReceipt, MessageID: messageID}
}

// JoinMatch / LeaveMatch scope server fanout to the open conversation.
type JoinMatch struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// NewJoinMatch constructs a join frame.
func NewJoinMatch(matchID string) JoinMatch {
	return JoinMatch{Type: TypeJoinMatch, MatchID: matchID}
}

// LeaveMatch is the counterpart of JoinMatch.
type LeaveMatch struct {
	Type    string `json:"type"`
	MatchID string `json:"match_id"`
}

// NewLeaveMatch constructs a leave frame.
func NewLeaveMatch(matchID string) LeaveMatch {
	return LeaveMatch{Type: TypeLeaveMatch, MatchID: matchID}
}

// Message is one chat message as the server represents it. IsRead is nil
// until a read receipt is confirmed, then carries the read timestamp.
type Message struct {
	ID          string     `json:"id"`
	MatchID     string     `json:"match_id"`
	SenderID    string     `json:"sender_id"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	SentAt      time.Time  `json:"sent_at"`
	IsRead      *time.Time `json:"is_read"`
}

// NewMessage wraps an accepted message broadcast by the server.
type NewMessage struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// MessageDeleted notifies that a message was removed server-side.
type MessageDeleted struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	MatchID   string `json:"match_id"`
}

// ErrorFrame is a generic server error.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// IsAuthFailure reports whether the error frame rejects the authentication
// handshake. The server signals this with an error message containing the
// substring "auth" rather than a dedicated frame type.
func (e ErrorFrame) IsAuthFailure() bool {
	return strings.Contains(strings.ToLower(e.Message), "auth")
}
