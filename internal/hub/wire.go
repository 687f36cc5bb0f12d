package hub

import (
	"encoding/json"
	"time"
)

// Server-to-client and client-to-server frame type discriminators.
const (
	TypeTypingIndicator  = "TYPING_INDICATOR"
	TypeMessageSent      = "MESSAGE_SENT"
	TypeMessageRead      = "MESSAGE_READ"
	TypeUserConnected    = "USER_CONNECTED"
	TypeUserDisconnected = "USER_DISCONNECTED"
	// TypeStoryCreated rides the Bus only; it is never pushed to client
	// sessions (clients poll GET /api/stories).
	TypeStoryCreated = "STORY_CREATED"
)

// ClientFrame is the shape of every client -> server wire message. Only
// TYPING_INDICATOR is accepted from clients; all other fields are
// derived from the session.
type ClientFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TypingIndicatorPayload is the payload of a client TYPING_INDICATOR frame.
type TypingIndicatorPayload struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// ServerFrame is the shape of every server -> client wire message.
type ServerFrame struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// MessageReadPayload is the payload of a server MESSAGE_READ frame.
type MessageReadPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// TypingIndicatorBroadcast is the payload of a server TYPING_INDICATOR frame.
type TypingIndicatorBroadcast struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload is the payload of USER_CONNECTED/USER_DISCONNECTED frames.
type PresencePayload struct {
	UserID string `json:"userId"`
}
