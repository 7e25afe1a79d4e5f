package ws

import (
	"time"

	"github.com/chatrelay/internal/model"
)

type EventType string

const (
	// client -> server
	EventJoinRoom        EventType = "join-room"
	EventLeaveRoom       EventType = "leave-room"
	EventTyping          EventType = "typing"
	EventStopTyping      EventType = "stop-typing"
	EventMessageReceived EventType = "message-received"
	EventMessageRead     EventType = "message-read"

	// bidirectional: sent by clients, re-emitted with the persisted record
	EventChatMessage EventType = "chat-message"

	// server -> clients
	EventMessageDelivered EventType = "message-delivered"
	EventMessageSeen      EventType = "message-seen"
	EventUserTyping       EventType = "user-typing"
	EventUserStopTyping   EventType = "user-stop-typing"
	EventUserOnline       EventType = "user:online"
	EventUserOffline      EventType = "user:offline"
	EventOnlineList       EventType = "users:online-list"
	EventError            EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type    EventType `json:"type"`
	RoomID  string    `json:"roomId,omitempty"`
	Content string    `json:"content,omitempty"`

	// Message kind; defaults to text.
	ContentType model.MessageType `json:"contentType,omitempty"`

	// For status acknowledgments.
	MessageID string `json:"messageId,omitempty"`
	UserID    string `json:"userId,omitempty"`

	// Provisional id assigned by the sender; echoed back on the persisted
	// broadcast so the sender can reconcile its optimistic entry.
	ClientTempID string `json:"clientTempId,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- Typed payloads for the hot path ---

// UserStatusPayload is broadcast on user:online / user:offline.
type UserStatusPayload struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// OnlineListPayload is the presence snapshot for a freshly connected client.
type OnlineListPayload struct {
	Users []string `json:"users"`
}

// TypingPayload is relayed on user-typing / user-stop-typing.
type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ErrorPayload is sent on error events. A failed send carries the room and
// the sender's provisional id so the client can mark its optimistic entry
// failed instead of leaving it stranded.
type ErrorPayload struct {
	Message      string `json:"message"`
	RoomID       string `json:"roomId,omitempty"`
	ClientTempID string `json:"clientTempId,omitempty"`
}
