package model

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeSystem MessageType = "system"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Ordinal maps the delivery lifecycle to a bounded ordinal
// (sent=0, delivered=1, read=2). Unknown statuses map to -1.
func (s MessageStatus) Ordinal() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	}
	return -1
}

// Valid reports whether s is one of the three lifecycle statuses.
func (s MessageStatus) Valid() bool {
	return s.Ordinal() >= 0
}

// Message is the system of record for a chat message. Status only moves
// forward through the lifecycle and SeenBy only grows.
type Message struct {
	ID           string        `json:"_id"`
	RoomID       string        `json:"roomId"`
	SenderID     string        `json:"senderId"`
	SenderName   string        `json:"senderName"`
	SenderAvatar string        `json:"senderAvatar,omitempty"`
	Content      string        `json:"content"`
	Type         MessageType   `json:"type"`
	Status       MessageStatus `json:"status"`
	SeenBy       []string      `json:"seenBy"`
	IsDeleted    bool          `json:"isDeleted,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`

	// ClientTempID is echoed back on the persisted broadcast so the sending
	// client can swap its provisional entry for the stored record. Never
	// persisted.
	ClientTempID string `json:"clientTempId,omitempty"`
}

// SeenByContains reports whether userID is already in the seen-by set.
func (m *Message) SeenByContains(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}
