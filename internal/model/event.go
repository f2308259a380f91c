package model

import (
	"time"
)

// EventType represents the kind of conversation state change.
type EventType string

const (
	// EventTypeMessage is emitted after a message is appended.
	EventTypeMessage EventType = "message"
	// EventTypePending is emitted when the pending flag flips.
	EventTypePending EventType = "pending"
)

// ConversationEvent is delivered to observers of a conversation.
type ConversationEvent struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	Pending        bool      `json:"pending"`
	At             time.Time `json:"at"`
}
