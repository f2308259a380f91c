// Package model defines data structures for the assistant chat.
package model

import (
	"time"
)

// Origin identifies who authored a message.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// DisplayLayout renders a timestamp as 2-digit hour and minute.
const DisplayLayout = "15:04"

// Message is a single entry in a conversation.
type Message struct {
	// ID increases strictly within a conversation, starting at 1.
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Origin  Origin `json:"origin"`

	// Timestamp is CreatedAt formatted for display.
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`

	// Failed marks an assistant message produced in place of a reply the
	// synthesizer could not generate.
	Failed bool `json:"failed,omitempty"`
}

// IsUser reports whether the message was authored by the user.
func (m Message) IsUser() bool {
	return m.Origin == OriginUser
}

// SendMessageRequest is the request to submit a user message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessageResponse is the response after submitting a message.
// Accepted is false when the submission was ignored.
type SendMessageResponse struct {
	Accepted bool `json:"accepted"`
	Pending  bool `json:"pending"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Pending  bool      `json:"pending"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
