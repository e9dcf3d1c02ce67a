// Package model defines data structures shared across the widget core.
package model

import (
	"time"

	"github.com/google/uuid"
)

// NeedsInfo enumerates the information the server still wants from the
// visitor, as reported by terminal frames.
type NeedsInfo string

const (
	NeedsInfoNone    NeedsInfo = ""
	NeedsInfoEmail   NeedsInfo = "email"
	NeedsInfoName    NeedsInfo = "name"
	NeedsInfoContact NeedsInfo = "contact"
)

// ConversationState is derived from the latest terminal event or from a
// reloaded transcript.
type ConversationState struct {
	NeedsInfo   NeedsInfo `json:"needs_info,omitempty"`
	IsComplete  bool      `json:"is_complete"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Conversation represents one chat thread, provisional or canonical.
type Conversation struct {
	ID            string            `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	LastMessage   string            `json:"last_message,omitempty"`
	LastMessageAt time.Time         `json:"last_message_at,omitempty"`
	Active        bool              `json:"active"`
	State         ConversationState `json:"state"`

	// AwaitingResponse is set between an optimistic send and its terminal
	// event. Client-side only.
	AwaitingResponse bool `json:"-"`
}

// ProvisionalConversationID returns a fresh client-side conversation id.
func ProvisionalConversationID() string {
	return ProvisionalPrefix + uuid.New().String()
}

// IsProvisional reports whether the conversation has no server session yet.
func (c *Conversation) IsProvisional() bool {
	return IsProvisionalID(c.ID)
}
