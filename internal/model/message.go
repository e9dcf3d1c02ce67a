package model

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind distinguishes ordinary content from out-of-band assistant events.
type Kind string

const (
	KindContent     Kind = ""
	KindIdleWarning Kind = "idle_warning"
	KindSessionEnd  Kind = "session_end"
)

// Message represents a single entry in a conversation transcript.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Kind           Kind      `json:"kind,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	IsRead         bool      `json:"is_read"`

	// Streaming marks the in-progress placeholder for the current assistant
	// turn. At most one streaming entry exists per conversation and it is
	// never part of a settled transcript.
	Streaming bool `json:"-"`
}

const (
	// ProvisionalPrefix marks client-generated conversation ids that have no
	// server session yet.
	ProvisionalPrefix = "temp-"

	// provisionalMessagePrefix marks optimistic message ids awaiting a
	// server-assigned id.
	provisionalMessagePrefix = "temp-msg-"
)

var provisionalSeq atomic.Uint64

// ProvisionalMessageID returns a fresh client-side message id. The counter
// disambiguates messages created within the same clock tick.
func ProvisionalMessageID() string {
	return fmt.Sprintf("%s%d-%d", provisionalMessagePrefix, time.Now().UnixMilli(), provisionalSeq.Add(1))
}

// IsProvisionalID reports whether id was generated client-side.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// SortMessages orders messages by timestamp ascending. Entries with equal
// timestamps keep their relative insertion order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

// TruncatePreview returns a bounded-length copy of content suitable for
// conversation-list previews.
func TruncatePreview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
