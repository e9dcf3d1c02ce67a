// Package protocol decodes inbound streaming frames and folds them into the
// per-conversation streaming accumulator. It performs no I/O: the transport
// hands it raw bytes, the session layer supplies the callbacks.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/chatlift/widget-core/internal/model"
)

// Wire frame type discriminators.
const (
	TypeChunk       = "chunk"
	TypeComplete    = "complete"
	TypeError       = "error"
	TypeIdleWarning = "idle_warning"
	TypeSessionEnd  = "session_end"

	// TypeChatMessage is the only outbound frame type.
	TypeChatMessage = "chat_message"
)

// rawFrame mirrors the wire JSON. Every inbound frame is decoded into this
// shape exactly once, at the transport boundary.
type rawFrame struct {
	Type        string          `json:"type"`
	Chunk       string          `json:"chunk,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
	ResponseID  string          `json:"response_id,omitempty"`
	Complete    bool            `json:"complete,omitempty"`
	NeedsInfo   model.NeedsInfo `json:"needs_info,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Message     string          `json:"message,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
}

// Frame is the decoded tagged union of inbound frames.
type Frame interface {
	frameType() string
}

// Delta carries an incremental fragment of assistant output.
type Delta struct {
	Chunk     string
	MessageID string
}

// Terminal signals the end of one assistant turn.
type Terminal struct {
	MessageID   string
	ResponseID  string
	Content     string
	Complete    bool
	NeedsInfo   model.NeedsInfo
	Suggestions []string
}

// OutOfBand is a server-pushed event outside the turn-taking flow.
type OutOfBand struct {
	Kind      model.Kind
	Message   string
	SessionID string
	EventID   string
}

// ServerError is a server-declared error frame, terminal for the current
// streaming attempt.
type ServerError struct {
	Message string
}

func (Delta) frameType() string       { return TypeChunk }
func (Terminal) frameType() string    { return TypeComplete }
func (OutOfBand) frameType() string   { return string(model.KindIdleWarning) }
func (ServerError) frameType() string { return TypeError }

// Error implements the error interface for server-declared errors.
func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server error"
	}
	return fmt.Sprintf("server error: %s", e.Message)
}

// Decode parses one inbound frame. It returns (nil, nil) for frame types the
// core should ignore, and an error only when the payload is malformed or a
// required field is missing. Callers drop both cases without touching the
// accumulator.
func Decode(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch raw.Type {
	case TypeChunk:
		if raw.Chunk == "" {
			return nil, fmt.Errorf("chunk frame missing chunk field")
		}
		return Delta{Chunk: raw.Chunk, MessageID: raw.MessageID}, nil

	case TypeComplete:
		return Terminal{
			MessageID:   raw.MessageID,
			ResponseID:  raw.ResponseID,
			Content:     raw.Message,
			Complete:    raw.Complete,
			NeedsInfo:   raw.NeedsInfo,
			Suggestions: raw.Suggestions,
		}, nil

	case TypeIdleWarning, TypeSessionEnd:
		if raw.Message == "" {
			return nil, fmt.Errorf("%s frame missing message field", raw.Type)
		}
		kind := model.KindIdleWarning
		if raw.Type == TypeSessionEnd {
			kind = model.KindSessionEnd
		}
		return OutOfBand{
			Kind:      kind,
			Message:   raw.Message,
			SessionID: raw.SessionID,
			EventID:   raw.ResponseID,
		}, nil

	case TypeError:
		return ServerError{Message: raw.Message}, nil
	}

	// Unrecognized frame types are ignorable by contract.
	return nil, nil
}

// outboundFrame is the single outbound payload shape.
type outboundFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id"`
}

// EncodeChatMessage builds the outbound chat_message payload.
func EncodeChatMessage(message, sessionID, visitorID string) ([]byte, error) {
	return json.Marshal(outboundFrame{
		Type:      TypeChatMessage,
		Message:   message,
		SessionID: sessionID,
		VisitorID: visitorID,
	})
}
