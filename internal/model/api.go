package model

import (
	"time"
)

// CreateVisitorResponse is returned by the visitor bootstrap endpoint.
type CreateVisitorResponse struct {
	VisitorID string    `json:"visitor_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSessionRequest asks the backend for a canonical conversation.
type CreateSessionRequest struct {
	VisitorID string `json:"visitor_id"`
}

// CreateSessionResponse carries the server-assigned session id.
type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSessionsResponse is a page of the visitor's conversations.
type ListSessionsResponse struct {
	Sessions []Conversation `json:"sessions"`
	Total    int            `json:"total"`
	HasMore  bool           `json:"has_more"`
}

// HistoryResponse is a page of persisted messages for one conversation.
type HistoryResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// SendMessageRequest is the non-streaming send fallback request.
type SendMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id"`
}

// SendMessageResponse mirrors a terminal frame for the fallback path.
type SendMessageResponse struct {
	Response    string    `json:"response"`
	MessageID   string    `json:"message_id"`
	ResponseID  string    `json:"response_id"`
	Complete    bool      `json:"complete"`
	NeedsInfo   NeedsInfo `json:"needs_info,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// WidgetConfig is the presentation configuration served to the loader.
type WidgetConfig struct {
	Title           string `json:"title"`
	Greeting        string `json:"greeting"`
	PrimaryColor    string `json:"primary_color"`
	Position        string `json:"position"`
	StreamingEnable bool   `json:"streaming_enabled"`
}
