package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/widget-core/internal/model"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(Config{}, nil, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func createVisitor(t *testing.T, srv *httptest.Server) model.CreateVisitorResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/visitors", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out model.CreateVisitorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.VisitorID)
	require.NotEmpty(t, out.Token)
	return out
}

func authedRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func createSession(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	resp := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/sessions", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out model.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/visitors/me", nil)
			require.NoError(t, err)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestVisitorTokenRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)

	resp := authedRequest(t, http.MethodGet, srv.URL+"/api/v1/visitors/me", visitor.Token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, visitor.VisitorID, out["visitor_id"])
}

func TestVisitorToken_WrongSecretRejected(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)

	forged, err := issueVisitorToken("some-other-secret", visitor.VisitorID, time.Hour)
	require.NoError(t, err)

	resp := authedRequest(t, http.MethodGet, srv.URL+"/api/v1/visitors/me", forged, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)
	sessionID := createSession(t, srv, visitor.Token)

	// Listed for its owner.
	resp := authedRequest(t, http.MethodGet, srv.URL+"/api/v1/sessions", visitor.Token, nil)
	var list model.ListSessionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, sessionID, list.Sessions[0].ID)
	assert.True(t, list.Sessions[0].Active)

	// Invisible to anyone else.
	other := createVisitor(t, srv)
	resp = authedRequest(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sessionID+"/messages", other.Token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Deleted wholesale.
	resp = authedRequest(t, http.MethodDelete, srv.URL+"/api/v1/sessions/"+sessionID, visitor.Token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = authedRequest(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sessionID+"/messages", visitor.Token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageFallback(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)
	sessionID := createSession(t, srv, visitor.Token)

	resp := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sessionID+"/messages",
		visitor.Token, model.SendMessageRequest{Message: "hello"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out model.SendMessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEmpty(t, out.Response)
	assert.NotEmpty(t, out.MessageID)
	assert.NotEmpty(t, out.ResponseID)
	assert.False(t, out.Complete)

	// Both turns are persisted.
	histResp := authedRequest(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sessionID+"/messages", visitor.Token, nil)
	defer histResp.Body.Close()
	var hist model.HistoryResponse
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&hist))
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, model.RoleUser, hist.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, hist.Messages[1].Role)
}

func TestSendMessage_EndedSessionConflicts(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)
	sessionID := createSession(t, srv, visitor.Token)

	resp := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sessionID+"/messages",
		visitor.Token, model.SendMessageRequest{Message: "bye"})
	var out model.SendMessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.True(t, out.Complete)

	resp = authedRequest(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sessionID+"/messages",
		visitor.Token, model.SendMessageRequest{Message: "wait"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHistoryPagination(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)
	sessionID := createSession(t, srv, visitor.Token)

	for i := 0; i < 3; i++ {
		resp := authedRequest(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+sessionID+"/messages",
			visitor.Token, model.SendMessageRequest{Message: "ping"})
		resp.Body.Close()
	}

	// 6 messages total, pages of 4.
	resp := authedRequest(t, http.MethodGet,
		srv.URL+"/api/v1/sessions/"+sessionID+"/messages?limit=4&offset=0", visitor.Token, nil)
	var page model.HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	resp.Body.Close()
	assert.Len(t, page.Messages, 4)
	assert.Equal(t, 6, page.Total)
	assert.True(t, page.HasMore)

	resp = authedRequest(t, http.MethodGet,
		srv.URL+"/api/v1/sessions/"+sessionID+"/messages?limit=4&offset=4", visitor.Token, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	resp.Body.Close()
	assert.Len(t, page.Messages, 2)
	assert.False(t, page.HasMore)
}

func TestStreamEndpoint(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)
	sessionID := createSession(t, srv, visitor.Token)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(
		wsBase+"/api/v1/sessions/"+sessionID+"/ws?visitor_id="+visitor.VisitorID, nil)
	require.NoError(t, err)
	defer ws.Close()

	payload, err := json.Marshal(map[string]string{
		"type":       "chat_message",
		"message":    "hello over the socket",
		"session_id": sessionID,
		"visitor_id": visitor.VisitorID,
	})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

	// Chunks first, then the terminal frame carrying the full reply.
	var streamed strings.Builder
	for {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)

		var frame wireFrame
		require.NoError(t, json.Unmarshal(data, &frame))

		switch frame.Type {
		case "chunk":
			require.NotEmpty(t, frame.Chunk)
			streamed.WriteString(frame.Chunk)
		case "complete":
			assert.Equal(t, streamed.String(), frame.Message, "chunks concatenate to the terminal content")
			assert.NotEmpty(t, frame.MessageID)
			assert.NotEmpty(t, frame.ResponseID)
			return
		default:
			t.Fatalf("unexpected frame type %q", frame.Type)
		}
	}
}

func TestStreamEndpoint_SessionEnd(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)
	sessionID := createSession(t, srv, visitor.Token)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(
		wsBase+"/api/v1/sessions/"+sessionID+"/ws?visitor_id="+visitor.VisitorID, nil)
	require.NoError(t, err)
	defer ws.Close()

	payload, _ := json.Marshal(map[string]string{
		"type": "chat_message", "message": "bye",
		"session_id": sessionID, "visitor_id": visitor.VisitorID,
	})
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

	sawEnd := false
	for {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var frame wireFrame
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame.Type == "session_end" {
			sawEnd = true
			assert.Equal(t, sessionID, frame.SessionID)
		}
	}
	assert.True(t, sawEnd, "session_end frame before close")
}

func TestStreamEndpoint_UnknownSession(t *testing.T) {
	srv := newTestServer(t)
	visitor := createVisitor(t, srv)

	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(
		wsBase+"/api/v1/sessions/nope/ws?visitor_id="+visitor.VisitorID, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScriptedResponder(t *testing.T) {
	s := New(Config{}, nil, nil)

	tests := []struct {
		message     string
		endSession  bool
		needsInfo   model.NeedsInfo
		suggestions bool
	}{
		{message: "goodbye", endSession: true},
		{message: "help", suggestions: true},
		{message: "what is your email policy", needsInfo: model.NeedsInfoEmail},
		{message: "random question"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			reply := s.respond(context.Background(), "sess", tt.message)
			assert.NotEmpty(t, reply.text)
			assert.Equal(t, tt.endSession, reply.endSession)
			assert.Equal(t, tt.needsInfo, reply.needsInfo)
			if tt.suggestions {
				assert.NotEmpty(t, reply.suggestions)
			}
		})
	}
}
