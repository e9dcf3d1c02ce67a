package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatlift/widget-core/internal/model"
)

// wireFrame is the stub server's side of the streaming wire format.
type wireFrame struct {
	Type        string   `json:"type"`
	Chunk       string   `json:"chunk,omitempty"`
	MessageID   string   `json:"message_id,omitempty"`
	ResponseID  string   `json:"response_id,omitempty"`
	Complete    bool     `json:"complete,omitempty"`
	NeedsInfo   string   `json:"needs_info,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Message     string   `json:"message,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

type inboundFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	VisitorID string `json:"visitor_id"`
}

// streamConn serializes writes; chunks and idle events race otherwise.
type streamConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *streamConn) writeFrame(f wireFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *streamConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.ws.Close()
}

// stream is the WebSocket endpoint. It accepts chat_message payloads and
// answers each with a chunked stream followed by a terminal complete frame.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	visitorID := r.URL.Query().Get("visitor_id")

	if _, err := s.store.Session(visitorID, sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := &streamConn{ws: ws}
	defer conn.close()

	log := s.logger.WithConversation(visitorID, sessionID)
	log.Info("stream opened")

	activity := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)
	if s.cfg.IdleWarningAfter > 0 {
		go s.idleMonitor(conn, sessionID, activity, done)
	}

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			log.Info("stream closed", zap.Error(err))
			return
		}

		select {
		case activity <- struct{}{}:
		default:
		}

		var in inboundFrame
		if err := json.Unmarshal(payload, &in); err != nil || in.Type != "chat_message" {
			conn.writeFrame(wireFrame{Type: "error", Message: "unrecognized payload"})
			continue
		}
		if in.Message == "" {
			conn.writeFrame(wireFrame{Type: "error", Message: "empty message"})
			continue
		}
		if s.store.SessionEnded(sessionID) {
			conn.writeFrame(wireFrame{
				Type:      "session_end",
				Message:   "This session has ended. Start a new chat to continue.",
				SessionID: sessionID,
			})
			return
		}

		if ended := s.handleChat(r.Context(), conn, sessionID, in.Message); ended {
			return
		}
	}
}

// handleChat stores the user message, streams the reply, and settles the
// turn. It reports whether the session ended.
func (s *Server) handleChat(ctx context.Context, conn *streamConn, sessionID, text string) bool {
	userMsgID := uuid.Must(uuid.NewV7()).String()
	s.store.AppendMessage(sessionID, model.Message{
		ID:             userMsgID,
		ConversationID: sessionID,
		Role:           model.RoleUser,
		Content:        text,
		Timestamp:      time.Now(),
	})

	reply := s.respond(ctx, sessionID, text)
	responseID := uuid.Must(uuid.NewV7()).String()

	for _, chunk := range chunkText(reply.text) {
		if err := conn.writeFrame(wireFrame{
			Type:      "chunk",
			Chunk:     chunk,
			MessageID: responseID,
		}); err != nil {
			return false
		}
		if s.cfg.ChunkDelay > 0 {
			time.Sleep(s.cfg.ChunkDelay)
		}
	}

	s.store.AppendMessage(sessionID, model.Message{
		ID:             responseID,
		ConversationID: sessionID,
		Role:           model.RoleAssistant,
		Content:        reply.text,
		Timestamp:      time.Now(),
	})

	conn.writeFrame(wireFrame{
		Type:        "complete",
		MessageID:   userMsgID,
		ResponseID:  responseID,
		Message:     reply.text,
		Complete:    reply.endSession,
		NeedsInfo:   string(reply.needsInfo),
		Suggestions: reply.suggestions,
	})

	if reply.endSession {
		s.store.EndSession(sessionID)
		conn.writeFrame(wireFrame{
			Type:      "session_end",
			Message:   "Thanks for chatting with us. This session is now closed.",
			SessionID: sessionID,
		})
		return true
	}
	return false
}

// idleMonitor emits an idle warning after IdleWarningAfter of silence and
// ends the session after SessionEndAfter. Any inbound message resets both.
func (s *Server) idleMonitor(conn *streamConn, sessionID string, activity <-chan struct{}, done <-chan struct{}) {
	warn := time.NewTimer(s.cfg.IdleWarningAfter)
	defer warn.Stop()
	var end *time.Timer
	endC := make(<-chan time.Time)

	for {
		select {
		case <-done:
			if end != nil {
				end.Stop()
			}
			return
		case <-activity:
			warn.Reset(s.cfg.IdleWarningAfter)
			if end != nil {
				end.Stop()
				end = nil
				endC = make(<-chan time.Time)
			}
		case <-warn.C:
			conn.writeFrame(wireFrame{
				Type:      "idle_warning",
				Message:   "Are you still there? This session will close soon if idle.",
				SessionID: sessionID,
			})
			if s.cfg.SessionEndAfter > s.cfg.IdleWarningAfter {
				end = time.NewTimer(s.cfg.SessionEndAfter - s.cfg.IdleWarningAfter)
				endC = end.C
			}
		case <-endC:
			s.store.EndSession(sessionID)
			conn.writeFrame(wireFrame{
				Type:      "session_end",
				Message:   "This session was closed due to inactivity.",
				SessionID: sessionID,
			})
			conn.close()
			return
		}
	}
}

// chunkText splits a reply into word-boundary chunks of a few words each,
// approximating token-by-token streaming.
func chunkText(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	const wordsPerChunk = 3
	var chunks []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
