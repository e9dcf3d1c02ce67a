// Package session is the per-conversation façade binding the transport,
// protocol decoder and cache reconciler to a simple send/observe API. It
// owns the provisional-to-canonical promotion.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatlift/widget-core/internal/api"
	"github.com/chatlift/widget-core/internal/cache"
	"github.com/chatlift/widget-core/internal/model"
	"github.com/chatlift/widget-core/internal/protocol"
	"github.com/chatlift/widget-core/internal/transport"
	"github.com/chatlift/widget-core/pkg/logger"
	"github.com/chatlift/widget-core/pkg/metrics"
)

var (
	// ErrSessionEnded is returned by Send after a session_end event.
	ErrSessionEnded = errors.New("conversation has ended")

	// ErrSendInFlight is returned while a previous send awaits its terminal
	// event. Sends are serialized per conversation.
	ErrSendInFlight = errors.New("a send is already in flight")

	// ErrNotConnected is returned when transmission fails; the optimistic
	// insert has been rolled back.
	ErrNotConnected = errors.New("not connected")
)

// Options configure a session.
type Options struct {
	WSBaseURL            string
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	HistoryPageSize      int

	// OnError receives connectivity and server-declared errors.
	OnError func(err error)

	// OnUpdate fires after every state change the presentation layer might
	// want to re-render for.
	OnUpdate func()
}

// Session orchestrates one conversation.
type Session struct {
	store  *cache.Store
	api    *api.Client
	opts   Options
	logger *logger.Logger

	mu             sync.Mutex
	conversationID string
	conn           *transport.Conn
	acc            protocol.Accumulator
	streaming      string
	sendInFlight   bool
	ended          bool
	active         bool
}

// New creates a session. An empty conversationID starts a provisional
// conversation; a canonical id resumes an existing one.
func New(store *cache.Store, client *api.Client, conversationID string, opts Options, log *logger.Logger) *Session {
	if conversationID == "" {
		conversationID = model.ProvisionalConversationID()
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 50
	}
	if log == nil {
		log = logger.NewNop()
	}
	store.Ensure(conversationID)
	return &Session{
		store:          store,
		api:            client,
		opts:           opts,
		logger:         log.With(zap.String("conversation_id", conversationID)),
		conversationID: conversationID,
	}
}

// ConversationID returns the current id, provisional or canonical.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Messages returns the conversation's ordered transcript.
func (s *Session) Messages() []model.Message {
	return s.store.Messages(s.ConversationID())
}

// StreamingContent returns the buffered content of the in-progress
// assistant turn, empty when no turn is streaming.
func (s *Session) StreamingContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// IsConnected reports whether the streaming connection is open.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn != nil && conn.IsOpen()
}

// IsConnecting reports whether a connect attempt is in flight.
func (s *Session) IsConnecting() bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn != nil && conn.IsConnecting()
}

// IsAwaitingResponse reports whether a send is awaiting its terminal event.
func (s *Session) IsAwaitingResponse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendInFlight
}

// IsEnded reports whether the server has declared the conversation over.
func (s *Session) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// DerivedState returns the conversation's derived state.
func (s *Session) DerivedState() model.ConversationState {
	conv, ok := s.store.Conversation(s.ConversationID())
	if !ok {
		return model.ConversationState{}
	}
	return conv.State
}

// Activate marks the conversation in view and connects canonical
// conversations. Provisional conversations connect on first send, after
// promotion.
func (s *Session) Activate() {
	s.mu.Lock()
	s.active = true
	id := s.conversationID
	provisional := model.IsProvisionalID(id)
	ended := s.ended
	s.mu.Unlock()

	if provisional || ended {
		return
	}
	if err := s.ensureConn(); err != nil {
		s.surfaceError(err)
	}
}

// Deactivate disconnects and stops UI side effects for late responses. The
// cache keeps the conversation's state for re-entry.
func (s *Session) Deactivate() {
	s.mu.Lock()
	s.active = false
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
}

// Send transmits a visitor message. Empty or whitespace text is a no-op.
// Provisional conversations are promoted first; on promotion failure no
// optimistic state is left behind. Transmission failure rolls back the
// optimistic insert.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if s.sendInFlight {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.sendInFlight = true
	// A new send clears any stale streaming state.
	s.acc = protocol.Accumulator{}
	s.streaming = ""
	provisional := model.IsProvisionalID(s.conversationID)
	s.mu.Unlock()

	if provisional {
		if err := s.promote(ctx); err != nil {
			s.clearInFlight()
			metrics.SendsTotal.WithLabelValues("promotion_failed").Inc()
			return err
		}
	}

	s.mu.Lock()
	conversationID := s.conversationID
	s.mu.Unlock()

	// A placeholder left behind by an interrupted turn is superseded by this
	// send; its terminal frame is never coming.
	s.store.AbortStreaming(conversationID)

	userMsgID, placeholderID := s.store.OptimisticInsert(conversationID, text)
	s.notifyUpdate()

	if err := s.ensureConn(); err != nil {
		s.rollback(conversationID, userMsgID, placeholderID)
		return err
	}

	payload, err := protocol.EncodeChatMessage(text, conversationID, s.api.VisitorID())
	if err != nil {
		s.rollback(conversationID, userMsgID, placeholderID)
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || !conn.Send(payload) {
		s.rollback(conversationID, userMsgID, placeholderID)
		return ErrNotConnected
	}

	metrics.SendsTotal.WithLabelValues("sent").Inc()
	return nil
}

// promote creates the server-side session and rekeys all provisional state
// to the canonical id. Promotion and the caller's subsequent optimistic
// insert appear atomic to observers.
func (s *Session) promote(ctx context.Context) error {
	resp, err := s.api.CreateSession(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			s.forceClose()
		}
		return err
	}

	s.mu.Lock()
	old := s.conversationID
	s.conversationID = resp.SessionID
	s.logger = s.logger.With(zap.String("session_id", resp.SessionID))
	s.mu.Unlock()

	s.store.Promote(old, resp.SessionID)
	s.logger.Info("conversation promoted", zap.String("provisional_id", old))
	return nil
}

// LoadHistory merges a page of persisted messages into the cache. A late
// response for a deactivated conversation still merges but fires no update.
func (s *Session) LoadHistory(ctx context.Context) error {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()

	if model.IsProvisionalID(id) {
		return nil
	}

	resp, err := s.api.FetchHistory(ctx, id, s.opts.HistoryPageSize, 0)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			s.forceClose()
		}
		return err
	}

	s.store.MergeHistory(id, resp.Messages)

	s.mu.Lock()
	if conv, ok := s.store.Conversation(id); ok && conv.State.IsComplete {
		s.ended = s.ended || !conv.Active
	}
	active := s.active
	s.mu.Unlock()

	if active {
		s.notifyUpdate()
	}
	return nil
}

// Disconnect tears down the streaming connection without deactivating the
// conversation.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
}

// ensureConn creates and connects the transport for the canonical id.
// Disconnect is terminal per transport instance, so re-entry builds a fresh
// one.
func (s *Session) ensureConn() error {
	s.mu.Lock()
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn.Connect()
	}
	id := s.conversationID
	cfg := transport.Config{
		URL:            transport.StreamURL(s.opts.WSBaseURL, id, s.api.VisitorID()),
		ConnectTimeout: s.opts.ConnectTimeout,
		MaxAttempts:    s.opts.MaxReconnectAttempts,
		BaseDelay:      s.opts.ReconnectBaseDelay,
	}
	conn := transport.New(cfg, transport.Handlers{
		OnOpen:  s.notifyUpdate,
		OnClose: s.handleStreamClose,
		OnFrame: s.handleFrame,
		OnError: s.handleTransportError,
	}, s.logger)
	s.conn = conn
	s.mu.Unlock()

	return conn.Connect()
}

// handleFrame decodes one inbound frame and folds it into the accumulator.
// Malformed and unknown frames are dropped here; a single bad frame never
// aborts the stream. The fold runs under the session lock so a concurrent
// Send resetting the accumulator cannot be overwritten by a stale copy; the
// callbacks only capture, all merging and notification happens after unlock.
func (s *Session) handleFrame(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		metrics.FramesDropped.Inc()
		s.logger.Debug("dropped malformed frame", zap.Error(err))
		return
	}
	if frame == nil {
		metrics.FramesDropped.Inc()
		return
	}
	metrics.FramesDecoded.WithLabelValues(frameLabel(frame)).Inc()

	var (
		chunk     bool
		buffered  string
		messageID string
		terminal  *protocol.CompleteEvent
		event     *protocol.OutOfBand
		serverErr error
	)

	s.mu.Lock()
	id := s.conversationID
	s.acc = protocol.Apply(frame, s.acc, protocol.Callbacks{
		OnChunk: func(b, m string) {
			chunk, buffered, messageID = true, b, m
			s.streaming = b
		},
		OnComplete: func(ev protocol.CompleteEvent) {
			terminal = &ev
			s.streaming = ""
			s.sendInFlight = false
		},
		OnEvent: func(ev protocol.OutOfBand) {
			event = &ev
		},
		OnError: func(err error) {
			serverErr = err
			s.streaming = ""
			s.sendInFlight = false
		},
	})
	s.mu.Unlock()

	switch {
	case chunk:
		s.store.MergeDelta(id, buffered, messageID)
		s.notifyUpdate()

	case terminal != nil:
		s.store.MergeTerminal(id, cache.TerminalMerge{
			UserMessageID: terminal.MessageID,
			ResponseID:    terminal.ResponseID,
			Content:       terminal.Content,
			Complete:      terminal.Complete,
			NeedsInfo:     model.NeedsInfo(terminal.NeedsInfo),
			Suggestions:   terminal.Suggestions,
		})
		s.notifyUpdate()

	case event != nil:
		s.onEvent(id, *event)

	case serverErr != nil:
		// An aborted terminal merge: placeholder removed, buffered state
		// cleared, error surfaced.
		s.store.AbortStreaming(id)
		s.surfaceError(serverErr)
		s.notifyUpdate()
	}
}

func (s *Session) onEvent(conversationID string, ev protocol.OutOfBand) {
	s.store.MergeOutOfBand(conversationID, ev.Kind, ev.Message, ev.EventID)

	if ev.Kind == model.KindSessionEnd {
		s.mu.Lock()
		s.ended = true
		s.sendInFlight = false
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		if conn != nil {
			conn.Disconnect()
		}
		s.logger.Info("session ended by server")
	}

	s.notifyUpdate()
}

// handleStreamClose runs whenever the stream closes. A send whose terminal
// frame was lost mid-stream can never settle, so the in-flight flag is
// cleared here; the partial placeholder stays in the cache until a fresh
// terminal frame or a fresh send supersedes it.
func (s *Session) handleStreamClose() {
	s.clearInFlight()
	s.notifyUpdate()
}

func (s *Session) handleTransportError(err error) {
	s.surfaceError(err)
	if errors.Is(err, transport.ErrRetriesExhausted) {
		s.clearInFlight()
		s.notifyUpdate()
	}
}

func (s *Session) rollback(conversationID, userMsgID, placeholderID string) {
	s.store.Rollback(conversationID, userMsgID, placeholderID)
	s.clearInFlight()
	metrics.SendsTotal.WithLabelValues("failed").Inc()
	s.notifyUpdate()
}

func (s *Session) clearInFlight() {
	s.mu.Lock()
	s.sendInFlight = false
	s.mu.Unlock()
}

// forceClose ends the conversation locally after the backend rejects the
// visitor identity.
func (s *Session) forceClose() {
	s.mu.Lock()
	s.ended = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	s.logger.Warn("conversation closed: visitor identity rejected")
}

func (s *Session) notifyUpdate() {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate()
	}
}

func (s *Session) surfaceError(err error) {
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func frameLabel(f protocol.Frame) string {
	switch f.(type) {
	case protocol.Delta:
		return "chunk"
	case protocol.Terminal:
		return "complete"
	case protocol.OutOfBand:
		return "out_of_band"
	case protocol.ServerError:
		return "error"
	default:
		return "unknown"
	}
}
