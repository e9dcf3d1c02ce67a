// Package transport maintains the streaming connection for one conversation:
// dialing, the read loop, bounded reconnection, and manual teardown.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatlift/widget-core/pkg/logger"
	"github.com/chatlift/widget-core/pkg/metrics"
)

// ErrRetriesExhausted is surfaced exactly once when the reconnect budget is
// spent without a successful open.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// State is the connection lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Config holds per-connection settings.
type Config struct {
	// URL is the full WebSocket URL for this conversation.
	URL string

	// ConnectTimeout bounds connection establishment. An attempt still in
	// the connecting state when it elapses is treated as a failure.
	ConnectTimeout time.Duration

	// MaxAttempts is the reconnect budget after abnormal closes.
	MaxAttempts int

	// BaseDelay scales the linear backoff: delay = BaseDelay * attempt.
	BaseDelay time.Duration
}

// Handlers are the connectivity observers. Any handler may be nil.
type Handlers struct {
	OnOpen  func()
	OnFrame func(data []byte)
	OnError func(err error)
	OnClose func()
}

// Conn owns at most one live WebSocket for a single conversation.
type Conn struct {
	cfg      Config
	handlers Handlers
	logger   *logger.Logger

	mu          sync.Mutex
	state       State
	ws          *websocket.Conn
	attempts    int
	manualClose bool
	retryTimer  *time.Timer
	gen         int
}

// StreamURL builds the conversation's WebSocket URL from the base endpoint,
// session id and visitor id.
func StreamURL(wsBase, sessionID, visitorID string) string {
	q := url.Values{}
	q.Set("visitor_id", visitorID)
	return fmt.Sprintf("%s/api/v1/sessions/%s/ws?%s", wsBase, url.PathEscape(sessionID), q.Encode())
}

// New creates a connection manager. Nothing is dialed until Connect.
func New(cfg Config, handlers Handlers, log *logger.Logger) *Conn {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Conn{
		cfg:      cfg,
		handlers: handlers,
		logger:   log,
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the connection is open.
func (c *Conn) IsOpen() bool {
	return c.State() == StateOpen
}

// IsConnecting reports whether a connect attempt is in flight.
func (c *Conn) IsConnecting() bool {
	return c.State() == StateConnecting
}

// Connect opens the connection, blocking until the handshake succeeds or
// the establishment timeout fails the attempt. It is a no-op returning nil
// while already open or connecting; only one attempt may be in flight. A
// failed attempt arms the reconnect timer before returning its error.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting || c.manualClose {
		c.mu.Unlock()
		return nil
	}
	if c.ws != nil {
		// Stale handle from a previous attempt.
		c.ws.Close()
		c.ws = nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	ws, _, err := dialer.Dial(c.cfg.URL, nil)

	c.mu.Lock()
	if gen != c.gen || c.manualClose {
		// Superseded or torn down while dialing.
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return nil
	}

	if err != nil {
		c.state = StateClosed
		c.mu.Unlock()
		metrics.RecordConnectAttempt("failure")
		c.logger.Warn("connect failed", zap.Error(err))
		err = fmt.Errorf("connect failed: %w", err)
		c.notifyError(err)
		c.scheduleRetry()
		return err
	}

	c.ws = ws
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	metrics.RecordConnectAttempt("success")
	metrics.WSConnectionsActive.Inc()
	c.logger.Debug("connection open")

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}

	go c.readLoop(ws, gen)
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn, gen int) {
	defer metrics.WSConnectionsActive.Dec()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, gen, err)
			return
		}
		if c.handlers.OnFrame != nil {
			c.handlers.OnFrame(data)
		}
	}
}

func (c *Conn) handleClose(ws *websocket.Conn, gen int, err error) {
	ws.Close()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	manual := c.manualClose
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	if c.handlers.OnClose != nil {
		c.handlers.OnClose()
	}

	if manual || isNormalClosure(err) {
		c.logger.Debug("connection closed", zap.Bool("manual", manual))
		return
	}

	c.logger.Warn("connection lost", zap.Error(err))
	c.scheduleRetry()
}

// scheduleRetry arms the reconnect timer with linear backoff, or surfaces
// the terminal connectivity error when the budget is spent.
func (c *Conn) scheduleRetry() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.cfg.MaxAttempts {
		c.mu.Unlock()
		c.logger.Error("reconnect budget exhausted", zap.Int("attempts", c.cfg.MaxAttempts))
		c.notifyError(ErrRetriesExhausted)
		return
	}
	delay := c.cfg.BaseDelay * time.Duration(c.attempts)
	attempt := c.attempts
	c.retryTimer = time.AfterFunc(delay, func() { c.Connect() })
	c.mu.Unlock()

	metrics.WSReconnects.Inc()
	c.logger.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
}

// Send serializes nothing; it transmits an already-encoded payload. It
// returns false when the connection is not open or the write fails.
func (c *Conn) Send(payload []byte) bool {
	c.mu.Lock()
	if c.state != StateOpen || c.ws == nil {
		c.mu.Unlock()
		return false
	}
	ws := c.ws
	err := ws.WriteMessage(websocket.TextMessage, payload)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("send failed", zap.Error(err))
		c.notifyError(fmt.Errorf("send failed: %w", err))
		return false
	}
	return true
}

// Disconnect closes the connection and cancels any pending reconnect. It is
// idempotent and terminal for this instance.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	c.manualClose = true
	c.gen++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	ws := c.ws
	c.ws = nil
	wasOpen := c.state == StateOpen
	c.state = StateClosed
	c.mu.Unlock()

	if ws != nil {
		// The read loop exits on the close and owns the gauge decrement.
		ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		ws.Close()
	}
	if c.handlers.OnClose != nil && wasOpen {
		c.handlers.OnClose()
	}
	c.logger.Debug("disconnected")
}

func (c *Conn) notifyError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(err)
	}
}

func isNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
