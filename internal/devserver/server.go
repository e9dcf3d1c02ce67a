// Package devserver is a stub widget backend for development and
// integration testing. It speaks the same HTTP and WebSocket protocol as
// the production backend, with scripted responses or an optional LLM
// passthrough. It implements no real conversation policy.
package devserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatlift/widget-core/internal/llm"
	"github.com/chatlift/widget-core/internal/model"
	"github.com/chatlift/widget-core/pkg/logger"
	"github.com/chatlift/widget-core/pkg/metrics"
)

// Config holds the stub server's settings.
type Config struct {
	VisitorTokenSecret string
	VisitorTokenTTL    time.Duration
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	// ChunkDelay paces streamed chunks so the widget's streaming path is
	// observable by eye. Zero in tests.
	ChunkDelay time.Duration

	// IdleWarningAfter and SessionEndAfter drive the out-of-band events on
	// idle connections. Zero disables the idle monitor.
	IdleWarningAfter time.Duration
	SessionEndAfter  time.Duration
}

// Server is the stub widget backend.
type Server struct {
	cfg      Config
	logger   *logger.Logger
	store    *memoryStore
	llm      llm.Client
	upgrader websocket.Upgrader
}

// New creates a stub server. llmClient may be nil; scripted responses are
// used instead.
func New(cfg Config, llmClient llm.Client, log *logger.Logger) *Server {
	if cfg.VisitorTokenSecret == "" {
		cfg.VisitorTokenSecret = "development-secret-change-in-production"
	}
	if cfg.VisitorTokenTTL == 0 {
		cfg.VisitorTokenTTL = 24 * time.Hour
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitRequests = 60
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: log,
		store:  newMemoryStore(),
		llm:    llmClient,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogging)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.Limit(
			s.cfg.RateLimitRequests,
			s.cfg.RateLimitWindow,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				if id := visitorFromContext(r.Context()); id != "" {
					return "visitor:" + id, nil
				}
				return "ip:" + r.RemoteAddr, nil
			}),
		))

		r.Post("/visitors", s.createVisitor)
		r.Get("/widget/config", s.widgetConfig)

		// The WebSocket endpoint authenticates by session ownership; the
		// browser's WebSocket API cannot set an Authorization header.
		r.Get("/sessions/{id}/ws", s.stream)

		r.Group(func(r chi.Router) {
			r.Use(s.auth)

			r.Get("/visitors/me", s.getVisitor)
			r.Post("/sessions", s.createSession)
			r.Get("/sessions", s.listSessions)
			r.Get("/sessions/{id}/messages", s.listMessages)
			r.Post("/sessions/{id}/messages", s.sendMessage)
			r.Delete("/sessions/{id}", s.deleteSession)
		})
	})

	return r
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", duration),
		)
		metrics.RecordRequest(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), duration.Seconds())
	})
}

func (s *Server) createVisitor(w http.ResponseWriter, r *http.Request) {
	visitorID := s.store.CreateVisitor()
	token, err := issueVisitorToken(s.cfg.VisitorTokenSecret, visitorID, s.cfg.VisitorTokenTTL)
	if err != nil {
		s.logger.Error("failed to issue visitor token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create visitor")
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateVisitorResponse{
		VisitorID: visitorID,
		Token:     token,
		CreatedAt: time.Now(),
	})
}

func (s *Server) getVisitor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"visitor_id": visitorFromContext(r.Context()),
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	visitorID := visitorFromContext(r.Context())

	rec, err := s.store.CreateSession(visitorID)
	if err != nil {
		writeError(w, http.StatusNotFound, "visitor not found")
		return
	}

	writeJSON(w, http.StatusCreated, model.CreateSessionResponse{
		SessionID: rec.ID,
		CreatedAt: rec.CreatedAt,
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	visitorID := visitorFromContext(r.Context())
	limit, offset := pageParams(r, 20)

	sessions, total := s.store.ListSessions(visitorID, limit, offset)
	writeJSON(w, http.StatusOK, model.ListSessionsResponse{
		Sessions: sessions,
		Total:    total,
		HasMore:  offset+len(sessions) < total,
	})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	visitorID := visitorFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	limit, offset := pageParams(r, 50)

	if _, err := s.store.Session(visitorID, sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	messages, total, err := s.store.Messages(sessionID, limit, offset)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, model.HistoryResponse{
		Messages: messages,
		Total:    total,
		HasMore:  offset+len(messages) < total,
	})
}

// sendMessage is the non-streaming fallback path: the full exchange settles
// in one request.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	visitorID := visitorFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	if _, err := s.store.Session(visitorID, sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if s.store.SessionEnded(sessionID) {
		writeError(w, http.StatusConflict, "session has ended")
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userMsgID := uuid.Must(uuid.NewV7()).String()
	s.store.AppendMessage(sessionID, model.Message{
		ID:             userMsgID,
		ConversationID: sessionID,
		Role:           model.RoleUser,
		Content:        req.Message,
		Timestamp:      time.Now(),
	})

	reply := s.respond(r.Context(), sessionID, req.Message)

	responseID := uuid.Must(uuid.NewV7()).String()
	s.store.AppendMessage(sessionID, model.Message{
		ID:             responseID,
		ConversationID: sessionID,
		Role:           model.RoleAssistant,
		Content:        reply.text,
		Timestamp:      time.Now(),
	})
	if reply.endSession {
		s.store.EndSession(sessionID)
	}

	writeJSON(w, http.StatusOK, model.SendMessageResponse{
		Response:    reply.text,
		MessageID:   userMsgID,
		ResponseID:  responseID,
		Complete:    reply.endSession,
		NeedsInfo:   reply.needsInfo,
		Suggestions: reply.suggestions,
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	visitorID := visitorFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	if err := s.store.DeleteSession(visitorID, sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) widgetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.WidgetConfig{
		Title:           "Chat with us",
		Greeting:        "Hi! How can we help today?",
		PrimaryColor:    "#2563eb",
		Position:        "bottom-right",
		StreamingEnable: true,
	})
}

func pageParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
