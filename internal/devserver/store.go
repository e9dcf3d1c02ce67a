package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatlift/widget-core/internal/model"
)

// ErrNotFound is returned for unknown visitors and sessions.
var ErrNotFound = errors.New("not found")

type sessionRecord struct {
	ID        string
	VisitorID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Ended     bool
	Messages  []model.Message
}

// memoryStore backs the stub server. Everything lives in memory; durable
// persistence is deliberately out of scope.
type memoryStore struct {
	mu       sync.RWMutex
	visitors map[string]time.Time
	sessions map[string]*sessionRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		visitors: make(map[string]time.Time),
		sessions: make(map[string]*sessionRecord),
	}
}

func (s *memoryStore) CreateVisitor() string {
	id := uuid.New().String()
	s.mu.Lock()
	s.visitors[id] = time.Now()
	s.mu.Unlock()
	return id
}

func (s *memoryStore) VisitorExists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.visitors[id]
	return ok
}

func (s *memoryStore) CreateSession(visitorID string) (*sessionRecord, error) {
	if !s.VisitorExists(visitorID) {
		return nil, ErrNotFound
	}
	now := time.Now()
	rec := &sessionRecord{
		ID:        uuid.Must(uuid.NewV7()).String(),
		VisitorID: visitorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.sessions[rec.ID] = rec
	s.mu.Unlock()
	return rec, nil
}

func (s *memoryStore) Session(visitorID, sessionID string) (*sessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok || rec.VisitorID != visitorID {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *memoryStore) ListSessions(visitorID string, limit, offset int) ([]model.Conversation, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, rec := range s.sessions {
		if rec.VisitorID != visitorID {
			continue
		}
		conv := model.Conversation{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			Active:    !rec.Ended,
		}
		if n := len(rec.Messages); n > 0 {
			last := rec.Messages[n-1]
			conv.LastMessage = model.TruncatePreview(last.Content, 80)
			conv.LastMessageAt = last.Timestamp
		}
		conv.State.IsComplete = rec.Ended
		convs = append(convs, conv)
	}

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return convs[start:end], total
}

func (s *memoryStore) AppendMessage(sessionID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.Messages = append(rec.Messages, msg)
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) Messages(sessionID string, limit, offset int) ([]model.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	total := len(rec.Messages)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]model.Message, end-start)
	copy(out, rec.Messages[start:end])
	return out, total, nil
}

func (s *memoryStore) Transcript(sessionID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(rec.Messages))
	copy(out, rec.Messages)
	return out
}

func (s *memoryStore) EndSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok {
		rec.Ended = true
		rec.UpdatedAt = time.Now()
	}
}

func (s *memoryStore) SessionEnded(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	return ok && rec.Ended
}

func (s *memoryStore) DeleteSession(visitorID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok || rec.VisitorID != visitorID {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}
