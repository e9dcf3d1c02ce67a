// Package cache owns the canonical per-conversation message lists and
// derived state. Every mutation goes through the reconciler's merge
// operations; other components only describe intent.
package cache

import (
	"sync"
	"time"

	"github.com/chatlift/widget-core/internal/model"
	"github.com/chatlift/widget-core/pkg/logger"
)

// PreviewLength bounds conversation-list preview text.
const PreviewLength = 80

// Store holds all conversation state, keyed by conversation id. Entries are
// created on first reference and torn down on explicit deletion.
type Store struct {
	logger *logger.Logger

	mu            sync.Mutex
	conversations map[string]*entry
}

type entry struct {
	conv     model.Conversation
	messages []model.Message
}

// NewStore creates an empty store.
func NewStore(log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		logger:        log,
		conversations: make(map[string]*entry),
	}
}

// ensureLocked returns the entry for id, creating it on first reference.
// Callers must hold s.mu.
func (s *Store) ensureLocked(id string) *entry {
	e, ok := s.conversations[id]
	if !ok {
		now := time.Now()
		e = &entry{
			conv: model.Conversation{
				ID:        id,
				CreatedAt: now,
				UpdatedAt: now,
				Active:    true,
			},
		}
		s.conversations[id] = e
	}
	return e
}

// Ensure creates the conversation entry if it does not exist.
func (s *Store) Ensure(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(conversationID)
}

// Delete removes a conversation and all of its messages.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
}

// Messages returns a copy of the conversation's ordered message list.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Conversation returns a copy of the conversation record.
func (s *Store) Conversation(conversationID string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conversations[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return e.conv, true
}

// Conversations returns all conversation records for the list view.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conversation, 0, len(s.conversations))
	for _, e := range s.conversations {
		out = append(out, e.conv)
	}
	return out
}

// MarkRead marks every message in the conversation as read.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	for i := range e.messages {
		e.messages[i].IsRead = true
	}
}

// Promote rekeys all state from a provisional conversation id to its
// canonical id. It is idempotent: re-promotion and promotion of an unknown
// provisional id are no-ops.
func (s *Store) Promote(provisionalID, canonicalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conversations[provisionalID]
	if !ok {
		return
	}
	if _, exists := s.conversations[canonicalID]; exists {
		// Canonical entry already present; drop the provisional alias
		// rather than clobbering merged state.
		delete(s.conversations, provisionalID)
		return
	}

	delete(s.conversations, provisionalID)
	e.conv.ID = canonicalID
	for i := range e.messages {
		e.messages[i].ConversationID = canonicalID
	}
	s.conversations[canonicalID] = e
}
