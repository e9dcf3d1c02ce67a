package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/chatlift/widget-core/internal/model"
	"github.com/chatlift/widget-core/pkg/metrics"
)

// OptimisticInsert appends the user message and an empty assistant
// placeholder, marks the conversation awaiting a response, and updates the
// list preview. The returned ids identify this send for rollback.
func (s *Store) OptimisticInsert(conversationID, text string) (userMsgID, placeholderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(conversationID)
	now := time.Now()

	userMsgID = model.ProvisionalMessageID()
	placeholderID = model.ProvisionalMessageID()

	e.messages = append(e.messages,
		model.Message{
			ID:             userMsgID,
			ConversationID: conversationID,
			Role:           model.RoleUser,
			Content:        text,
			Timestamp:      now,
			IsRead:         true,
		},
		model.Message{
			ID:             placeholderID,
			ConversationID: conversationID,
			Role:           model.RoleAssistant,
			Timestamp:      now.Add(time.Millisecond),
			Streaming:      true,
		},
	)
	model.SortMessages(e.messages)

	e.conv.AwaitingResponse = true
	e.conv.LastMessage = model.TruncatePreview(text, PreviewLength)
	e.conv.LastMessageAt = now
	e.conv.UpdatedAt = now

	metrics.RecordMerge("optimistic_insert")
	return userMsgID, placeholderID
}

// MergeDelta replaces the streaming entry's content in place, appending one
// if none exists. There is never more than one streaming entry per
// conversation.
func (s *Store) MergeDelta(conversationID, buffered, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(conversationID)

	for i := range e.messages {
		if e.messages[i].Streaming {
			e.messages[i].Content = buffered
			if messageID != "" {
				e.messages[i].ID = messageID
			}
			metrics.RecordMerge("delta")
			return
		}
	}

	id := messageID
	if id == "" {
		id = model.ProvisionalMessageID()
	}
	e.messages = append(e.messages, model.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        buffered,
		Timestamp:      time.Now(),
		Streaming:      true,
	})
	model.SortMessages(e.messages)
	metrics.RecordMerge("delta")
}

// TerminalMerge describes the end of one assistant turn.
type TerminalMerge struct {
	// UserMessageID is the server-assigned id for the visitor's message,
	// relabelling the most recent provisional user entry when set.
	UserMessageID string

	// ResponseID is the server-assigned id for the assistant response.
	ResponseID string

	Content     string
	Complete    bool
	NeedsInfo   model.NeedsInfo
	Suggestions []string
}

// MergeTerminal settles the current streaming turn. It is idempotent under
// retransmission: a response id that already exists is updated in place.
func (s *Store) MergeTerminal(conversationID string, t TerminalMerge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(conversationID)
	now := time.Now()

	// Relabel the most recent provisional user message by its local id.
	if t.UserMessageID != "" {
		for i := len(e.messages) - 1; i >= 0; i-- {
			m := &e.messages[i]
			if m.Role == model.RoleUser && model.IsProvisionalID(m.ID) {
				m.ID = t.UserMessageID
				break
			}
		}
	}

	// Drop the streaming placeholder; the settled message replaces it.
	var streamingTS time.Time
	kept := e.messages[:0]
	for _, m := range e.messages {
		if m.Streaming {
			streamingTS = m.Timestamp
			continue
		}
		kept = append(kept, m)
	}
	e.messages = kept

	updated := false
	if t.ResponseID != "" {
		for i := range e.messages {
			if e.messages[i].ID == t.ResponseID {
				e.messages[i].Content = t.Content
				updated = true
				break
			}
		}
	}

	if !updated {
		ts := now
		if !streamingTS.IsZero() {
			// Keep the turn anchored where the stream rendered it.
			ts = streamingTS
		}
		id := t.ResponseID
		if id == "" {
			id = model.ProvisionalMessageID()
		}
		e.messages = append(e.messages, model.Message{
			ID:             id,
			ConversationID: conversationID,
			Role:           model.RoleAssistant,
			Content:        t.Content,
			Timestamp:      ts,
		})
	}
	model.SortMessages(e.messages)

	e.conv.AwaitingResponse = false
	e.conv.State.IsComplete = t.Complete
	e.conv.State.NeedsInfo = t.NeedsInfo
	e.conv.State.Suggestions = t.Suggestions
	e.conv.LastMessage = model.TruncatePreview(t.Content, PreviewLength)
	e.conv.LastMessageAt = now
	e.conv.UpdatedAt = now

	metrics.RecordMerge("terminal")
}

// AbortStreaming removes the streaming placeholder without settling it:
// after a server-declared error, or when a fresh send supersedes a turn
// whose stream was interrupted. The rest of the transcript is untouched.
func (s *Store) AbortStreaming(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	removed := false
	kept := e.messages[:0]
	for _, m := range e.messages {
		if m.Streaming {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	e.messages = kept
	e.conv.AwaitingResponse = false

	if removed {
		metrics.RecordMerge("abort")
	}
}

// MergeOutOfBand appends a tagged server event, deduplicating by event id
// first and by kind plus exact content when no id is available. A session
// end forces completion and marks the conversation inactive.
func (s *Store) MergeOutOfBand(conversationID string, kind model.Kind, content, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(conversationID)

	for _, m := range e.messages {
		if eventID != "" && m.ID == eventID {
			return
		}
		if eventID == "" && m.Kind == kind && m.Content == content {
			return
		}
	}

	now := time.Now()
	id := eventID
	if id == "" {
		id = model.ProvisionalMessageID()
	}
	e.messages = append(e.messages, model.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        content,
		Kind:           kind,
		Timestamp:      now,
	})
	model.SortMessages(e.messages)

	e.conv.LastMessage = model.TruncatePreview(content, PreviewLength)
	e.conv.LastMessageAt = now
	e.conv.UpdatedAt = now
	if kind == model.KindSessionEnd {
		e.conv.State.IsComplete = true
		e.conv.Active = false
		e.conv.AwaitingResponse = false
	}

	metrics.RecordMerge("out_of_band")
}

// MergeHistory folds a page of persisted messages into the in-memory list,
// deduplicating by id. In-flight provisional and streaming entries are never
// dropped.
func (s *Store) MergeHistory(conversationID string, fetched []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(conversationID)

	known := make(map[string]struct{}, len(e.messages))
	for _, m := range e.messages {
		known[m.ID] = struct{}{}
	}

	sessionEnded := false
	for _, m := range fetched {
		if m.Kind == model.KindSessionEnd {
			sessionEnded = true
		}
		if _, dup := known[m.ID]; dup {
			continue
		}
		known[m.ID] = struct{}{}
		m.ConversationID = conversationID
		e.messages = append(e.messages, m)
	}
	model.SortMessages(e.messages)

	// A transcript containing a session end is complete regardless of any
	// live terminal event.
	if sessionEnded {
		e.conv.State.IsComplete = true
		e.conv.Active = false
	}
	if n := len(e.messages); n > 0 {
		last := e.messages[n-1]
		if !last.Streaming {
			e.conv.LastMessage = model.TruncatePreview(last.Content, PreviewLength)
			e.conv.LastMessageAt = last.Timestamp
		}
	}
	e.conv.UpdatedAt = time.Now()

	metrics.RecordMerge("history")
}

// Rollback removes the optimistic user message and placeholder from a send
// whose transmission failed, restoring the pre-send state. Targets are
// matched by id, never by position.
func (s *Store) Rollback(conversationID, userMsgID, placeholderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.conversations[conversationID]
	if !ok {
		return
	}

	kept := e.messages[:0]
	for _, m := range e.messages {
		if m.ID == userMsgID || m.ID == placeholderID {
			continue
		}
		kept = append(kept, m)
	}
	e.messages = kept
	e.conv.AwaitingResponse = false

	// Restore the preview from whatever remains.
	e.conv.LastMessage = ""
	e.conv.LastMessageAt = time.Time{}
	if n := len(e.messages); n > 0 {
		last := e.messages[n-1]
		e.conv.LastMessage = model.TruncatePreview(last.Content, PreviewLength)
		e.conv.LastMessageAt = last.Timestamp
	}

	metrics.RollbacksTotal.Inc()
	s.logger.Debug("rolled back optimistic send",
		zap.String("conversation_id", conversationID),
		zap.String("user_message_id", userMsgID),
	)
}
