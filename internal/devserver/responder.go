package devserver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chatlift/widget-core/internal/llm"
	"github.com/chatlift/widget-core/internal/model"
)

type scriptedReply struct {
	text        string
	suggestions []string
	needsInfo   model.NeedsInfo
	endSession  bool
}

// respond produces the assistant turn for one visitor message. With an LLM
// client configured it proxies the whole transcript; otherwise replies are
// scripted so the streaming path stays exercisable offline.
func (s *Server) respond(ctx context.Context, sessionID, text string) scriptedReply {
	lowered := strings.ToLower(strings.TrimSpace(text))

	switch lowered {
	case "bye", "goodbye", "quit", "exit":
		return scriptedReply{
			text:       "Thanks for reaching out. Have a great day!",
			endSession: true,
		}
	case "help":
		return scriptedReply{
			text: "I can answer questions about our product, pricing, and account setup. What would you like to know?",
			suggestions: []string{
				"Tell me about pricing",
				"How do I set up my account?",
				"Talk to a human",
			},
		}
	}

	if strings.Contains(lowered, "email") || strings.Contains(lowered, "contact") {
		return scriptedReply{
			text:      "Happy to follow up by email. What address should we use?",
			needsInfo: model.NeedsInfoEmail,
		}
	}

	if s.llm != nil {
		if reply := s.llmRespond(ctx, sessionID); reply != nil {
			return *reply
		}
	}

	return scriptedReply{
		text: fmt.Sprintf("You said: %q. This is a development response; connect a model provider for real answers.", text),
	}
}

func (s *Server) llmRespond(ctx context.Context, sessionID string) *scriptedReply {
	transcript := s.store.Transcript(sessionID)
	turns := make([]llm.Turn, 0, len(transcript))
	for _, m := range transcript {
		if m.Kind != model.KindContent {
			continue
		}
		turns = append(turns, llm.Turn{Role: string(m.Role), Content: m.Content})
	}

	reply, err := s.llm.Reply(ctx, &llm.Request{Turns: turns})
	if err != nil {
		s.logger.Error("llm passthrough failed, falling back to scripted reply",
			zap.String("provider", s.llm.Name()),
			zap.Error(err),
		)
		return nil
	}
	return &scriptedReply{text: reply.Content}
}
