package conversations

import (
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/pmo-platform/chatcore/internal/agent/model"
)

// ContextBuilder turns the session's exchange log into model inputs. Every
// agent call receives the literal current user message explicitly; the
// windowed history is supplementary context only, so no agent ever
// reasons about a turn that lags behind the one being processed.
type ContextBuilder struct {
	window int
}

func NewContextBuilder(window int) *ContextBuilder {
	if window <= 0 {
		window = 6
	}
	return &ContextBuilder{window: window}
}

// BuildAnalysisInput renders the recent window plus the current message
// into a single user message for analysis-style calls (extraction,
// semantic condition checks).
func (b *ContextBuilder) BuildAnalysisInput(exchanges []model.Exchange, current string) *schema.Message {
	recent := trimTail(exchanges, b.window)

	var ctxBuilder strings.Builder
	ctxBuilder.WriteString("<conversation_context>\n")
	for _, ex := range recent {
		if ex.UserMsg != "" {
			ctxBuilder.WriteString("UserMessage(" + ex.UserMsg + ")\n")
		}
		if ex.AgentMsg != "" {
			ctxBuilder.WriteString("AssistantMessage(" + ex.AgentMsg + ")\n")
		}
	}
	ctxBuilder.WriteString("</conversation_context>\n")
	ctxBuilder.WriteString("<current_message_to_analyze>\n")
	ctxBuilder.WriteString("UserMessage(" + current + ")\n")
	ctxBuilder.WriteString("</current_message_to_analyze>")

	return schema.UserMessage(ctxBuilder.String())
}

// BuildChatMessages renders the windowed history as alternating
// user/assistant messages ending with the current user message, for
// response generation.
func (b *ContextBuilder) BuildChatMessages(exchanges []model.Exchange, current string) []*schema.Message {
	recent := trimTail(exchanges, b.window)

	messages := make([]*schema.Message, 0, len(recent)*2+1)
	for _, ex := range recent {
		if ex.UserMsg != "" {
			messages = append(messages, schema.UserMessage(ex.UserMsg))
		}
		if ex.AgentMsg != "" {
			messages = append(messages, schema.AssistantMessage(ex.AgentMsg, nil))
		}
	}
	messages = append(messages, schema.UserMessage(current))
	return messages
}

func trimTail(exchanges []model.Exchange, maxTurns int) []model.Exchange {
	if len(exchanges) <= maxTurns {
		result := make([]model.Exchange, len(exchanges))
		copy(result, exchanges)
		return result
	}
	source := exchanges[len(exchanges)-maxTurns:]
	result := make([]model.Exchange, len(source))
	copy(result, source)
	return result
}
