// Package respond generates the agent's next utterance for the current
// goal. The literal current user message is always the final input
// message; the windowed history is context, never a substitute for it.
package respond

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/pmo-platform/chatcore/internal/agent/conversations"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	"github.com/pmo-platform/chatcore/internal/agent/prompts"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

// FallbackReply is the degraded response when generation stays broken
// past the retry budget. The turn completes instead of crashing.
const FallbackReply = "I'm sorry, I'm having trouble responding right now. Could you repeat that, or give me a moment?"

type Responder struct {
	reasoner  model.Reasoner
	promptCfg model.ResponsePromptConfig
	builder   *conversations.ContextBuilder
}

func NewResponder(reasoner model.Reasoner, promptCfg model.ResponsePromptConfig, builder *conversations.ContextBuilder) *Responder {
	return &Responder{
		reasoner:  reasoner,
		promptCfg: promptCfg,
		builder:   builder,
	}
}

// Respond produces the reply for the goal, given the session's exchange
// log and the current user message.
func (r *Responder) Respond(ctx context.Context, goal *model.GoalDefinition, sess *model.Session, currentMsg string) (string, error) {
	systemPrompt, err := prompts.RenderResponseSystem(ctx, r.promptCfg, goal, sess.Fields)
	if err != nil {
		return "", err
	}

	messages := make([]*schema.Message, 0, 2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	messages = append(messages, r.builder.BuildChatMessages(sess.Exchanges, currentMsg)...)

	reply, err := r.reasoner.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		logx.Warn().Str("session_id", sess.ID).Str("goal", goal.ID).Msg("model returned empty reply, using fallback")
		return FallbackReply, nil
	}
	return reply, nil
}
