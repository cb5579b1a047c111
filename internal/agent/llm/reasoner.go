// Package llm adapts Eino chat models to the narrow Reasoner contract the
// conversation core depends on. Failures surface as retryable external
// call errors so the orchestrator can apply its retry budget.
package llm

import (
	"context"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/pmo-platform/chatcore/internal/agent/model"
	"github.com/pmo-platform/chatcore/internal/agent/prompts"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

// Reasoner backs the model.Reasoner port with one Eino chat model.
// Construct one per model role: the low-temperature analysis model for
// extraction/conditions, the response model for replies.
type Reasoner struct {
	cm        einomodel.BaseChatModel
	modelName string
}

func NewReasoner(cm einomodel.BaseChatModel, modelName string) *Reasoner {
	return &Reasoner{cm: cm, modelName: modelName}
}

func (r *Reasoner) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	out, err := r.cm.Generate(ctx, messages)
	if err != nil {
		logx.Error().Err(err).Str("model", r.modelName).Msg("model generate failed")
		return "", errx.ExternalCall(err)
	}
	if out == nil {
		return "", nil
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		usage := out.ResponseMeta.Usage
		logx.Debug().
			Str("model", r.modelName).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Int("total_tokens", usage.TotalTokens).
			Float64("est_cost_usd", estimateCost(r.modelName, usage.PromptTokens, usage.CompletionTokens)).
			Msg("LLM usage")
	}
	return out.Content, nil
}

// EvaluateCondition asks the model to judge a natural-language condition
// against the provided context messages. The context must end with the
// current exchange; callers never pass a stale prior turn.
func (r *Reasoner) EvaluateCondition(ctx context.Context, condition string, contextMsgs []*schema.Message) (model.ConditionResult, error) {
	systemPrompt, err := prompts.RenderConditionSystem(ctx, condition)
	if err != nil {
		return model.ConditionResult{}, err
	}

	messages := make([]*schema.Message, 0, len(contextMsgs)+1)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	messages = append(messages, contextMsgs...)

	out, err := r.Generate(ctx, messages)
	if err != nil {
		return model.ConditionResult{}, err
	}

	res, err := ParseJudgment(out)
	if err != nil {
		logx.Warn().Err(err).Str("model", r.modelName).Msg("unparseable judgment, treating as no match")
		return model.ConditionResult{}, nil
	}
	return res, nil
}

var _ model.Reasoner = (*Reasoner)(nil)
