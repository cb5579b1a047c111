package extract

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReasoner struct {
	output   string
	err      error
	lastMsgs []*schema.Message
}

func (s *scriptedReasoner) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	s.lastMsgs = messages
	return s.output, s.err
}

func (s *scriptedReasoner) EvaluateCondition(ctx context.Context, condition string, contextMsgs []*schema.Message) (model.ConditionResult, error) {
	return model.ConditionResult{}, nil
}

func TestExtractFiltersUnknownAndLowConfidence(t *testing.T) {
	sr := &scriptedReasoner{output: `("field"<||>customer.name<||>Dana Reyes<||>0.95)##
("field"<||>customer.mood<||>annoyed<||>0.9)##
("field"<||>customer.phone<||>416-555-0142<||>0.3)##
<|COMPLETE|>`}

	x := NewExtractor(sr, []string{"customer.name", "customer.phone"}, 0.5)
	fields, err := x.Extract(context.Background(), schema.UserMessage("hi, I'm Dana Reyes"))
	require.NoError(t, err)

	// customer.mood is not a known path; customer.phone is below the
	// confidence floor.
	assert.Equal(t, model.FieldMap{"customer.name": "Dana Reyes"}, fields)
}

func TestExtractEmptyHarvestMeansNoNewInformation(t *testing.T) {
	sr := &scriptedReasoner{output: "<|COMPLETE|>"}
	x := NewExtractor(sr, []string{"customer.name"}, 0.5)

	fields, err := x.Extract(context.Background(), schema.UserMessage("hello there"))
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestExtractSendsSystemPromptWithKnownPaths(t *testing.T) {
	sr := &scriptedReasoner{output: "<|COMPLETE|>"}
	x := NewExtractor(sr, []string{"customer.name", "service.preferred_date"}, 0.5)

	_, err := x.Extract(context.Background(), schema.UserMessage("hello"))
	require.NoError(t, err)

	require.Len(t, sr.lastMsgs, 2)
	assert.Equal(t, schema.System, sr.lastMsgs[0].Role)
	assert.Contains(t, sr.lastMsgs[0].Content, "customer.name")
	assert.Contains(t, sr.lastMsgs[0].Content, "service.preferred_date")
	assert.Equal(t, "hello", sr.lastMsgs[1].Content)
}
