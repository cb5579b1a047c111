package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/pmo-platform/chatcore/internal/agent/model"
)

//go:embed template/extract_prompt.txt
var extractSystemPrompt string

//go:embed template/response_prompt.txt
var responseSystemPrompt string

//go:embed template/condition_prompt.txt
var conditionSystemPrompt string

// RenderExtractionSystem renders the extraction system prompt advertising
// the harvestable field paths.
func RenderExtractionSystem(ctx context.Context, knownPaths []string) (string, error) {
	if len(knownPaths) == 0 {
		return "", fmt.Errorf("no known field paths configured")
	}

	// Render known tokens only so delimiters in the template body survive
	content := strings.NewReplacer(
		"{TD}", "<||>",
		"{RD}", "##",
		"{CD}", "<|COMPLETE|>",
		"{known_fields}", "- "+strings.Join(knownPaths, "\n- "),
	).Replace(extractSystemPrompt)

	return renderStatic(ctx, content, "extraction")
}

// RenderConditionSystem renders the semantic-condition judgment prompt.
func RenderConditionSystem(ctx context.Context, condition string) (string, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return "", fmt.Errorf("condition is empty")
	}

	content := strings.NewReplacer(
		"{TD}", "<||>",
		"{RD}", "##",
		"{CD}", "<|COMPLETE|>",
		"{condition}", condition,
	).Replace(conditionSystemPrompt)

	return renderStatic(ctx, content, "condition")
}

// RenderResponseSystem renders the goal-specific response system prompt
// from the goal definition and the current field map.
func RenderResponseSystem(ctx context.Context, cfg model.ResponsePromptConfig, goal *model.GoalDefinition, fields model.FieldMap) (string, error) {
	if goal == nil {
		return "", fmt.Errorf("goal is nil")
	}

	known := "(nothing yet)"
	if paths := fields.Paths(); len(paths) > 0 {
		var b strings.Builder
		for _, p := range paths {
			b.WriteString("- " + p + ": " + fields.Get(p) + "\n")
		}
		known = strings.TrimRight(b.String(), "\n")
	}

	missing := strings.Join(fields.Missing(goal.RequiredFields(fields)), ", ")

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(responseSystemPrompt),
	)
	vars := map[string]any{
		"BusinessType":    cfg.BusinessType,
		"BusinessName":    cfg.BusinessName,
		"GoalID":          goal.ID,
		"GoalDescription": goal.Description,
		"Tactics":         goal.Tactics,
		"KnownFields":     known,
		"MissingFields":   missing,
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("response prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("response prompt render: empty result")
	}
	return msgs[0].Content, nil
}

// renderStatic pushes a pre-substituted prompt through the Eino prompt
// component so prompt callbacks fire consistently for every agent call.
func renderStatic(ctx context.Context, content, name string) (string, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("system_messages", false),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"system_messages": []*schema.Message{schema.SystemMessage(content)},
	})
	if err != nil {
		return "", fmt.Errorf("%s prompt callbacks: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt callbacks: empty result", name)
	}
	return msgs[0].Content, nil
}
