package llm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pmo-platform/chatcore/internal/agent/model"
)

const (
	tupDelim = "<||>"
	endDelim = "<|COMPLETE|>"
)

// ParseJudgment parses the condition model's answer:
//
//	("judgment"<||>yes<||>0.85)##
//	<|COMPLETE|>
func ParseJudgment(content string) (model.ConditionResult, error) {
	if idx := strings.Index(content, endDelim); idx >= 0 {
		content = content[:idx]
	}
	content = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "##"))

	start := strings.IndexByte(content, '(')
	end := strings.LastIndexByte(content, ')')
	if start < 0 || end <= start {
		return model.ConditionResult{}, fmt.Errorf("judgment: no tuple found")
	}
	parts := strings.SplitN(content[start+1:end], tupDelim, 3)
	if len(parts) < 3 {
		return model.ConditionResult{}, fmt.Errorf("judgment: invalid tuple parts")
	}
	if strings.Trim(strings.TrimSpace(parts[0]), `"`) != "judgment" {
		return model.ConditionResult{}, fmt.Errorf("judgment: unexpected tuple type")
	}

	verdict := strings.ToLower(strings.TrimSpace(parts[1]))
	if verdict != "yes" && verdict != "no" {
		return model.ConditionResult{}, fmt.Errorf("judgment: verdict %q is not yes/no", verdict)
	}

	conf, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil || conf < 0 || conf > 1 {
		return model.ConditionResult{}, fmt.Errorf("judgment: invalid confidence %q", parts[2])
	}

	return model.ConditionResult{Matched: verdict == "yes", Confidence: conf}, nil
}
