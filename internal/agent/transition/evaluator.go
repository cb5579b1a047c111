// Package transition decides, after each turn, whether the conversation
// moves to a different goal. Cheap deterministic field checks run first
// and short-circuit; the expensive semantic check runs at most once per
// turn and only when deterministic evaluation was inconclusive.
package transition

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/pmo-platform/chatcore/internal/agent/goals"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

type Evaluator struct {
	registry *goals.Registry
	reasoner model.Reasoner
}

func NewEvaluator(registry *goals.Registry, reasoner model.Reasoner) *Evaluator {
	return &Evaluator{registry: registry, reasoner: reasoner}
}

// Evaluate produces the transition decision for the just-completed turn.
// contextMsgs must end with the current user message; semantic rules are
// judged against it, never against a stale prior exchange.
func (e *Evaluator) Evaluate(ctx context.Context, sess *model.Session, contextMsgs []*schema.Message) (model.TransitionDecision, error) {
	goal, err := e.registry.Get(sess.CurrentGoal)
	if err != nil {
		return model.TransitionDecision{}, err
	}

	if goal.Terminal {
		return model.TransitionDecision{Reason: "terminal goal"}, nil
	}

	// Loop guard fires before anything else: once the consecutive-turn
	// budget for this goal is spent, the fallback transition is
	// unconditional.
	if goal.MaxTurns > 0 && sess.TurnsOnCurrentGoal() >= goal.MaxTurns {
		logx.Warn().
			Str("session_id", sess.ID).
			Str("goal", goal.ID).
			Int("turns", sess.TurnsOnCurrentGoal()).
			Int("max_turns", goal.MaxTurns).
			Str("fallback", goal.Fallback).
			Msg("loop guard exceeded, forcing fallback transition")
		return model.TransitionDecision{
			Transition: true,
			Target:     goal.Fallback,
			Reason:     fmt.Sprintf("loop guard: %d turns on %s (max %d)", sess.TurnsOnCurrentGoal(), goal.ID, goal.MaxTurns),
			Forced:     true,
		}, nil
	}

	if missing := sess.Fields.Missing(goal.RequiredFields(sess.Fields)); len(missing) > 0 {
		return model.TransitionDecision{
			Reason:  fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")),
			Missing: missing,
		}, nil
	}

	// Deterministic rules, declared order, short-circuit on match.
	for i := range goal.Rules {
		rule := &goal.Rules[i]
		if !rule.Kind.Deterministic() {
			continue
		}
		if matchDeterministic(rule, sess.Fields) {
			return model.TransitionDecision{
				Transition: true,
				Target:     rule.Target,
				Reason:     fmt.Sprintf("rule %s matched", rule.Kind),
			}, nil
		}
	}

	// Semantic rules only when no deterministic rule matched, and only
	// the first declared one: at most one reasoner judgment per turn.
	for i := range goal.Rules {
		rule := &goal.Rules[i]
		if rule.Kind != model.RuleSemantic {
			continue
		}
		res, err := e.reasoner.EvaluateCondition(ctx, rule.Condition, contextMsgs)
		if err != nil {
			return model.TransitionDecision{}, err
		}
		if !res.Matched {
			return model.TransitionDecision{Reason: "semantic condition not met"}, nil
		}
		if res.Confidence < rule.MinConfidence {
			// Ambiguous judgment: stay rather than oscillate.
			logx.Debug().
				Str("session_id", sess.ID).
				Str("goal", goal.ID).
				Float64("confidence", res.Confidence).
				Float64("min_confidence", rule.MinConfidence).
				Msg("semantic match below confidence threshold, staying")
			return model.TransitionDecision{
				Reason: fmt.Sprintf("semantic match below threshold (%.2f < %.2f)", res.Confidence, rule.MinConfidence),
			}, nil
		}
		return model.TransitionDecision{
			Transition: true,
			Target:     rule.Target,
			Reason:     fmt.Sprintf("semantic condition matched (%.2f)", res.Confidence),
		}, nil
	}

	return model.TransitionDecision{Reason: "no rule matched"}, nil
}

func matchDeterministic(rule *model.TransitionRule, fields model.FieldMap) bool {
	switch rule.Kind {
	case model.RuleFieldSet:
		return fields.IsSet(rule.Field)
	case model.RuleFieldsSet:
		for _, f := range rule.Fields {
			if !fields.IsSet(f) {
				return false
			}
		}
		return len(rule.Fields) > 0
	case model.RuleFieldEquals:
		return fields.Get(rule.Field) == rule.Equals
	default:
		return false
	}
}
