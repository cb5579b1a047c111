// Package orchestrator runs the per-message control loop: extraction,
// field merge, transition evaluation, optional tool execution, response
// generation, and the exactly-once exchange append. Turns within one
// session are processed strictly sequentially; different sessions run in
// parallel.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/pmo-platform/chatcore/internal/agent/conversations"
	"github.com/pmo-platform/chatcore/internal/agent/extract"
	"github.com/pmo-platform/chatcore/internal/agent/goals"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	"github.com/pmo-platform/chatcore/internal/agent/respond"
	"github.com/pmo-platform/chatcore/internal/agent/session"
	"github.com/pmo-platform/chatcore/internal/agent/toolexec"
	"github.com/pmo-platform/chatcore/internal/agent/transition"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

const defaultMaxIterations = 10

type Orchestrator struct {
	store     *session.Store
	registry  *goals.Registry
	extractor *extract.Extractor
	evaluator *transition.Evaluator
	responder *respond.Responder
	executor  *toolexec.Executor
	builder   *conversations.ContextBuilder

	maxIterations int
	retryAttempts int
	retryBackoff  time.Duration

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex
}

type Deps struct {
	Store     *session.Store
	Registry  *goals.Registry
	Extractor *extract.Extractor
	Evaluator *transition.Evaluator
	Responder *respond.Responder
	Executor  *toolexec.Executor
	Builder   *conversations.ContextBuilder
}

func New(deps Deps, cfg model.ConversationConfig) *Orchestrator {
	maxIter := cfg.Loop.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	attempts := cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Orchestrator{
		store:         deps.Store,
		registry:      deps.Registry,
		extractor:     deps.Extractor,
		evaluator:     deps.Evaluator,
		responder:     deps.Responder,
		executor:      deps.Executor,
		builder:       deps.Builder,
		maxIterations: maxIter,
		retryAttempts: attempts,
		retryBackoff:  time.Duration(cfg.Retry.BackoffMS) * time.Millisecond,
		turnLocks:     make(map[string]*sync.Mutex),
	}
}

// turnLock serializes turns per session id.
func (o *Orchestrator) turnLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.turnLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		o.turnLocks[sessionID] = l
	}
	return l
}

// HandleMessage processes one user message end to end and returns the
// agent's reply. This is the single operation the core exposes to its
// caller.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, userMessage string) (*model.HandleResult, error) {
	l := o.turnLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := o.store.GetOrCreate(ctx, sessionID, o.registry.DefaultGoal())
	if err != nil {
		return nil, err
	}
	if sess.Closed() {
		return nil, errx.SessionClosed(sessionID)
	}

	// The analysis input always embeds the literal current message; the
	// extraction and semantic agents never reason about a stale turn.
	analysisInput := o.builder.BuildAnalysisInput(sess.Exchanges, userMessage)
	analysisCtx := []*schema.Message{analysisInput}

	sess = o.runExtraction(ctx, sess, analysisInput)

	// A turn that starts on an action goal whose tool never succeeded
	// retries the action before evaluation, so a recovered backend lets
	// the result field land and the exit rule fire this same turn.
	if goal, gerr := o.registry.Get(sess.CurrentGoal); gerr == nil && goal.Action != nil && !sess.ActionDone(goal.ID) {
		sess = o.runAction(ctx, sess, goal)
	}

	sess, err = o.advance(ctx, sess, analysisCtx)
	if err != nil {
		return nil, err
	}

	goal, err := o.registry.Get(sess.CurrentGoal)
	if err != nil {
		return nil, err
	}

	reply := o.generateReply(ctx, goal, sess, userMessage)

	// Exactly once per turn, after the reply is final.
	sess, err = o.store.AppendExchange(ctx, sessionID, userMessage, reply)
	if err != nil {
		return nil, err
	}

	closed := false
	if goal.Terminal {
		if _, err := o.store.Close(ctx, sessionID); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to close session on terminal goal")
		} else {
			closed = true
			o.releaseTurnLock(sessionID)
		}
	}

	return &model.HandleResult{
		AgentReply:    reply,
		CurrentGoal:   sess.CurrentGoal,
		SessionClosed: closed,
	}, nil
}

// Close terminates a session at the next turn boundary. An in-flight turn
// for the session finishes first because both paths take the turn lock.
func (o *Orchestrator) Close(ctx context.Context, sessionID string) error {
	l := o.turnLock(sessionID)
	l.Lock()
	defer l.Unlock()
	_, err := o.store.Close(ctx, sessionID)
	if err == nil {
		o.releaseTurnLock(sessionID)
	}
	return err
}

// releaseTurnLock drops the session's turn-lock entry so the map does
// not grow with every session ever handled. A goroutine still waiting
// on the old mutex hits the closed-session rejection.
func (o *Orchestrator) releaseTurnLock(sessionID string) {
	o.mu.Lock()
	delete(o.turnLocks, sessionID)
	o.mu.Unlock()
}

// runExtraction harvests fields from the current exchange and merges them
// atomically. A persistently failing extraction degrades to "no new
// information" instead of failing the turn.
func (o *Orchestrator) runExtraction(ctx context.Context, sess *model.Session, analysisInput *schema.Message) *model.Session {
	var partial model.FieldMap
	err := o.retryExternal(ctx, "extraction", func() error {
		var eerr error
		partial, eerr = o.extractor.Extract(ctx, analysisInput)
		return eerr
	})
	if err != nil {
		logx.Warn().Err(err).Str("session_id", sess.ID).Msg("extraction failed, continuing without new fields")
		return sess
	}
	if len(partial) == 0 {
		return sess
	}
	merged, err := o.store.MergeFields(ctx, sess.ID, partial)
	if err != nil {
		logx.Error().Err(err).Str("session_id", sess.ID).Msg("field merge failed")
		return sess
	}
	return merged
}

// advance runs transition evaluation and the auto-advance loop, bounded
// by the per-message iteration cap.
func (o *Orchestrator) advance(ctx context.Context, sess *model.Session, analysisCtx []*schema.Message) (*model.Session, error) {
	for iteration := 0; ; iteration++ {
		if iteration >= o.maxIterations {
			logx.Warn().
				Str("session_id", sess.ID).
				Str("goal", sess.CurrentGoal).
				Int("max_iterations", o.maxIterations).
				Msg("per-message iteration cap reached, stopping auto-advance")
			return sess, nil
		}

		var decision model.TransitionDecision
		err := o.retryExternal(ctx, "transition", func() error {
			var derr error
			decision, derr = o.evaluator.Evaluate(ctx, sess, analysisCtx)
			return derr
		})
		if err != nil {
			if errx.IsRetryable(err) {
				// Semantic check kept failing: stay on the current goal.
				logx.Warn().Err(err).Str("session_id", sess.ID).Msg("transition evaluation degraded to stay")
				return sess, nil
			}
			return nil, err
		}

		if !decision.Transition {
			logx.Debug().
				Str("session_id", sess.ID).
				Str("goal", sess.CurrentGoal).
				Str("reason", decision.Reason).
				Msg("staying on current goal")
			return sess, nil
		}

		from := sess.CurrentGoal
		sess, err = o.store.SetGoal(ctx, sess.ID, decision.Target)
		if err != nil {
			return nil, err
		}
		// Audit trail for every transition, forced or not.
		logx.Info().
			Str("session_id", sess.ID).
			Str("from", from).
			Str("to", decision.Target).
			Str("reason", decision.Reason).
			Bool("forced", decision.Forced).
			Msg("goal transition")

		goal, err := o.registry.Get(sess.CurrentGoal)
		if err != nil {
			return nil, err
		}

		if goal.Action != nil && !sess.ActionDone(goal.ID) {
			sess = o.runAction(ctx, sess, goal)
		}

		if goal.Terminal || !goal.AutoAdvance() {
			return sess, nil
		}
	}
}

// runAction executes the goal's bound tool and folds the result into the
// field map. Failure never clears fields and leaves the action pending:
// the session stays in the action goal and the next turn re-invokes the
// tool. Success marks the action done so it is never invoked twice.
func (o *Orchestrator) runAction(ctx context.Context, sess *model.Session, goal *model.GoalDefinition) *model.Session {
	result, err := o.executor.Run(ctx, goal.Action, sess.Fields)
	if err != nil {
		logx.Error().
			Err(err).
			Str("session_id", sess.ID).
			Str("goal", goal.ID).
			Str("tool", goal.Action.Tool).
			Msg("tool action failed, staying on goal")
		return sess
	}
	marked, err := o.store.MarkActionDone(ctx, sess.ID, goal.ID)
	if err != nil {
		logx.Error().Err(err).Str("session_id", sess.ID).Msg("marking action done failed")
	} else {
		sess = marked
	}
	if len(result) == 0 {
		return sess
	}
	merged, err := o.store.MergeFields(ctx, sess.ID, result)
	if err != nil {
		logx.Error().Err(err).Str("session_id", sess.ID).Msg("merging tool result failed")
		return sess
	}
	return merged
}

// generateReply produces the agent utterance for the current goal,
// retrying transient model failures and degrading to the fixed fallback
// reply past the budget so the turn still completes.
func (o *Orchestrator) generateReply(ctx context.Context, goal *model.GoalDefinition, sess *model.Session, userMessage string) string {
	var reply string
	err := o.retryExternal(ctx, "response", func() error {
		var rerr error
		reply, rerr = o.responder.Respond(ctx, goal, sess, userMessage)
		return rerr
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", sess.ID).Str("goal", goal.ID).Msg("response generation failed, using fallback reply")
		return respond.FallbackReply
	}
	return reply
}

// retryExternal retries fn while it fails with a retryable external call
// error, up to the attempt budget, with doubling backoff.
func (o *Orchestrator) retryExternal(ctx context.Context, op string, fn func() error) error {
	backoff := o.retryBackoff
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errx.IsRetryable(err) || attempt >= o.retryAttempts {
			return err
		}
		logx.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", o.retryAttempts).
			Msg("external call failed, retrying")
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return errx.ExternalCall(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
}

// IsClosed reports whether err is the closed-session rejection.
func IsClosed(err error) bool {
	return errors.Is(err, errx.ErrSessionClosed)
}
