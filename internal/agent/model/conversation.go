package model

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// SessionRepository persists sessions keyed by id. Implementations do not
// synchronize writers; the session store serializes access per session.
type SessionRepository interface {
	// Load retrieves the session, failing with errx.ErrNotFound when the
	// id is unknown.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Save writes the full session state.
	Save(ctx context.Context, session *Session) error

	// Delete removes the session.
	Delete(ctx context.Context, sessionID string) error
}

// ConditionResult is the outcome of a semantic condition check.
type ConditionResult struct {
	Matched    bool
	Confidence float64
}

// Reasoner is the narrow contract over the external LLM. Generate produces
// the next agent utterance; EvaluateCondition judges a natural-language
// transition condition against conversation context.
type Reasoner interface {
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
	EvaluateCondition(ctx context.Context, condition string, contextMsgs []*schema.Message) (ConditionResult, error)
}

// ToolInvoker executes one external business action. A failed call returns
// an error and must never be folded into session state.
type ToolInvoker interface {
	Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// HandleResult is what the core returns to its caller per user message.
type HandleResult struct {
	AgentReply    string `json:"agent_reply"`
	CurrentGoal   string `json:"current_goal"`
	SessionClosed bool   `json:"session_closed"`
}
