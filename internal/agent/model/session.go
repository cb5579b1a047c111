package model

import (
	"time"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Exchange is one completed (customer message, agent response) pair.
// Seq is strictly monotonic and contiguous per session: the store appends
// exactly once per user turn, after the response for that turn is final.
type Exchange struct {
	Seq      int       `json:"seq"`
	UserMsg  string    `json:"user_msg"`
	AgentMsg string    `json:"agent_msg"`
	At       time.Time `json:"at"`
}

// Session is one conversation instance. It is an explicit value passed
// through store operations; the store owns persistence and serializes
// writers per session id.
type Session struct {
	ID          string          `json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CurrentGoal string          `json:"current_goal"`
	Exchanges   []Exchange      `json:"exchanges"`
	Fields      FieldMap        `json:"fields"`
	GoalTurns   map[string]int  `json:"goal_turns"` // consecutive turns spent on each goal
	ActionsDone map[string]bool `json:"actions_done,omitempty"`
	Status      SessionStatus   `json:"status"`
}

// Closed reports whether the session has been terminated.
func (s *Session) Closed() bool {
	return s.Status == SessionClosed
}

// NextSeq returns the sequence index the next exchange must carry.
func (s *Session) NextSeq() int {
	return len(s.Exchanges)
}

// RecentExchanges returns up to n of the most recent exchanges, oldest first.
func (s *Session) RecentExchanges(n int) []Exchange {
	if n <= 0 || len(s.Exchanges) == 0 {
		return nil
	}
	if len(s.Exchanges) <= n {
		out := make([]Exchange, len(s.Exchanges))
		copy(out, s.Exchanges)
		return out
	}
	src := s.Exchanges[len(s.Exchanges)-n:]
	out := make([]Exchange, len(src))
	copy(out, src)
	return out
}

// ActionDone reports whether the goal's bound action already completed.
// A pending action (entered the goal, never succeeded) is re-invoked on
// later turns.
func (s *Session) ActionDone(goalID string) bool {
	return s.ActionsDone[goalID]
}

// TurnsOnCurrentGoal returns how many consecutive turns have been spent
// on the current goal.
func (s *Session) TurnsOnCurrentGoal() int {
	if s.GoalTurns == nil {
		return 0
	}
	return s.GoalTurns[s.CurrentGoal]
}
