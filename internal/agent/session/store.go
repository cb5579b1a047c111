// Package session owns per-conversation state. The store is the only
// writer path to persisted sessions: every mutating operation runs
// load-modify-save under a per-session lock, so concurrent writers to the
// same session id serialize while different sessions proceed
// independently.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

type Store struct {
	repo model.SessionRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(repo model.SessionRepository) *Store {
	return &Store{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex guarding the given session id.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// NewSessionID returns a fresh collision-safe session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Get retrieves a session, failing with errx.ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.repo.Load(ctx, sessionID)
}

// Create initialises a new active session on the given goal.
func (s *Store) Create(ctx context.Context, sessionID, initialGoal string) (*model.Session, error) {
	l := s.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	sess := &model.Session{
		ID:          sessionID,
		CreatedAt:   now,
		UpdatedAt:   now,
		CurrentGoal: initialGoal,
		Exchanges:   []model.Exchange{},
		Fields:      model.FieldMap{},
		GoalTurns:   map[string]int{},
		Status:      model.SessionActive,
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, err
	}
	logx.Debug().Str("session_id", sessionID).Str("goal", initialGoal).Msg("session created")
	return sess, nil
}

// GetOrCreate loads the session or creates it on the initial goal.
func (s *Store) GetOrCreate(ctx context.Context, sessionID, initialGoal string) (*model.Session, error) {
	sess, err := s.Get(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, errx.ErrNotFound) {
		return nil, err
	}
	return s.Create(ctx, sessionID, initialGoal)
}

// AppendExchange appends one completed (user, agent) pair with the next
// contiguous sequence index and bumps the consecutive-turn counter for
// the current goal. Called exactly once per user turn, after the response
// is final.
func (s *Store) AppendExchange(ctx context.Context, sessionID, userMsg, agentMsg string) (*model.Session, error) {
	return s.update(ctx, sessionID, func(sess *model.Session) error {
		sess.Exchanges = append(sess.Exchanges, model.Exchange{
			Seq:      sess.NextSeq(),
			UserMsg:  userMsg,
			AgentMsg: agentMsg,
			At:       time.Now().UTC(),
		})
		if sess.GoalTurns == nil {
			sess.GoalTurns = map[string]int{}
		}
		sess.GoalTurns[sess.CurrentGoal]++
		return nil
	})
}

// MergeFields applies a partial field map non-destructively: set fields
// are never cleared by empty incoming values, and the batch lands
// all-or-nothing.
func (s *Store) MergeFields(ctx context.Context, sessionID string, partial model.FieldMap) (*model.Session, error) {
	var applied int
	sess, err := s.update(ctx, sessionID, func(sess *model.Session) error {
		merged, n := sess.Fields.Merge(partial)
		sess.Fields = merged
		applied = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	if applied > 0 {
		logx.Debug().Str("session_id", sessionID).Int("fields_applied", applied).Msg("merged extracted fields")
	}
	return sess, nil
}

// SetGoal moves the session to a new goal, resets its consecutive-turn
// counter so the loop guard starts fresh, and re-arms the goal's bound
// action so a revisit invokes it again.
func (s *Store) SetGoal(ctx context.Context, sessionID, goalID string) (*model.Session, error) {
	return s.update(ctx, sessionID, func(sess *model.Session) error {
		if sess.GoalTurns == nil {
			sess.GoalTurns = map[string]int{}
		}
		sess.GoalTurns[goalID] = 0
		delete(sess.ActionsDone, goalID)
		sess.CurrentGoal = goalID
		return nil
	})
}

// MarkActionDone records that the goal's bound action completed, so later
// turns on the goal do not invoke the tool again.
func (s *Store) MarkActionDone(ctx context.Context, sessionID, goalID string) (*model.Session, error) {
	return s.update(ctx, sessionID, func(sess *model.Session) error {
		if sess.ActionsDone == nil {
			sess.ActionsDone = map[string]bool{}
		}
		sess.ActionsDone[goalID] = true
		return nil
	})
}

// Close terminates the session. The record stays in the repository as an
// archive; further mutations fail with errx.ErrSessionClosed. The
// session's lock entry is released so the lock map does not grow with
// every conversation ever seen.
func (s *Store) Close(ctx context.Context, sessionID string) (*model.Session, error) {
	l := s.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errx.ErrNotFound) {
			// Expired or never-created session: reclaim the lock entry.
			s.releaseLock(sessionID)
		}
		return nil, err
	}
	if sess.Closed() {
		s.releaseLock(sessionID)
		return sess, nil
	}
	sess.Status = model.SessionClosed
	sess.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.releaseLock(sessionID)
	logx.Info().Str("session_id", sessionID).Msg("session closed")
	return sess, nil
}

// releaseLock drops the session's lock entry. A goroutine still waiting
// on the old mutex proceeds against the closed session and is rejected
// by update, so losing serialization after close is harmless.
func (s *Store) releaseLock(sessionID string) {
	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
}

// update runs a mutation under the session lock, rejecting closed
// sessions, and persists the result.
func (s *Store) update(ctx context.Context, sessionID string, mutate func(*model.Session) error) (*model.Session, error) {
	l := s.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	sess, err := s.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Closed() {
		return nil, errx.SessionClosed(sessionID)
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}
