package repo

import (
	"context"
	"encoding/json"
	"sync"

	errx "github.com/pmo-platform/chatcore/internal/core/error"

	"github.com/pmo-platform/chatcore/internal/agent/model"
)

// MemorySessionRepository keeps sessions in-process. Used by tests and
// local runs without Redis. Sessions are deep-copied on the way in and
// out so callers never alias the stored value.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string][]byte)}
}

func (r *MemorySessionRepository) Load(ctx context.Context, sessionID string) (*model.Session, error) {
	r.mu.RLock()
	raw, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, errx.NotFound("session", sessionID)
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MemorySessionRepository) Save(ctx context.Context, session *model.Session) error {
	b, err := json.Marshal(session)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.sessions[session.ID] = b
	r.mu.Unlock()
	return nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	return nil
}

var _ model.SessionRepository = (*MemorySessionRepository)(nil)
