// Package session tracks live session-to-user bindings.
//
// The registry is process-wide mutable state with no persistence: after a
// restart it rebuilds empty and every previously issued session is
// implicitly invalid. It is an explicit dependency passed to whatever needs
// session resolution, never a package global.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/govox/pkg/apperr"
	"github.com/NicolasHaas/govox/pkg/model"
)

// Registry manages active client sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session // sessionID -> session
	now      func() time.Time
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return NewRegistryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewRegistryWithClock creates a registry with a custom clock, for tests.
func NewRegistryWithClock(now func() time.Time) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		sessions: make(map[string]*model.Session),
		now:      now,
	}
}

// Create allocates a fresh session bound to userID. Session IDs are random
// UUIDs, so a destroyed identifier is never reused.
func (r *Registry) Create(userID string) *model.Session {
	sess := &model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: r.now(),
	}
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess
}

// Resolve returns the user bound to sessionID, or a SESSION_INVALID error
// if the session is absent or was destroyed.
func (r *Registry) Resolve(sessionID string) (string, error) {
	r.mu.RLock()
	sess, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return "", apperr.SessionInvalid("session.resolve")
	}
	return sess.UserID, nil
}

// Destroy removes a session. Destroying an absent session is not an error.
func (r *Registry) Destroy(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// ByUserID returns all sessions owned by a user (multi-device).
func (r *Registry) ByUserID(userID string) []*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			result = append(result, s)
		}
	}
	return result
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of all active sessions.
func (r *Registry) All() []*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	return result
}
