package gateway

import (
	"sync"

	"github.com/mohamedkhairy/chatrelay/internal/protocol"
)

// Registry maps connection handles to sessions and enforces the
// one-session-per-user invariant. All operations on unknown handles are
// no-ops so that a closed connection racing an in-flight event never faults
// the router.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string]*Session
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byUser: make(map[string]*Session),
	}
}

// Register installs an unauthenticated session
func (r *Registry) Register(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sess.ID] = sess
}

// Login attaches an identity to the session holding the given handle. If
// another live session already holds the same user id, the user mapping is
// repointed at the new session and the prior one is returned so the caller
// can notify it and run its teardown (last login wins). Returns nil, false
// for unknown handles.
func (r *Registry) Login(sessionID string, identity protocol.Identity) (evicted *Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.byID[sessionID]
	if !exists {
		return nil, false
	}

	if prior, held := r.byUser[identity.UserID]; held && prior.ID != sessionID {
		evicted = prior
	}

	sess.SetIdentity(identity)
	r.byUser[identity.UserID] = sess
	return evicted, true
}

// SetOnline updates the visibility flag; no-op for unknown handles
func (r *Registry) SetOnline(sessionID string, online bool) bool {
	r.mu.RLock()
	sess, exists := r.byID[sessionID]
	r.mu.RUnlock()
	if !exists {
		return false
	}
	sess.SetOnline(online)
	return true
}

// Remove deletes the session and returns the group ids it was listening on
// so the caller can clean up the group index. Idempotent: removing an
// already-removed handle returns ok=false and no groups.
func (r *Registry) Remove(sessionID string) (groups []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.byID[sessionID]
	if !exists {
		return nil, false
	}
	delete(r.byID, sessionID)

	if uid := sess.UserID(); uid != "" {
		// Only unlink the user mapping if it still points at this
		// session; an eviction may already have replaced it.
		if current, held := r.byUser[uid]; held && current.ID == sessionID {
			delete(r.byUser, uid)
		}
	}

	return sess.Groups(), true
}

// Get returns the session for a handle
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, exists := r.byID[sessionID]
	return sess, exists
}

// ByUser resolves a logged-in user to their session
func (r *Registry) ByUser(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, exists := r.byUser[userID]
	return sess, exists
}

// Snapshot returns a copy of all registered sessions
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, sess := range r.byID {
		out = append(out, sess)
	}
	return out
}

// Presence returns one record per identified session
func (r *Registry) Presence() []protocol.PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.PresenceRecord, 0, len(r.byUser))
	for _, sess := range r.byUser {
		id, ok := sess.Identity()
		if !ok {
			continue
		}
		out = append(out, protocol.PresenceRecord{
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			AvatarURL:   id.AvatarURL,
			IsOnline:    sess.Online(),
		})
	}
	return out
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
