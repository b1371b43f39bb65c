package gateway

import "sync"

// GroupIndex maps group ids to the set of sessions currently subscribed to
// them. Groups are created implicitly on first join and pruned when their
// member set empties; membership authority lives upstream, this index only
// mirrors currently connected members.
type GroupIndex struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Session
}

// NewGroupIndex creates an empty group index
func NewGroupIndex() *GroupIndex {
	return &GroupIndex{groups: make(map[string]map[string]*Session)}
}

// Join adds the session to the group, creating the group on first join.
// Idempotent: joining twice leaves membership unchanged.
func (g *GroupIndex) Join(groupID string, sess *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.groups[groupID]
	if !ok {
		members = make(map[string]*Session)
		g.groups[groupID] = members
	}
	members[sess.ID] = sess
}

// Leave removes the session from the group and prunes the group once empty.
// Leaving a group the session is not in is a no-op.
func (g *GroupIndex) Leave(groupID string, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	members, ok := g.groups[groupID]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(g.groups, groupID)
	}
}

// MembersOf returns a snapshot of the group's members. The copy means a
// concurrent join or leave never corrupts an in-flight broadcast iteration.
func (g *GroupIndex) MembersOf(groupID string) []*Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	members, ok := g.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]*Session, 0, len(members))
	for _, sess := range members {
		out = append(out, sess)
	}
	return out
}

// IsMember reports whether the session is subscribed to the group
func (g *GroupIndex) IsMember(groupID string, sessionID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	members, ok := g.groups[groupID]
	if !ok {
		return false
	}
	_, member := members[sessionID]
	return member
}

// Count returns the number of live groups
func (g *GroupIndex) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups)
}
