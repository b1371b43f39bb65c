package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/chatrelay/internal/protocol"
)

// Session binds one live WebSocket connection to its identity, visibility
// flag, group memberships, and outbound queue. The handle (ID) is unique for
// the lifetime of the socket and invalid after Close.
type Session struct {
	ID   string
	Addr string

	conn *websocket.Conn
	send chan []byte

	// cleanup guards the hub's teardown path so registry, group, and
	// admission bookkeeping runs exactly once per session.
	cleanup sync.Once

	mu       sync.RWMutex
	identity *protocol.Identity
	online   bool
	groups   map[string]struct{}
	lastPong time.Time
	closed   bool
}

// NewSession creates an unauthenticated session for a freshly upgraded
// connection. Addr is the source host used for admission accounting.
func NewSession(id string, addr string, conn *websocket.Conn, queueSize int) *Session {
	return &Session{
		ID:       id,
		Addr:     addr,
		conn:     conn,
		send:     make(chan []byte, queueSize),
		groups:   make(map[string]struct{}),
		lastPong: time.Now(),
	}
}

// Identity returns the attached identity, if login has completed
func (s *Session) Identity() (protocol.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return protocol.Identity{}, false
	}
	return *s.identity, true
}

// SetIdentity attaches the claimed identity after a successful login
func (s *Session) SetIdentity(id protocol.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
	s.online = true
}

// UserID returns the logged-in user id, or "" before login
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.UserID
}

// Online reports the client-controlled visibility flag
func (s *Session) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// SetOnline updates the client-controlled visibility flag
func (s *Session) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// AddGroup records a group membership on the session
func (s *Session) AddGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = struct{}{}
}

// RemoveGroup drops a group membership from the session
func (s *Session) RemoveGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, groupID)
}

// InGroup reports whether the session lists the group
func (s *Session) InGroup(groupID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID]
	return ok
}

// Groups returns a copy of the session's group memberships
func (s *Session) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

// TouchPong records a pong from the peer
func (s *Session) TouchPong() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPong = time.Now()
}

// LastPong returns the time of the most recent pong
func (s *Session) LastPong() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPong
}

// Enqueue places a serialized frame on the outbound queue without blocking.
// It returns false if the session is closed or the queue is full; the caller
// treats either as a drop for this one frame, never as a routing failure.
func (s *Session) Enqueue(frame []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// SendEvent serializes and enqueues an outbound event
func (s *Session) SendEvent(t protocol.Type, data interface{}) bool {
	frame, err := protocol.Encode(t, data)
	if err != nil {
		return false
	}
	return s.Enqueue(frame)
}

// SendError enqueues an error event with a machine-readable reason code
func (s *Session) SendError(code string, details string) bool {
	return s.Enqueue(protocol.EncodeError(code, details))
}

// Close marks the session closed, closes its queue, and closes the
// underlying socket. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
	}
}

// CloseSoon rejects further enqueues and closes the queue without touching
// the socket. Frames already queued stay readable, so the write pump can
// flush them to the peer before the socket closes; used when a final frame
// must still reach the client.
func (s *Session) CloseSoon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Closed reports whether the session has been torn down
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
