package realtime

import (
	"sync"
	"sync/atomic"
)

// Event is a frame pushed to a live session.
type Event struct {
	Type string `json:"type"` // "message" | "typing" | "read" | "friend" | "presence" | "info" | "error"
	From int    `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// Session is one live connection of a user. Events are read from Events()
// by the transport's writer loop.
type Session struct {
	UserID int
	send   chan Event
	closed atomic.Bool
}

// Events returns the channel the transport drains. It is closed when the
// session is unregistered.
func (s *Session) Events() <-chan Event { return s.send }

// Registry maps user ids to their live sessions. Delivery is best effort:
// a session whose buffer is full misses the event.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int]map[*Session]struct{}
	buffer   int
}

// NewRegistry creates an empty registry. buffer is the per-session queue size.
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = 16
	}
	return &Registry{sessions: make(map[int]map[*Session]struct{}), buffer: buffer}
}

// Register adds a new session for userID. first is true when no other
// session of the user was live.
func (r *Registry) Register(userID int) (s *Session, first bool) {
	s = &Session{UserID: userID, send: make(chan Event, r.buffer)}

	r.mu.Lock()
	defer r.mu.Unlock()
	peers := r.sessions[userID]
	if peers == nil {
		peers = make(map[*Session]struct{})
		r.sessions[userID] = peers
	}
	first = len(peers) == 0
	peers[s] = struct{}{}
	return s, first
}

// Unregister removes s and closes its channel. last is true when s was the
// user's final live session. Calling it twice is a no-op that reports false.
func (r *Registry) Unregister(s *Session) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if peers, ok := r.sessions[s.UserID]; ok {
		if _, present := peers[s]; present {
			delete(peers, s)
			if len(peers) == 0 {
				delete(r.sessions, s.UserID)
				last = true
			}
		}
	}
	if s.closed.CompareAndSwap(false, true) {
		close(s.send)
	}
	return last
}

// SendToUser queues evt on every session of userID and returns how many
// sessions accepted it.
func (r *Registry) SendToUser(userID int, evt Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for s := range r.sessions[userID] {
		select {
		case s.send <- evt:
			n++
		default:
			// buffer full, drop
		}
	}
	return n
}

// Send queues evt on a single session, reporting whether it was accepted.
func (r *Registry) Send(s *Session, evt Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s.closed.Load() {
		return false
	}
	select {
	case s.send <- evt:
		return true
	default:
		return false
	}
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// SessionCount returns the number of live sessions across all users.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, peers := range r.sessions {
		n += len(peers)
	}
	return n
}

// Close unregisters every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, peers := range r.sessions {
		for s := range peers {
			if s.closed.CompareAndSwap(false, true) {
				close(s.send)
			}
		}
		delete(r.sessions, userID)
	}
}
