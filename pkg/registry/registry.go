// Package registry tracks the live client sessions of the auction server
// and fans price broadcasts out to them.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/luxfi/auction/pkg/conn"
	"github.com/luxfi/log"
)

// Session is one connected peer
type Session struct {
	ID      string
	Channel conn.Channel

	alive atomic.Bool
}

// NewSession creates a live session with a fresh id
func NewSession(ch conn.Channel) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		Channel: ch,
	}
	s.alive.Store(true)
	return s
}

// Alive reports whether the session has not been removed
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// Send delivers one message to the peer
func (s *Session) Send(msg string) error {
	return s.Channel.Send(msg)
}

// Handle is returned by Register and removes the session when done
type Handle struct {
	registry *Registry
	session  *Session
}

// Session returns the registered session
func (h Handle) Session() *Session { return h.session }

// Remove unregisters the session, reporting whether it was still present
func (h Handle) Remove() bool {
	return h.registry.Remove(h.session.ID)
}

// Result summarizes one broadcast pass
type Result struct {
	Delivered int
	Pruned    int
}

// Registry is a concurrent set of sessions
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   log.Logger

	// OnPrune is called outside the lock for every session dropped by a
	// failed broadcast.
	OnPrune func(s *Session, err error)
}

// New creates an empty registry
func New(logger log.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register adds a session
func (r *Registry) Register(s *Session) Handle {
	r.mu.Lock()
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Debug("Session registered", "id", s.ID, "addr", s.Channel.RemoteAddr(), "total", total)
	return Handle{registry: r, session: s}
}

// Remove unregisters a session by id. It does not close the channel.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		s.alive.Store(false)
	}
	r.mu.Unlock()
	return ok
}

// Size returns the number of live sessions
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of the live sessions
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast sends msg once to every session in a snapshot taken at the
// start of the pass. Sessions whose send fails are removed and closed in
// the same pass; they are not retried. Sessions registered while the pass
// runs may miss this message.
func (r *Registry) Broadcast(msg string) Result {
	snapshot := r.Sessions()

	var res Result
	var failed []*Session
	var errs []error
	for _, s := range snapshot {
		if err := s.Send(msg); err != nil {
			failed = append(failed, s)
			errs = append(errs, err)
			continue
		}
		res.Delivered++
	}

	if len(failed) == 0 {
		return res
	}

	r.mu.Lock()
	for _, s := range failed {
		if cur, ok := r.sessions[s.ID]; ok && cur == s {
			delete(r.sessions, s.ID)
			s.alive.Store(false)
			res.Pruned++
		}
	}
	r.mu.Unlock()

	for i, s := range failed {
		s.Channel.Close()
		r.logger.Warn("Session pruned after failed send", "id", s.ID, "error", errs[i])
		if r.OnPrune != nil {
			r.OnPrune(s, errs[i])
		}
	}
	return res
}
