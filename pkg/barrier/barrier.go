// Package barrier decides when every client session has finished.
package barrier

import (
	"sync"

	"github.com/luxfi/log"
)

// Barrier counts finished sessions against the sessions it knows about.
// A known session is one that joined and either finished or is still
// pending. Sessions that leave without finishing stop counting.
//
// The trigger fires exactly once, when no session is pending and at least
// one has finished.
type Barrier struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	finished map[string]struct{}
	fired    bool

	trigger func()
	once    sync.Once
	done    chan struct{}
	logger  log.Logger
}

// New creates a barrier that calls trigger when it completes
func New(trigger func(), logger log.Logger) *Barrier {
	return &Barrier{
		pending:  make(map[string]struct{}),
		finished: make(map[string]struct{}),
		trigger:  trigger,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Join adds a session as pending. Joining after the barrier fired has no
// effect.
func (b *Barrier) Join(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fired {
		return
	}
	if _, ok := b.finished[id]; ok {
		return
	}
	b.pending[id] = struct{}{}
}

// NotifyFinished records a completion signal. It returns true only for the
// call that completed the barrier.
func (b *Barrier) NotifyFinished(id string) bool {
	b.mu.Lock()
	if _, ok := b.finished[id]; ok || b.fired {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, id)
	b.finished[id] = struct{}{}

	completed, total := len(b.finished), len(b.finished)+len(b.pending)
	fire := b.checkLocked()
	b.mu.Unlock()

	b.logger.Info("Session finished purchasing", "session", id, "completed", completed, "total", total)
	if fire {
		b.fire()
	}
	return fire
}

// Leave drops a session that disconnected without finishing. It returns
// true if that completed the barrier.
func (b *Barrier) Leave(id string) bool {
	b.mu.Lock()
	if _, ok := b.pending[id]; !ok || b.fired {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, id)
	fire := b.checkLocked()
	b.mu.Unlock()

	b.logger.Debug("Session left before finishing", "session", id)
	if fire {
		b.fire()
	}
	return fire
}

func (b *Barrier) checkLocked() bool {
	if len(b.pending) == 0 && len(b.finished) > 0 {
		b.fired = true
		return true
	}
	return false
}

func (b *Barrier) fire() {
	b.once.Do(func() {
		b.logger.Info("All sessions finished, shutting down")
		close(b.done)
		if b.trigger != nil {
			b.trigger()
		}
	})
}

// Counts returns finished and total known sessions
func (b *Barrier) Counts() (finished, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.finished), len(b.finished) + len(b.pending)
}

// Done is closed once the barrier fires
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}
