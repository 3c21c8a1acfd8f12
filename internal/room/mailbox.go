package room

import (
	"sync"

	"github.com/snake-arena/server/internal/proto"
)

// eventMailbox buffers events for a client whose turn is in flight. While
// locked, deliveries are queued instead of sent, so an event can never race
// the client's own turn exchange; the master loop drains the queue once the
// lock is released.
type eventMailbox struct {
	mu      sync.Mutex
	locked  bool
	pending []proto.Event
}

// lock starts buffering and returns the release function. The release is
// idempotent, so it is safe to defer on every exit path.
func (m *eventMailbox) lock() func() {
	m.mu.Lock()
	m.locked = true
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.locked = false
			m.mu.Unlock()
		})
	}
}

// offer buffers the event if the mailbox is locked, or if earlier events are
// still queued so a direct send would overtake them, and reports whether it
// did. Otherwise delivery is left to the caller.
func (m *eventMailbox) offer(ev proto.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked || len(m.pending) > 0 {
		m.pending = append(m.pending, ev)
		return true
	}
	return false
}

// drain pops all queued events in enqueue order; empty while locked.
func (m *eventMailbox) drain() []proto.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked || len(m.pending) == 0 {
		return nil
	}
	events := m.pending
	m.pending = nil
	return events
}
