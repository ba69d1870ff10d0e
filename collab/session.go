package collab

import (
	"sync"
	"time"
)

// Session is one client connection to a flow's room. Events are delivered
// through a buffered channel drained by the transport's write pump; a
// session whose buffer overflows is closed so the client rejoins with a
// fresh snapshot instead of silently missing events.
type Session struct {
	ID     string
	User   string
	FlowID string

	events chan Event

	mu     sync.Mutex
	closed bool

	// Cursor coalescing state, guarded by the room lock
	lastCursorSent time.Time
	pendingCursor  *CursorPayload
}

// Events returns the channel the transport drains. The channel closes when
// the session closes.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Closed reports whether the session has been closed
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send delivers an event without blocking. Returns false when the session
// is closed or its buffer is full (slow consumer).
func (s *Session) send(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// close closes the event channel exactly once
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
