package collab

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/c360/fabula/errors"
)

// Room holds the in-memory collaborative state of one flow: connected
// sessions, per-node leases, and presence. A room exists only while at
// least one session is joined; the hub creates it on first join and tears
// it down when the last session leaves. Two different flows never share
// concurrency state.
type Room struct {
	flowID string
	hub    *Hub

	mu       sync.Mutex
	sessions map[string]*Session
	leases   map[string]*Lease
	presence map[string]*PresenceEntry
	entropy  *ulid.MonotonicEntropy
}

func newRoom(flowID string, hub *Hub) *Room {
	return &Room{
		flowID:   flowID,
		hub:      hub,
		sessions: make(map[string]*Session),
		leases:   make(map[string]*Lease),
		presence: make(map[string]*PresenceEntry),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// nextEventID assigns a ULID under the room lock; ids are strictly
// increasing within the room, so id order is broadcast order
func (r *Room) nextEventIDLocked(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
}

// broadcastLocked delivers an event to every session in the room and to the
// cross-instance relay. Sessions that cannot keep up are closed and
// scheduled for removal; they rejoin with a fresh snapshot rather than
// continue with a gap in their event stream.
func (r *Room) broadcastLocked(eventType EventType, payload any) Event {
	now := r.hub.now()
	event := Event{
		ID:      r.nextEventIDLocked(now),
		Type:    eventType,
		FlowID:  r.flowID,
		At:      now,
		Payload: marshalPayload(payload),
	}

	var slow []*Session
	for _, session := range r.sessions {
		if !session.send(event) {
			slow = append(slow, session)
		}
	}
	for _, session := range slow {
		r.hub.logger.Warn("closing slow session",
			"flow_id", r.flowID, "session_id", session.ID)
		go r.hub.Leave(session)
	}

	r.hub.countEvent(eventType)
	r.hub.relayEvent(event)
	return event
}

// join adds a session to the room and announces it
func (r *Room) join(session *Session) {
	now := r.hub.now()
	entry := PresenceEntry{
		SessionID: session.ID,
		User:      session.User,
		JoinedAt:  now,
		LastSeen:  now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	r.presence[session.ID] = &entry
	r.broadcastLocked(EventPresenceDiff, PresenceDiffPayload{Joins: []PresenceEntry{entry}})
}

// broadcast delivers an event, taking the room lock for id assignment
func (r *Room) broadcast(eventType EventType, payload any) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(eventType, payload)
}

// leave removes a session, releasing every lease it holds. It reports
// whether the session was present and whether the room is now empty.
func (r *Room) leave(session *Session) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; !ok {
		return false, len(r.sessions) == 0
	}

	for nodeID, lease := range r.leases {
		if lease.SessionID != session.ID {
			continue
		}
		delete(r.leases, nodeID)
		r.broadcastLocked(EventNodeUnlocked, UnlockPayload{NodeID: nodeID})
	}

	delete(r.sessions, session.ID)
	delete(r.presence, session.ID)
	session.close()
	r.broadcastLocked(EventPresenceDiff, PresenceDiffPayload{Leaves: []string{session.ID}})
	return true, len(r.sessions) == 0
}

// acquire grants or extends the node's lease for the session. Acquisition
// never blocks: a live lease held by another session fails immediately with
// a lock conflict carrying the holder's identity.
func (r *Room) acquire(session *Session, nodeID string, ttl time.Duration) (*Lease, error) {
	now := r.hub.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.leases[nodeID]; ok && !existing.expired(now) && existing.SessionID != session.ID {
		return nil, errors.WrapLockConflict(errors.ErrLockConflict,
			"Room", "acquire", "lease held by "+existing.SessionID)
	}

	lease := &Lease{
		NodeID:     nodeID,
		SessionID:  session.ID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	r.leases[nodeID] = lease

	user := ""
	if entry, ok := r.presence[session.ID]; ok {
		user = entry.User
	}
	r.broadcastLocked(EventNodeLocked, LockPayload{
		NodeID:    nodeID,
		Holder:    session.ID,
		User:      user,
		ExpiresAt: lease.ExpiresAt,
	})

	granted := *lease
	return &granted, nil
}

// heartbeat extends the lease TTL; calls from a non-holder are rejected
// without side effects
func (r *Room) heartbeat(session *Session, nodeID string, ttl time.Duration) error {
	now := r.hub.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	lease, ok := r.leases[nodeID]
	if !ok || lease.expired(now) || lease.SessionID != session.ID {
		return errors.WrapLockRequired(errors.ErrLockRequired,
			"Room", "heartbeat", "holder check")
	}
	lease.ExpiresAt = now.Add(ttl)
	return nil
}

// release removes the lease if the session holds it; releasing a lease the
// session does not hold is a no-op so retries converge
func (r *Room) release(session *Session, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lease, ok := r.leases[nodeID]
	if !ok || lease.SessionID != session.ID {
		return
	}
	delete(r.leases, nodeID)
	r.broadcastLocked(EventNodeUnlocked, UnlockPayload{NodeID: nodeID})
}

// holder returns the session id holding a live lease on the node, if any
func (r *Room) holder(nodeID string) (string, bool) {
	now := r.hub.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	lease, ok := r.leases[nodeID]
	if !ok || lease.expired(now) {
		return "", false
	}
	return lease.SessionID, true
}

// dropLease removes a lease without an unlock broadcast, for nodes that no
// longer exist (node_deleted supersedes node_unlocked)
func (r *Room) dropLease(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, nodeID)
}

// sweep expires leases past TTL and announces each expiry. This is the
// recovery path for clients that disconnected without releasing.
func (r *Room) sweep() int {
	now := r.hub.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for nodeID, lease := range r.leases {
		if !lease.expired(now) {
			continue
		}
		delete(r.leases, nodeID)
		r.broadcastLocked(EventNodeUnlocked, UnlockPayload{NodeID: nodeID})
		expired++
	}
	return expired
}

// cursor records a session's cursor position and broadcasts it at a bounded
// rate: at most one cursor_moved per session per coalesce window, always
// carrying the latest position
func (r *Room) cursor(session *Session, x, y float64, window time.Duration) {
	now := r.hub.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.presence[session.ID]; ok {
		entry.CursorX = x
		entry.CursorY = y
		entry.LastSeen = now
	}

	payload := CursorPayload{SessionID: session.ID, X: x, Y: y}
	if now.Sub(session.lastCursorSent) >= window {
		session.lastCursorSent = now
		session.pendingCursor = nil
		r.broadcastLocked(EventCursorMoved, payload)
		return
	}
	session.pendingCursor = &payload
}

// flushCursors broadcasts coalesced cursor positions whose window elapsed
func (r *Room) flushCursors(window time.Duration) {
	now := r.hub.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, session := range r.sessions {
		if session.pendingCursor == nil || now.Sub(session.lastCursorSent) < window {
			continue
		}
		payload := *session.pendingCursor
		session.pendingCursor = nil
		session.lastCursorSent = now
		r.broadcastLocked(EventCursorMoved, payload)
	}
}

// locks returns the live leases for snapshot assembly
func (r *Room) locks() []Lease {
	now := r.hub.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	locks := make([]Lease, 0, len(r.leases))
	for _, lease := range r.leases {
		if lease.expired(now) {
			continue
		}
		locks = append(locks, *lease)
	}
	return locks
}

// presenceList returns the current presence entries for snapshot assembly
func (r *Room) presenceList() []PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]PresenceEntry, 0, len(r.presence))
	for _, entry := range r.presence {
		entries = append(entries, *entry)
	}
	return entries
}
