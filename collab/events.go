package collab

import (
	"encoding/json"
	"time"

	"github.com/c360/fabula/flowstore"
)

// EventType identifies a broadcast event on a flow channel
type EventType string

// Flow channel event types
const (
	EventSnapshot          EventType = "snapshot"
	EventNodeCreated       EventType = "node_created"
	EventNodeUpdated       EventType = "node_updated"
	EventNodeDeleted       EventType = "node_deleted"
	EventConnectionCreated EventType = "connection_created"
	EventConnectionDeleted EventType = "connection_deleted"
	EventNodeLocked        EventType = "node_locked"
	EventNodeUnlocked      EventType = "node_unlocked"
	EventPresenceDiff      EventType = "presence_diff"
	EventCursorMoved       EventType = "cursor_moved"
	EventFlowUpdated       EventType = "flow_updated"
)

// Event is one addressed message on a flow channel. The ID is a ULID
// assigned under the room lock, so lexicographic ID order is exactly
// broadcast order within a flow.
type Event struct {
	ID      string          `json:"id"`
	Type    EventType       `json:"type"`
	FlowID  string          `json:"flow_id"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NodePayload carries a node's full state on create/update events
type NodePayload struct {
	Node *flowstore.Node `json:"node"`
}

// NodeDeletedPayload carries the deleted node and its cascaded connections
type NodeDeletedPayload struct {
	NodeID        string   `json:"node_id"`
	ConnectionIDs []string `json:"connection_ids,omitempty"`
}

// ConnectionPayload carries a connection's state on create events
type ConnectionPayload struct {
	Connection *flowstore.Connection `json:"connection"`
}

// ConnectionDeletedPayload identifies a removed connection
type ConnectionDeletedPayload struct {
	ConnectionID string `json:"connection_id"`
}

// LockPayload announces a lease grant or extension
type LockPayload struct {
	NodeID    string    `json:"node_id"`
	Holder    string    `json:"holder"`
	User      string    `json:"user,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UnlockPayload announces a lease release or expiry
type UnlockPayload struct {
	NodeID string `json:"node_id"`
}

// PresenceDiffPayload announces sessions joining and leaving a flow
type PresenceDiffPayload struct {
	Joins  []PresenceEntry `json:"joins,omitempty"`
	Leaves []string        `json:"leaves,omitempty"` // session ids
}

// CursorPayload announces a session's cursor position, coalesced to a
// bounded broadcast rate
type CursorPayload struct {
	SessionID string  `json:"session_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// FlowPayload carries flow-level state (name, viewport, tree position)
type FlowPayload struct {
	Flow *flowstore.Flow `json:"flow"`
}

// Snapshot is the full current state a session receives on join, before any
// incremental events
type Snapshot struct {
	Flow     *flowstore.Flow `json:"flow"`
	Locks    []Lease         `json:"locks"`
	Presence []PresenceEntry `json:"presence"`
}

// PresenceEntry is one connected session viewing a flow
type PresenceEntry struct {
	SessionID string    `json:"session_id"`
	User      string    `json:"user"`
	CursorX   float64   `json:"cursor_x"`
	CursorY   float64   `json:"cursor_y"`
	JoinedAt  time.Time `json:"joined_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Lease is a time-bounded single-holder editing permission on one node.
// Leases live in memory only; they never persist across a restart.
type Lease struct {
	NodeID     string    `json:"node_id"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// expired reports whether the lease TTL has lapsed at the given instant
func (l *Lease) expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// marshalPayload encodes an event payload, panicking on unmarshalable
// values because payload types are all plain structs defined here
func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("collab: unmarshalable event payload: " + err.Error())
	}
	return data
}
