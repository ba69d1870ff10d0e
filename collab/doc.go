// Package collab implements the collaborative concurrency controller: per-flow
// session rooms with presence, per-node edit leases, and ordered event
// broadcast to every connected session.
//
// Conflict avoidance is explicit single-writer leasing, not merge: a session
// acquires a node's lease before editing, heartbeats to keep it, and releases
// it when done. Acquisition is non-blocking; a held lease surfaces as a lock
// conflict for the UI, never as a queued wait. A periodic sweep expires
// leases whose holders disconnected without releasing.
//
// Each room assigns ULID event ids under the room lock, so the event stream
// a session observes is totally ordered; per-node updates can never arrive
// out of order. Sessions that cannot keep up with their event buffer are
// closed rather than silently skipped, forcing a clean rejoin with a fresh
// snapshot.
package collab
