// Package flowstore owns the flow graph data model: flows, their typed
// nodes, and the connections between node slots. It enforces the structural
// invariants of the graph (single entry node, hub label uniqueness, jump
// resolution, same-flow connections), validates node payloads through the
// node type registry, and keeps each node's derived variable references in
// step with its payload by invoking the reference tracker inside the same
// unit of work as the payload write.
//
// Flows form an organizational tree (parent/position), which has no bearing
// on narrative execution order. Deleting a flow tombstones it; hard deletion
// happens only when the trash retention window lapses.
//
// Persistence goes through the Backend interface. The in-memory backend in
// this package serves tests and single-process runs; the storage package
// provides SQLite and NATS JetStream KV backends.
package flowstore
