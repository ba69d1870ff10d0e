// Package fabula is the collaborative backend for branching narrative flows.
//
// A flow is a directed graph of typed nodes (dialogue, condition, instruction,
// hub, jump, scene, subflow) bracketed by a single entry node and any number
// of exits. Writers edit flows together in real time: every session sees the
// same ordered event stream, structural edits broadcast immediately, and
// content edits are serialized through short-lived per-node leases.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           gateway                   │  REST + WebSocket front
//	│  (flows CRUD, variables, sessions)  │
//	└─────────────────────────────────────┘
//	           ↓ commands
//	┌─────────────────────────────────────┐
//	│            collab                   │  Rooms, leases, presence,
//	│   (hub, ordered event broadcast)    │  cursor coalescing
//	└─────────────────────────────────────┘
//	           ↓ mutations
//	┌─────────────────────────────────────┐
//	│      flowstore + refindex           │  Versioned flow documents,
//	│  (CAS persistence, variable index)  │  derived reference rows
//	└─────────────────────────────────────┘
//
// # Packages
//
// Domain:
//   - logic: condition rules, assignments, variable references, operators
//   - nodetype: the closed set of node kinds and their payload schemas
//   - catalog: variable descriptor resolution against external data sheets
//   - flowstore: flow document persistence with optimistic concurrency
//   - refindex: derived variable usage index, stale detection, repair
//   - collab: multi-session editing hub with leases and event relay
//
// Edges and infrastructure:
//   - gateway: HTTP and WebSocket API
//   - storage: SQLite and NATS KV backends for the flow store
//   - natsclient: NATS connection and JetStream KV management
//   - config: YAML configuration with environment overrides
//   - metric: Prometheus metrics registry and endpoint
//   - errors: classified error taxonomy shared by every layer
//   - pkg/retry: exponential backoff for transient failures
//
// # Concurrency Model
//
// Whole flows are the atomic unit of persistence. Every mutation rewrites
// the flow document through a compare-and-swap on its version; concurrent
// writers retry on conflict. Within one process, the collaboration hub
// orders all events for a flow under a single room lock, so the event ids
// it assigns are strictly increasing and delivery order matches id order.
// Cross-instance deployments relay events through NATS.
package fabula
