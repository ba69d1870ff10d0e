// Package gateway exposes the service over HTTP: a REST surface for the
// flow tree, variable catalog, and reference index queries, and a WebSocket
// endpoint carrying the realtime editing protocol.
//
// A WebSocket client joins one flow, receives a full snapshot, then applies
// the ordered event stream. Inbound frames are commands (acquire_lock,
// update_node, cursor and friends); command failures come back as error
// frames carrying the taxonomy class, so a client can distinguish a lock
// conflict from a schema violation without string matching.
package gateway
