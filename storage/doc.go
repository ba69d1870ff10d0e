// Package storage provides the durable flowstore.Backend implementations:
// a SQLite store for single-instance deployments and a NATS JetStream KV
// store for clustered ones.
//
// Both stores persist the flow as one document whose write is atomic; the
// SQLite store additionally maintains queryable reference rows inside the
// same transaction, so a node payload update and its derived variable
// references can never be observed half-committed.
package storage
