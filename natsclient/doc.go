// Package natsclient wraps the NATS connection used for cross-instance event
// fanout and the JetStream key-value buckets backing flow storage.
//
// The client owns connection lifecycle: reconnect policy, connection state
// callbacks, and lazy JetStream context creation. KVStore layers CAS
// semantics over a JetStream bucket, classifying the driver's not-found and
// wrong-revision errors so callers can map them onto their own taxonomy.
package natsclient
