package flowstore

import (
	"context"

	"github.com/c360/fabula/nodetype"
)

// Backend is the storage collaborator consumed by the Store. A flow record
// carries its nodes, connections, and derived references, so a single Put is
// the unit of work spanning a node payload update and its reference rows.
//
// Put is compare-and-swap on Flow.Version: the write succeeds only when the
// stored version equals expectedVersion, and the stored record's version is
// bumped to expectedVersion+1. A mismatch returns errors.ErrVersionConflict.
type Backend interface {
	// Create stores a new flow; errors.ErrRecordExists if the id is taken
	Create(ctx context.Context, flow *Flow) error
	// Get returns the flow or errors.ErrFlowNotFound
	Get(ctx context.Context, id string) (*Flow, error)
	// Put replaces the flow if the stored version matches expectedVersion
	Put(ctx context.Context, flow *Flow, expectedVersion int64) error
	// Delete removes the flow for good; missing flows are a no-op
	Delete(ctx context.Context, id string) error
	// List returns all flows, trashed included
	List(ctx context.Context) ([]*Flow, error)
}

// ReferenceTracker derives and indexes variable references. The Store calls
// Derive before committing a payload change and Apply only after the commit
// succeeds, so the queryable index never observes a write that storage
// rolled back.
type ReferenceTracker interface {
	// Derive resolves a node payload's variable-bearing fields into
	// deduplicated references. Unresolvable variables are dropped, not
	// errors.
	Derive(ctx context.Context, nodeID string, uses []nodetype.VariableUse) ([]VariableReference, error)
	// Apply replaces the indexed reference set for a node
	Apply(flowID, nodeID string, refs []VariableReference)
	// RemoveNode drops all indexed references for a node
	RemoveNode(flowID, nodeID string)
	// RemoveFlow drops all indexed references for every node of a flow
	RemoveFlow(flowID string)
}
