package flowstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/logic"
	"github.com/c360/fabula/nodetype"
)

// FlowStatus is the lifecycle state of a flow
type FlowStatus string

// Flow lifecycle states. Trashed flows are recoverable until the retention
// window lapses and PurgeTrash removes them for good.
const (
	StatusActive  FlowStatus = "active"
	StatusTrashed FlowStatus = "trashed"
)

// Flow is a named container of nodes and connections, positioned in an
// organizational tree of flows
type Flow struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Tree position: organizational only, not execution order
	ParentID string `json:"parent_id,omitempty"`
	Position int    `json:"position"`

	// Canvas state
	Viewport Viewport `json:"viewport"`

	// Version for optimistic concurrency control
	Version int64 `json:"version"`

	// Lifecycle
	Status    FlowStatus `json:"status"`
	TrashedAt *time.Time `json:"trashed_at,omitempty"`

	// Graph
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`

	// Derived variable references, keyed by node id. Written in the same
	// unit of work as the payload that produced them.
	References map[string][]VariableReference `json:"references,omitempty"`

	// Audit
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// Node is a typed vertex in a flow's graph
type Node struct {
	ID        string          `json:"id"`
	FlowID    string          `json:"flow_id"`
	Kind      nodetype.Kind   `json:"kind"`
	Position  Position        `json:"position"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Connection is a directed edge from a node's output slot to another node's
// input slot. Cycles are intentionally legal; loops are modelled with
// hub/jump pairs or direct back-edges.
type Connection struct {
	ID           string `json:"id"`
	FlowID       string `json:"flow_id"`
	SourceNodeID string `json:"source_node_id"`
	SourceSlot   string `json:"source_slot"`
	TargetNodeID string `json:"target_node_id"`
	TargetSlot   string `json:"target_slot"`
}

// Position represents canvas coordinates for a node
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the saved canvas pan/zoom state of a flow
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// VariableReference is a derived read/write edge between a node and a
// variable descriptor. Never authored directly: always recomputed from the
// node's payload, so the set for a node is exactly what its current payload
// derives.
type VariableReference struct {
	NodeID string          `json:"node_id"`
	Sheet  string          `json:"sheet"`
	Name   string          `json:"name"`
	Kind   logic.ValueKind `json:"kind"`
	Access nodetype.Access `json:"access"`
}

// Variable returns the reference's textual "shortcut.name" identity
func (r VariableReference) Variable() string {
	return r.Sheet + "." + r.Name
}

// node returns a pointer to the node with the given id, or nil
func (f *Flow) node(nodeID string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == nodeID {
			return &f.Nodes[i]
		}
	}
	return nil
}

// entryCount returns how many entry nodes the flow holds
func (f *Flow) entryCount() int {
	count := 0
	for i := range f.Nodes {
		if f.Nodes[i].Kind == nodetype.KindEntry {
			count++
		}
	}
	return count
}

// hubLabels collects the labels of all hub nodes, excluding the given node id
func (f *Flow) hubLabels(registry *nodetype.Registry, excludeNodeID string) map[string]bool {
	labels := make(map[string]bool)
	for i := range f.Nodes {
		node := &f.Nodes[i]
		if node.Kind != nodetype.KindHub || node.ID == excludeNodeID {
			continue
		}
		payload, err := registry.Decode(node.Kind, node.Payload)
		if err != nil {
			continue
		}
		if hub, ok := payload.(*nodetype.HubPayload); ok {
			labels[hub.Label] = true
		}
	}
	return labels
}

// Validate checks the flow's structural invariants: non-empty identity,
// known node kinds, exactly one entry node, unique node and connection ids,
// and connection endpoints that exist within this flow.
func (f *Flow) Validate() error {
	if f.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("flow ID cannot be empty"),
			"flowstore", "Validate", "flow identity validation")
	}
	if f.Name == "" {
		return errors.WrapInvalid(fmt.Errorf("flow name cannot be empty"),
			"flowstore", "Validate", "flow identity validation")
	}
	if f.Status != StatusActive && f.Status != StatusTrashed {
		return errors.WrapInvalid(fmt.Errorf("invalid flow status: %s", f.Status),
			"flowstore", "Validate", "flow status validation")
	}

	nodeIDs := make(map[string]bool, len(f.Nodes))
	for i := range f.Nodes {
		node := &f.Nodes[i]
		if node.ID == "" {
			return errors.WrapInvalid(fmt.Errorf("node at index %d has empty ID", i),
				"flowstore", "Validate", "node identity validation")
		}
		if !nodetype.ValidKind(node.Kind) {
			return errors.WrapSchema(
				fmt.Errorf("%w: node %q has kind %q", errors.ErrUnknownNodeKind, node.ID, node.Kind),
				"flowstore", "Validate", "node kind validation")
		}
		if nodeIDs[node.ID] {
			return errors.WrapInvalid(fmt.Errorf("duplicate node ID: %s", node.ID),
				"flowstore", "Validate", "duplicate node check")
		}
		nodeIDs[node.ID] = true
	}

	if count := f.entryCount(); count != 1 {
		return errors.WrapStructural(
			fmt.Errorf("%w: flow %q has %d entry nodes", errors.ErrStructuralViolation, f.ID, count),
			"flowstore", "Validate", "entry node invariant")
	}

	connIDs := make(map[string]bool, len(f.Connections))
	for i := range f.Connections {
		conn := &f.Connections[i]
		if conn.ID == "" {
			return errors.WrapInvalid(fmt.Errorf("connection at index %d has empty ID", i),
				"flowstore", "Validate", "connection identity validation")
		}
		if connIDs[conn.ID] {
			return errors.WrapInvalid(fmt.Errorf("duplicate connection ID: %s", conn.ID),
				"flowstore", "Validate", "duplicate connection check")
		}
		connIDs[conn.ID] = true
		if !nodeIDs[conn.SourceNodeID] {
			return errors.WrapStructural(
				fmt.Errorf("%w: connection %q references missing source node %q",
					errors.ErrStructuralViolation, conn.ID, conn.SourceNodeID),
				"flowstore", "Validate", "connection endpoint validation")
		}
		if !nodeIDs[conn.TargetNodeID] {
			return errors.WrapStructural(
				fmt.Errorf("%w: connection %q references missing target node %q",
					errors.ErrStructuralViolation, conn.ID, conn.TargetNodeID),
				"flowstore", "Validate", "connection endpoint validation")
		}
	}

	return nil
}
