package refindex

import (
	"context"
	"encoding/json"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/logic"
	"github.com/c360/fabula/nodetype"
)

// NodeLoader reads a node's live state; flowstore.Store implements it
type NodeLoader interface {
	Node(ctx context.Context, nodeID string) (*flowstore.Node, error)
}

// NodeUpdater commits a rewritten payload through the normal save path,
// which recomputes references; flowstore.Store implements it
type NodeUpdater interface {
	UpdateNodePayload(ctx context.Context, nodeID string, raw json.RawMessage) (*flowstore.Node, error)
}

// Stale re-derives each indexed site of the given variable identity from the
// node's live payload and returns the sites whose payload no longer
// textually matches it. Stale sites are flagged for UI warning only; nothing
// is rewritten here.
func (t *Tracker) Stale(ctx context.Context, registry *nodetype.Registry, loader NodeLoader, sheet, name string) ([]Site, error) {
	usage := t.Usage(sheet, name)
	identity := sheet + "." + name

	var stale []Site
	for _, site := range append(usage.Reads, usage.Writes...) {
		node, err := loader.Node(ctx, site.NodeID)
		if err != nil {
			if errors.IsNotFound(err) {
				// Index row outlived its node; treat as stale so the UI
				// surfaces it
				stale = append(stale, site)
				continue
			}
			return nil, errors.Wrap(err, "Tracker", "Stale", "load node")
		}
		payload, err := registry.Decode(node.Kind, node.Payload)
		if err != nil {
			return nil, errors.Wrap(err, "Tracker", "Stale", "decode payload")
		}

		matched := false
		for _, use := range nodetype.Uses(payload) {
			if use.Access == site.Access && use.Ref.String() == identity {
				matched = true
				break
			}
		}
		if !matched {
			stale = append(stale, site)
		}
	}
	return stale, nil
}

// Repair rewrites every indexed payload referring to the old variable
// identity so it refers to the new one, committing each node through the
// normal save path so its references recompute. Returns the rewritten node
// ids. Repair is always explicit; stale detection never triggers it.
func (t *Tracker) Repair(ctx context.Context, registry *nodetype.Registry, loader NodeLoader, updater NodeUpdater, from, to logic.VariableRef) ([]string, error) {
	usage := t.Usage(from.Sheet, from.Name)

	seen := make(map[string]bool)
	var repaired []string
	for _, site := range append(usage.Reads, usage.Writes...) {
		if seen[site.NodeID] {
			continue
		}
		seen[site.NodeID] = true

		node, err := loader.Node(ctx, site.NodeID)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return repaired, errors.Wrap(err, "Tracker", "Repair", "load node")
		}
		payload, err := registry.Decode(node.Kind, node.Payload)
		if err != nil {
			return repaired, errors.Wrap(err, "Tracker", "Repair", "decode payload")
		}
		if !rewritePayload(payload, from.String(), to.String()) {
			continue
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			return repaired, errors.WrapFatal(err, "Tracker", "Repair", "marshal payload")
		}
		if _, err := updater.UpdateNodePayload(ctx, node.ID, raw); err != nil {
			return repaired, errors.Wrap(err, "Tracker", "Repair", "commit rewritten payload")
		}
		repaired = append(repaired, node.ID)
	}
	return repaired, nil
}

// rewritePayload replaces textual variable references in the payload's
// variable-bearing fields, reporting whether anything changed
func rewritePayload(payload nodetype.Payload, from, to string) bool {
	changed := false
	switch p := payload.(type) {
	case *nodetype.ConditionPayload:
		for i := range p.Rules {
			if p.Rules[i].Variable == from {
				p.Rules[i].Variable = to
				changed = true
			}
		}
	case *nodetype.InstructionPayload:
		for i := range p.Assignments {
			if p.Assignments[i].Target == from {
				p.Assignments[i].Target = to
				changed = true
			}
			if p.Assignments[i].ValueKind == logic.SourceVariableRef && p.Assignments[i].Value == from {
				p.Assignments[i].Value = to
				changed = true
			}
		}
	}
	return changed
}
