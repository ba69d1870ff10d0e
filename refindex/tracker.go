package refindex

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/fabula/catalog"
	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/nodetype"
)

// Site is one indexed usage of a variable, with enough context for the UI
// to deep-link back into the flow
type Site struct {
	FlowID string          `json:"flow_id"`
	NodeID string          `json:"node_id"`
	Access nodetype.Access `json:"access"`
}

// Usage groups a variable's sites by access for "read by / modified by"
// backlink rendering
type Usage struct {
	Reads  []Site `json:"reads"`
	Writes []Site `json:"writes"`
}

// Counts is the cheap aggregate of a variable's usage
type Counts struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// Tracker is the queryable in-memory reference index. The flow store feeds
// it through the flowstore.ReferenceTracker interface: Derive before a
// commit, Apply after, Remove* on deletions. Queries never block writers
// for long; the index is a plain map under an RWMutex.
type Tracker struct {
	resolver catalog.Resolver
	logger   *slog.Logger

	mu sync.RWMutex
	// variable "sheet.name" -> site key -> site
	sites map[string]map[string]Site
	// flow id -> node id -> variable keys indexed for that node
	nodes map[string]map[string][]string
}

// NewTracker creates a tracker resolving against the given catalog
func NewTracker(resolver catalog.Resolver, logger *slog.Logger) (*Tracker, error) {
	if resolver == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Tracker", "NewTracker", "resolver validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		resolver: resolver,
		logger:   logger,
		sites:    make(map[string]map[string]Site),
		nodes:    make(map[string]map[string][]string),
	}, nil
}

// Derive implements flowstore.ReferenceTracker. It resolves each variable
// use against the catalog, silently dropping unresolvable pairs, and
// deduplicates by (descriptor, access). Only resolver failures other than
// not-found abort the derivation (and with it the enclosing save).
func (t *Tracker) Derive(ctx context.Context, nodeID string, uses []nodetype.VariableUse) ([]flowstore.VariableReference, error) {
	seen := make(map[string]bool, len(uses))
	refs := make([]flowstore.VariableReference, 0, len(uses))

	for _, use := range uses {
		descriptor, err := t.resolver.Resolve(ctx, use.Ref.Sheet, use.Ref.Name)
		if err != nil {
			if errors.IsNotFound(err) {
				t.logger.Debug("unresolvable variable dropped from index",
					"node_id", nodeID, "variable", use.Ref.String())
				continue
			}
			return nil, errors.WrapTransient(err, "Tracker", "Derive", "catalog resolution")
		}

		key := descriptor.String() + "\x00" + string(use.Access)
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, flowstore.VariableReference{
			NodeID: nodeID,
			Sheet:  descriptor.Sheet,
			Name:   descriptor.Name,
			Kind:   descriptor.Kind,
			Access: use.Access,
		})
	}
	return refs, nil
}

func siteKey(nodeID string, access nodetype.Access) string {
	return nodeID + "\x00" + string(access)
}

// Apply implements flowstore.ReferenceTracker: it replaces the indexed set
// for a node. Called only after the backing store committed the payload
// that derived refs.
func (t *Tracker) Apply(flowID, nodeID string, refs []flowstore.VariableReference) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeNodeLocked(flowID, nodeID)
	if len(refs) == 0 {
		return
	}

	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		variable := ref.Variable()
		if t.sites[variable] == nil {
			t.sites[variable] = make(map[string]Site)
		}
		t.sites[variable][siteKey(nodeID, ref.Access)] = Site{
			FlowID: flowID,
			NodeID: nodeID,
			Access: ref.Access,
		}
		keys = append(keys, variable)
	}
	if t.nodes[flowID] == nil {
		t.nodes[flowID] = make(map[string][]string)
	}
	t.nodes[flowID][nodeID] = keys
}

// RemoveNode implements flowstore.ReferenceTracker
func (t *Tracker) RemoveNode(flowID, nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeNodeLocked(flowID, nodeID)
}

// RemoveFlow implements flowstore.ReferenceTracker
func (t *Tracker) RemoveFlow(flowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for nodeID := range t.nodes[flowID] {
		t.removeNodeLocked(flowID, nodeID)
	}
	delete(t.nodes, flowID)
}

func (t *Tracker) removeNodeLocked(flowID, nodeID string) {
	for _, variable := range t.nodes[flowID][nodeID] {
		delete(t.sites[variable], siteKey(nodeID, nodetype.AccessRead))
		delete(t.sites[variable], siteKey(nodeID, nodetype.AccessWrite))
		if len(t.sites[variable]) == 0 {
			delete(t.sites, variable)
		}
	}
	if t.nodes[flowID] != nil {
		delete(t.nodes[flowID], nodeID)
		if len(t.nodes[flowID]) == 0 {
			delete(t.nodes, flowID)
		}
	}
}

// Usage returns every indexed site of a variable, grouped by access and
// ordered deterministically
func (t *Tracker) Usage(sheet, name string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var usage Usage
	for _, site := range t.sites[sheet+"."+name] {
		switch site.Access {
		case nodetype.AccessRead:
			usage.Reads = append(usage.Reads, site)
		case nodetype.AccessWrite:
			usage.Writes = append(usage.Writes, site)
		}
	}
	sortSites(usage.Reads)
	sortSites(usage.Writes)
	return usage
}

// Count returns the read/write totals for a variable
func (t *Tracker) Count(sheet, name string) Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var counts Counts
	for _, site := range t.sites[sheet+"."+name] {
		switch site.Access {
		case nodetype.AccessRead:
			counts.Read++
		case nodetype.AccessWrite:
			counts.Write++
		}
	}
	return counts
}

func sortSites(sites []Site) {
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].FlowID != sites[j].FlowID {
			return sites[i].FlowID < sites[j].FlowID
		}
		return sites[i].NodeID < sites[j].NodeID
	})
}
