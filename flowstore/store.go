package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/nodetype"
	"github.com/c360/fabula/pkg/retry"
)

// Store owns flows and enforces the graph's structural invariants. All
// mutating operations are serialized per flow; reads go straight to the
// backend and may observe a slightly stale but internally consistent
// snapshot.
type Store struct {
	backend  Backend
	registry *nodetype.Registry
	tracker  ReferenceTracker
	logger   *slog.Logger

	mu        sync.Mutex
	flowLocks map[string]*sync.Mutex
	nodeFlow  map[string]string // node id -> owning flow id
	connFlow  map[string]string // connection id -> owning flow id
}

// nopTracker satisfies ReferenceTracker when no tracker is wired
type nopTracker struct{}

func (nopTracker) Derive(context.Context, string, []nodetype.VariableUse) ([]VariableReference, error) {
	return nil, nil
}
func (nopTracker) Apply(string, string, []VariableReference) {}
func (nopTracker) RemoveNode(string, string)                 {}
func (nopTracker) RemoveFlow(string)                         {}

// NewStore creates a flow store over the given backend. The tracker may be
// nil when reference indexing is not wired (tests of pure graph behavior).
func NewStore(backend Backend, registry *nodetype.Registry, tracker ReferenceTracker, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Store", "NewStore", "backend validation")
	}
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Store", "NewStore", "node type registry validation")
	}
	if tracker == nil {
		tracker = nopTracker{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		backend:   backend,
		registry:  registry,
		tracker:   tracker,
		logger:    logger,
		flowLocks: make(map[string]*sync.Mutex),
		nodeFlow:  make(map[string]string),
		connFlow:  make(map[string]string),
	}, nil
}

// Load rebuilds the node/connection ownership maps and re-seeds the
// reference tracker from persisted flow records. Call once at startup.
func (s *Store) Load(ctx context.Context) error {
	flows, err := s.backend.List(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Store", "Load", "list flows")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, flow := range flows {
		for i := range flow.Nodes {
			s.nodeFlow[flow.Nodes[i].ID] = flow.ID
		}
		for i := range flow.Connections {
			s.connFlow[flow.Connections[i].ID] = flow.ID
		}
		if flow.Status != StatusActive {
			continue
		}
		for nodeID, refs := range flow.References {
			s.tracker.Apply(flow.ID, nodeID, refs)
		}
	}
	return nil
}

// flowLock returns the per-flow mutation lock, creating it on first use
func (s *Store) flowLock(flowID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.flowLocks[flowID]
	if !ok {
		lock = &sync.Mutex{}
		s.flowLocks[flowID] = lock
	}
	return lock
}

// mutate applies fn to the current flow record and commits with CAS.
// Same-process writers are serialized by the flow lock; conflicts from other
// instances retry with fresh reads.
func (s *Store) mutate(ctx context.Context, flowID string, fn func(*Flow) error) (*Flow, error) {
	return s.mutateThen(ctx, flowID, fn, nil)
}

// mutateThen is mutate with a post-commit hook. The hook runs while the
// flow lock is still held, so side effects such as tracker updates observe
// commits in commit order.
func (s *Store) mutateThen(ctx context.Context, flowID string, fn func(*Flow) error, committed func(*Flow)) (*Flow, error) {
	lock := s.flowLock(flowID)
	lock.Lock()
	defer lock.Unlock()

	flow, err := retry.DoWithResult(ctx, retry.Quick(), func() (*Flow, error) {
		flow, err := s.backend.Get(ctx, flowID)
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		expected := flow.Version
		if err := fn(flow); err != nil {
			return nil, retry.NonRetryable(err)
		}
		flow.UpdatedAt = time.Now()
		if err := s.backend.Put(ctx, flow, expected); err != nil {
			if errors.IsTransient(err) {
				return nil, err
			}
			return nil, retry.NonRetryable(err)
		}
		return flow, nil
	})
	if err != nil {
		return nil, err
	}
	if committed != nil {
		committed(flow)
	}
	return flow, nil
}

// CreateFlowParams configures flow creation
type CreateFlowParams struct {
	ID        string // optional; generated when empty
	Name      string
	ParentID  string
	CreatedBy string
}

// CreateFlow creates an empty flow with its auto-created entry node.
// Retrying with the same id is idempotent: an existing identical flow is
// returned as-is.
func (s *Store) CreateFlow(ctx context.Context, params CreateFlowParams) (*Flow, error) {
	if params.Name == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("flow name cannot be empty"),
			"Store", "CreateFlow", "name validation")
	}
	if params.ParentID != "" {
		if _, err := s.backend.Get(ctx, params.ParentID); err != nil {
			return nil, errors.WrapNotFound(errors.ErrFlowNotFound,
				"Store", "CreateFlow", "parent flow lookup")
		}
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	entryPayload, err := s.registry.DefaultPayload(nodetype.KindEntry)
	if err != nil {
		return nil, err
	}
	rawEntry, err := json.Marshal(entryPayload)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "CreateFlow", "marshal entry payload")
	}

	now := time.Now()
	entry := Node{
		ID:        uuid.NewString(),
		FlowID:    id,
		Kind:      nodetype.KindEntry,
		Position:  Position{X: 0, Y: 0},
		Payload:   rawEntry,
		Version:   1,
		UpdatedAt: now,
	}
	flow := &Flow{
		ID:         id,
		Name:       params.Name,
		ParentID:   params.ParentID,
		Viewport:   Viewport{Zoom: 1},
		Version:    1,
		Status:     StatusActive,
		Nodes:      []Node{entry},
		References: make(map[string][]VariableReference),
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  params.CreatedBy,
	}

	if err := s.backend.Create(ctx, flow); err != nil {
		if errors.Is(err, errors.ErrRecordExists) {
			existing, getErr := s.backend.Get(ctx, id)
			if getErr == nil && existing.Name == params.Name && existing.ParentID == params.ParentID {
				return existing, nil
			}
			return nil, errors.WrapInvalid(errors.ErrRecordExists,
				"Store", "CreateFlow", "flow id conflict")
		}
		return nil, errors.WrapTransient(err, "Store", "CreateFlow", "create flow record")
	}

	s.mu.Lock()
	s.nodeFlow[entry.ID] = id
	s.mu.Unlock()

	s.logger.Info("flow created", "flow_id", id, "name", params.Name)
	return flow, nil
}

// GetFlow retrieves a flow by id, trashed or not
func (s *Store) GetFlow(ctx context.Context, id string) (*Flow, error) {
	if id == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("flow ID cannot be empty"),
			"Store", "GetFlow", "id validation")
	}
	return s.backend.Get(ctx, id)
}

// ListFlows returns all active flows ordered by tree position
func (s *Store) ListFlows(ctx context.Context) ([]*Flow, error) {
	return s.listByStatus(ctx, StatusActive)
}

// ListTrash returns all trashed flows
func (s *Store) ListTrash(ctx context.Context) ([]*Flow, error) {
	return s.listByStatus(ctx, StatusTrashed)
}

func (s *Store) listByStatus(ctx context.Context, status FlowStatus) ([]*Flow, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "listByStatus", "list flows")
	}
	flows := make([]*Flow, 0, len(all))
	for _, flow := range all {
		if flow.Status == status {
			flows = append(flows, flow)
		}
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].ParentID != flows[j].ParentID {
			return flows[i].ParentID < flows[j].ParentID
		}
		if flows[i].Position != flows[j].Position {
			return flows[i].Position < flows[j].Position
		}
		return flows[i].Name < flows[j].Name
	})
	return flows, nil
}

// RenameFlow updates a flow's display name
func (s *Store) RenameFlow(ctx context.Context, id, name string) (*Flow, error) {
	if name == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("flow name cannot be empty"),
			"Store", "RenameFlow", "name validation")
	}
	return s.mutate(ctx, id, func(flow *Flow) error {
		flow.Name = name
		return nil
	})
}

// MoveFlow repositions a flow in the organizational tree. Moving a flow
// under its own descendant is rejected.
func (s *Store) MoveFlow(ctx context.Context, id, newParentID string, position int) (*Flow, error) {
	if newParentID == id {
		return nil, errors.WrapStructural(errors.ErrFlowTreeCycle,
			"Store", "MoveFlow", "self-parent check")
	}
	if newParentID != "" {
		// Walk up from the new parent; hitting the moved flow means the
		// move would create a cycle.
		ancestor := newParentID
		for ancestor != "" {
			parent, err := s.backend.Get(ctx, ancestor)
			if err != nil {
				return nil, errors.WrapNotFound(errors.ErrFlowNotFound,
					"Store", "MoveFlow", "new parent lookup")
			}
			if parent.ID == id {
				return nil, errors.WrapStructural(errors.ErrFlowTreeCycle,
					"Store", "MoveFlow", "ancestor cycle check")
			}
			ancestor = parent.ParentID
		}
	}
	return s.mutate(ctx, id, func(flow *Flow) error {
		flow.ParentID = newParentID
		flow.Position = position
		return nil
	})
}

// UpdateViewport saves the flow's canvas pan/zoom state
func (s *Store) UpdateViewport(ctx context.Context, id string, viewport Viewport) (*Flow, error) {
	return s.mutate(ctx, id, func(flow *Flow) error {
		flow.Viewport = viewport
		return nil
	})
}

// subtreeIDs returns id plus all descendant flow ids
func (s *Store) subtreeIDs(ctx context.Context, id string) ([]string, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "subtreeIDs", "list flows")
	}
	children := make(map[string][]string, len(all))
	for _, flow := range all {
		if flow.ParentID != "" {
			children[flow.ParentID] = append(children[flow.ParentID], flow.ID)
		}
	}
	ids := []string{id}
	for i := 0; i < len(ids); i++ {
		ids = append(ids, children[ids[i]]...)
	}
	return ids, nil
}

// TrashFlow tombstones a flow and its descendants. Trashed flows drop out
// of the reference index but keep their stored references for restore.
func (s *Store) TrashFlow(ctx context.Context, id string) error {
	ids, err := s.subtreeIDs(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, flowID := range ids {
		_, err := s.mutateThen(ctx, flowID, func(flow *Flow) error {
			if flow.Status == StatusTrashed {
				return nil
			}
			flow.Status = StatusTrashed
			flow.TrashedAt = &now
			return nil
		}, func(*Flow) {
			s.tracker.RemoveFlow(flowID)
		})
		if err != nil {
			return err
		}
	}
	s.logger.Info("flow trashed", "flow_id", id, "subtree_size", len(ids))
	return nil
}

// RestoreFlow recovers a trashed flow and its descendants, re-seeding their
// references into the index
func (s *Store) RestoreFlow(ctx context.Context, id string) error {
	ids, err := s.subtreeIDs(ctx, id)
	if err != nil {
		return err
	}
	for _, flowID := range ids {
		_, err := s.mutateThen(ctx, flowID, func(flow *Flow) error {
			flow.Status = StatusActive
			flow.TrashedAt = nil
			return nil
		}, func(flow *Flow) {
			for nodeID, refs := range flow.References {
				s.tracker.Apply(flowID, nodeID, refs)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// PurgeTrash hard-deletes trashed flows whose retention window has lapsed
// and returns the purged flow ids
func (s *Store) PurgeTrash(ctx context.Context, olderThan time.Time) ([]string, error) {
	trashed, err := s.ListTrash(ctx)
	if err != nil {
		return nil, err
	}

	var purged []string
	for _, flow := range trashed {
		if flow.TrashedAt == nil || flow.TrashedAt.After(olderThan) {
			continue
		}
		if err := s.backend.Delete(ctx, flow.ID); err != nil {
			return purged, errors.WrapTransient(err, "Store", "PurgeTrash", "delete flow record")
		}
		s.tracker.RemoveFlow(flow.ID)
		s.mu.Lock()
		for i := range flow.Nodes {
			delete(s.nodeFlow, flow.Nodes[i].ID)
		}
		for i := range flow.Connections {
			delete(s.connFlow, flow.Connections[i].ID)
		}
		delete(s.flowLocks, flow.ID)
		s.mu.Unlock()
		purged = append(purged, flow.ID)
	}
	if len(purged) > 0 {
		s.logger.Info("trash purged", "count", len(purged))
	}
	return purged, nil
}

// CreateNodeParams configures node creation
type CreateNodeParams struct {
	ID       string // optional; generated when empty
	FlowID   string
	Kind     nodetype.Kind
	Position Position
}

// CreateNode adds a node with its kind's default payload. A second entry
// node is a structural violation. Hub nodes get a generated unique label so
// a freshly placed hub is immediately valid.
func (s *Store) CreateNode(ctx context.Context, params CreateNodeParams) (*Node, error) {
	if !nodetype.ValidKind(params.Kind) {
		return nil, errors.WrapSchema(
			fmt.Errorf("%w: %q", errors.ErrUnknownNodeKind, params.Kind),
			"Store", "CreateNode", "kind validation")
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	payload, err := s.registry.DefaultPayload(params.Kind)
	if err != nil {
		return nil, err
	}
	if hub, ok := payload.(*nodetype.HubPayload); ok && hub.Label == "" {
		hub.Label = "hub-" + shortID(id)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "CreateNode", "marshal default payload")
	}

	var created Node
	_, err = s.mutate(ctx, params.FlowID, func(flow *Flow) error {
		if existing := flow.node(id); existing != nil {
			if existing.Kind == params.Kind {
				created = *existing
				return nil
			}
			return errors.WrapInvalid(errors.ErrRecordExists,
				"Store", "CreateNode", "node id conflict")
		}
		if params.Kind == nodetype.KindEntry && flow.entryCount() > 0 {
			return errors.WrapStructural(errors.ErrEntryNodeExists,
				"Store", "CreateNode", "entry node invariant")
		}
		created = Node{
			ID:        id,
			FlowID:    flow.ID,
			Kind:      params.Kind,
			Position:  params.Position,
			Payload:   raw,
			Version:   1,
			UpdatedAt: time.Now(),
		}
		flow.Nodes = append(flow.Nodes, created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nodeFlow[id] = params.FlowID
	s.mu.Unlock()
	return &created, nil
}

// flowOfNode resolves the owning flow of a node
func (s *Store) flowOfNode(nodeID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flowID, ok := s.nodeFlow[nodeID]
	if !ok {
		return "", errors.WrapNotFound(errors.ErrNodeNotFound,
			"Store", "flowOfNode", "node ownership lookup")
	}
	return flowID, nil
}

// Node retrieves a single node's current state
func (s *Store) Node(ctx context.Context, nodeID string) (*Node, error) {
	flowID, err := s.flowOfNode(nodeID)
	if err != nil {
		return nil, err
	}
	flow, err := s.backend.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	node := flow.node(nodeID)
	if node == nil {
		return nil, errors.WrapNotFound(errors.ErrNodeNotFound,
			"Store", "Node", "node lookup")
	}
	return node, nil
}

// UpdateNodePayload validates and commits a node payload, recomputing the
// node's variable references within the same unit of work. The payload and
// its derived references are never observably out of sync: a failed
// derivation aborts the write, and the queryable index updates only after
// the commit succeeds.
func (s *Store) UpdateNodePayload(ctx context.Context, nodeID string, raw json.RawMessage) (*Node, error) {
	flowID, err := s.flowOfNode(nodeID)
	if err != nil {
		return nil, err
	}

	var updated Node
	var refs []VariableReference
	_, err = s.mutateThen(ctx, flowID, func(flow *Flow) error {
		node := flow.node(nodeID)
		if node == nil {
			return errors.WrapNotFound(errors.ErrNodeNotFound,
				"Store", "UpdateNodePayload", "node lookup")
		}

		payload, err := s.registry.Decode(node.Kind, raw)
		if err != nil {
			return err
		}
		if err := s.checkGraphPayload(flow, node, payload); err != nil {
			return err
		}

		refs, err = s.tracker.Derive(ctx, nodeID, nodetype.Uses(payload))
		if err != nil {
			return errors.Wrap(err, "Store", "UpdateNodePayload", "reference derivation")
		}

		canonical, err := json.Marshal(payload)
		if err != nil {
			return errors.WrapFatal(err, "Store", "UpdateNodePayload", "marshal payload")
		}
		node.Payload = canonical
		node.Version++
		node.UpdatedAt = time.Now()

		if flow.References == nil {
			flow.References = make(map[string][]VariableReference)
		}
		if len(refs) == 0 {
			delete(flow.References, nodeID)
		} else {
			flow.References[nodeID] = refs
		}
		updated = *node
		return nil
	}, func(*Flow) {
		s.tracker.Apply(flowID, nodeID, refs)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("node payload updated",
		"flow_id", flowID, "node_id", nodeID, "references", len(refs))
	return &updated, nil
}

// checkGraphPayload enforces payload invariants that need flow context:
// hub label uniqueness and jump target resolution
func (s *Store) checkGraphPayload(flow *Flow, node *Node, payload nodetype.Payload) error {
	switch p := payload.(type) {
	case *nodetype.HubPayload:
		if flow.hubLabels(s.registry, node.ID)[p.Label] {
			return errors.WrapStructural(
				fmt.Errorf("%w: %q", errors.ErrHubLabelTaken, p.Label),
				"Store", "checkGraphPayload", "hub label uniqueness")
		}
	case *nodetype.JumpPayload:
		if !flow.hubLabels(s.registry, "")[p.Target] {
			return errors.WrapStructural(
				fmt.Errorf("%w: %q", errors.ErrHubNotFound, p.Target),
				"Store", "checkGraphPayload", "jump target resolution")
		}
	}
	return nil
}

// MoveNode updates a node's canvas position
func (s *Store) MoveNode(ctx context.Context, nodeID string, position Position) (*Node, error) {
	flowID, err := s.flowOfNode(nodeID)
	if err != nil {
		return nil, err
	}
	var moved Node
	_, err = s.mutate(ctx, flowID, func(flow *Flow) error {
		node := flow.node(nodeID)
		if node == nil {
			return errors.WrapNotFound(errors.ErrNodeNotFound,
				"Store", "MoveNode", "node lookup")
		}
		node.Position = position
		node.Version++
		node.UpdatedAt = time.Now()
		moved = *node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

// DeleteNode removes a node, cascading deletion of every connection that
// touches it and of its derived references. Deleting the sole entry node is
// rejected. Deleting an already-absent node is a no-op so retries converge.
func (s *Store) DeleteNode(ctx context.Context, nodeID string) ([]Connection, error) {
	flowID, err := s.flowOfNode(nodeID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var removed []Connection
	_, err = s.mutateThen(ctx, flowID, func(flow *Flow) error {
		node := flow.node(nodeID)
		if node == nil {
			return nil
		}
		if node.Kind == nodetype.KindEntry {
			return errors.WrapStructural(errors.ErrEntryNodeRequired,
				"Store", "DeleteNode", "entry node invariant")
		}

		nodes := flow.Nodes[:0]
		for i := range flow.Nodes {
			if flow.Nodes[i].ID != nodeID {
				nodes = append(nodes, flow.Nodes[i])
			}
		}
		flow.Nodes = nodes

		removed = removed[:0]
		conns := flow.Connections[:0]
		for i := range flow.Connections {
			conn := flow.Connections[i]
			if conn.SourceNodeID == nodeID || conn.TargetNodeID == nodeID {
				removed = append(removed, conn)
				continue
			}
			conns = append(conns, conn)
		}
		flow.Connections = conns
		delete(flow.References, nodeID)
		return nil
	}, func(*Flow) {
		s.tracker.RemoveNode(flowID, nodeID)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.nodeFlow, nodeID)
	for _, conn := range removed {
		delete(s.connFlow, conn.ID)
	}
	s.mu.Unlock()
	return removed, nil
}

// CreateConnectionParams configures connection creation
type CreateConnectionParams struct {
	ID           string // optional; generated when empty
	FlowID       string
	SourceNodeID string
	SourceSlot   string
	TargetNodeID string
	TargetSlot   string
}

// CreateConnection links a source node's output slot to a target node's
// input slot. Both endpoints must belong to the flow; connecting across
// flows is a structural violation. Cycles are allowed.
func (s *Store) CreateConnection(ctx context.Context, params CreateConnectionParams) (*Connection, error) {
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}
	if params.SourceSlot == "" {
		params.SourceSlot = "out"
	}
	if params.TargetSlot == "" {
		params.TargetSlot = "in"
	}

	var created Connection
	_, err := s.mutate(ctx, params.FlowID, func(flow *Flow) error {
		for i := range flow.Connections {
			if flow.Connections[i].ID == id {
				created = flow.Connections[i]
				return nil
			}
		}
		for _, endpoint := range []string{params.SourceNodeID, params.TargetNodeID} {
			if flow.node(endpoint) != nil {
				continue
			}
			if owner, ok := s.lookupNodeFlow(endpoint); ok && owner != flow.ID {
				return errors.WrapStructural(errors.ErrCrossFlowConnection,
					"Store", "CreateConnection", "endpoint flow check")
			}
			return errors.WrapNotFound(errors.ErrNodeNotFound,
				"Store", "CreateConnection", "endpoint lookup")
		}
		created = Connection{
			ID:           id,
			FlowID:       flow.ID,
			SourceNodeID: params.SourceNodeID,
			SourceSlot:   params.SourceSlot,
			TargetNodeID: params.TargetNodeID,
			TargetSlot:   params.TargetSlot,
		}
		flow.Connections = append(flow.Connections, created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.connFlow[id] = params.FlowID
	s.mu.Unlock()
	return &created, nil
}

func (s *Store) lookupNodeFlow(nodeID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flowID, ok := s.nodeFlow[nodeID]
	return flowID, ok
}

// DeleteConnection removes a connection; absent connections are a no-op
func (s *Store) DeleteConnection(ctx context.Context, connID string) error {
	s.mu.Lock()
	flowID, ok := s.connFlow[connID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_, err := s.mutate(ctx, flowID, func(flow *Flow) error {
		conns := flow.Connections[:0]
		for i := range flow.Connections {
			if flow.Connections[i].ID != connID {
				conns = append(conns, flow.Connections[i])
			}
		}
		flow.Connections = conns
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.connFlow, connID)
	s.mu.Unlock()
	return nil
}

// shortID returns the first eight characters of an id for generated labels
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
