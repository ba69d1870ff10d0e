package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/metric"
)

// Relay fans events out to other instances; the NATS client implements it.
// Publishing is best effort, local sessions never wait on it.
type Relay interface {
	Publish(subject string, data []byte) error
}

// RelaySubjectPrefix is prepended to the flow id for relay subjects
const RelaySubjectPrefix = "fabula.flow."

// Options tunes hub timing and buffering. Zero values take defaults.
type Options struct {
	LeaseTTL       time.Duration // per-node edit lease lifetime
	SweepInterval  time.Duration // expired-lease sweep cadence
	CursorInterval time.Duration // cursor broadcast coalesce window
	EventBuffer    int           // per-session event channel depth
}

func (o Options) withDefaults() Options {
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	if o.CursorInterval <= 0 {
		o.CursorInterval = 100 * time.Millisecond
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	return o
}

// Dependencies wires the hub to the rest of the service. Store is required;
// Logger defaults to slog.Default; Metrics and Relay may be nil.
type Dependencies struct {
	Store   *flowstore.Store
	Logger  *slog.Logger
	Metrics *metric.Metrics
	Relay   Relay
}

// Hub coordinates all rooms and mediates every mutation a session performs:
// structural edits pass straight through to the store, payload edits are
// gated on the caller holding the node's lease
type Hub struct {
	store   *flowstore.Store
	logger  *slog.Logger
	metrics *metric.Metrics
	relay   Relay
	opts    Options
	clock   func() time.Time

	mu      sync.Mutex
	rooms   map[string]*Room
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewHub builds a hub; Start begins the sweep loop
func NewHub(deps Dependencies, opts Options) (*Hub, error) {
	if deps.Store == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Hub", "NewHub", "store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:   deps.Store,
		logger:  logger.With("component", "collab"),
		metrics: deps.Metrics,
		relay:   deps.Relay,
		opts:    opts.withDefaults(),
		clock:   time.Now,
		rooms:   make(map[string]*Room),
	}, nil
}

func (h *Hub) now() time.Time {
	return h.clock()
}

// Start launches the lease sweep and cursor flush loop
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Hub", "Start", "already started")
	}
	h.started = true
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.sweepLoop(ctx, h.stop, h.done)
	h.logger.Info("collab hub started",
		"lease_ttl", h.opts.LeaseTTL, "sweep_interval", h.opts.SweepInterval)
	return nil
}

// Stop halts the sweep loop and closes every session
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return errors.WrapFatal(errors.ErrNotStarted, "Hub", "Stop", "not started")
	}
	h.started = false
	close(h.stop)
	done := h.done
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	<-done
	for _, room := range rooms {
		room.mu.Lock()
		for _, session := range room.sessions {
			session.close()
		}
		room.mu.Unlock()
	}
	h.logger.Info("collab hub stopped")
	return nil
}

func (h *Hub) sweepLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	// Cursor flushes run on their own ticker: a pending coalesced cursor
	// must not wait out the much longer lease sweep interval
	sweep := time.NewTicker(h.opts.SweepInterval)
	defer sweep.Stop()
	cursors := time.NewTicker(h.opts.CursorInterval)
	defer cursors.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-sweep.C:
			h.sweepOnce()
		case <-cursors.C:
			h.flushCursorsOnce()
		}
	}
}

func (h *Hub) roomList() []*Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (h *Hub) sweepOnce() {
	for _, room := range h.roomList() {
		if expired := room.sweep(); expired > 0 {
			h.logger.Info("expired stale leases", "flow_id", room.flowID, "count", expired)
			if h.metrics != nil {
				h.metrics.LeaseExpiries.Add(float64(expired))
			}
		}
	}
}

func (h *Hub) flushCursorsOnce() {
	for _, room := range h.roomList() {
		room.flushCursors(h.opts.CursorInterval)
	}
}

// Join connects a user to a flow's room and returns the session together
// with the full-state snapshot the client renders before applying
// incremental events
func (h *Hub) Join(ctx context.Context, flowID, user string) (*Session, *Snapshot, error) {
	session := &Session{
		ID:     ulid.Make().String(),
		User:   user,
		FlowID: flowID,
		events: make(chan Event, h.opts.EventBuffer),
	}

	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil, nil, errors.WrapFatal(errors.ErrNotStarted, "Hub", "Join", "hub not started")
	}
	room, ok := h.rooms[flowID]
	if !ok {
		room = newRoom(flowID, h)
		h.rooms[flowID] = room
	}
	h.mu.Unlock()

	room.join(session)
	if h.metrics != nil {
		h.metrics.ActiveSessions.Inc()
	}

	// The flow is read only after the session is in the room: any mutation
	// committed after this read reaches the session as an event, so snapshot
	// plus stream covers every commit. A mutation landing between join and
	// read may appear in both; node versions are monotonic, so applying it
	// twice is harmless.
	flow, err := h.store.GetFlow(ctx, flowID)
	if err != nil {
		h.Leave(session)
		return nil, nil, errors.Wrap(err, "Hub", "Join", "load flow")
	}
	if flow.Status != flowstore.StatusActive {
		h.Leave(session)
		return nil, nil, errors.WrapNotFound(errors.ErrFlowNotFound, "Hub", "Join", "flow is trashed")
	}
	h.logger.Info("session joined", "flow_id", flowID, "session_id", session.ID, "user", user)

	snapshot := &Snapshot{
		Flow:     flow,
		Locks:    room.locks(),
		Presence: room.presenceList(),
	}
	return session, snapshot, nil
}

// Leave disconnects a session, releasing its leases and announcing its
// departure; the room is torn down when its last session leaves
func (h *Hub) Leave(session *Session) {
	room := h.room(session.FlowID)
	if room == nil {
		session.close()
		return
	}

	removed, empty := room.leave(session)
	if removed {
		if h.metrics != nil {
			h.metrics.ActiveSessions.Dec()
		}
		h.logger.Info("session left", "flow_id", session.FlowID, "session_id", session.ID)
	}
	if empty {
		h.mu.Lock()
		if current, ok := h.rooms[session.FlowID]; ok && current == room {
			delete(h.rooms, session.FlowID)
		}
		h.mu.Unlock()
	}
}

func (h *Hub) room(flowID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[flowID]
}

func (h *Hub) sessionRoom(session *Session) (*Room, error) {
	room := h.room(session.FlowID)
	if room == nil || session.Closed() {
		return nil, errors.WrapInvalid(errors.ErrSessionClosed, "Hub", "sessionRoom", "session no longer joined")
	}
	return room, nil
}

// Acquire grants the session an edit lease on the node, or fails with a
// lock conflict when another session holds a live lease. Acquiring over an
// expired lease succeeds; acquiring a lease already held refreshes it.
func (h *Hub) Acquire(ctx context.Context, session *Session, nodeID string) (*Lease, error) {
	room, err := h.sessionRoom(session)
	if err != nil {
		return nil, err
	}
	if _, err := h.store.Node(ctx, nodeID); err != nil {
		return nil, errors.Wrap(err, "Hub", "Acquire", "load node")
	}

	lease, err := room.acquire(session, nodeID, h.opts.LeaseTTL)
	if err != nil {
		if h.metrics != nil {
			h.metrics.LockConflicts.Inc()
		}
		return nil, err
	}
	if h.metrics != nil {
		h.metrics.LocksAcquired.Inc()
	}
	return lease, nil
}

// Heartbeat extends the session's lease; rejected without side effects when
// the session is not the holder
func (h *Hub) Heartbeat(session *Session, nodeID string) error {
	room, err := h.sessionRoom(session)
	if err != nil {
		return err
	}
	return room.heartbeat(session, nodeID, h.opts.LeaseTTL)
}

// Release gives up the session's lease on the node; a no-op when the
// session does not hold it
func (h *Hub) Release(session *Session, nodeID string) error {
	room, err := h.sessionRoom(session)
	if err != nil {
		return err
	}
	room.release(session, nodeID)
	return nil
}

// UpdateNodePayload commits a payload edit. The session must hold the
// node's lease; edits without it are rejected before touching the store.
// The lease survives the commit, released explicitly or by expiry.
func (h *Hub) UpdateNodePayload(ctx context.Context, session *Session, nodeID string, raw json.RawMessage) (*flowstore.Node, error) {
	room, err := h.sessionRoom(session)
	if err != nil {
		return nil, err
	}
	if holder, ok := room.holder(nodeID); !ok || holder != session.ID {
		return nil, errors.WrapLockRequired(errors.ErrLockRequired,
			"Hub", "UpdateNodePayload", "node lease not held")
	}

	node, err := h.store.UpdateNodePayload(ctx, nodeID, raw)
	if err != nil {
		return nil, err
	}
	room.broadcast(EventNodeUpdated, NodePayload{Node: node})
	return node, nil
}

// CreateNode adds a node to the session's flow and announces it. Creation
// needs no lease; the node does not exist yet to lock.
func (h *Hub) CreateNode(ctx context.Context, session *Session, params flowstore.CreateNodeParams) (*flowstore.Node, error) {
	room, err := h.sessionRoom(session)
	if err != nil {
		return nil, err
	}
	params.FlowID = session.FlowID

	node, err := h.store.CreateNode(ctx, params)
	if err != nil {
		return nil, err
	}
	room.broadcast(EventNodeCreated, NodePayload{Node: node})
	return node, nil
}

// checkUnlockedOrHeld rejects structural mutations on a node another
// session is actively editing
func (h *Hub) checkUnlockedOrHeld(room *Room, session *Session, nodeID, method string) error {
	if holder, ok := room.holder(nodeID); ok && holder != session.ID {
		if h.metrics != nil {
			h.metrics.LockConflicts.Inc()
		}
		return errors.WrapLockConflict(errors.ErrLockConflict,
			"Hub", method, "node leased by "+holder)
	}
	return nil
}

// MoveNode repositions a node on the canvas and announces the new state
func (h *Hub) MoveNode(ctx context.Context, session *Session, nodeID string, position flowstore.Position) (*flowstore.Node, error) {
	room, err := h.sessionRoom(session)
	if err != nil {
		return nil, err
	}
	if err := h.checkUnlockedOrHeld(room, session, nodeID, "MoveNode"); err != nil {
		return nil, err
	}

	node, err := h.store.MoveNode(ctx, nodeID, position)
	if err != nil {
		return nil, err
	}
	room.broadcast(EventNodeUpdated, NodePayload{Node: node})
	return node, nil
}

// DeleteNode removes a node, cascading its connections and references, and
// announces the deletion with the cascaded connection ids. Deleting a node
// another session has leased is a lock conflict.
func (h *Hub) DeleteNode(ctx context.Context, session *Session, nodeID string) error {
	room, err := h.sessionRoom(session)
	if err != nil {
		return err
	}
	if err := h.checkUnlockedOrHeld(room, session, nodeID, "DeleteNode"); err != nil {
		return err
	}

	cascaded, err := h.store.DeleteNode(ctx, nodeID)
	if err != nil {
		return err
	}
	// The node is gone; its lease goes with it, no unlock event needed
	room.dropLease(nodeID)

	connIDs := make([]string, 0, len(cascaded))
	for _, conn := range cascaded {
		connIDs = append(connIDs, conn.ID)
	}
	room.broadcast(EventNodeDeleted, NodeDeletedPayload{NodeID: nodeID, ConnectionIDs: connIDs})
	return nil
}

// CreateConnection links two nodes in the session's flow and announces it
func (h *Hub) CreateConnection(ctx context.Context, session *Session, params flowstore.CreateConnectionParams) (*flowstore.Connection, error) {
	room, err := h.sessionRoom(session)
	if err != nil {
		return nil, err
	}
	params.FlowID = session.FlowID

	conn, err := h.store.CreateConnection(ctx, params)
	if err != nil {
		return nil, err
	}
	room.broadcast(EventConnectionCreated, ConnectionPayload{Connection: conn})
	return conn, nil
}

// DeleteConnection removes a connection and announces it
func (h *Hub) DeleteConnection(ctx context.Context, session *Session, connID string) error {
	room, err := h.sessionRoom(session)
	if err != nil {
		return err
	}
	if err := h.store.DeleteConnection(ctx, connID); err != nil {
		return err
	}
	room.broadcast(EventConnectionDeleted, ConnectionDeletedPayload{ConnectionID: connID})
	return nil
}

// RenameFlow renames the session's flow and announces the new flow state
func (h *Hub) RenameFlow(ctx context.Context, session *Session, name string) (*flowstore.Flow, error) {
	room, err := h.sessionRoom(session)
	if err != nil {
		return nil, err
	}
	flow, err := h.store.RenameFlow(ctx, session.FlowID, name)
	if err != nil {
		return nil, err
	}
	room.broadcast(EventFlowUpdated, FlowPayload{Flow: flow})
	return flow, nil
}

// UpdateViewport saves the flow's shared viewport and announces it
func (h *Hub) UpdateViewport(ctx context.Context, session *Session, viewport flowstore.Viewport) (*flowstore.Flow, error) {
	room, err := h.sessionRoom(session)
	if err != nil {
		return nil, err
	}
	flow, err := h.store.UpdateViewport(ctx, session.FlowID, viewport)
	if err != nil {
		return nil, err
	}
	room.broadcast(EventFlowUpdated, FlowPayload{Flow: flow})
	return flow, nil
}

// Cursor reports the session's cursor position, broadcast at a coalesced
// rate so rapid movement does not flood the channel
func (h *Hub) Cursor(session *Session, x, y float64) {
	room := h.room(session.FlowID)
	if room == nil {
		return
	}
	room.cursor(session, x, y, h.opts.CursorInterval)
}

func (h *Hub) countEvent(eventType EventType) {
	if h.metrics != nil {
		h.metrics.EventsBroadcast.WithLabelValues(string(eventType)).Inc()
	}
}

func (h *Hub) relayEvent(event Event) {
	if h.relay == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal relay event", "error", err)
		return
	}
	if err := h.relay.Publish(RelaySubjectPrefix+event.FlowID, data); err != nil {
		h.logger.Warn("relay publish failed", "flow_id", event.FlowID, "error", err)
	}
}
