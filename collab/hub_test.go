package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/nodetype"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type hubFixture struct {
	hub   *Hub
	store *flowstore.Store
	flow  *flowstore.Flow
	clock *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHubFixture(t *testing.T, opts Options) *hubFixture {
	t.Helper()
	ctx := context.Background()

	store, err := flowstore.NewStore(flowstore.NewMemoryBackend(), nodetype.NewRegistry(), nil, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))

	flow, err := store.CreateFlow(ctx, flowstore.CreateFlowParams{Name: "Prologue"})
	require.NoError(t, err)

	hub, err := NewHub(Dependencies{Store: store, Logger: testLogger()}, opts)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Now()}
	hub.clock = clock.Now

	require.NoError(t, hub.Start(ctx))
	t.Cleanup(func() { _ = hub.Stop() })

	return &hubFixture{hub: hub, store: store, flow: flow, clock: clock}
}

// addNode creates a node directly through the store, outside any session
func (f *hubFixture) addNode(t *testing.T, kind nodetype.Kind) *flowstore.Node {
	t.Helper()
	node, err := f.store.CreateNode(context.Background(), flowstore.CreateNodeParams{
		FlowID: f.flow.ID,
		Kind:   kind,
	})
	require.NoError(t, err)
	return node
}

// drain consumes buffered events until the channel is empty
func drain(session *Session) []Event {
	var events []Event
	for {
		select {
		case event, ok := <-session.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestJoinSnapshotAndPresence(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()

	alice, snapshot, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, f.flow.ID, snapshot.Flow.ID)
	assert.Len(t, snapshot.Flow.Nodes, 1) // auto-created entry node
	assert.Empty(t, snapshot.Locks)
	assert.Len(t, snapshot.Presence, 1)

	bob, bobSnapshot, err := f.hub.Join(ctx, f.flow.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, bobSnapshot.Presence, 2)

	// Alice observes bob's join
	events := drain(alice)
	var sawJoin bool
	for _, event := range events {
		if event.Type != EventPresenceDiff {
			continue
		}
		var diff PresenceDiffPayload
		require.NoError(t, json.Unmarshal(event.Payload, &diff))
		for _, entry := range diff.Joins {
			if entry.SessionID == bob.ID {
				sawJoin = true
			}
		}
	}
	assert.True(t, sawJoin)

	f.hub.Leave(bob)
	events = drain(alice)
	var sawLeave bool
	for _, event := range events {
		if event.Type != EventPresenceDiff {
			continue
		}
		var diff PresenceDiffPayload
		require.NoError(t, json.Unmarshal(event.Payload, &diff))
		for _, id := range diff.Leaves {
			if id == bob.ID {
				sawLeave = true
			}
		}
	}
	assert.True(t, sawLeave)
}

func TestJoinTrashedFlowFails(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.store.TrashFlow(ctx, f.flow.ID))
	_, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestAcquireConflict(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()
	node := f.addNode(t, nodetype.KindDialogue)

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	bob, _, err := f.hub.Join(ctx, f.flow.ID, "bob")
	require.NoError(t, err)

	lease, err := f.hub.Acquire(ctx, alice, node.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, lease.SessionID)

	// A live lease held by another session is an immediate conflict
	_, err = f.hub.Acquire(ctx, bob, node.ID)
	require.Error(t, err)
	assert.True(t, errors.IsLockConflict(err))

	// Re-acquiring a held lease refreshes it
	refreshed, err := f.hub.Acquire(ctx, alice, node.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, refreshed.SessionID)

	// Released lease is free for bob
	require.NoError(t, f.hub.Release(alice, node.ID))
	bobLease, err := f.hub.Acquire(ctx, bob, node.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, bobLease.SessionID)
}

func TestAcquireUnknownNode(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)

	_, err = f.hub.Acquire(ctx, alice, "no-such-node")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

// TestAcquireRace verifies exactly one of many racing sessions wins the
// lease; the rest observe a lock conflict
func TestAcquireRace(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()
	node := f.addNode(t, nodetype.KindDialogue)

	const racers = 16
	sessions := make([]*Session, racers)
	for i := range sessions {
		session, _, err := f.hub.Join(ctx, f.flow.ID, "user")
		require.NoError(t, err)
		sessions[i] = session
	}

	var wins, conflicts atomic.Int64
	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_, err := f.hub.Acquire(ctx, s, node.ID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.IsLockConflict(err):
				conflicts.Add(1)
			}
		}(session)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(racers-1), conflicts.Load())
}

func TestUpdateRequiresLease(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()
	node := f.addNode(t, nodetype.KindDialogue)

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)

	payload := json.RawMessage(`{"speaker":"Jaime","text":"Hello.","menu_text":""}`)

	// Without a lease the update is rejected before touching the store
	_, err = f.hub.UpdateNodePayload(ctx, alice, node.ID, payload)
	require.Error(t, err)
	assert.True(t, errors.IsLockRequired(err))

	stored, err := f.store.Node(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.Version, stored.Version)

	// With the lease the update commits and broadcasts
	_, err = f.hub.Acquire(ctx, alice, node.ID)
	require.NoError(t, err)
	drain(alice)

	updated, err := f.hub.UpdateNodePayload(ctx, alice, node.ID, payload)
	require.NoError(t, err)
	assert.Greater(t, updated.Version, node.Version)

	events := drain(alice)
	require.NotEmpty(t, events)
	assert.Equal(t, EventNodeUpdated, events[len(events)-1].Type)

	// The lease survives the commit
	_, ok := f.hub.room(f.flow.ID).holder(node.ID)
	assert.True(t, ok)
}

// TestLeaseExpiryRecovery exercises the disconnect recovery path: a lease
// whose holder stops heartbeating expires, the sweep announces the unlock,
// and another session can then acquire and edit
func TestLeaseExpiryRecovery(t *testing.T) {
	// Sweeps are driven manually for determinism
	f := newHubFixture(t, Options{LeaseTTL: time.Second, SweepInterval: time.Hour})
	ctx := context.Background()
	node := f.addNode(t, nodetype.KindDialogue)

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	bob, _, err := f.hub.Join(ctx, f.flow.ID, "bob")
	require.NoError(t, err)

	_, err = f.hub.Acquire(ctx, alice, node.ID)
	require.NoError(t, err)
	_, err = f.hub.Acquire(ctx, bob, node.ID)
	assert.True(t, errors.IsLockConflict(err))

	// Heartbeat keeps the lease alive across most of the TTL
	f.clock.Advance(700 * time.Millisecond)
	require.NoError(t, f.hub.Heartbeat(alice, node.ID))
	f.clock.Advance(700 * time.Millisecond)
	f.hub.sweepOnce()
	_, err = f.hub.Acquire(ctx, bob, node.ID)
	assert.True(t, errors.IsLockConflict(err))

	// Alice goes silent; the lease lapses and the sweep reclaims it
	f.clock.Advance(1100 * time.Millisecond)
	drain(bob)
	f.hub.sweepOnce()

	events := drain(bob)
	var sawUnlock bool
	for _, event := range events {
		if event.Type == EventNodeUnlocked {
			sawUnlock = true
		}
	}
	assert.True(t, sawUnlock)

	lease, err := f.hub.Acquire(ctx, bob, node.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, lease.SessionID)

	// Alice's stale heartbeat no longer extends anything
	err = f.hub.Heartbeat(alice, node.ID)
	assert.True(t, errors.IsLockRequired(err))
}

func TestLeaveReleasesLeases(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()
	node := f.addNode(t, nodetype.KindDialogue)

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	bob, _, err := f.hub.Join(ctx, f.flow.ID, "bob")
	require.NoError(t, err)

	_, err = f.hub.Acquire(ctx, alice, node.ID)
	require.NoError(t, err)
	drain(bob)

	f.hub.Leave(alice)

	events := drain(bob)
	var sawUnlock bool
	for _, event := range events {
		if event.Type == EventNodeUnlocked {
			sawUnlock = true
		}
	}
	assert.True(t, sawUnlock)

	_, err = f.hub.Acquire(ctx, bob, node.ID)
	require.NoError(t, err)
}

func TestRoomTeardownWhenEmpty(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, f.hub.room(f.flow.ID))

	f.hub.Leave(alice)
	assert.Nil(t, f.hub.room(f.flow.ID))
	assert.True(t, alice.Closed())
}

func TestStructuralEditsBroadcast(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()

	alice, snapshot, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	entry := snapshot.Flow.Nodes[0]

	node, err := f.hub.CreateNode(ctx, alice, flowstore.CreateNodeParams{Kind: nodetype.KindDialogue})
	require.NoError(t, err)

	conn, err := f.hub.CreateConnection(ctx, alice, flowstore.CreateConnectionParams{
		SourceNodeID: entry.ID,
		TargetNodeID: node.ID,
	})
	require.NoError(t, err)

	moved, err := f.hub.MoveNode(ctx, alice, node.ID, flowstore.Position{X: 120, Y: 40})
	require.NoError(t, err)
	assert.Equal(t, 120.0, moved.Position.X)

	require.NoError(t, f.hub.DeleteNode(ctx, alice, node.ID))

	events := drain(alice)
	var types []EventType
	for _, event := range events {
		types = append(types, event.Type)
	}
	assert.Contains(t, types, EventNodeCreated)
	assert.Contains(t, types, EventConnectionCreated)
	assert.Contains(t, types, EventNodeUpdated)
	assert.Contains(t, types, EventNodeDeleted)

	// The cascade carries the connection id
	for _, event := range events {
		if event.Type != EventNodeDeleted {
			continue
		}
		var payload NodeDeletedPayload
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, node.ID, payload.NodeID)
		assert.Contains(t, payload.ConnectionIDs, conn.ID)
	}
}

func TestDeleteLeasedNodeConflicts(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()
	node := f.addNode(t, nodetype.KindDialogue)

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	bob, _, err := f.hub.Join(ctx, f.flow.ID, "bob")
	require.NoError(t, err)

	_, err = f.hub.Acquire(ctx, alice, node.ID)
	require.NoError(t, err)

	err = f.hub.DeleteNode(ctx, bob, node.ID)
	require.Error(t, err)
	assert.True(t, errors.IsLockConflict(err))

	// The holder may delete its own leased node
	require.NoError(t, f.hub.DeleteNode(ctx, alice, node.ID))
}

func TestEventOrdering(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)

	for range 10 {
		_, err := f.hub.CreateNode(ctx, alice, flowstore.CreateNodeParams{Kind: nodetype.KindDialogue})
		require.NoError(t, err)
	}

	events := drain(alice)
	require.Greater(t, len(events), 1)
	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].ID, events[i].ID,
			"event ids must be strictly increasing in delivery order")
	}
}

func TestSlowSessionClosed(t *testing.T) {
	f := newHubFixture(t, Options{EventBuffer: 2})
	ctx := context.Background()

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)

	// Never drained; the broadcasts overflow the buffer. Later creates may
	// fail once the closing session's room is torn down, which is fine.
	for range 5 {
		_, _ = f.hub.CreateNode(ctx, alice, flowstore.CreateNodeParams{Kind: nodetype.KindDialogue})
	}

	require.Eventually(t, alice.Closed, time.Second, 10*time.Millisecond,
		"overflowed session should be closed for resync")
}

func TestCursorCoalescing(t *testing.T) {
	f := newHubFixture(t, Options{CursorInterval: time.Minute, SweepInterval: time.Hour})
	ctx := context.Background()

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	bob, _, err := f.hub.Join(ctx, f.flow.ID, "bob")
	require.NoError(t, err)
	drain(bob)

	// First move broadcasts immediately, the rest coalesce into pending
	for i := range 20 {
		f.hub.Cursor(alice, float64(i), float64(i))
	}

	events := drain(bob)
	cursorEvents := 0
	for _, event := range events {
		if event.Type == EventCursorMoved {
			cursorEvents++
		}
	}
	assert.Equal(t, 1, cursorEvents)

	// After the window the pending (latest) position flushes
	f.clock.Advance(2 * time.Minute)
	f.hub.flushCursorsOnce()

	events = drain(bob)
	require.NotEmpty(t, events)
	var payload CursorPayload
	require.NoError(t, json.Unmarshal(events[len(events)-1].Payload, &payload))
	assert.Equal(t, 19.0, payload.X)
}

// Pending cursors flush on their own ticker; an hour-long sweep interval
// must not delay them
func TestCursorFlushIndependentOfSweep(t *testing.T) {
	f := newHubFixture(t, Options{SweepInterval: time.Hour, CursorInterval: 10 * time.Millisecond})
	ctx := context.Background()

	alice, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)
	bob, _, err := f.hub.Join(ctx, f.flow.ID, "bob")
	require.NoError(t, err)
	drain(bob)

	f.hub.Cursor(alice, 1, 1) // broadcast immediately
	f.hub.Cursor(alice, 2, 2) // coalesced into pending
	drain(bob)

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		for _, event := range drain(bob) {
			if event.Type == EventCursorMoved {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "pending cursor should flush without a sweep")
}

// TestJoinCoversConcurrentCommits races payload commits against joins:
// every committed version must reach the joiner through the snapshot or the
// event stream. The session enters the room before the snapshot flow is
// read, so no commit can fall between the two.
func TestJoinCoversConcurrentCommits(t *testing.T) {
	f := newHubFixture(t, Options{})
	ctx := context.Background()

	writer, _, err := f.hub.Join(ctx, f.flow.ID, "writer")
	require.NoError(t, err)
	node := f.addNode(t, nodetype.KindDialogue)
	_, err = f.hub.Acquire(ctx, writer, node.ID)
	require.NoError(t, err)

	for i := range 50 {
		committed := make(chan *flowstore.Node, 1)
		go func() {
			payload := json.RawMessage(fmt.Sprintf(`{"speaker":"a","text":"take %d"}`, i))
			n, _ := f.hub.UpdateNodePayload(ctx, writer, node.ID, payload)
			committed <- n
		}()

		reader, snapshot, err := f.hub.Join(ctx, f.flow.ID, "reader")
		require.NoError(t, err)
		n := <-committed
		require.NotNil(t, n, "payload commit failed")

		visible := false
		for _, snapNode := range snapshot.Flow.Nodes {
			if snapNode.ID == node.ID && snapNode.Version >= n.Version {
				visible = true
			}
		}
		if !visible {
			// The update returned, so its broadcast already sits in the
			// reader's buffer if the join preceded it
			for _, event := range drain(reader) {
				if event.Type != EventNodeUpdated {
					continue
				}
				var p NodePayload
				require.NoError(t, json.Unmarshal(event.Payload, &p))
				if p.Node.ID == node.ID && p.Node.Version >= n.Version {
					visible = true
				}
			}
		}
		require.True(t, visible,
			"version %d missing from both snapshot and event stream", n.Version)

		f.hub.Leave(reader)
		drain(writer)
	}
}

type captureRelay struct {
	mu       sync.Mutex
	subjects []string
}

func (r *captureRelay) Publish(subject string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func TestRelayReceivesEvents(t *testing.T) {
	relay := &captureRelay{}
	f := newHubFixture(t, Options{})
	f.hub.relay = relay
	ctx := context.Background()

	_, _, err := f.hub.Join(ctx, f.flow.ID, "alice")
	require.NoError(t, err)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.NotEmpty(t, relay.subjects)
	assert.Equal(t, RelaySubjectPrefix+f.flow.ID, relay.subjects[0])
}
