package refindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fabula/catalog"
	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/logic"
	"github.com/c360/fabula/nodetype"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededCatalog(t *testing.T) *catalog.MemoryCatalog {
	t.Helper()
	cat := catalog.NewMemoryCatalog()
	for _, d := range []catalog.Descriptor{
		{Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber},
		{Sheet: "mc.jaime", Name: "vigor", Kind: logic.KindNumber},
		{Sheet: "mc.jaime", Name: "bonus", Kind: logic.KindNumber},
		{Sheet: "mc.jaime", Name: "alive", Kind: logic.KindBoolean},
	} {
		require.NoError(t, cat.Define(d))
	}
	return cat
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(seededCatalog(t), testLogger())
	require.NoError(t, err)
	return tracker
}

func use(variable string, access nodetype.Access) nodetype.VariableUse {
	ref, err := logic.ParseVariableRef(variable)
	if err != nil {
		panic(err)
	}
	return nodetype.VariableUse{Ref: ref, Access: access}
}

func TestDeriveDropsUnresolvable(t *testing.T) {
	tracker := newTestTracker(t)

	refs, err := tracker.Derive(context.Background(), "n1", []nodetype.VariableUse{
		use("mc.jaime.health", nodetype.AccessRead),
		use("mc.jaime.ghost", nodetype.AccessRead),
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "health", refs[0].Name)
	assert.Equal(t, logic.KindNumber, refs[0].Kind)
}

func TestDeriveDeduplicates(t *testing.T) {
	tracker := newTestTracker(t)

	refs, err := tracker.Derive(context.Background(), "n1", []nodetype.VariableUse{
		use("mc.jaime.health", nodetype.AccessRead),
		use("mc.jaime.health", nodetype.AccessRead),
		use("mc.jaime.health", nodetype.AccessWrite),
	})
	require.NoError(t, err)
	// Same variable, distinct accesses survive; the duplicate read collapses
	assert.Len(t, refs, 2)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, string) (catalog.Descriptor, error) {
	return catalog.Descriptor{}, fmt.Errorf("catalog unreachable")
}

func TestDeriveResolverFailureAborts(t *testing.T) {
	tracker, err := NewTracker(failingResolver{}, testLogger())
	require.NoError(t, err)

	_, err = tracker.Derive(context.Background(), "n1", []nodetype.VariableUse{
		use("mc.jaime.health", nodetype.AccessRead),
	})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestApplyUsageAndCounts(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.Apply("f1", "reader", []flowstore.VariableReference{
		{NodeID: "reader", Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber, Access: nodetype.AccessRead},
	})
	tracker.Apply("f1", "writer", []flowstore.VariableReference{
		{NodeID: "writer", Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber, Access: nodetype.AccessWrite},
	})

	usage := tracker.Usage("mc.jaime", "health")
	require.Len(t, usage.Reads, 1)
	require.Len(t, usage.Writes, 1)
	assert.Equal(t, Site{FlowID: "f1", NodeID: "reader", Access: nodetype.AccessRead}, usage.Reads[0])
	assert.Equal(t, Site{FlowID: "f1", NodeID: "writer", Access: nodetype.AccessWrite}, usage.Writes[0])

	assert.Equal(t, Counts{Read: 1, Write: 1}, tracker.Count("mc.jaime", "health"))
	assert.Equal(t, Counts{}, tracker.Count("mc.jaime", "vigor"))
}

func TestApplyReplacesNodeSet(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.Apply("f1", "n1", []flowstore.VariableReference{
		{NodeID: "n1", Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber, Access: nodetype.AccessRead},
	})

	// Re-applying the same set is idempotent
	tracker.Apply("f1", "n1", []flowstore.VariableReference{
		{NodeID: "n1", Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber, Access: nodetype.AccessRead},
	})
	assert.Equal(t, Counts{Read: 1}, tracker.Count("mc.jaime", "health"))

	// Switching the node to another variable drops the old rows
	tracker.Apply("f1", "n1", []flowstore.VariableReference{
		{NodeID: "n1", Sheet: "mc.jaime", Name: "vigor", Kind: logic.KindNumber, Access: nodetype.AccessRead},
	})
	assert.Equal(t, Counts{}, tracker.Count("mc.jaime", "health"))
	assert.Equal(t, Counts{Read: 1}, tracker.Count("mc.jaime", "vigor"))

	// Applying an empty set clears the node entirely
	tracker.Apply("f1", "n1", nil)
	assert.Equal(t, Counts{}, tracker.Count("mc.jaime", "vigor"))
}

func TestRemoveNodeAndFlow(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.Apply("f1", "n1", []flowstore.VariableReference{
		{NodeID: "n1", Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber, Access: nodetype.AccessRead},
	})
	tracker.Apply("f1", "n2", []flowstore.VariableReference{
		{NodeID: "n2", Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber, Access: nodetype.AccessWrite},
	})

	tracker.RemoveNode("f1", "n1")
	usage := tracker.Usage("mc.jaime", "health")
	assert.Empty(t, usage.Reads)
	assert.Len(t, usage.Writes, 1)

	tracker.RemoveFlow("f1")
	assert.Equal(t, Counts{}, tracker.Count("mc.jaime", "health"))
}

// storeFixture wires a tracker into a real flow store so that index updates
// travel the same pre-commit/post-commit path as production saves.
type storeFixture struct {
	tracker  *Tracker
	registry *nodetype.Registry
	store    *flowstore.Store
	backend  *flowstore.MemoryBackend
	flow     *flowstore.Flow
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	tracker := newTestTracker(t)
	registry := nodetype.NewRegistry()
	backend := flowstore.NewMemoryBackend()
	store, err := flowstore.NewStore(backend, registry, tracker, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Load(context.Background()))

	flow, err := store.CreateFlow(context.Background(), flowstore.CreateFlowParams{Name: "Prologue"})
	require.NoError(t, err)
	return &storeFixture{tracker: tracker, registry: registry, store: store, backend: backend, flow: flow}
}

func (f *storeFixture) conditionNode(t *testing.T, variable string) *flowstore.Node {
	t.Helper()
	node, err := f.store.CreateNode(context.Background(), flowstore.CreateNodeParams{
		FlowID: f.flow.ID, Kind: nodetype.KindCondition,
	})
	require.NoError(t, err)
	payload := mustJSON(t, &nodetype.ConditionPayload{
		Logic: logic.LogicAll,
		Rules: []logic.Rule{{Variable: variable, Operator: logic.OpGreaterThan, Value: "10"}},
	})
	node, err = f.store.UpdateNodePayload(context.Background(), node.ID, payload)
	require.NoError(t, err)
	return node
}

func (f *storeFixture) instructionNode(t *testing.T, assignments ...logic.Assignment) *flowstore.Node {
	t.Helper()
	node, err := f.store.CreateNode(context.Background(), flowstore.CreateNodeParams{
		FlowID: f.flow.ID, Kind: nodetype.KindInstruction,
	})
	require.NoError(t, err)
	payload := mustJSON(t, &nodetype.InstructionPayload{Assignments: assignments})
	node, err = f.store.UpdateNodePayload(context.Background(), node.ID, payload)
	require.NoError(t, err)
	return node
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestStoreLifecycleKeepsIndexConsistent(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	reader := f.conditionNode(t, "mc.jaime.health")
	writer := f.instructionNode(t, logic.Assignment{
		Target: "mc.jaime.health", Operator: logic.OpAdd, Value: "10",
	})

	assert.Equal(t, Counts{Read: 1, Write: 1}, f.tracker.Count("mc.jaime", "health"))

	// Editing the condition to another variable moves its site
	payload := mustJSON(t, &nodetype.ConditionPayload{
		Logic: logic.LogicAll,
		Rules: []logic.Rule{{Variable: "mc.jaime.vigor", Operator: logic.OpLessThan, Value: "5"}},
	})
	_, err := f.store.UpdateNodePayload(ctx, reader.ID, payload)
	require.NoError(t, err)
	assert.Equal(t, Counts{Write: 1}, f.tracker.Count("mc.jaime", "health"))
	assert.Equal(t, Counts{Read: 1}, f.tracker.Count("mc.jaime", "vigor"))

	// Deleting the instruction leaves no orphan write site
	_, err = f.store.DeleteNode(ctx, writer.ID)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, f.tracker.Count("mc.jaime", "health"))

	// Trash drops the whole flow's sites; restore re-applies them
	require.NoError(t, f.store.TrashFlow(ctx, f.flow.ID))
	assert.Equal(t, Counts{}, f.tracker.Count("mc.jaime", "vigor"))
	require.NoError(t, f.store.RestoreFlow(ctx, f.flow.ID))
	assert.Equal(t, Counts{Read: 1}, f.tracker.Count("mc.jaime", "vigor"))
}

func TestStaleDetection(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	fresh := f.conditionNode(t, "mc.jaime.health")
	drifted := f.conditionNode(t, "mc.jaime.health")

	// Drift the payload behind the index's back: commit through a second
	// store over the same backend that carries no tracker
	bypass, err := flowstore.NewStore(f.backend, f.registry, nil, testLogger())
	require.NoError(t, err)
	require.NoError(t, bypass.Load(ctx))
	payload := mustJSON(t, &nodetype.ConditionPayload{
		Logic: logic.LogicAll,
		Rules: []logic.Rule{{Variable: "mc.jaime.vigor", Operator: logic.OpEquals, Value: "1"}},
	})
	_, err = bypass.UpdateNodePayload(ctx, drifted.ID, payload)
	require.NoError(t, err)

	// And an index row whose node no longer exists at all
	f.tracker.Apply(f.flow.ID, "vanished", []flowstore.VariableReference{
		{NodeID: "vanished", Sheet: "mc.jaime", Name: "health", Kind: logic.KindNumber, Access: nodetype.AccessRead},
	})

	stale, err := f.tracker.Stale(ctx, f.registry, f.store, "mc.jaime", "health")
	require.NoError(t, err)

	staleIDs := make([]string, 0, len(stale))
	for _, site := range stale {
		staleIDs = append(staleIDs, site.NodeID)
	}
	assert.ElementsMatch(t, []string{drifted.ID, "vanished"}, staleIDs)
	assert.NotContains(t, staleIDs, fresh.ID)
}

func TestRepairRewritesPayloads(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	condition := f.conditionNode(t, "mc.jaime.health")
	instruction := f.instructionNode(t,
		logic.Assignment{Target: "mc.jaime.health", Operator: logic.OpSet, Value: "0"},
		logic.Assignment{
			Target:    "mc.jaime.bonus",
			Operator:  logic.OpSet,
			ValueKind: logic.SourceVariableRef,
			Value:     "mc.jaime.health",
		},
	)

	from, err := logic.ParseVariableRef("mc.jaime.health")
	require.NoError(t, err)
	to, err := logic.ParseVariableRef("mc.jaime.vigor")
	require.NoError(t, err)

	repaired, err := f.tracker.Repair(ctx, f.registry, f.store, f.store, from, to)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{condition.ID, instruction.ID}, repaired)

	// The index followed the rewrite
	assert.Equal(t, Counts{}, f.tracker.Count("mc.jaime", "health"))
	counts := f.tracker.Count("mc.jaime", "vigor")
	assert.Equal(t, 2, counts.Read)
	assert.Equal(t, 1, counts.Write)

	// Both the rule variable and the variable_ref value were rewritten
	node, err := f.store.Node(ctx, condition.ID)
	require.NoError(t, err)
	var cond nodetype.ConditionPayload
	require.NoError(t, json.Unmarshal(node.Payload, &cond))
	assert.Equal(t, "mc.jaime.vigor", cond.Rules[0].Variable)

	node, err = f.store.Node(ctx, instruction.ID)
	require.NoError(t, err)
	var instr nodetype.InstructionPayload
	require.NoError(t, json.Unmarshal(node.Payload, &instr))
	assert.Equal(t, "mc.jaime.vigor", instr.Assignments[0].Target)
	assert.Equal(t, "mc.jaime.vigor", instr.Assignments[1].Value)

	// Repairing again finds nothing left to rewrite
	repaired, err = f.tracker.Repair(ctx, f.registry, f.store, f.store, from, to)
	require.NoError(t, err)
	assert.Empty(t, repaired)
}
