package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/nodetype"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := OpenSQLite(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func sampleFlow(id string) *flowstore.Flow {
	return &flowstore.Flow{
		ID:      id,
		Name:    "Chapter One",
		Status:  flowstore.StatusActive,
		Version: 1,
		Nodes: []flowstore.Node{
			{ID: id + "-entry", FlowID: id, Kind: nodetype.KindEntry, Payload: json.RawMessage(`{}`), Version: 1},
		},
		References: map[string][]flowstore.VariableReference{},
	}
}

func TestSQLiteCreateGet(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	flow := sampleFlow("f1")
	require.NoError(t, backend.Create(ctx, flow))

	loaded, err := backend.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Chapter One", loaded.Name)
	assert.Len(t, loaded.Nodes, 1)

	// Duplicate create rejected
	err = backend.Create(ctx, sampleFlow("f1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRecordExists))

	// Unknown id
	_, err = backend.Get(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLitePutCAS(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	flow := sampleFlow("f1")
	require.NoError(t, backend.Create(ctx, flow))

	flow.Name = "Chapter One, revised"
	require.NoError(t, backend.Put(ctx, flow, 1))
	assert.Equal(t, int64(2), flow.Version)

	// Stale version loses
	stale := sampleFlow("f1")
	stale.Name = "stale write"
	err := backend.Put(ctx, stale, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrVersionConflict))

	loaded, err := backend.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Chapter One, revised", loaded.Name)
	assert.Equal(t, int64(2), loaded.Version)

	// Put on a missing flow
	err = backend.Put(ctx, sampleFlow("ghost"), 1)
	assert.True(t, errors.IsNotFound(err))
}

func TestSQLiteDeleteAndList(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Create(ctx, sampleFlow("f1")))
	require.NoError(t, backend.Create(ctx, sampleFlow("f2")))

	flows, err := backend.List(ctx)
	require.NoError(t, err)
	assert.Len(t, flows, 2)

	require.NoError(t, backend.Delete(ctx, "f1"))
	require.NoError(t, backend.Delete(ctx, "f1")) // no-op on missing

	flows, err = backend.List(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "f2", flows[0].ID)
}

func TestSQLiteReferenceRows(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	flow := sampleFlow("f1")
	flow.References = map[string][]flowstore.VariableReference{
		"n1": {
			{NodeID: "n1", Sheet: "mc.jaime", Name: "health", Kind: "number", Access: nodetype.AccessRead},
			{NodeID: "n1", Sheet: "mc.jaime", Name: "gold", Kind: "number", Access: nodetype.AccessWrite},
		},
	}
	require.NoError(t, backend.Create(ctx, flow))

	sites, err := backend.VariableSites(ctx, "mc.jaime", "health")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"f1": {"n1"}}, sites)

	// A Put replacing the reference set replaces the rows atomically
	flow.References = map[string][]flowstore.VariableReference{
		"n2": {
			{NodeID: "n2", Sheet: "mc.jaime", Name: "health", Kind: "number", Access: nodetype.AccessWrite},
		},
	}
	require.NoError(t, backend.Put(ctx, flow, 1))

	sites, err = backend.VariableSites(ctx, "mc.jaime", "health")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"f1": {"n2"}}, sites)

	sites, err = backend.VariableSites(ctx, "mc.jaime", "gold")
	require.NoError(t, err)
	assert.Empty(t, sites)

	// Deleting the flow drops its rows
	require.NoError(t, backend.Delete(ctx, "f1"))
	sites, err = backend.VariableSites(ctx, "mc.jaime", "health")
	require.NoError(t, err)
	assert.Empty(t, sites)
}

// TestStoreOverSQLite drives the full store through the SQLite backend
func TestStoreOverSQLite(t *testing.T) {
	backend := newSQLiteBackend(t)
	ctx := context.Background()

	store, err := flowstore.NewStore(backend, nodetype.NewRegistry(), nil, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx))

	flow, err := store.CreateFlow(ctx, flowstore.CreateFlowParams{Name: "Prologue"})
	require.NoError(t, err)

	node, err := store.CreateNode(ctx, flowstore.CreateNodeParams{
		FlowID: flow.ID,
		Kind:   nodetype.KindDialogue,
	})
	require.NoError(t, err)

	_, err = store.UpdateNodePayload(ctx, node.ID,
		json.RawMessage(`{"speaker":"Jaime","text":"We ride at dawn."}`))
	require.NoError(t, err)

	// A second store over the same database sees the committed state
	reopened, err := flowstore.NewStore(backend, nodetype.NewRegistry(), nil, testLogger())
	require.NoError(t, err)
	require.NoError(t, reopened.Load(ctx))

	loaded, err := reopened.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 2) // entry plus dialogue
}
