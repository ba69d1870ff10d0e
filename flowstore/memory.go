package flowstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/c360/fabula/errors"
)

// MemoryBackend is a thread-safe in-memory Backend for tests and
// single-process runs. Records are stored as deep copies so callers can
// never mutate stored state through a returned pointer.
type MemoryBackend struct {
	mu    sync.RWMutex
	flows map[string]*Flow
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{flows: make(map[string]*Flow)}
}

// copyFlow deep-copies a flow record through JSON round-trip. Flow records
// are small (one canvas worth of nodes), so the simplicity wins over a
// hand-written clone.
func copyFlow(flow *Flow) (*Flow, error) {
	data, err := json.Marshal(flow)
	if err != nil {
		return nil, errors.WrapFatal(err, "MemoryBackend", "copyFlow", "marshal flow")
	}
	var out Flow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WrapFatal(err, "MemoryBackend", "copyFlow", "unmarshal flow")
	}
	return &out, nil
}

// Create implements Backend
func (b *MemoryBackend) Create(_ context.Context, flow *Flow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.flows[flow.ID]; exists {
		return errors.WrapInvalid(errors.ErrRecordExists,
			"MemoryBackend", "Create", "flow existence check")
	}
	stored, err := copyFlow(flow)
	if err != nil {
		return err
	}
	b.flows[flow.ID] = stored
	return nil
}

// Get implements Backend
func (b *MemoryBackend) Get(_ context.Context, id string) (*Flow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	flow, ok := b.flows[id]
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrFlowNotFound,
			"MemoryBackend", "Get", "flow lookup")
	}
	return copyFlow(flow)
}

// Put implements Backend
func (b *MemoryBackend) Put(_ context.Context, flow *Flow, expectedVersion int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.flows[flow.ID]
	if !ok {
		return errors.WrapNotFound(errors.ErrFlowNotFound,
			"MemoryBackend", "Put", "flow lookup")
	}
	if current.Version != expectedVersion {
		return errors.WrapTransient(errors.ErrVersionConflict,
			"MemoryBackend", "Put", "version check")
	}
	stored, err := copyFlow(flow)
	if err != nil {
		return err
	}
	stored.Version = expectedVersion + 1
	b.flows[flow.ID] = stored
	flow.Version = stored.Version
	return nil
}

// Delete implements Backend
func (b *MemoryBackend) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.flows, id)
	return nil
}

// List implements Backend
func (b *MemoryBackend) List(_ context.Context) ([]*Flow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	flows := make([]*Flow, 0, len(b.flows))
	for _, flow := range b.flows {
		copied, err := copyFlow(flow)
		if err != nil {
			return nil, err
		}
		flows = append(flows, copied)
	}
	return flows, nil
}
