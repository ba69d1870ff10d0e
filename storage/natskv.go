package storage

import (
	"context"
	"encoding/json"
	"log/slog"

	stderrors "errors"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/natsclient"
)

// DefaultBucket is the KV bucket holding flow documents
const DefaultBucket = "fabula-flows"

// NATSKVBackend stores each flow as one JSON document in a JetStream KV
// bucket, keyed by flow id. The application-level version check rides on the
// bucket's revision CAS: a concurrent writer moves the revision, the update
// fails, and the caller retries against fresh state.
type NATSKVBackend struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

var _ flowstore.Backend = (*NATSKVBackend)(nil)

// NewNATSKVBackend builds a backend over an already-bound KV store
func NewNATSKVBackend(kv *natsclient.KVStore, logger *slog.Logger) *NATSKVBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSKVBackend{kv: kv, logger: logger.With("component", "storage.natskv")}
}

// Create implements flowstore.Backend
func (b *NATSKVBackend) Create(ctx context.Context, flow *flowstore.Flow) error {
	document, err := json.Marshal(flow)
	if err != nil {
		return errors.WrapFatal(err, "NATSKVBackend", "Create", "marshal flow")
	}
	if _, err := b.kv.Create(ctx, flow.ID, document); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyExists) {
			return errors.WrapInvalid(errors.ErrRecordExists,
				"NATSKVBackend", "Create", "flow existence check")
		}
		return errors.WrapTransient(err, "NATSKVBackend", "Create", "create document")
	}
	return nil
}

// Get implements flowstore.Backend
func (b *NATSKVBackend) Get(ctx context.Context, id string) (*flowstore.Flow, error) {
	entry, err := b.kv.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, errors.WrapNotFound(errors.ErrFlowNotFound,
				"NATSKVBackend", "Get", "flow lookup")
		}
		return nil, errors.WrapTransient(err, "NATSKVBackend", "Get", "get document")
	}
	var flow flowstore.Flow
	if err := json.Unmarshal(entry.Value, &flow); err != nil {
		return nil, errors.WrapFatal(err, "NATSKVBackend", "Get", "unmarshal flow")
	}
	return &flow, nil
}

// Put implements flowstore.Backend. The stored document's version is checked
// against expectedVersion, then the write runs CAS against the entry
// revision read in the same call, so a racing writer surfaces as a version
// conflict either way.
func (b *NATSKVBackend) Put(ctx context.Context, flow *flowstore.Flow, expectedVersion int64) error {
	entry, err := b.kv.Get(ctx, flow.ID)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return errors.WrapNotFound(errors.ErrFlowNotFound,
				"NATSKVBackend", "Put", "flow lookup")
		}
		return errors.WrapTransient(err, "NATSKVBackend", "Put", "get document")
	}

	var stored flowstore.Flow
	if err := json.Unmarshal(entry.Value, &stored); err != nil {
		return errors.WrapFatal(err, "NATSKVBackend", "Put", "unmarshal stored flow")
	}
	if stored.Version != expectedVersion {
		return errors.WrapTransient(errors.ErrVersionConflict,
			"NATSKVBackend", "Put", "version check")
	}

	flow.Version = expectedVersion + 1
	document, err := json.Marshal(flow)
	if err != nil {
		return errors.WrapFatal(err, "NATSKVBackend", "Put", "marshal flow")
	}
	if _, err := b.kv.Update(ctx, flow.ID, document, entry.Revision); err != nil {
		if stderrors.Is(err, natsclient.ErrKVRevisionMismatch) {
			return errors.WrapTransient(errors.ErrVersionConflict,
				"NATSKVBackend", "Put", "revision check")
		}
		return errors.WrapTransient(err, "NATSKVBackend", "Put", "update document")
	}
	return nil
}

// Delete implements flowstore.Backend; missing flows are a no-op
func (b *NATSKVBackend) Delete(ctx context.Context, id string) error {
	if err := b.kv.Delete(ctx, id); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil
		}
		return errors.WrapTransient(err, "NATSKVBackend", "Delete", "delete document")
	}
	return nil
}

// List implements flowstore.Backend
func (b *NATSKVBackend) List(ctx context.Context) ([]*flowstore.Flow, error) {
	keys, err := b.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSKVBackend", "List", "list keys")
	}

	flows := make([]*flowstore.Flow, 0, len(keys))
	for _, key := range keys {
		flow, err := b.Get(ctx, key)
		if err != nil {
			// A key deleted between the listing and the read is not an error
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, nil
}
