package nodetype

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/logic"
)

// Registration holds the constructors and metadata for one node kind
type Registration struct {
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	// NewPayload constructs the kind's default payload
	NewPayload func() Payload `json:"-"`
	// decode parses raw JSON into the kind's payload with strict schema
	decode func(raw json.RawMessage) (Payload, error)
}

// Registry manages the closed set of node kinds. It is thread-safe and
// pre-populated with every builtin kind; there is no dynamic extension
// surface because the kind set is closed by design.
type Registry struct {
	mu    sync.RWMutex
	kinds map[Kind]*Registration
}

// strictDecode parses raw JSON into T rejecting unknown fields
func strictDecode[T any](raw json.RawMessage) (Payload, error) {
	payload := any(new(T)).(Payload)
	if len(raw) == 0 {
		return payload, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func register[T any](r *Registry, kind Kind, description string, defaults func() Payload) {
	r.kinds[kind] = &Registration{
		Kind:        kind,
		Description: description,
		NewPayload:  defaults,
		decode:      strictDecode[T],
	}
}

// NewRegistry creates a registry populated with all builtin node kinds
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[Kind]*Registration)}

	register[EntryPayload](r, KindEntry, "flow entry point, exactly one per flow",
		func() Payload { return &EntryPayload{} })
	register[ExitPayload](r, KindExit, "flow exit point",
		func() Payload { return &ExitPayload{} })
	register[DialoguePayload](r, KindDialogue, "spoken line with optional menu text",
		func() Payload { return &DialoguePayload{} })
	register[ConditionPayload](r, KindCondition, "branch on a rule set over variables",
		func() Payload { return &ConditionPayload{Logic: logic.LogicAll, Rules: []logic.Rule{}} })
	register[InstructionPayload](r, KindInstruction, "ordered variable assignments",
		func() Payload { return &InstructionPayload{Assignments: nil} })
	register[HubPayload](r, KindHub, "labelled re-entry point for jumps",
		func() Payload { return &HubPayload{} })
	register[JumpPayload](r, KindJump, "redirect to a hub in the same flow",
		func() Payload { return &JumpPayload{} })
	register[ScenePayload](r, KindScene, "narrative staging",
		func() Payload { return &ScenePayload{} })
	register[SubflowPayload](r, KindSubflow, "embedded flow reference",
		func() Payload { return &SubflowPayload{} })

	return r
}

// Kinds returns all registered kinds in canonical order
func (r *Registry) Kinds() []Kind {
	return AllKinds()
}

// Registration returns the registration for a kind
func (r *Registry) Registration(kind Kind) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.kinds[kind]
	if !ok {
		return nil, errors.WrapSchema(
			fmt.Errorf("%w: %q", errors.ErrUnknownNodeKind, kind),
			"Registry", "Registration", "kind lookup")
	}
	return reg, nil
}

// DefaultPayload constructs the default payload for a kind
func (r *Registry) DefaultPayload(kind Kind) (Payload, error) {
	reg, err := r.Registration(kind)
	if err != nil {
		return nil, err
	}
	return reg.NewPayload(), nil
}

// Decode parses and validates a raw payload against a kind's schema.
// Unknown fields fail with a payload schema violation; the registry never
// silently drops fields.
func (r *Registry) Decode(kind Kind, raw json.RawMessage) (Payload, error) {
	reg, err := r.Registration(kind)
	if err != nil {
		return nil, err
	}

	payload, err := reg.decode(raw)
	if err != nil {
		return nil, errors.WrapSchema(
			fmt.Errorf("%w: %v", errors.ErrPayloadSchemaViolation, err),
			"Registry", "Decode", fmt.Sprintf("decode %s payload", kind))
	}
	if err := payload.Validate(); err != nil {
		if errors.IsSchema(err) {
			return nil, err
		}
		return nil, errors.WrapSchema(
			fmt.Errorf("%w: %v", errors.ErrPayloadSchemaViolation, err),
			"Registry", "Decode", fmt.Sprintf("validate %s payload", kind))
	}
	return payload, nil
}

// Uses extracts the variable-bearing facts from a payload. Kinds without
// variable-bearing fields yield nil.
func Uses(payload Payload) []VariableUse {
	if bearer, ok := payload.(VariableBearer); ok {
		return bearer.Uses()
	}
	return nil
}
