package nodetype

import (
	"fmt"
	"strings"

	"github.com/c360/fabula/logic"
)

// Payload is the type-specific structured content of a flow node
type Payload interface {
	// Validate checks the payload against its kind's schema
	Validate() error
	// Summary renders the short text shown on the canvas node
	Summary() string
}

// VariableBearer is implemented by payloads whose fields reference variables.
// The reference tracker derives its index exclusively from Uses.
type VariableBearer interface {
	Uses() []VariableUse
}

// EntryPayload is the payload of the single entry node of a flow
type EntryPayload struct {
	Label string `json:"label,omitempty"`
}

// Validate implements Payload
func (p *EntryPayload) Validate() error { return nil }

// Summary implements Payload
func (p *EntryPayload) Summary() string { return p.Label }

// ExitPayload is the payload of an exit node
type ExitPayload struct {
	Label string `json:"label,omitempty"`
}

// Validate implements Payload
func (p *ExitPayload) Validate() error { return nil }

// Summary implements Payload
func (p *ExitPayload) Summary() string { return p.Label }

// DialoguePayload is a spoken line with optional menu text for choices
type DialoguePayload struct {
	Speaker  string `json:"speaker,omitempty"`
	Text     string `json:"text,omitempty"`
	MenuText string `json:"menu_text,omitempty"`
}

// Validate implements Payload
func (p *DialoguePayload) Validate() error { return nil }

// Summary implements Payload
func (p *DialoguePayload) Summary() string {
	text := p.Text
	if len(text) > 80 {
		text = text[:77] + "..."
	}
	if p.Speaker == "" {
		return text
	}
	return p.Speaker + ": " + text
}

// ConditionPayload branches on a rule set over typed variables
type ConditionPayload struct {
	Logic logic.LogicMode `json:"logic"`
	Rules []logic.Rule    `json:"rules"`
}

// Validate implements Payload
func (p *ConditionPayload) Validate() error {
	return logic.Condition{Logic: p.Logic, Rules: p.Rules}.Validate()
}

// Summary implements Payload
func (p *ConditionPayload) Summary() string {
	if len(p.Rules) == 0 {
		return "always"
	}
	parts := make([]string, 0, len(p.Rules))
	for _, rule := range p.Rules {
		if rule.Value == "" {
			parts = append(parts, fmt.Sprintf("%s %s", rule.Variable, rule.Operator))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", rule.Variable, rule.Operator, rule.Value))
	}
	sep := " and "
	if p.Logic == logic.LogicAny {
		sep = " or "
	}
	return strings.Join(parts, sep)
}

// Uses implements VariableBearer: every rule reads its variable
func (p *ConditionPayload) Uses() []VariableUse {
	condition := logic.Condition{Logic: p.Logic, Rules: p.Rules}
	refs := condition.Variables()
	uses := make([]VariableUse, 0, len(refs))
	for _, ref := range refs {
		uses = append(uses, VariableUse{Ref: ref, Access: AccessRead})
	}
	return uses
}

// InstructionPayload applies an ordered list of variable assignments
type InstructionPayload struct {
	Assignments []logic.Assignment `json:"assignments"`
}

// Validate implements Payload
func (p *InstructionPayload) Validate() error {
	for i, a := range p.Assignments {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("assignment %d: %w", i, err)
		}
	}
	return nil
}

// Summary implements Payload. Each assignment renders through
// logic.FormatAssignmentShort, the same function the live editor preview
// uses, so canvas and preview text never diverge.
func (p *InstructionPayload) Summary() string {
	parts := make([]string, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		parts = append(parts, logic.FormatAssignmentShort(a))
	}
	return strings.Join(parts, "; ")
}

// Uses implements VariableBearer: every assignment writes its target, and
// reads the source variable when the value is itself a reference
func (p *InstructionPayload) Uses() []VariableUse {
	uses := make([]VariableUse, 0, len(p.Assignments))
	for _, a := range p.Assignments {
		if target, ok := a.TargetRef(); ok {
			uses = append(uses, VariableUse{Ref: target, Access: AccessWrite})
		}
		if source, ok := a.SourceRef(); ok {
			uses = append(uses, VariableUse{Ref: source, Access: AccessRead})
		}
	}
	return uses
}

// HubPayload labels a re-entry point for jump nodes. Labels are unique
// within a flow; uniqueness is enforced by the flow store at save time.
type HubPayload struct {
	Label string `json:"label"`
}

// Validate implements Payload
func (p *HubPayload) Validate() error {
	if strings.TrimSpace(p.Label) == "" {
		return fmt.Errorf("hub label cannot be empty")
	}
	return nil
}

// Summary implements Payload
func (p *HubPayload) Summary() string { return p.Label }

// JumpPayload redirects to a hub in the same flow. The target is a logical
// label, not a foreign key; the flow store validates resolution at save time.
type JumpPayload struct {
	Target string `json:"target"`
}

// Validate implements Payload
func (p *JumpPayload) Validate() error {
	if strings.TrimSpace(p.Target) == "" {
		return fmt.Errorf("jump target cannot be empty")
	}
	return nil
}

// Summary implements Payload
func (p *JumpPayload) Summary() string { return "-> " + p.Target }

// ScenePayload sets narrative staging
type ScenePayload struct {
	Description string `json:"description,omitempty"`
}

// Validate implements Payload
func (p *ScenePayload) Validate() error { return nil }

// Summary implements Payload
func (p *ScenePayload) Summary() string { return p.Description }

// SubflowPayload embeds another flow by id
type SubflowPayload struct {
	FlowID string `json:"flow_id"`
}

// Validate implements Payload
func (p *SubflowPayload) Validate() error {
	if p.FlowID == "" {
		return fmt.Errorf("subflow flow_id cannot be empty")
	}
	return nil
}

// Summary implements Payload
func (p *SubflowPayload) Summary() string { return p.FlowID }
