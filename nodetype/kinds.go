package nodetype

import "github.com/c360/fabula/logic"

// Kind is the type tag of a flow node. The set is closed: flows only ever
// contain these nine kinds.
type Kind string

// Node kinds
const (
	KindEntry       Kind = "entry"
	KindExit        Kind = "exit"
	KindDialogue    Kind = "dialogue"
	KindCondition   Kind = "condition"
	KindInstruction Kind = "instruction"
	KindHub         Kind = "hub"
	KindJump        Kind = "jump"
	KindScene       Kind = "scene"
	KindSubflow     Kind = "subflow"
)

// AllKinds returns every registered node kind in canonical order
func AllKinds() []Kind {
	return []Kind{
		KindEntry, KindExit, KindDialogue, KindCondition, KindInstruction,
		KindHub, KindJump, KindScene, KindSubflow,
	}
}

// ValidKind reports whether k names a known node kind
func ValidKind(k Kind) bool {
	switch k {
	case KindEntry, KindExit, KindDialogue, KindCondition, KindInstruction,
		KindHub, KindJump, KindScene, KindSubflow:
		return true
	default:
		return false
	}
}

// Access distinguishes variable reads from writes in derived references
type Access string

// Access kinds
const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// VariableUse is one variable-bearing fact derived from a node payload
type VariableUse struct {
	Ref    logic.VariableRef `json:"ref"`
	Access Access            `json:"access"`
}
