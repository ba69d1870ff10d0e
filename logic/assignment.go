package logic

import (
	"fmt"

	"github.com/c360/fabula/errors"
)

// ValueSource distinguishes literal assignment values from references to
// another variable
type ValueSource string

// Value sources
const (
	SourceLiteral     ValueSource = "literal"
	SourceVariableRef ValueSource = "variable_ref"
)

// Assignment mutates one target variable. The value is either an
// engine-opaque literal string or a reference to another variable, which is
// then subject to the same descriptor resolution as the target. Valueless
// operators (set_true, set_false, toggle, clear) must omit the value slot
// entirely.
type Assignment struct {
	Target    string        `json:"target"`
	Operator  WriteOperator `json:"operator"`
	ValueKind ValueSource   `json:"value_kind,omitempty"`
	Value     string        `json:"value,omitempty"`
}

// Validate checks the structural form of the assignment
func (a Assignment) Validate() error {
	if _, err := ParseVariableRef(a.Target); err != nil {
		return errors.WrapSchema(
			fmt.Errorf("target: %w", err),
			"logic", "Validate", "assignment target validation")
	}
	if !KnownWriteOperator(a.Operator) {
		return errors.WrapSchema(
			fmt.Errorf("unknown operator %q", a.Operator),
			"logic", "Validate", "assignment operator validation")
	}
	if ValuelessWrite(a.Operator) {
		if a.Value != "" || a.ValueKind != "" {
			return errors.WrapSchema(
				fmt.Errorf("operator %q must not carry a value slot", a.Operator),
				"logic", "Validate", "assignment value suppression")
		}
		return nil
	}
	switch a.ValueKind {
	case SourceLiteral, "":
		// Literal is the default when value_kind is omitted
	case SourceVariableRef:
		if _, err := ParseVariableRef(a.Value); err != nil {
			return errors.WrapSchema(
				fmt.Errorf("value: %w", err),
				"logic", "Validate", "assignment value reference validation")
		}
	default:
		return errors.WrapSchema(
			fmt.Errorf("unknown value_kind %q", a.ValueKind),
			"logic", "Validate", "assignment value kind validation")
	}
	return nil
}

// CheckAssignmentKind verifies operator/kind agreement for a resolved target
func CheckAssignmentKind(a Assignment, kind ValueKind) error {
	if !ValidWriteOperator(kind, a.Operator) {
		return errors.WrapSchema(
			fmt.Errorf("operator %q not valid for %s variable %q", a.Operator, kind, a.Target),
			"logic", "CheckAssignmentKind", "assignment operator kind check")
	}
	return nil
}

// TargetRef returns the parsed target reference, if parseable
func (a Assignment) TargetRef() (VariableRef, bool) {
	ref, err := ParseVariableRef(a.Target)
	return ref, err == nil
}

// SourceRef returns the parsed value reference when the value is itself a
// variable reference
func (a Assignment) SourceRef() (VariableRef, bool) {
	if a.ValueKind != SourceVariableRef {
		return VariableRef{}, false
	}
	ref, err := ParseVariableRef(a.Value)
	return ref, err == nil
}
