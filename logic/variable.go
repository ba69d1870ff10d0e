package logic

import (
	"fmt"
	"strings"

	"github.com/c360/fabula/errors"
)

// ValueKind is the declared type of a variable in a data sheet
type ValueKind string

// Supported value kinds
const (
	KindNumber      ValueKind = "number"
	KindBoolean     ValueKind = "boolean"
	KindText        ValueKind = "text"
	KindSelect      ValueKind = "select"
	KindMultiSelect ValueKind = "multi_select"
	KindDate        ValueKind = "date"
)

// ValidKind reports whether k is a known value kind
func ValidKind(k ValueKind) bool {
	switch k {
	case KindNumber, KindBoolean, KindText, KindSelect, KindMultiSelect, KindDate:
		return true
	default:
		return false
	}
}

// VariableRef identifies a variable by its defining sheet shortcut and name.
// The textual form is "shortcut.name" where the shortcut itself may contain
// dots ("mc.jaime.health" refers to variable "health" on sheet "mc.jaime"),
// so parsing splits at the last dot.
type VariableRef struct {
	Sheet string `json:"sheet"`
	Name  string `json:"name"`
}

// ParseVariableRef parses the textual "shortcut.name" form
func ParseVariableRef(s string) (VariableRef, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return VariableRef{}, errors.WrapInvalid(
			fmt.Errorf("%q is not in shortcut.name form", s),
			"logic", "ParseVariableRef", "variable reference parse")
	}
	return VariableRef{Sheet: s[:idx], Name: s[idx+1:]}, nil
}

// String returns the textual "shortcut.name" form
func (v VariableRef) String() string {
	return v.Sheet + "." + v.Name
}

// IsZero reports whether the reference is empty
func (v VariableRef) IsZero() bool {
	return v.Sheet == "" && v.Name == ""
}
