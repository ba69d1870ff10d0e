package logic

import "slices"

// ReadOperator compares a variable's value inside a condition rule
type ReadOperator string

// Read operators grouped by the value kinds that accept them
const (
	OpEquals             ReadOperator = "equals"
	OpNotEquals          ReadOperator = "not_equals"
	OpGreaterThan        ReadOperator = "greater_than"
	OpGreaterThanOrEqual ReadOperator = "greater_than_or_equal"
	OpLessThan           ReadOperator = "less_than"
	OpLessThanOrEqual    ReadOperator = "less_than_or_equal"
	OpIsTrue             ReadOperator = "is_true"
	OpIsFalse            ReadOperator = "is_false"
	OpIsNil              ReadOperator = "is_nil"
	OpContains           ReadOperator = "contains"
	OpNotContains        ReadOperator = "not_contains"
	OpStartsWith         ReadOperator = "starts_with"
	OpEndsWith           ReadOperator = "ends_with"
	OpIsEmpty            ReadOperator = "is_empty"
	OpBefore             ReadOperator = "before"
	OpAfter              ReadOperator = "after"
)

// WriteOperator mutates a variable's value inside an instruction assignment
type WriteOperator string

// Write operators grouped by the value kinds that accept them
const (
	OpSet      WriteOperator = "set"
	OpAdd      WriteOperator = "add"
	OpSubtract WriteOperator = "subtract"
	OpSetTrue  WriteOperator = "set_true"
	OpSetFalse WriteOperator = "set_false"
	OpToggle   WriteOperator = "toggle"
	OpClear    WriteOperator = "clear"
)

// readOperators maps each value kind to its permitted condition operators
var readOperators = map[ValueKind][]ReadOperator{
	KindNumber: {
		OpEquals, OpNotEquals,
		OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual,
	},
	KindBoolean:     {OpIsTrue, OpIsFalse, OpIsNil},
	KindText:        {OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith, OpIsEmpty},
	KindSelect:      {OpEquals, OpNotEquals, OpIsNil},
	KindMultiSelect: {OpContains, OpNotContains, OpIsEmpty},
	KindDate:        {OpEquals, OpNotEquals, OpBefore, OpAfter},
}

// writeOperators maps each value kind to its permitted instruction operators.
// multi_select variables are read-only from instructions.
var writeOperators = map[ValueKind][]WriteOperator{
	KindNumber:      {OpSet, OpAdd, OpSubtract},
	KindBoolean:     {OpSetTrue, OpSetFalse, OpToggle},
	KindText:        {OpSet, OpClear},
	KindSelect:      {OpSet},
	KindMultiSelect: {},
	KindDate:        {OpSet},
}

// valuelessReadOperators take no comparison literal
var valuelessReadOperators = []ReadOperator{OpIsTrue, OpIsFalse, OpIsNil, OpIsEmpty}

// valuelessWriteOperators take no value and payloads must omit the value
// slot entirely, not just leave it blank
var valuelessWriteOperators = []WriteOperator{OpSetTrue, OpSetFalse, OpToggle, OpClear}

// ReadOperatorsFor returns the condition operators permitted for a value kind
func ReadOperatorsFor(kind ValueKind) []ReadOperator {
	return slices.Clone(readOperators[kind])
}

// WriteOperatorsFor returns the instruction operators permitted for a value kind
func WriteOperatorsFor(kind ValueKind) []WriteOperator {
	return slices.Clone(writeOperators[kind])
}

// ValidReadOperator reports whether op is permitted for variables of the given kind
func ValidReadOperator(kind ValueKind, op ReadOperator) bool {
	return slices.Contains(readOperators[kind], op)
}

// ValidWriteOperator reports whether op is permitted for variables of the given kind
func ValidWriteOperator(kind ValueKind, op WriteOperator) bool {
	return slices.Contains(writeOperators[kind], op)
}

// KnownReadOperator reports whether op is any recognized condition operator
func KnownReadOperator(op ReadOperator) bool {
	for _, ops := range readOperators {
		if slices.Contains(ops, op) {
			return true
		}
	}
	return false
}

// KnownWriteOperator reports whether op is any recognized instruction operator
func KnownWriteOperator(op WriteOperator) bool {
	for _, ops := range writeOperators {
		if slices.Contains(ops, op) {
			return true
		}
	}
	return false
}

// ValuelessRead reports whether the operator takes no comparison literal
func ValuelessRead(op ReadOperator) bool {
	return slices.Contains(valuelessReadOperators, op)
}

// ValuelessWrite reports whether the operator takes no value slot
func ValuelessWrite(op WriteOperator) bool {
	return slices.Contains(valuelessWriteOperators, op)
}
