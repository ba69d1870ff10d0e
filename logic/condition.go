package logic

import (
	"fmt"

	"github.com/c360/fabula/errors"
)

// LogicMode combines a condition's rules: "all" requires every rule to hold,
// "any" requires at least one
type LogicMode string

// Logic modes
const (
	LogicAll LogicMode = "all"
	LogicAny LogicMode = "any"
)

// Rule is a single comparison against one variable
type Rule struct {
	Variable string       `json:"variable"`
	Operator ReadOperator `json:"operator"`
	Value    string       `json:"value,omitempty"`
}

// Condition is a rule set attached to a condition node
type Condition struct {
	Logic LogicMode `json:"logic"`
	Rules []Rule    `json:"rules"`
}

// Validate checks the structural form of the condition: known logic mode,
// parseable variable references, known operators, and no literal on
// valueless operators. Kind/operator agreement is checked separately once the
// variable resolves against the catalog, because saves with not-yet-existing
// variables are allowed.
func (c Condition) Validate() error {
	if c.Logic != LogicAll && c.Logic != LogicAny {
		return errors.WrapSchema(
			fmt.Errorf("unknown logic mode %q", c.Logic),
			"logic", "Validate", "condition logic mode validation")
	}
	for i, rule := range c.Rules {
		if _, err := ParseVariableRef(rule.Variable); err != nil {
			return errors.WrapSchema(
				fmt.Errorf("rule %d: %w", i, err),
				"logic", "Validate", "condition rule variable validation")
		}
		if !KnownReadOperator(rule.Operator) {
			return errors.WrapSchema(
				fmt.Errorf("rule %d: unknown operator %q", i, rule.Operator),
				"logic", "Validate", "condition rule operator validation")
		}
		if ValuelessRead(rule.Operator) && rule.Value != "" {
			return errors.WrapSchema(
				fmt.Errorf("rule %d: operator %q takes no value", i, rule.Operator),
				"logic", "Validate", "condition rule value validation")
		}
	}
	return nil
}

// CheckRuleKind verifies operator/kind agreement for a resolved variable
func CheckRuleKind(rule Rule, kind ValueKind) error {
	if !ValidReadOperator(kind, rule.Operator) {
		return errors.WrapSchema(
			fmt.Errorf("operator %q not valid for %s variable %q", rule.Operator, kind, rule.Variable),
			"logic", "CheckRuleKind", "rule operator kind check")
	}
	return nil
}

// Variables returns the parseable variable references read by the condition,
// in rule order, without deduplication
func (c Condition) Variables() []VariableRef {
	refs := make([]VariableRef, 0, len(c.Rules))
	for _, rule := range c.Rules {
		ref, err := ParseVariableRef(rule.Variable)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}
