// Package logic provides the condition and instruction model for narrative flows.
//
// Conditions are rule sets evaluated against typed variables ("all" or "any"
// semantics); instructions are ordered assignment lists that mutate variables.
// Operators are grouped strictly by the declared value kind of the referenced
// variable, so a boolean variable only accepts boolean operators and so on.
//
// The package is pure domain logic: it never resolves variables against the
// catalog and never touches storage. Resolution and persistence belong to the
// refindex and flowstore packages.
package logic
