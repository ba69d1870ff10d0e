// Package refindex maintains the derived index of which flow nodes read and
// write which variables. The index is never authored directly: the flow
// store derives a node's reference set from its payload on every successful
// save and replaces the previous set wholesale, so no reference outlives the
// edit that produced it.
//
// Variable identities resolve through the external catalog. Unresolvable
// references are dropped from the index rather than failing the save: a node
// referencing a not-yet-existing or renamed variable degrades gracefully.
// Stale detection compares the current catalog identity against each indexed
// node's live payload text and flags mismatches for the UI without repairing
// them; repairs happen only through the explicit Repair operation.
package refindex
