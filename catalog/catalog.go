// Package catalog resolves variable references against the external data
// sheet catalog. The core never owns variable definitions; it consumes them
// by stable (sheet shortcut, variable name) identity through the Resolver
// interface. MemoryCatalog backs tests and single-process deployments.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/fabula/errors"
	"github.com/c360/fabula/logic"
)

// Descriptor is the stable identity of a variable defined on a data sheet
type Descriptor struct {
	Sheet string          `json:"sheet"`
	Name  string          `json:"name"`
	Kind  logic.ValueKind `json:"kind"`
}

// Ref returns the descriptor's reference form
func (d Descriptor) Ref() logic.VariableRef {
	return logic.VariableRef{Sheet: d.Sheet, Name: d.Name}
}

// String returns the textual "shortcut.name" form
func (d Descriptor) String() string {
	return d.Sheet + "." + d.Name
}

// Resolver looks up variable descriptors by sheet shortcut and name.
// Implementations are scoped to the owning project.
type Resolver interface {
	// Resolve returns the descriptor for the given sheet shortcut and
	// variable name, or errors.ErrVariableNotFound
	Resolve(ctx context.Context, sheet, name string) (Descriptor, error)
}

// MemoryCatalog is a thread-safe in-memory Resolver
type MemoryCatalog struct {
	mu   sync.RWMutex
	vars map[string]Descriptor
}

// NewMemoryCatalog creates an empty in-memory catalog
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{vars: make(map[string]Descriptor)}
}

// Define registers or replaces a variable descriptor
func (c *MemoryCatalog) Define(d Descriptor) error {
	if d.Sheet == "" || d.Name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor %q missing sheet or name", d.String()),
			"MemoryCatalog", "Define", "descriptor validation")
	}
	if !logic.ValidKind(d.Kind) {
		return errors.WrapInvalid(
			fmt.Errorf("descriptor %q has unknown kind %q", d.String(), d.Kind),
			"MemoryCatalog", "Define", "descriptor kind validation")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[d.String()] = d
	return nil
}

// Remove deletes a variable descriptor; missing descriptors are a no-op
func (c *MemoryCatalog) Remove(sheet, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vars, sheet+"."+name)
}

// Resolve implements Resolver
func (c *MemoryCatalog) Resolve(_ context.Context, sheet, name string) (Descriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.vars[sheet+"."+name]
	if !ok {
		return Descriptor{}, errors.WrapNotFound(
			errors.ErrVariableNotFound,
			"MemoryCatalog", "Resolve", fmt.Sprintf("lookup %s.%s", sheet, name))
	}
	return d, nil
}
