package resprops

import (
	"fmt"

	"dxlower/internal/ir"
)

// Entry is one (object, properties) pair of a Table.
type Entry struct {
	Value ir.ValueID
	Props Properties
}

// Table maps resource objects (globals, allocas, GEP chains) to their
// properties. Iteration follows insertion order.
type Table struct {
	index   map[ir.ValueID]int
	entries []Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{index: make(map[ir.ValueID]int)}
}

// AddResource stores p for v when p is valid. A second registration must
// carry identical properties; a conflicting one panics. It reports whether
// the value was stored.
func (t *Table) AddResource(v ir.ValueID, p Properties) bool {
	if !p.IsValid() {
		return false
	}
	if i, ok := t.index[v]; ok {
		if t.entries[i].Props != p {
			panic(fmt.Sprintf("resprops: conflicting properties for %%%d: have %s, got %s", v, t.entries[i].Props, p))
		}
		return true
	}
	t.index[v] = len(t.entries)
	t.entries = append(t.entries, Entry{Value: v, Props: p})
	return true
}

// IsResource reports whether v has properties.
func (t *Table) IsResource(v ir.ValueID) bool {
	_, ok := t.index[v]
	return ok
}

// GetResource returns the properties of v or Invalid.
func (t *Table) GetResource(v ir.ValueID) Properties {
	if i, ok := t.index[v]; ok {
		return t.entries[i].Props
	}
	return Invalid
}

// UpdateCoherence toggles the coherence flags of an existing entry.
func (t *Table) UpdateCoherence(v ir.ValueID, toggleGloballyCoherent, toggleReorderCoherent bool) {
	i, ok := t.index[v]
	if !ok {
		return
	}
	p := &t.entries[i].Props
	if toggleGloballyCoherent {
		p.Flags ^= FlagGloballyCoherent
	}
	if toggleReorderCoherent {
		p.Flags ^= FlagReorderCoherent
	}
}

// Resolve finds the properties of v, walking GEP and bitcast chains
// (instructions and constant expressions) up to the registered root object.
func (t *Table) Resolve(m *ir.Module, v ir.ValueID) (Properties, ir.ValueID, bool) {
	cur := v
	for cur != ir.NoValueID {
		if i, ok := t.index[cur]; ok {
			return t.entries[i].Props, cur, true
		}
		val := m.Value(cur)
		switch {
		case (val.Kind == ir.ValueInstr || val.Kind == ir.ValueConstExpr) && (val.Op == ir.OpGEP || val.Op == ir.OpBitCast):
			cur = val.Operands[0]
		default:
			return Invalid, ir.NoValueID, false
		}
	}
	return Invalid, ir.NoValueID, false
}

// Entries returns the pairs in insertion order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Len returns the number of registered objects.
func (t *Table) Len() int { return len(t.entries) }
