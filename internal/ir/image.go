package ir

import (
	"errors"
	"fmt"
	"math"
)

// Image is a flat, serializable copy of a module. Use lists are not stored;
// FromImage rebuilds them from operands.
type Image struct {
	Name    string
	Types   []Type
	Values  []Value
	Funcs   []Func
	Blocks  []Block
	Globals []ValueID
}

// Image snapshots m.
func (m *Module) Image() *Image {
	img := &Image{
		Name:    m.Name,
		Types:   m.Types.Snapshot(),
		Values:  make([]Value, len(m.values)),
		Funcs:   make([]Func, len(m.funcs)),
		Blocks:  make([]Block, len(m.blocks)),
		Globals: append([]ValueID(nil), m.globals...),
	}
	for i, v := range m.values {
		c := *v
		c.uses = nil
		c.Operands = append([]ValueID(nil), v.Operands...)
		c.Imms = append([]int32(nil), v.Imms...)
		c.Targets = append([]BlockID(nil), v.Targets...)
		img.Values[i] = c
	}
	for i, f := range m.funcs {
		c := *f
		c.Params = append([]ValueID(nil), f.Params...)
		c.Blocks = append([]BlockID(nil), f.Blocks...)
		if f.Attrs != nil {
			c.Attrs = make(map[string]string, len(f.Attrs))
			for k, v := range f.Attrs {
				c.Attrs[k] = v
			}
		}
		img.Funcs[i] = c
	}
	for i, b := range m.blocks {
		c := *b
		c.Instrs = append([]ValueID(nil), b.Instrs...)
		img.Blocks[i] = c
	}
	return img
}

// FromImage rebuilds a module, its name tables and use lists.
func FromImage(img *Image) (*Module, error) {
	if img == nil {
		return nil, errors.New("ir: nil image")
	}
	ts, err := RestoreTypes(img.Types)
	if err != nil {
		return nil, err
	}
	m := newModule(img.Name, ts)
	nv := len(img.Values)
	inRange := func(id ValueID) bool { return id == NoValueID || (id >= 0 && int(id) < nv) }
	for i := range img.Values {
		v := img.Values[i]
		if int(v.ID) != i {
			return nil, fmt.Errorf("ir: value slot %d carries id %d", i, v.ID)
		}
		for _, op := range v.Operands {
			if !inRange(op) {
				return nil, fmt.Errorf("ir: value %d refers to %d out of range", i, op)
			}
		}
		if v.Kind == ValueGlobal && !inRange(v.Init) {
			return nil, fmt.Errorf("ir: global %d initializer out of range", i)
		}
		if _, ok := ts.Lookup(v.Type); !ok {
			return nil, fmt.Errorf("ir: value %d has an invalid type", i)
		}
		c := v
		m.values = append(m.values, &c)
	}
	for i := range img.Funcs {
		f := img.Funcs[i]
		if int(f.ID) != i {
			return nil, fmt.Errorf("ir: func slot %d carries id %d", i, f.ID)
		}
		c := f
		m.funcs = append(m.funcs, &c)
		if !c.Erased {
			m.funcByName[c.Name] = c.ID
		}
	}
	for i := range img.Blocks {
		b := img.Blocks[i]
		if int(b.ID) != i {
			return nil, fmt.Errorf("ir: block slot %d carries id %d", i, b.ID)
		}
		c := b
		m.blocks = append(m.blocks, &c)
	}
	m.globals = append(m.globals, img.Globals...)
	for _, g := range m.globals {
		if !inRange(g) || g == NoValueID {
			return nil, fmt.Errorf("ir: global id %d out of range", g)
		}
		if v := m.values[g]; !v.Erased {
			m.globalByName[v.Name] = g
		}
	}
	for _, v := range m.values {
		if v.Erased {
			continue
		}
		for i, op := range v.Operands {
			m.addUse(op, v.ID, i)
		}
		if v.Kind == ValueGlobal && v.Init != NoValueID {
			m.addUse(v.Init, v.ID, -1)
		}
		if v.IsConst() {
			if k, ok := constKeyOf(v); ok {
				if _, dup := m.consts[k]; !dup {
					m.consts[k] = v.ID
				}
			}
		}
	}
	return m, nil
}

func constKeyOf(v *Value) (constKey, bool) {
	switch v.Kind {
	case ValueConstInt:
		return constKey{Kind: v.Kind, Type: v.Type, Int: v.Int}, true
	case ValueConstFloat:
		return constKey{Kind: v.Kind, Type: v.Type, Float: math.Float64bits(v.Float)}, true
	case ValueUndef, ValueZero:
		return constKey{Kind: v.Kind, Type: v.Type}, true
	case ValueConstAggregate:
		return constKey{Kind: v.Kind, Type: v.Type, Elems: elemsKey(v.Operands)}, true
	case ValueConstExpr:
		return constKey{Kind: v.Kind, Type: v.Type, Op: v.Op, Elems: elemsKey(v.Operands)}, true
	}
	return constKey{}, false
}
