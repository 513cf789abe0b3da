// Package annot is the type annotation side channel: per struct type field
// names, constant-buffer offsets, matrix orientation and the template argument
// of HLSL object types.
package annot

import (
	"fmt"

	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

// Orientation is the storage order of a matrix.
type Orientation uint8

const (
	OrientUndefined Orientation = iota
	OrientRowMajor
	OrientColMajor
)

func (o Orientation) String() string {
	switch o {
	case OrientRowMajor:
		return "row_major"
	case OrientColMajor:
		return "column_major"
	default:
		return "undefined"
	}
}

// Matrix annotates a matrix-typed field.
type Matrix struct {
	Rows        uint32
	Cols        uint32
	Orientation Orientation
}

// IsMatrix reports whether the annotation describes a matrix.
func (m Matrix) IsMatrix() bool { return m.Rows > 0 && m.Cols > 0 }

// Field annotates one struct field.
type Field struct {
	Name          string
	CBufferOffset uint32
	HasOffset     bool
	Matrix        Matrix
	CompType      resprops.CompType
	MinPrecision  bool
}

// Struct annotates one struct type.
type Struct struct {
	Type        ir.TypeID
	Fields      []Field
	CBufferSize uint32
	// TemplateArg is the element / record type of a resource or node type.
	TemplateArg ir.TypeID
}

// TypeSystem owns every annotation of a module.
type TypeSystem struct {
	structs map[ir.TypeID]*Struct
	order   []ir.TypeID
}

// New returns an empty type system.
func New() *TypeSystem {
	return &TypeSystem{structs: make(map[ir.TypeID]*Struct)}
}

// AddStructAnnotation creates (or returns) the annotation of ty with room for
// n fields.
func (ts *TypeSystem) AddStructAnnotation(ty ir.TypeID, n int) *Struct {
	if s, ok := ts.structs[ty]; ok {
		if len(s.Fields) < n {
			s.Fields = append(s.Fields, make([]Field, n-len(s.Fields))...)
		}
		return s
	}
	s := &Struct{Type: ty, Fields: make([]Field, n)}
	ts.structs[ty] = s
	ts.order = append(ts.order, ty)
	return s
}

// GetStructAnnotation returns the annotation of ty.
func (ts *TypeSystem) GetStructAnnotation(ty ir.TypeID) (*Struct, bool) {
	s, ok := ts.structs[ty]
	return s, ok
}

// GetFieldAnnotation returns field i of ty's annotation.
func (ts *TypeSystem) GetFieldAnnotation(ty ir.TypeID, i int) (Field, bool) {
	s, ok := ts.structs[ty]
	if !ok || i < 0 || i >= len(s.Fields) {
		return Field{}, false
	}
	return s.Fields[i], true
}

// MustFieldAnnotation is GetFieldAnnotation for callers whose input contract
// guarantees the annotation exists.
func (ts *TypeSystem) MustFieldAnnotation(types *ir.Types, ty ir.TypeID, i int) Field {
	f, ok := ts.GetFieldAnnotation(ty, i)
	if !ok {
		panic(fmt.Sprintf("annot: missing field annotation %d of %s", i, types.String(ty)))
	}
	return f
}

// SetTemplateArg records the template argument of an object type.
func (ts *TypeSystem) SetTemplateArg(ty, arg ir.TypeID) {
	ts.AddStructAnnotation(ty, 0).TemplateArg = arg
}

// TemplateArg returns the template argument of an object type.
func (ts *TypeSystem) TemplateArg(ty ir.TypeID) (ir.TypeID, bool) {
	s, ok := ts.structs[ty]
	if !ok || s.TemplateArg == ir.NoTypeID {
		return ir.NoTypeID, false
	}
	return s.TemplateArg, true
}

// Structs lists annotations in creation order.
func (ts *TypeSystem) Structs() []*Struct {
	out := make([]*Struct, 0, len(ts.order))
	for _, ty := range ts.order {
		out = append(out, ts.structs[ty])
	}
	return out
}

// Len returns the number of annotated types.
func (ts *TypeSystem) Len() int { return len(ts.order) }
