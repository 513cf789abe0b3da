// Package bitcast removes the pointer bitcasts the front end emits for
// implicit scalar, vector and bool conversions. The conversion moves to each
// load and store through the cast, which then accesses the original memory
// type.
package bitcast

import (
	"fmt"

	"dxlower/internal/ir"
)

// Shape is a recognized pair of memory type and accessed type.
type Shape uint8

const (
	ShapeNone Shape = iota
	// ShapeSame accesses the first leaf of a struct with its own type.
	ShapeSame
	// ShapeScalarToVec1 accesses S as <1 x S>.
	ShapeScalarToVec1
	// ShapeArrayToVec accesses [N x S] as <N x S>.
	ShapeArrayToVec
	// ShapeBoolToInt accesses i1 memory as a wider integer.
	ShapeBoolToInt
	// ShapeIntToBool accesses integer memory as i1.
	ShapeIntToBool
	// ShapeVecToVec1 accesses <N x S> as <1 x S>.
	ShapeVecToVec1
)

func (s Shape) String() string {
	switch s {
	case ShapeSame:
		return "same"
	case ShapeScalarToVec1:
		return "scalar-to-vec1"
	case ShapeArrayToVec:
		return "array-to-vec"
	case ShapeBoolToInt:
		return "bool-to-int"
	case ShapeIntToBool:
		return "int-to-bool"
	case ShapeVecToVec1:
		return "vec-to-vec1"
	}
	return "none"
}

// Classify matches a cast from a pointer to from into a pointer to to.
// Struct memory types are first narrowed to their first leaf; depth is the
// number of zero indices that takes.
func Classify(ts *ir.Types, from, to ir.TypeID) (shape Shape, leaf ir.TypeID, depth int) {
	leaf = from
	for leaf != to && ts.IsStruct(leaf) && len(ts.Fields(leaf)) > 0 {
		leaf = ts.Fields(leaf)[0]
		depth++
	}
	switch {
	case leaf == to:
		if depth == 0 {
			return ShapeNone, leaf, 0
		}
		return ShapeSame, leaf, depth
	case ts.IsVector(to) && ts.Count(to) == 1 && ts.Elem(to) == leaf:
		return ShapeScalarToVec1, leaf, depth
	case ts.IsVector(to) && ts.IsArray(leaf) && ts.Elem(leaf) == ts.Elem(to) && ts.Count(leaf) == ts.Count(to):
		return ShapeArrayToVec, leaf, depth
	case ts.IsVector(to) && ts.IsVector(leaf) && ts.Count(to) == 1 && ts.Elem(to) == ts.Elem(leaf):
		return ShapeVecToVec1, leaf, depth
	}
	if sameLanes(ts, leaf, to) {
		l, t := ts.ScalarType(leaf), ts.ScalarType(to)
		switch {
		case ts.IsInt(l, 1) && ts.IsInt(t, 0) && !ts.IsInt(t, 1):
			return ShapeBoolToInt, leaf, depth
		case ts.IsInt(t, 1) && ts.IsInt(l, 0) && !ts.IsInt(l, 1):
			return ShapeIntToBool, leaf, depth
		}
	}
	return ShapeNone, leaf, depth
}

func sameLanes(ts *ir.Types, a, b ir.TypeID) bool {
	if ts.IsVector(a) != ts.IsVector(b) {
		return false
	}
	return !ts.IsVector(a) || ts.Count(a) == ts.Count(b)
}

// castTypes returns the pointee types of a pointer bitcast.
func castTypes(m *ir.Module, bc ir.ValueID) (from, to ir.TypeID, ok bool) {
	v := m.Value(bc)
	if v.Op != ir.OpBitCast || (v.Kind != ir.ValueInstr && v.Kind != ir.ValueConstExpr) {
		return ir.NoTypeID, ir.NoTypeID, false
	}
	ts := m.Types
	st := m.TypeOf(v.Operands[0])
	if !ts.IsPointer(st) || !ts.IsPointer(v.Type) {
		return ir.NoTypeID, ir.NoTypeID, false
	}
	return ts.Elem(st), ts.Elem(v.Type), true
}

// Simplifiable reports whether bc is a pointer bitcast of a recognized shape.
func Simplifiable(m *ir.Module, bc ir.ValueID) bool {
	from, to, ok := castTypes(m, bc)
	if !ok {
		return false
	}
	s, _, _ := Classify(m.Types, from, to)
	return s != ShapeNone
}

// SimplifyBitCast rewrites every load, store and GEP through the pointer
// bitcast bc to access the source memory directly, then erases bc. It
// reports false when bc is not a pointer bitcast. A cast of any other shape,
// or one used by anything but a load, store pointer or GEP base, panics.
func SimplifyBitCast(m *ir.Module, bc ir.ValueID) bool {
	from, to, ok := castTypes(m, bc)
	if !ok {
		return false
	}
	shape, leaf, depth := Classify(m.Types, from, to)
	if shape == ShapeNone {
		panic(fmt.Sprintf("bitcast: unsupported cast from %s* to %s*", m.Types.String(from), m.Types.String(to)))
	}
	v := m.Value(bc)
	s := &simplifier{
		m:     m,
		b:     ir.NewBuilder(m),
		shape: shape,
		mem:   leaf,
		to:    to,
		cexpr: v.Kind == ir.ValueConstExpr,
	}
	s.base = s.leafPointer(bc, v.Operands[0], depth)

	for _, u := range m.Uses(bc) {
		s.rewrite(u)
	}
	if s.cexpr {
		m.EraseConstExprIfDead(bc)
	} else {
		m.EraseInstr(bc)
	}
	if s.base != v.Operands[0] {
		s.dropIfDead(s.base)
	}
	return true
}

type simplifier struct {
	m     *ir.Module
	b     *ir.Builder
	shape Shape
	// mem is the type actually stored in memory at base; to is the type
	// the cast pretended.
	mem   ir.TypeID
	to    ir.TypeID
	cexpr bool
	base  ir.ValueID
}

// leafPointer returns a pointer to the first leaf of src, depth zero
// indices deep.
func (s *simplifier) leafPointer(bc, src ir.ValueID, depth int) ir.ValueID {
	if depth == 0 {
		return src
	}
	zeros := make([]ir.ValueID, depth+1)
	for i := range zeros {
		zeros[i] = s.m.ConstI32(0)
	}
	if s.cexpr || s.m.Value(src).IsConst() || s.m.Value(src).Kind == ir.ValueGlobal {
		return s.m.ConstGEP(src, zeros...)
	}
	s.b.SetInsertPoint(bc)
	return s.b.GEP(src, zeros...)
}

func (s *simplifier) dropIfDead(v ir.ValueID) {
	switch s.m.Value(v).Kind {
	case ir.ValueInstr:
		s.m.EraseIfDead(v)
	case ir.ValueConstExpr:
		s.m.EraseConstExprIfDead(v)
	}
}

func (s *simplifier) rewrite(u ir.Use) {
	m := s.m
	user := m.Value(u.User)
	if user.Kind == ir.ValueConstExpr {
		if user.Op != ir.OpGEP || u.Index != 0 {
			panic(fmt.Sprintf("bitcast: cast used by constant %s", user.Op))
		}
		s.rewriteConstGEP(u.User)
		return
	}
	if user.Kind != ir.ValueInstr {
		panic(fmt.Sprintf("bitcast: cast used by %s", user.Kind))
	}
	s.b.SetInsertPoint(u.User)
	switch {
	case user.Op == ir.OpLoad:
		m.ReplaceAllUsesWith(u.User, s.load())
		m.EraseInstr(u.User)
	case user.Op == ir.OpStore && u.Index == 1:
		s.store(user.Operands[0])
		m.EraseInstr(u.User)
	case user.Op == ir.OpGEP && u.Index == 0:
		repl := s.gep(user.Operands[1:], user.Type)
		m.ReplaceAllUsesWith(u.User, repl)
		m.EraseInstr(u.User)
		if v := m.Value(repl); v.Kind == ir.ValueInstr && v.Op == ir.OpBitCast {
			SimplifyBitCast(m, repl)
		}
	default:
		panic(fmt.Sprintf("bitcast: cast used by %s operand %d", user.Op, u.Index))
	}
}

// load emits the load of base and converts it to the cast type.
func (s *simplifier) load() ir.ValueID {
	m, b := s.m, s.b
	zero := m.ConstI32(0)
	switch s.shape {
	case ShapeScalarToVec1:
		return b.InsertElement(m.Undef(s.to), b.Load(s.base, ""), zero)
	case ShapeArrayToVec:
		vec := m.Undef(s.to)
		for i := range int64(m.Types.Count(s.mem)) {
			idx := m.ConstI32(i)
			vec = b.InsertElement(vec, b.Load(b.GEP(s.base, zero, idx), ""), idx)
		}
		return vec
	case ShapeBoolToInt:
		return b.ZExt(b.Load(s.base, ""), s.to)
	case ShapeIntToBool:
		return b.ICmp(ir.PredNE, b.Load(s.base, ""), m.Zero(s.mem))
	case ShapeVecToVec1:
		x := b.Load(s.base, "")
		return b.ShuffleVector(x, m.Undef(s.mem), []int32{0})
	}
	return b.Load(s.base, "")
}

// store converts val back to the memory type and stores it through base.
func (s *simplifier) store(val ir.ValueID) {
	m, b := s.m, s.b
	zero := m.ConstI32(0)
	switch s.shape {
	case ShapeScalarToVec1:
		b.Store(b.ExtractElement(val, zero), s.base)
	case ShapeArrayToVec:
		for i := range int64(m.Types.Count(s.mem)) {
			idx := m.ConstI32(i)
			b.Store(b.ExtractElement(val, idx), b.GEP(s.base, zero, idx))
		}
	case ShapeBoolToInt:
		b.Store(b.ICmp(ir.PredNE, val, m.Zero(s.to)), s.base)
	case ShapeIntToBool:
		b.Store(b.ZExt(val, s.mem), s.base)
	case ShapeVecToVec1:
		b.Store(b.ExtractElement(val, zero), b.GEP(s.base, zero, zero))
	default:
		b.Store(val, s.base)
	}
}

// gep rebuilds a GEP through the cast on base. A result whose element type
// still differs from the original is cast back; the caller simplifies that
// cast once it carries the GEP's uses.
func (s *simplifier) gep(indices []ir.ValueID, want ir.TypeID) ir.ValueID {
	if s.shape == ShapeScalarToVec1 {
		if !allZero(s.m, indices) || len(indices) != 2 {
			panic("bitcast: non-zero index into a one-element vector")
		}
		return s.base
	}
	p := s.b.GEP(s.base, indices...)
	if s.m.TypeOf(p) == want {
		return p
	}
	return s.b.BitCast(p, want)
}

func (s *simplifier) rewriteConstGEP(g ir.ValueID) {
	m := s.m
	v := m.Value(g)
	indices := append([]ir.ValueID(nil), v.Operands[1:]...)
	var repl ir.ValueID
	if s.shape == ShapeScalarToVec1 {
		if !allZero(m, indices) || len(indices) != 2 {
			panic("bitcast: non-zero index into a one-element vector")
		}
		repl = s.base
	} else {
		repl = m.ConstGEP(s.base, indices...)
		if m.TypeOf(repl) != v.Type {
			repl = m.ConstBitCast(repl, v.Type)
		}
	}
	m.ReplaceAllUsesWith(g, repl)
	m.EraseConstExprIfDead(g)
	if m.Value(repl).Op == ir.OpBitCast && m.Value(repl).Kind == ir.ValueConstExpr {
		SimplifyBitCast(m, repl)
	}
}

func allZero(m *ir.Module, ids []ir.ValueID) bool {
	for _, id := range ids {
		if c, ok := m.ConstIntValue(id); !ok || c != 0 {
			return false
		}
	}
	return true
}
