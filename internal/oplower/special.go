package oplower

import (
	"fmt"

	"dxlower/internal/annot"
	"dxlower/internal/handle"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// Bool vector subscripts -------------------------------------------------

func (l *Lowerer) isBoolPtr(ty ir.TypeID) bool {
	ts := l.m.Types
	return ts.IsPointer(ty) && ts.IsInt(ts.Elem(ty), 1)
}

// boolSubscriptSig returns sig with the i1* result widened to i32*: bools
// live in memory as i32.
func (l *Lowerer) boolSubscriptSig(sig *signature) *signature {
	ts := l.m.Types
	out := *sig
	out.ret = ts.PointerIn(ts.Builtins().I32, ts.AddrSpace(sig.ret))
	return &out
}

// fixBoolSubscriptUses converts at every load and store of the old i1*
// subscript: loads compare the i32 against zero, stores zero-extend.
func (l *Lowerer) fixBoolSubscriptUses(oldCall, newCall ir.ValueID) {
	m := l.m
	i32 := m.Types.Builtins().I32
	b := ir.NewBuilder(m)
	for _, u := range m.Uses(oldCall) {
		user := m.Value(u.User)
		b.SetInsertPoint(u.User)
		switch {
		case user.Op == ir.OpLoad:
			ld := b.Load(newCall, user.Name)
			cmp := b.ICmp(ir.PredNE, ld, m.ConstInt(i32, 0))
			m.ReplaceAllUsesWith(u.User, cmp)
			m.EraseInstr(u.User)
		case user.Op == ir.OpStore && u.Index == 1:
			z := b.ZExt(user.Operands[0], i32)
			b.Store(z, newCall)
			m.EraseInstr(u.User)
		default:
			panic(fmt.Sprintf("oplower: bool vector subscript used by %s", user.Op))
		}
	}
}

// Double subscripts ------------------------------------------------------

// lowerDoubleSubscript collapses obj.mips[level][pos] style chains. The first
// call takes a GEP into the resource object plus the first index; its only
// user is a second subscript taking the second index. Both are replaced by a
// single call on the resource handle carrying both indices, placed before the
// second subscript.
func (l *Lowerer) lowerDoubleSubscript(d hlop.Descriptor) []*ir.Func {
	m := l.m
	ts := m.Types
	b := ir.NewBuilder(m)
	var created []*ir.Func
	for _, call := range l.callsOf(d.Func) {
		args := m.Value(call).Args()
		if len(args) != 2 {
			panic(fmt.Sprintf("oplower: DoubleSubscript with %d arguments", len(args)))
		}
		obj, idx1 := args[0], args[1]
		gep := m.Value(obj)
		if gep.Op != ir.OpGEP || (gep.Kind != ir.ValueInstr && gep.Kind != ir.ValueConstExpr) {
			panic("oplower: DoubleSubscript object is not a GEP")
		}
		resPtr := gep.Operands[0]
		if hlop.ClassifyPointer(ts, m.TypeOf(resPtr)) != hlop.ObjResource {
			panic(fmt.Sprintf("oplower: DoubleSubscript on %s", ts.String(m.TypeOf(resPtr))))
		}

		users := m.Users(call)
		if len(users) != 1 || m.Value(users[0]).Op != ir.OpCall {
			panic("oplower: DoubleSubscript must feed exactly one subscript call")
		}
		second := users[0]
		idx2 := secondIndex(m, second, call)

		b.SetInsertPoint(second)
		site := newCallSite(l, b)
		ptr := site.materialize(resPtr)
		h := handle.CreateAnnotatedHandleFromResPtr(b, ptr, l.propsOf(ptr, ts.Elem(m.TypeOf(ptr))))
		newCall := hlop.Emit(b, m.TypeOf(second), hlop.GroupSubscript, d.Opcode, h, idx1, idx2)
		if fn, ok := m.CalledFunc(newCall); ok && !containsFunc(created, fn) {
			created = append(created, fn)
		}

		m.ReplaceAllUsesWith(second, newCall)
		m.EraseInstr(second)
		m.EraseInstr(call)
		if gep.Kind == ir.ValueInstr {
			m.EraseIfDead(obj)
		} else {
			m.EraseConstExprIfDead(obj)
		}
		l.stats.CallSites++
	}
	return created
}

// secondIndex returns the argument following first in the second subscript
// call. The second call may already be in opcode form, so the position of
// first is searched rather than assumed.
func secondIndex(m *ir.Module, second, first ir.ValueID) ir.ValueID {
	args := m.Value(second).Args()
	for i, a := range args {
		if a == first && i+1 < len(args) {
			return args[i+1]
		}
	}
	panic("oplower: second subscript does not index the DoubleSubscript result")
}

func containsFunc(fns []*ir.Func, f *ir.Func) bool {
	for _, x := range fns {
		if x == f {
			return true
		}
	}
	return false
}

// Synthesized bodies -----------------------------------------------------

// bodyFunc returns the function named for (d, fnTy), creating an empty one
// when it does not exist yet. The second result reports whether the body
// still has to be emitted.
func (l *Lowerer) bodyFunc(d hlop.Descriptor, fnTy ir.TypeID, params ...string) (*ir.Func, bool) {
	name := hlop.BodyName(l.m.Types, d.Group, d.Opcode, fnTy)
	if f, ok := l.m.FuncByName(name); ok {
		return f, false
	}
	f := l.m.NewFunc(name, fnTy, params...)
	f.SetAttr(hlop.AttrGroup, d.Group.String())
	l.stats.Bodies++
	return f, true
}

// memType is the in-memory form of a value type: bools are stored as i32.
func (l *Lowerer) memType(ty ir.TypeID) ir.TypeID {
	ts := l.m.Types
	if ts.IsInt(ts.ScalarType(ty), 1) {
		return ts.WithScalar(ty, ts.Builtins().I32)
	}
	return ty
}

func (l *Lowerer) zeroOf(ty ir.TypeID) ir.ValueID {
	if l.m.Types.IsVector(ty) {
		return l.m.Zero(ty)
	}
	return l.m.ConstInt(ty, 0)
}

// streamBody builds Append / Consume on a counter backed structured buffer:
// bump the hidden counter, subscript the buffer with the result, then store
// or load the element.
func (l *Lowerer) streamBody(d hlop.Descriptor, sig *signature) *ir.Func {
	m := l.m
	ts := m.Types
	appendOp := l.isIntrinsic(d, hlop.MOPAppend)

	if len(sig.kinds) == 0 || sig.kinds[0] != hlop.ObjResource {
		panic(fmt.Sprintf("oplower: %s without a buffer object", d))
	}
	resTy := ts.Elem(ts.Fields(d.Func.Type)[0])

	var elemTy ir.TypeID
	names := []string{"opcode", "buf"}
	if appendOp {
		if len(sig.params) != 3 {
			panic(fmt.Sprintf("oplower: Append takes one value, got %d params", len(sig.params)-2))
		}
		elemTy = sig.params[2]
		names = append(names, "val")
	} else {
		elemTy = sig.ret
	}

	fn, fresh := l.bodyFunc(d, l.fnType(sig), names...)
	if !fresh {
		return fn
	}
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(fn.ID, "entry"))
	h := fn.Params[1]

	counterOp := hlop.MOPDecrementCounter
	if appendOp {
		counterOp = hlop.MOPIncrementCounter
	}
	idx := hlop.Emit(b, ts.Builtins().I32, hlop.GroupIntrinsic, uint32(counterOp), h)
	m.SetName(idx, "idx")
	memTy := l.memType(elemTy)
	ptr := hlop.Emit(b, ts.Pointer(memTy), hlop.GroupSubscript, uint32(hlop.SubscriptDefault), h, idx)

	isMat := hlop.IsMatrix(ts, elemTy)
	var orient annot.Orientation
	if isMat {
		orient = l.types.MustFieldAnnotation(ts, resTy, 0).Matrix.Orientation
	}
	void := ts.Builtins().Void

	if appendOp {
		val := fn.Params[2]
		switch {
		case isMat && orient == annot.OrientRowMajor:
			row := hlop.Emit(b, elemTy, hlop.GroupCast, uint32(hlop.CastColMatrixToRowMatrix), val)
			hlop.Emit(b, void, hlop.GroupMatLoadStore, uint32(hlop.RowMatStore), ptr, row)
		case isMat:
			hlop.Emit(b, void, hlop.GroupMatLoadStore, uint32(hlop.ColMatStore), ptr, val)
		case memTy != elemTy:
			b.Store(b.ZExt(val, memTy), ptr)
		default:
			b.Store(val, ptr)
		}
		b.RetVoid()
		return fn
	}

	var val ir.ValueID
	switch {
	case isMat && orient == annot.OrientRowMajor:
		row := hlop.Emit(b, elemTy, hlop.GroupMatLoadStore, uint32(hlop.RowMatLoad), ptr)
		val = hlop.Emit(b, elemTy, hlop.GroupCast, uint32(hlop.CastRowMatrixToColMatrix), row)
	case isMat:
		val = hlop.Emit(b, elemTy, hlop.GroupMatLoadStore, uint32(hlop.ColMatLoad), ptr)
	case memTy != elemTy:
		ld := b.Load(ptr, "")
		val = b.ICmp(ir.PredNE, ld, l.zeroOf(memTy))
	default:
		val = b.Load(ptr, "")
	}
	b.Ret(val)
	return fn
}

// sincosBody builds sincos(x, s, c) as two sub-operations storing through the
// output pointers.
func (l *Lowerer) sincosBody(d hlop.Descriptor, sig *signature) *ir.Func {
	if len(sig.params) != 4 {
		panic(fmt.Sprintf("oplower: sincos with %d params", len(sig.params)-1))
	}
	fn, fresh := l.bodyFunc(d, l.fnType(sig), "opcode", "x", "s", "c")
	if !fresh {
		return fn
	}
	m := l.m
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(fn.ID, "entry"))
	x := fn.Params[1]
	ty := m.TypeOf(x)
	s := hlop.Emit(b, ty, hlop.GroupIntrinsic, uint32(hlop.IOPsin), x)
	b.Store(s, fn.Params[2])
	c := hlop.Emit(b, ty, hlop.GroupIntrinsic, uint32(hlop.IOPcos), x)
	b.Store(c, fn.Params[3])
	b.RetVoid()
	return fn
}
