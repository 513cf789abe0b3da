package cbuf

import (
	"fmt"

	"dxlower/internal/handle"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// rewriter redirects the uses of member globals into one cbuffer. Every
// replacement is built at the top of the using function's entry block, so it
// dominates all of its uses, phis included.
type rewriter struct {
	m *ir.Module
	b *ir.Builder
	v *variable

	// roots maps each rewritten value to its replacement builder.
	roots map[ir.ValueID]func(st *fnState) ir.ValueID
	funcs map[ir.FuncID]*fnState
}

// fnState is the per-function materialization: the handle and subscript are
// created once per function and shared by every member access.
type fnState struct {
	fn     ir.FuncID
	anchor ir.ValueID
	sub    ir.ValueID
	cache  map[ir.ValueID]ir.ValueID
}

func newRewriter(ctx Context, v *variable) *rewriter {
	return &rewriter{
		m:     ctx.M,
		b:     ir.NewBuilder(ctx.M),
		v:     v,
		roots: make(map[ir.ValueID]func(st *fnState) ir.ValueID),
		funcs: make(map[ir.FuncID]*fnState),
	}
}

func (r *rewriter) run() {
	cb := r.v.cb
	switch {
	case cb.IsView && cb.IsArray:
		r.runViewArray(cb.Constants[0].Global)
		return
	case cb.IsView:
		r.roots[cb.Constants[0].Global] = r.subscript
	default:
		for g, idx := range r.v.field {
			r.roots[g] = r.fieldPtr(idx)
		}
	}
	for _, c := range cb.Constants {
		if _, ok := r.roots[c.Global]; ok {
			r.rewriteUses(c.Global)
		}
	}
}

func (r *rewriter) state(fn ir.FuncID) *fnState {
	if st, ok := r.funcs[fn]; ok {
		return st
	}
	entry := r.m.Entry(fn)
	if entry == ir.NoBlockID {
		panic(fmt.Sprintf("cbuf: constant used by declaration @%s", r.m.Func(fn).Name))
	}
	anchor := r.m.FirstInsertionPoint(entry)
	if anchor == ir.NoValueID {
		anchor = r.m.Terminator(entry)
	}
	st := &fnState{fn: fn, anchor: anchor, sub: ir.NoValueID, cache: make(map[ir.ValueID]ir.ValueID)}
	r.funcs[fn] = st
	return st
}

// subscript returns the function's pointer to the buffer struct.
func (r *rewriter) subscript(st *fnState) ir.ValueID {
	if st.sub != ir.NoValueID {
		return st.sub
	}
	ts := r.m.Types
	r.b.SetInsertPoint(st.anchor)
	h := handle.CreateAnnotatedHandleFromResPtr(r.b, r.v.global, r.v.props)
	st.sub = hlop.Emit(r.b, ts.PointerIn(r.v.structTy, AddrSpace), hlop.GroupSubscript,
		uint32(hlop.SubscriptCBuffer), h, r.m.ConstI32(0))
	return st.sub
}

func (r *rewriter) fieldPtr(idx int64) func(st *fnState) ir.ValueID {
	return func(st *fnState) ir.ValueID {
		sub := r.subscript(st)
		r.b.SetInsertPoint(st.anchor)
		return r.b.GEP(sub, r.m.ConstI32(0), r.m.ConstI32(idx))
	}
}

// rooted reports whether v is a root or a constant expression over one.
func (r *rewriter) rooted(v ir.ValueID) bool {
	if _, ok := r.roots[v]; ok {
		return true
	}
	val := r.m.Value(v)
	if val.Kind != ir.ValueConstExpr {
		return false
	}
	for _, op := range val.Operands {
		if r.rooted(op) {
			return true
		}
	}
	return false
}

// valueIn returns the replacement of v inside st's function. Constant
// expressions over a root are rebuilt as instructions.
func (r *rewriter) valueIn(st *fnState, v ir.ValueID) ir.ValueID {
	if x, ok := st.cache[v]; ok {
		return x
	}
	var x ir.ValueID
	if build, ok := r.roots[v]; ok {
		x = build(st)
	} else {
		val := r.m.Value(v)
		ops := append([]ir.ValueID(nil), val.Operands...)
		for i, op := range ops {
			if r.rooted(op) {
				ops[i] = r.valueIn(st, op)
			}
		}
		r.b.SetInsertPoint(st.anchor)
		switch val.Op {
		case ir.OpGEP:
			x = r.b.GEP(ops[0], ops[1:]...)
		case ir.OpBitCast:
			ts := r.m.Types
			to := ts.PointerIn(ts.Elem(val.Type), ts.AddrSpace(r.m.TypeOf(ops[0])))
			x = r.b.BitCast(ops[0], to)
		default:
			panic(fmt.Sprintf("cbuf: constant expression %s over a cbuffer member", val.Op))
		}
	}
	st.cache[v] = x
	return x
}

// rewriteUses points every instruction using v, directly or through constant
// expressions, at the per-function replacement.
func (r *rewriter) rewriteUses(v ir.ValueID) {
	for _, u := range r.m.Uses(v) {
		user := r.m.Value(u.User)
		switch user.Kind {
		case ir.ValueInstr:
			r.m.SetOperand(u.User, u.Index, r.valueIn(r.state(user.Func), v))
		case ir.ValueConstExpr:
			r.rewriteUses(u.User)
			r.m.EraseConstExprIfDead(u.User)
		default:
			panic(fmt.Sprintf("cbuf: cbuffer member used by %s", user.Kind))
		}
	}
}

// Arrays of ConstantBuffer<T> ---------------------------------------------

// runViewArray rewrites element accesses of an array of views. Every use
// must be a GEP selecting one element through all array dimensions; the
// indices are folded into one index into the flattened backing array and a
// handle is created for the selected element.
func (r *rewriter) runViewArray(g ir.ValueID) {
	for _, u := range r.m.Uses(g) {
		user := r.m.Value(u.User)
		if user.Op != ir.OpGEP || u.Index != 0 {
			panic(fmt.Sprintf("cbuf: array of %s used by %s", r.v.cb.Name, user.Op))
		}
		switch user.Kind {
		case ir.ValueInstr:
			r.b.SetInsertPoint(u.User)
			repl := r.selectElement(user.Operands[1:])
			r.m.ReplaceAllUsesWith(u.User, repl)
			r.m.EraseInstr(u.User)
		case ir.ValueConstExpr:
			ce := u.User
			indices := append([]ir.ValueID(nil), user.Operands[1:]...)
			r.roots[ce] = func(st *fnState) ir.ValueID {
				r.b.SetInsertPoint(st.anchor)
				return r.selectElement(indices)
			}
			r.rewriteUses(ce)
			r.m.EraseConstExprIfDead(ce)
		default:
			panic(fmt.Sprintf("cbuf: array of %s used by %s", r.v.cb.Name, user.Kind))
		}
	}
}

// selectElement emits, at the current insert point, the handle and subscript
// of the element addressed by indices (leading zero, one index per array
// dimension, then member indices into T).
func (r *rewriter) selectElement(indices []ir.ValueID) ir.ValueID {
	dims := r.v.cb.ArrayDims
	if len(indices) < 1+len(dims) {
		panic(fmt.Sprintf("cbuf: partial index into array of %s", r.v.cb.Name))
	}
	ts := r.m.Types
	linear := r.foldIndex(indices[1:1+len(dims)], dims)
	zero := r.m.ConstI32(0)
	elemPtr := r.b.GEP(r.v.global, zero, linear)
	h := handle.CreateAnnotatedHandleFromResPtr(r.b, elemPtr, r.v.props)
	sub := hlop.Emit(r.b, ts.PointerIn(r.v.structTy, AddrSpace), hlop.GroupSubscript,
		uint32(hlop.SubscriptCBuffer), h, zero)
	rest := indices[1+len(dims):]
	if len(rest) == 0 {
		return sub
	}
	return r.b.GEP(sub, append([]ir.ValueID{zero}, rest...)...)
}

// foldIndex computes sum(idx[i] * stride[i]) where stride[i] is the product of
// the inner dimensions. Constant indices fold to a constant.
func (r *rewriter) foldIndex(idx []ir.ValueID, dims []uint32) ir.ValueID {
	strides := make([]int64, len(dims))
	s := int64(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = s
		s *= int64(dims[i])
	}

	allConst := true
	var acc int64
	for i, x := range idx {
		c, ok := r.m.ConstIntValue(x)
		if !ok {
			allConst = false
			break
		}
		acc += c * strides[i]
	}
	if allConst {
		return r.m.ConstI32(acc)
	}

	i32 := r.m.Types.Builtins().I32
	sum := ir.NoValueID
	for i, x := range idx {
		x = r.toI32(x, i32)
		term := x
		if strides[i] != 1 {
			term = r.b.Binary(ir.OpMul, x, r.m.ConstI32(strides[i]))
		}
		if sum == ir.NoValueID {
			sum = term
			continue
		}
		sum = r.b.Binary(ir.OpAdd, sum, term)
	}
	return sum
}

func (r *rewriter) toI32(x ir.ValueID, i32 ir.TypeID) ir.ValueID {
	ts := r.m.Types
	ty := r.m.TypeOf(x)
	switch {
	case ty == i32:
		return x
	case ts.Bits(ty) > 32:
		return r.b.Trunc(x, i32)
	default:
		return r.b.SExt(x, i32)
	}
}
