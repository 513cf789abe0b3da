package oplower

import (
	"fmt"

	"dxlower/internal/annot"
	"dxlower/internal/handle"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

// LowerGetResourceFromHeap rewrites ResourceDescriptorHeap[i] style calls,
// which return a resource object by value, into heap handle creation plus an
// annotation carrying the properties of the object the result is stored to.
// It has to run before Lower, which would otherwise treat these calls as
// plain intrinsics.
func LowerGetResourceFromHeap(m *ir.Module, objs *resprops.Table, types *annot.TypeSystem) int {
	l := New(m, objs, types)
	lowered := 0
	for _, d := range hlop.Descriptors(m) {
		if !l.isIntrinsic(d, hlop.IOPCreateResourceFromHeap) {
			continue
		}
		lowered += l.lowerHeapCalls(d)
		if !m.HasUses(d.Func.Value) {
			m.EraseFunc(d.Func.ID)
		}
	}
	return lowered
}

func (l *Lowerer) lowerHeapCalls(d hlop.Descriptor) int {
	m := l.m
	ts := m.Types
	b := ir.NewBuilder(m)
	c := handle.NewCleanup(m)
	defer c.Done()
	n := 0
	for _, call := range l.callsOf(d.Func) {
		resTy := m.TypeOf(call)
		if hlop.Classify(ts, resTy) != hlop.ObjResource {
			panic(fmt.Sprintf("oplower: heap access returns %s", ts.String(resTy)))
		}
		args := m.Value(call).Args()
		if len(args) != 1 {
			panic(fmt.Sprintf("oplower: heap access with %d arguments", len(args)))
		}

		b.SetInsertPoint(call)
		h := c.Track(hlop.Emit(b, hlop.HandleType(ts), hlop.GroupIntrinsic, d.Opcode, args[0]))
		if s, ok := d.Func.Attr(hlop.AttrLowering); ok {
			if fn, ok := m.CalledFunc(h); ok {
				fn.SetAttr(hlop.AttrLowering, s)
			}
		}
		ah := c.Track(handle.CreateAnnotateHandle(b, h, l.heapProps(call, resTy), resTy))
		res := c.Track(handle.CastHandleToRes(b, ah, resTy))

		m.ReplaceAllUsesWith(call, res)
		m.EraseInstr(call)
		n++
	}
	return n
}

// heapProps takes the properties of the first registered object the heap
// result is stored to, falling back to the properties known for its type and
// then to the properties the type spells out.
func (l *Lowerer) heapProps(call ir.ValueID, resTy ir.TypeID) resprops.Properties {
	m := l.m
	for _, u := range m.Uses(call) {
		st := m.Value(u.User)
		if st.Op != ir.OpStore || u.Index != 0 {
			continue
		}
		if p, _, ok := l.objs.Resolve(m, st.Operands[1]); ok {
			return p
		}
	}
	if p, ok := l.typeProps[resTy]; ok {
		return p
	}
	if p, ok := l.propsFromType(resTy); ok {
		return p
	}
	panic(fmt.Sprintf("oplower: no resource properties for heap object %s", m.Types.String(resTy)))
}
