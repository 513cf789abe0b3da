package oplower

import (
	"fmt"

	"dxlower/internal/handle"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

// useFixer adjusts the users of an old call after the new call exists. It
// must leave the old call without uses.
type useFixer func(oldCall, newCall ir.ValueID)

// rewriteCalls replaces every call of d.Func by a call of newFn.
func (l *Lowerer) rewriteCalls(d hlop.Descriptor, sig *signature, newFn *ir.Func, fix useFixer) {
	b := ir.NewBuilder(l.m)
	for _, call := range l.callsOf(d.Func) {
		b.SetInsertPoint(call)
		site := newCallSite(l, b)
		oldArgs := append([]ir.ValueID(nil), l.m.Value(call).Args()...)
		args := []ir.ValueID{l.m.ConstI32(int64(d.Opcode))}
		for i, a := range oldArgs {
			if i == sig.retArg {
				continue
			}
			args = append(args, site.translateArg(a, sig.kinds[i]))
		}
		newCall := b.Call(newFn, args...)

		switch {
		case sig.sretHandle():
			obj := l.annotateNodeResult(b, newCall, sig.retKind, sig.retElem)
			b.Store(obj, oldArgs[sig.retArg])
		case fix != nil:
			fix(call, newCall)
		case !l.m.Types.IsVoid(l.m.TypeOf(call)):
			l.m.ReplaceAllUsesWith(call, newCall)
		}
		l.m.EraseInstr(call)
		site.release(oldArgs)
		l.stats.CallSites++
	}
}

// callSite tracks what one rewritten call materialized.
type callSite struct {
	l *Lowerer
	b *ir.Builder
	// geps maps a constant GEP operand to the instruction standing in for
	// it at this call site.
	geps map[ir.ValueID]ir.ValueID
}

func newCallSite(l *Lowerer, b *ir.Builder) *callSite {
	return &callSite{l: l, b: b, geps: make(map[ir.ValueID]ir.ValueID)}
}

// translateArg turns an object pointer argument into the handle the new
// signature expects; other arguments pass through.
func (s *callSite) translateArg(a ir.ValueID, kind hlop.ObjectKind) ir.ValueID {
	switch kind {
	case hlop.ObjNone:
		return a
	case hlop.ObjResource:
		ptr := s.materialize(a)
		resTy := s.l.m.Types.Elem(s.l.m.TypeOf(ptr))
		return handle.CreateAnnotatedHandleFromResPtr(s.b, ptr, s.l.propsOf(ptr, resTy))
	default:
		return handle.CastNodePtrToHandle(s.b, s.materialize(a))
	}
}

// materialize replaces a constant GEP into an object array by a GEP
// instruction, emitted at most once per call site.
func (s *callSite) materialize(a ir.ValueID) ir.ValueID {
	v := s.l.m.Value(a)
	if v.Kind != ir.ValueConstExpr || v.Op != ir.OpGEP {
		return a
	}
	if inst, ok := s.geps[a]; ok {
		return inst
	}
	inst := s.b.GEP(v.Operands[0], v.Operands[1:]...)
	s.geps[a] = inst
	return inst
}

// release drops constant GEPs the old call was the last user of.
func (s *callSite) release(oldArgs []ir.ValueID) {
	for _, a := range oldArgs {
		s.l.m.EraseConstExprIfDead(a)
	}
}

// propsOf finds the properties of the object ptr points to.
func (l *Lowerer) propsOf(ptr ir.ValueID, resTy ir.TypeID) resprops.Properties {
	if p, _, ok := l.objs.Resolve(l.m, ptr); ok {
		return p
	}
	if p, ok := l.typeProps[resTy]; ok {
		return p
	}
	if p, ok := l.propsFromType(resTy); ok {
		return p
	}
	panic(fmt.Sprintf("oplower: no resource properties for %s", l.m.Types.String(resTy)))
}

// annotateNodeResult annotates the handle returned through an sret node
// parameter and casts it back to the node object type.
func (l *Lowerer) annotateNodeResult(b *ir.Builder, h ir.ValueID, kind hlop.ObjectKind, elem ir.TypeID) ir.ValueID {
	ioKind, ok := handle.IOKindOf(l.m.Types, elem)
	if !ok {
		panic(fmt.Sprintf("oplower: unknown node object type %s", l.m.Types.String(elem)))
	}
	size := l.recordSize(elem)
	if kind == hlop.ObjNodeRecord {
		ah := handle.CreateAnnotateNodeRecordHandle(b, h, handle.NodeRecordInfo{IOKind: ioKind, RecordSize: size})
		return handle.CastHandleToNodeRecord(b, ah, elem)
	}
	ah := handle.CreateAnnotateNodeHandle(b, h, handle.NodeInfo{IOKind: ioKind, RecordSize: size})
	return handle.CastHandleToNodeOutput(b, ah, elem)
}
