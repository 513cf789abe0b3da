// Package oplower rewrites HL operation calls into the opcode-parameterized
// call convention: every HL function is replaced by a function whose first
// parameter is the i32 opcode and whose object pointer parameters are opaque
// handles.
package oplower

import (
	"fmt"

	"dxlower/internal/annot"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/layout"
	"dxlower/internal/resprops"
)

// Lowerer holds the module and side tables one lowering run works on.
type Lowerer struct {
	m      *ir.Module
	objs   *resprops.Table
	types  *annot.TypeSystem
	layout *layout.LayoutEngine

	// typeProps maps a resource type to the properties of the first
	// registered object of that type, for objects the table cannot resolve
	// (local copies, function parameters).
	typeProps map[ir.TypeID]resprops.Properties
	// recordSizes caches node record sizes by template spelling.
	recordSizes map[string]uint32

	stats Stats
}

// Stats counts what a run rewrote.
type Stats struct {
	Descriptors int
	Erased      int
	CallSites   int
	Bodies      int
}

// New prepares a lowering run over m.
func New(m *ir.Module, objs *resprops.Table, types *annot.TypeSystem) *Lowerer {
	l := &Lowerer{
		m:           m,
		objs:        objs,
		types:       types,
		layout:      layout.New(layout.DXIL(), m.Types),
		typeProps:   make(map[ir.TypeID]resprops.Properties),
		recordSizes: make(map[string]uint32),
	}
	for _, e := range objs.Entries() {
		ty := m.TypeOf(e.Value)
		if m.Types.IsPointer(ty) {
			ty = m.Types.Elem(ty)
		}
		for m.Types.IsArray(ty) {
			ty = m.Types.Elem(ty)
		}
		if _, ok := l.typeProps[ty]; !ok {
			l.typeProps[ty] = e.Props
		}
	}
	l.primeRecordSizes()
	return l
}

// Stats returns the counters of the last Run.
func (l *Lowerer) Stats() Stats { return l.stats }

// Lower runs the opcode parameterization over every HL descriptor of m.
func Lower(m *ir.Module, objs *resprops.Table, types *annot.TypeSystem) Stats {
	l := New(m, objs, types)
	l.Run()
	return l.Stats()
}

// Run lowers every descriptor. Descriptors are collected up front because
// lowering creates and erases functions.
func (l *Lowerer) Run() {
	descs := hlop.Descriptors(l.m)
	l.stats.Descriptors = len(descs)
	for _, d := range descs {
		if d.Func.Erased {
			continue
		}
		l.lowerDescriptor(d)
	}
}

// signature is the classified parameter list of one HL function.
type signature struct {
	// kinds holds the object kind of each old parameter.
	kinds []hlop.ObjectKind
	// retArg is the index of a removed sret handle parameter, or -1.
	retArg  int
	retKind hlop.ObjectKind
	// retElem is the object type the sret parameter points to.
	retElem ir.TypeID

	ret    ir.TypeID
	params []ir.TypeID
}

func (s *signature) sretHandle() bool { return s.retArg >= 0 }

// classify rewrites object pointer parameters to handle types and pulls an
// sret object parameter out into the return type.
func (l *Lowerer) classify(fn *ir.Func) *signature {
	ts := l.m.Types
	sig := &signature{retArg: -1, ret: ts.Ret(fn.Type)}
	sig.params = append(sig.params, ts.Builtins().I32)
	for i, pty := range ts.Fields(fn.Type) {
		kind := hlop.ClassifyPointer(ts, pty)
		sig.kinds = append(sig.kinds, kind)
		if kind == hlop.ObjNone {
			sig.params = append(sig.params, pty)
			continue
		}
		if l.m.Value(fn.Params[i]).SRet {
			if sig.retArg >= 0 {
				panic(fmt.Sprintf("oplower: @%s has more than one sret handle", fn.Name))
			}
			sig.retArg = i
			sig.retKind = kind
			sig.retElem = ts.Elem(pty)
			sig.ret = hlop.HandleTypeFor(ts, kind)
			continue
		}
		sig.params = append(sig.params, hlop.HandleTypeFor(ts, kind))
	}
	return sig
}

func (l *Lowerer) fnType(sig *signature) ir.TypeID {
	return l.m.Types.Func(sig.ret, sig.params...)
}

// lowerDescriptor handles one HL function: special opcode shapes first, then
// the generic declaration plus call-site rewrite.
func (l *Lowerer) lowerDescriptor(d hlop.Descriptor) {
	fn := d.Func
	if !l.m.HasUses(fn.Value) {
		l.m.EraseFunc(fn.ID)
		l.stats.Erased++
		return
	}
	sig := l.classify(fn)

	switch {
	case d.Group == hlop.GroupSubscript && d.Opcode == uint32(hlop.SubscriptDouble):
		l.finish(d, l.lowerDoubleSubscript(d)...)
		return
	case d.Group == hlop.GroupSubscript && d.Opcode == uint32(hlop.SubscriptVector) && l.isBoolPtr(sig.ret):
		newFn := l.declare(d, l.boolSubscriptSig(sig))
		l.rewriteCalls(d, sig, newFn, l.fixBoolSubscriptUses)
		l.finish(d, newFn)
		return
	case l.isIntrinsic(d, hlop.MOPAppend) || l.isIntrinsic(d, hlop.MOPConsume):
		newFn := l.streamBody(d, sig)
		l.rewriteCalls(d, sig, newFn, nil)
		l.finish(d, newFn)
		return
	case l.isIntrinsic(d, hlop.IOPsincos):
		newFn := l.sincosBody(d, sig)
		l.rewriteCalls(d, sig, newFn, nil)
		l.finish(d, newFn)
		return
	}

	newFn := l.declare(d, sig)
	l.rewriteCalls(d, sig, newFn, nil)
	l.finish(d, newFn)
}

func (l *Lowerer) isIntrinsic(d hlop.Descriptor, op hlop.IntrinsicOp) bool {
	return d.Group == hlop.GroupIntrinsic && d.Opcode == uint32(op)
}

// declare returns the shared opcode-parameterized declaration for sig.
// Extension intrinsics are keyed by their extension group as well.
func (l *Lowerer) declare(d hlop.Descriptor, sig *signature) *ir.Func {
	fnTy := l.fnType(sig)
	if d.Group != hlop.GroupExtIntrinsic {
		return hlop.GetOrCreateFunc(l.m, fnTy, d.Group, d.Opcode)
	}
	ext, ok := d.Func.Attr(hlop.AttrExtGroup)
	if !ok {
		ext = d.Group.String()
	}
	name := "dx.hl." + d.Group.String() + "." + ext + "." + l.m.Types.String(fnTy)
	if f, ok := l.m.FuncByName(name); ok {
		return f
	}
	newFn := l.m.NewFunc(name, fnTy)
	newFn.SetAttr(hlop.AttrGroup, d.Group.String())
	newFn.SetAttr(hlop.AttrExtGroup, ext)
	return newFn
}

// finish copies the lowering strategy to the new function and drops the old
// declaration once nothing refers to it.
func (l *Lowerer) finish(d hlop.Descriptor, newFns ...*ir.Func) {
	if s, ok := d.Func.Attr(hlop.AttrLowering); ok {
		for _, f := range newFns {
			f.SetAttr(hlop.AttrLowering, s)
		}
	}
	if l.m.HasUses(d.Func.Value) {
		panic(fmt.Sprintf("oplower: %s still has %d uses after lowering", d, l.m.NumUses(d.Func.Value)))
	}
	l.m.EraseFunc(d.Func.ID)
	l.stats.Erased++
}

// callsOf lists the call instructions of fn. Any other use of the function
// symbol violates the input contract.
func (l *Lowerer) callsOf(fn *ir.Func) []ir.ValueID {
	var calls []ir.ValueID
	for _, u := range l.m.Uses(fn.Value) {
		v := l.m.Value(u.User)
		if v.Kind != ir.ValueInstr || v.Op != ir.OpCall || u.Index != 0 {
			panic(fmt.Sprintf("oplower: @%s is used other than as a callee", fn.Name))
		}
		calls = append(calls, u.User)
	}
	return calls
}
