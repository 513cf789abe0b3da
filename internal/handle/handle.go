// Package handle emits the create / annotate / cast sequences that turn
// resource and node objects into opaque handles and back.
package handle

import (
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

// PropsConstant encodes p as a %dx.types.ResourceProperties constant.
func PropsConstant(m *ir.Module, p resprops.Properties) ir.ValueID {
	w := p.Encode()
	return m.ConstAggregate(hlop.ResourcePropertiesType(m.Types),
		m.ConstI32(int64(w[0])), m.ConstI32(int64(w[1])))
}

// DecodePropsConstant reads properties back from an annotate-handle operand.
func DecodePropsConstant(m *ir.Module, c ir.ValueID) (resprops.Properties, bool) {
	elems, ok := m.ConstElements(c)
	if !ok || len(elems) != 2 {
		return resprops.Invalid, false
	}
	w0, ok0 := m.ConstUintValue(elems[0])
	w1, ok1 := m.ConstUintValue(elems[1])
	if !ok0 || !ok1 {
		return resprops.Invalid, false
	}
	return resprops.Decode([2]uint32{uint32(w0), uint32(w1)}), true //nolint:gosec // G115: i32 constants
}

// CreateHandleFromResPtr loads the resource object behind ptr and creates a
// handle from it. The load becomes the only use of ptr introduced here.
func CreateHandleFromResPtr(b *ir.Builder, ptr ir.ValueID) ir.ValueID {
	res := b.Load(ptr, "")
	return CreateHandle(b, res)
}

// CreateHandle creates a handle from a loaded resource object.
func CreateHandle(b *ir.Builder, res ir.ValueID) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.HandleType(m.Types), hlop.GroupCreateHandle, 0, res)
}

// CreateAnnotateHandle attaches properties to a handle. The undef operand of
// resTy only carries the resource type to later stages.
func CreateAnnotateHandle(b *ir.Builder, h ir.ValueID, p resprops.Properties, resTy ir.TypeID) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.HandleType(m.Types), hlop.GroupAnnotateHandle, 0, h, PropsConstant(m, p), m.Undef(resTy))
}

// CastHandleToRes converts a handle back to a resource object of resTy.
func CastHandleToRes(b *ir.Builder, h ir.ValueID, resTy ir.TypeID) ir.ValueID {
	return hlop.Emit(b, resTy, hlop.GroupCast, uint32(hlop.CastHandleToRes), h)
}

// CreateAnnotatedHandleFromResPtr runs create and annotate for ptr.
func CreateAnnotatedHandleFromResPtr(b *ir.Builder, ptr ir.ValueID, p resprops.Properties) ir.ValueID {
	m := b.Module()
	resTy := m.Types.Elem(m.TypeOf(ptr))
	return CreateAnnotateHandle(b, CreateHandleFromResPtr(b, ptr), p, resTy)
}

// isCallOf reports a call to an opcode-parameterized function of (g, opcode).
func isCallOf(m *ir.Module, v ir.ValueID, g hlop.Group, opcode uint32) bool {
	if !m.Valid(v) || m.Value(v).Op != ir.OpCall || m.Value(v).Kind != ir.ValueInstr {
		return false
	}
	cg, cop, ok := hlop.OpcodeOfCall(m, v)
	return ok && cg == g && cop == opcode
}

// HandleOfRes returns the handle a resource value was cast from, if any.
func HandleOfRes(m *ir.Module, res ir.ValueID) (ir.ValueID, bool) {
	if !isCallOf(m, res, hlop.GroupCast, uint32(hlop.CastHandleToRes)) {
		return ir.NoValueID, false
	}
	return m.Value(res).Arg(1), true
}

// Cleanup erases tracked instructions that are still unused when Done runs.
// Typical use:
//
//	c := handle.NewCleanup(m)
//	defer c.Done()
//	h := c.Track(handle.CreateHandleFromResPtr(b, ptr))
type Cleanup struct {
	m   *ir.Module
	ids []ir.ValueID
}

// NewCleanup returns an empty cleanup scope.
func NewCleanup(m *ir.Module) *Cleanup { return &Cleanup{m: m} }

// Track registers id for removal if it ends up unused, and returns it.
func (c *Cleanup) Track(id ir.ValueID) ir.ValueID {
	c.ids = append(c.ids, id)
	return id
}

// Done erases unused tracked instructions, newest first, so that a chain
// whose tail is unused disappears as a whole. Operands that become unused
// and are themselves instructions are erased too.
func (c *Cleanup) Done() {
	for i := len(c.ids) - 1; i >= 0; i-- {
		eraseDeadChain(c.m, c.ids[i])
	}
	c.ids = nil
}

func eraseDeadChain(m *ir.Module, id ir.ValueID) {
	v := m.Value(id)
	if v.Kind != ir.ValueInstr || v.Erased || m.HasUses(id) {
		return
	}
	if v.Op == ir.OpStore || v.IsTerminator() {
		return
	}
	ops := append([]ir.ValueID(nil), v.Operands...)
	m.EraseInstr(id)
	for _, op := range ops {
		if m.Valid(op) && m.Value(op).Kind == ir.ValueInstr && m.Value(op).Op != ir.OpCall {
			eraseDeadChain(m, op)
		} else if m.Valid(op) && m.Value(op).Op == ir.OpCall {
			eraseDeadHLCall(m, op)
		}
	}
}

// eraseDeadHLCall removes unused calls to handle plumbing functions, which
// have no side effects.
func eraseDeadHLCall(m *ir.Module, call ir.ValueID) {
	v := m.Value(call)
	if v.Kind != ir.ValueInstr || v.Erased || m.HasUses(call) {
		return
	}
	g, _, ok := hlop.OpcodeOfCall(m, call)
	if !ok {
		return
	}
	switch g {
	case hlop.GroupCreateHandle, hlop.GroupAnnotateHandle, hlop.GroupCast,
		hlop.GroupAnnotateNodeHandle, hlop.GroupAnnotateNodeRecordHandle:
		eraseDeadChain(m, call)
	}
}
