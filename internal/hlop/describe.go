package hlop

import (
	"fmt"
	"strconv"

	"dxlower/internal/ir"
)

// Function attributes understood by lowering.
const (
	AttrGroup         = "dx.hl.group"
	AttrOpcode        = "dx.hl.opcode"
	AttrLowering      = "dx.hlls"
	AttrExtGroup      = "dx.hlext.group"
	AttrMem           = "dx.hl.mem"
	AttrWaveSensitive = "dx.wave-sensitive"
	AttrEntry         = "dx.entry"
	AttrExport        = "dx.export"

	// AttrInout lists the comma separated indices of inout parameters.
	AttrInout = "dx.inout"
)

// Descriptor identifies one not-yet-lowered HL function: the group tag, the
// opcode number and the declaring function.
type Descriptor struct {
	Group  Group
	Opcode uint32
	Func   *ir.Func
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s.%s(@%s)", d.Group, OpcodeName(d.Group, d.Opcode), d.Func.Name)
}

// Describe recovers the descriptor of an HL function declaration. Only
// functions tagged with both a group and an opcode qualify; functions that
// already take the opcode as their first parameter carry no opcode attribute.
func Describe(fn *ir.Func) (Descriptor, bool) {
	if fn == nil || fn.Erased {
		return Descriptor{}, false
	}
	gs, ok := fn.Attr(AttrGroup)
	if !ok {
		return Descriptor{}, false
	}
	g := ParseGroup(gs)
	if !g.IsHL() {
		return Descriptor{}, false
	}
	raw, ok := fn.Attr(AttrOpcode)
	if !ok {
		return Descriptor{}, false
	}
	op, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return Descriptor{}, false
	}
	return Descriptor{Group: g, Opcode: uint32(op), Func: fn}, true
}

// GroupOf reports the HL group of any function, including lowered ones.
func GroupOf(fn *ir.Func) Group {
	if fn == nil {
		return GroupNotHL
	}
	gs, ok := fn.Attr(AttrGroup)
	if !ok {
		return GroupNotHL
	}
	return ParseGroup(gs)
}

// Tag marks fn as an HL function of the given group and opcode.
func Tag(fn *ir.Func, g Group, opcode uint32) {
	fn.SetAttr(AttrGroup, g.String())
	fn.SetAttr(AttrOpcode, strconv.FormatUint(uint64(opcode), 10))
	if s := MemAttrOf(g, opcode).Suffix(); s != "" {
		fn.SetAttr(AttrMem, s)
	}
}

// Descriptors lists every HL descriptor of m in function creation order.
func Descriptors(m *ir.Module) []Descriptor {
	var out []Descriptor
	for _, f := range m.Funcs() {
		if d, ok := Describe(f); ok {
			out = append(out, d)
		}
	}
	return out
}

// MangledName names the opcode-parameterized function of group g with type
// fnTy; functions with the same group, memory attribute, wave sensitivity and
// signature are shared. Wave-sensitive functions get a ".wave" suffix so the
// attribute marking them never reaches a declaration other opcodes call.
func MangledName(ts *ir.Types, g Group, mem MemAttr, wave bool, fnTy ir.TypeID) string {
	name := "dx.hl." + g.String() + "." + mem.Suffix() + "." + ts.String(fnTy)
	if wave {
		name += ".wave"
	}
	return name
}

// IsWaveSensitive reports opcodes whose result depends on other lanes of the
// wave or quad.
func IsWaveSensitive(g Group, opcode uint32) bool {
	switch g {
	case GroupWaveSensitive:
		return true
	case GroupIntrinsic:
		info, ok := Intrinsic(IntrinsicOp(opcode))
		return ok && info.WaveSensitive
	}
	return false
}

// BodyName names a function with a synthesized body; the opcode is part of
// the name because bodies differ per opcode.
func BodyName(ts *ir.Types, g Group, opcode uint32, fnTy ir.TypeID) string {
	return "dx.hl." + g.String() + "." + OpcodeName(g, opcode) + "." + ts.String(fnTy)
}

// GetOrCreateFunc returns the shared opcode-parameterized declaration of group
// g with signature fnTy (whose first parameter is the i32 opcode).
func GetOrCreateFunc(m *ir.Module, fnTy ir.TypeID, g Group, opcode uint32) *ir.Func {
	mem := MemAttrOf(g, opcode)
	wave := IsWaveSensitive(g, opcode)
	name := MangledName(m.Types, g, mem, wave, fnTy)
	if f, ok := m.FuncByName(name); ok {
		return f
	}
	params := m.Types.Fields(fnTy)
	if len(params) == 0 || !m.Types.IsInt(params[0], 32) {
		panic(fmt.Sprintf("hlop: %s signature must start with the i32 opcode", name))
	}
	f := m.NewFunc(name, fnTy)
	f.SetAttr(AttrGroup, g.String())
	if s := mem.Suffix(); s != "" {
		f.SetAttr(AttrMem, s)
	}
	if wave {
		f.SetAttr(AttrWaveSensitive, "true")
	}
	return f
}

// Emit calls the shared function of (g, opcode) with the opcode prepended.
func Emit(b *ir.Builder, ret ir.TypeID, g Group, opcode uint32, args ...ir.ValueID) ir.ValueID {
	m := b.Module()
	params := make([]ir.TypeID, 0, len(args)+1)
	params = append(params, m.Types.Builtins().I32)
	for _, a := range args {
		params = append(params, m.TypeOf(a))
	}
	fn := GetOrCreateFunc(m, m.Types.Func(ret, params...), g, opcode)
	all := make([]ir.ValueID, 0, len(args)+1)
	all = append(all, m.ConstI32(int64(opcode)))
	all = append(all, args...)
	return b.Call(fn, all...)
}

// OpcodeOfCall returns the constant opcode operand of a call to an
// opcode-parameterized function.
func OpcodeOfCall(m *ir.Module, call ir.ValueID) (Group, uint32, bool) {
	fn, ok := m.CalledFunc(call)
	if !ok {
		return GroupNotHL, 0, false
	}
	g := GroupOf(fn)
	if !g.IsHL() {
		return GroupNotHL, 0, false
	}
	if d, ok := Describe(fn); ok {
		return d.Group, d.Opcode, true
	}
	args := m.Value(call).Args()
	if len(args) == 0 {
		return GroupNotHL, 0, false
	}
	op, ok := m.ConstUintValue(args[0])
	if !ok {
		return GroupNotHL, 0, false
	}
	return g, uint32(op), true //nolint:gosec // G115: opcodes are i32 constants
}
