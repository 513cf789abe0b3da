package ir

import (
	"fmt"
	"math"
	"sort"

	"fortio.org/safecast"
)

// Func is a function definition or declaration.
type Func struct {
	ID     FuncID
	Name   string
	Type   TypeID // function type
	Value  ValueID
	Params []ValueID
	Blocks []BlockID
	Attrs  map[string]string
	Erased bool
}

// IsDecl reports a function without a body.
func (f *Func) IsDecl() bool { return len(f.Blocks) == 0 }

// Attr returns a string attribute.
func (f *Func) Attr(key string) (string, bool) {
	if f.Attrs == nil {
		return "", false
	}
	v, ok := f.Attrs[key]
	return v, ok
}

// SetAttr sets a string attribute.
func (f *Func) SetAttr(key, value string) {
	if f.Attrs == nil {
		f.Attrs = make(map[string]string, 2)
	}
	f.Attrs[key] = value
}

// AttrKeys returns attribute keys in sorted order.
func (f *Func) AttrKeys() []string {
	keys := make([]string, 0, len(f.Attrs))
	for k := range f.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Block is a basic block.
type Block struct {
	ID     BlockID
	Func   FuncID
	Name   string
	Instrs []ValueID
	Erased bool
}

type constKey struct {
	Kind  ValueKind
	Type  TypeID
	Op    Op
	Int   uint64
	Float uint64
	Elems string
}

// Module owns every value, block and function of one translation unit.
// Side tables refer to arena entries by ID and never own them.
type Module struct {
	Name  string
	Types *Types

	values  []*Value
	funcs   []*Func
	blocks  []*Block
	globals []ValueID

	funcByName   map[string]FuncID
	globalByName map[string]ValueID
	consts       map[constKey]ValueID
}

// NewModule creates an empty module with a fresh type interner.
func NewModule(name string) *Module {
	return newModule(name, NewTypes())
}

func newModule(name string, ts *Types) *Module {
	return &Module{
		Name:         name,
		Types:        ts,
		funcByName:   make(map[string]FuncID),
		globalByName: make(map[string]ValueID),
		consts:       make(map[constKey]ValueID),
	}
}

func (m *Module) newValue(v Value) ValueID {
	n, err := safecast.Conv[int32](len(m.values))
	if err != nil {
		panic(fmt.Errorf("len(values) overflow: %w", err))
	}
	v.ID = ValueID(n)
	if v.Kind != ValueInstr {
		v.Block = NoBlockID
	}
	if v.Kind != ValueInstr && v.Kind != ValueArg && v.Kind != ValueFunc {
		v.Func = NoFuncID
	}
	if v.Kind != ValueGlobal {
		v.Init = NoValueID
	}
	m.values = append(m.values, &v)
	for i, op := range v.Operands {
		m.addUse(op, v.ID, i)
	}
	return v.ID
}

// Value returns the arena record for id. The pointer stays valid for the
// lifetime of the module.
func (m *Module) Value(id ValueID) *Value {
	if id < 0 || int(id) >= len(m.values) {
		panic(fmt.Sprintf("ir: value %%%d out of range", id))
	}
	return m.values[id]
}

// Valid reports whether id refers to an arena entry.
func (m *Module) Valid(id ValueID) bool {
	return id >= 0 && int(id) < len(m.values)
}

// NumValues returns the arena size.
func (m *Module) NumValues() int { return len(m.values) }

// TypeOf returns the type of a value.
func (m *Module) TypeOf(id ValueID) TypeID { return m.Value(id).Type }

// Func returns a function by ID.
func (m *Module) Func(id FuncID) *Func {
	if id < 0 || int(id) >= len(m.funcs) {
		panic(fmt.Sprintf("ir: func #%d out of range", id))
	}
	return m.funcs[id]
}

// Funcs lists live functions in creation order.
func (m *Module) Funcs() []*Func {
	out := make([]*Func, 0, len(m.funcs))
	for _, f := range m.funcs {
		if !f.Erased {
			out = append(out, f)
		}
	}
	return out
}

// FuncByName finds a live function.
func (m *Module) FuncByName(name string) (*Func, bool) {
	id, ok := m.funcByName[name]
	if !ok {
		return nil, false
	}
	f := m.funcs[id]
	if f.Erased {
		return nil, false
	}
	return f, true
}

// FuncOf returns the function a ValueFunc refers to.
func (m *Module) FuncOf(v ValueID) (*Func, bool) {
	if !m.Valid(v) {
		return nil, false
	}
	val := m.Value(v)
	if val.Kind != ValueFunc {
		return nil, false
	}
	return m.Func(val.Func), true
}

// CalledFunc returns the function a call instruction targets directly.
func (m *Module) CalledFunc(call ValueID) (*Func, bool) {
	v := m.Value(call)
	if v.Kind != ValueInstr || v.Op != OpCall {
		return nil, false
	}
	return m.FuncOf(v.Callee())
}

// Block returns a block by ID.
func (m *Module) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(m.blocks) {
		panic(fmt.Sprintf("ir: block #%d out of range", id))
	}
	return m.blocks[id]
}

// NewFunc declares a function of type fnTy. Parameters get the given names
// (missing names stay empty).
func (m *Module) NewFunc(name string, fnTy TypeID, paramNames ...string) *Func {
	if m.Types.Kind(fnTy) != KindFunc {
		panic("ir: NewFunc requires a function type")
	}
	if _, exists := m.FuncByName(name); exists {
		panic(fmt.Sprintf("ir: function @%s already exists", name))
	}
	n, err := safecast.Conv[int32](len(m.funcs))
	if err != nil {
		panic(fmt.Errorf("len(funcs) overflow: %w", err))
	}
	f := &Func{ID: FuncID(n), Name: name, Type: fnTy}
	m.funcs = append(m.funcs, f)
	m.funcByName[name] = f.ID
	f.Value = m.newValue(Value{Kind: ValueFunc, Type: m.Types.Pointer(fnTy), Name: name, Func: f.ID})
	for i, pt := range m.Types.Fields(fnTy) {
		pname := ""
		if i < len(paramNames) {
			pname = paramNames[i]
		}
		f.Params = append(f.Params, m.newValue(Value{Kind: ValueArg, Type: pt, Name: pname, Func: f.ID, ArgIndex: i}))
	}
	return f
}

// ReturnType returns the result type of f.
func (m *Module) ReturnType(f *Func) TypeID { return m.Types.Ret(f.Type) }

// NewBlock appends a block to fn.
func (m *Module) NewBlock(fn FuncID, name string) BlockID {
	id := m.allocBlock(fn, name)
	f := m.Func(fn)
	f.Blocks = append(f.Blocks, id)
	return id
}

// NewBlockBefore inserts a new block before `before` in the layout of fn.
func (m *Module) NewBlockBefore(fn FuncID, before BlockID, name string) BlockID {
	id := m.allocBlock(fn, name)
	f := m.Func(fn)
	for i, b := range f.Blocks {
		if b == before {
			f.Blocks = append(f.Blocks[:i], append([]BlockID{id}, f.Blocks[i:]...)...)
			return id
		}
	}
	f.Blocks = append(f.Blocks, id)
	return id
}

func (m *Module) allocBlock(fn FuncID, name string) BlockID {
	n, err := safecast.Conv[int32](len(m.blocks))
	if err != nil {
		panic(fmt.Errorf("len(blocks) overflow: %w", err))
	}
	b := &Block{ID: BlockID(n), Func: fn, Name: name}
	m.blocks = append(m.blocks, b)
	return b.ID
}

// Entry returns the entry block of fn.
func (m *Module) Entry(fn FuncID) BlockID {
	f := m.Func(fn)
	if len(f.Blocks) == 0 {
		return NoBlockID
	}
	return f.Blocks[0]
}

// NewGlobal creates a global variable holding contentTy in address space as.
// init may be NoValueID for external declarations.
func (m *Module) NewGlobal(name string, contentTy TypeID, init ValueID, constant bool, as uint8) ValueID {
	if _, exists := m.globalByName[name]; exists {
		panic(fmt.Sprintf("ir: global @%s already exists", name))
	}
	id := m.newValue(Value{
		Kind:     ValueGlobal,
		Type:     m.Types.PointerIn(contentTy, as),
		Name:     name,
		Constant: constant,
	})
	g := m.Value(id)
	g.Init = init
	if init != NoValueID {
		m.addUse(init, id, -1)
	}
	m.globals = append(m.globals, id)
	m.globalByName[name] = id
	return id
}

// Globals lists live globals in creation order.
func (m *Module) Globals() []ValueID {
	out := make([]ValueID, 0, len(m.globals))
	for _, g := range m.globals {
		if !m.values[g].Erased {
			out = append(out, g)
		}
	}
	return out
}

// GlobalByName finds a live global.
func (m *Module) GlobalByName(name string) (ValueID, bool) {
	id, ok := m.globalByName[name]
	if !ok || m.values[id].Erased {
		return NoValueID, false
	}
	return id, true
}

// ContentType returns the pointee type of a global.
func (m *Module) ContentType(global ValueID) TypeID {
	return m.Types.Elem(m.TypeOf(global))
}

// Constants --------------------------------------------------------------

func (m *Module) intern(k constKey, v Value) ValueID {
	if id, ok := m.consts[k]; ok {
		return id
	}
	id := m.newValue(v)
	m.consts[k] = id
	return id
}

func truncBits(v uint64, bits uint16) uint64 {
	if bits >= 64 {
		return v
	}
	return v & ((uint64(1) << bits) - 1)
}

// ConstInt returns an integer constant of type ty (bits are truncated to its width).
func (m *Module) ConstInt(ty TypeID, v int64) ValueID {
	if !m.Types.IsInt(ty, 0) {
		panic("ir: ConstInt requires an integer type")
	}
	raw := truncBits(uint64(v), m.Types.Bits(ty)) //nolint:gosec // G115: two's complement reinterpretation
	return m.intern(constKey{Kind: ValueConstInt, Type: ty, Int: raw}, Value{Kind: ValueConstInt, Type: ty, Int: raw})
}

// ConstI32 is a shorthand for an i32 constant.
func (m *Module) ConstI32(v int64) ValueID { return m.ConstInt(m.Types.Builtins().I32, v) }

// ConstBool returns an i1 constant.
func (m *Module) ConstBool(b bool) ValueID {
	if b {
		return m.ConstInt(m.Types.Builtins().I1, 1)
	}
	return m.ConstInt(m.Types.Builtins().I1, 0)
}

// ConstFloat returns a floating point constant; single precision values are
// rounded to float32.
func (m *Module) ConstFloat(ty TypeID, f float64) ValueID {
	if !m.Types.IsFloat(ty) {
		panic("ir: ConstFloat requires a float type")
	}
	if m.Types.Bits(ty) == 32 {
		f = float64(float32(f))
	}
	return m.intern(constKey{Kind: ValueConstFloat, Type: ty, Float: math.Float64bits(f)}, Value{Kind: ValueConstFloat, Type: ty, Float: f})
}

func elemsKey(elems []ValueID) string {
	b := make([]byte, 0, len(elems)*5)
	for _, e := range elems {
		b = fmt.Appendf(b, "%d,", e)
	}
	return string(b)
}

// ConstAggregate returns a vector, array or struct constant.
func (m *Module) ConstAggregate(ty TypeID, elems ...ValueID) ValueID {
	for _, e := range elems {
		if !m.Value(e).IsConst() && m.Value(e).Kind != ValueGlobal && m.Value(e).Kind != ValueFunc {
			panic("ir: aggregate constant element is not constant")
		}
	}
	ops := append([]ValueID(nil), elems...)
	return m.intern(constKey{Kind: ValueConstAggregate, Type: ty, Elems: elemsKey(ops)}, Value{Kind: ValueConstAggregate, Type: ty, Operands: ops})
}

// Undef returns undef of ty.
func (m *Module) Undef(ty TypeID) ValueID {
	return m.intern(constKey{Kind: ValueUndef, Type: ty}, Value{Kind: ValueUndef, Type: ty})
}

// Zero returns zeroinitializer (or null) of ty.
func (m *Module) Zero(ty TypeID) ValueID {
	return m.intern(constKey{Kind: ValueZero, Type: ty}, Value{Kind: ValueZero, Type: ty})
}

// ConstGEP returns a constant getelementptr expression.
func (m *Module) ConstGEP(base ValueID, indices ...ValueID) ValueID {
	ty := m.gepResultType(m.TypeOf(base), indices)
	ops := append([]ValueID{base}, indices...)
	return m.intern(constKey{Kind: ValueConstExpr, Type: ty, Op: OpGEP, Elems: elemsKey(ops)}, Value{Kind: ValueConstExpr, Type: ty, Op: OpGEP, Operands: ops})
}

// ConstBitCast returns a constant bitcast expression.
func (m *Module) ConstBitCast(v ValueID, ty TypeID) ValueID {
	ops := []ValueID{v}
	return m.intern(constKey{Kind: ValueConstExpr, Type: ty, Op: OpBitCast, Elems: elemsKey(ops)}, Value{Kind: ValueConstExpr, Type: ty, Op: OpBitCast, Operands: ops})
}

// ConstIntValue returns the sign-extended value of an integer constant.
func (m *Module) ConstIntValue(id ValueID) (int64, bool) {
	v := m.Value(id)
	if v.Kind == ValueZero && m.Types.IsInt(v.Type, 0) {
		return 0, true
	}
	if v.Kind != ValueConstInt {
		return 0, false
	}
	bits := m.Types.Bits(v.Type)
	if bits >= 64 {
		return int64(v.Int), true //nolint:gosec // G115: two's complement reinterpretation
	}
	shift := 64 - bits
	return int64(v.Int<<shift) >> shift, true //nolint:gosec // G115: sign extension
}

// ConstUintValue returns the zero-extended value of an integer constant.
func (m *Module) ConstUintValue(id ValueID) (uint64, bool) {
	v := m.Value(id)
	if v.Kind == ValueZero && m.Types.IsInt(v.Type, 0) {
		return 0, true
	}
	if v.Kind != ValueConstInt {
		return 0, false
	}
	return v.Int, true
}

// ConstFloatValue returns the value of a float constant.
func (m *Module) ConstFloatValue(id ValueID) (float64, bool) {
	v := m.Value(id)
	if v.Kind == ValueZero && m.Types.IsFloat(v.Type) {
		return 0, true
	}
	if v.Kind != ValueConstFloat {
		return 0, false
	}
	return v.Float, true
}

// ConstElements decomposes a constant vector/array/struct into element
// constants (zeroinitializer and undef are expanded).
func (m *Module) ConstElements(id ValueID) ([]ValueID, bool) {
	v := m.Value(id)
	ty := v.Type
	var elemTys []TypeID
	switch m.Types.Kind(ty) {
	case KindVector, KindArray:
		n := int(m.Types.Count(ty))
		elemTys = make([]TypeID, n)
		for i := range elemTys {
			elemTys[i] = m.Types.Elem(ty)
		}
	case KindStruct:
		elemTys = m.Types.Fields(ty)
	default:
		return nil, false
	}
	switch v.Kind {
	case ValueConstAggregate:
		return append([]ValueID(nil), v.Operands...), true
	case ValueZero, ValueUndef:
		out := make([]ValueID, len(elemTys))
		for i, et := range elemTys {
			if v.Kind == ValueZero {
				out[i] = m.Zero(et)
			} else {
				out[i] = m.Undef(et)
			}
		}
		return out, true
	}
	return nil, false
}

// gepResultType computes the pointer type produced by a GEP over base.
func (m *Module) gepResultType(baseTy TypeID, indices []ValueID) TypeID {
	if !m.Types.IsPointer(baseTy) {
		panic("ir: GEP base is not a pointer")
	}
	rest := make([]int64, 0, len(indices))
	for i, idx := range indices {
		if i == 0 {
			continue
		}
		c, ok := m.ConstIntValue(idx)
		if !ok {
			c = 0
			if m.Types.IsStruct(m.mustIndexed(baseTy, rest)) {
				panic("ir: GEP struct index must be constant")
			}
		}
		rest = append(rest, c)
	}
	elem := m.mustIndexed(baseTy, rest)
	return m.Types.PointerIn(elem, m.Types.AddrSpace(baseTy))
}

func (m *Module) mustIndexed(baseTy TypeID, rest []int64) TypeID {
	t, ok := m.Types.IndexedType(m.Types.Elem(baseTy), rest)
	if !ok {
		panic(fmt.Sprintf("ir: invalid GEP indices into %s", m.Types.String(m.Types.Elem(baseTy))))
	}
	return t
}
