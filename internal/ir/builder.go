package ir

import (
	"fmt"

	"fortio.org/safecast"
)

// Builder emits instructions at an insertion point: either immediately
// before an existing instruction or at the end of a block.
type Builder struct {
	m      *Module
	block  BlockID
	before ValueID
}

// NewBuilder returns a builder without an insertion point.
func NewBuilder(m *Module) *Builder {
	return &Builder{m: m, block: NoBlockID, before: NoValueID}
}

// Module returns the module the builder emits into.
func (b *Builder) Module() *Module { return b.m }

// SetInsertPoint positions the builder immediately before instr.
func (b *Builder) SetInsertPoint(instr ValueID) {
	v := b.m.Value(instr)
	if v.Kind != ValueInstr || v.Block == NoBlockID {
		panic(fmt.Sprintf("ir: insert point %%%d is not a linked instruction", instr))
	}
	b.block = v.Block
	b.before = instr
}

// SetInsertPointAtEnd positions the builder at the end of block.
func (b *Builder) SetInsertPointAtEnd(block BlockID) {
	b.block = block
	b.before = NoValueID
}

// SetInsertPointBeforeTerminator positions the builder before the terminator
// of block, or at its end when the block is not terminated yet.
func (b *Builder) SetInsertPointBeforeTerminator(block BlockID) {
	if t := b.m.Terminator(block); t != NoValueID {
		b.SetInsertPoint(t)
		return
	}
	b.SetInsertPointAtEnd(block)
}

// InsertBlock returns the block instructions are emitted into.
func (b *Builder) InsertBlock() BlockID { return b.block }

// InsertFunc returns the function owning the insertion block.
func (b *Builder) InsertFunc() FuncID {
	if b.block == NoBlockID {
		return NoFuncID
	}
	return b.m.Block(b.block).Func
}

func (b *Builder) insert(v Value) ValueID {
	if b.block == NoBlockID {
		panic("ir: builder has no insertion point")
	}
	blk := b.m.Block(b.block)
	v.Kind = ValueInstr
	v.Block = b.block
	v.Func = blk.Func
	id := b.m.newValue(v)
	if b.before == NoValueID {
		blk.Instrs = append(blk.Instrs, id)
	} else {
		blk.Instrs = insertAt(blk.Instrs, indexOf(blk.Instrs, b.before), id)
	}
	return id
}

func (b *Builder) types() *Types { return b.m.Types }

// Alloca reserves a stack slot of type ty.
func (b *Builder) Alloca(ty TypeID, name string) ValueID {
	return b.insert(Value{Op: OpAlloca, Type: b.types().Pointer(ty), AllocTy: ty, Name: name})
}

// Load reads the pointee of ptr.
func (b *Builder) Load(ptr ValueID, name string) ValueID {
	pt := b.m.TypeOf(ptr)
	if !b.types().IsPointer(pt) {
		panic("ir: load from a non-pointer")
	}
	return b.insert(Value{Op: OpLoad, Type: b.types().Elem(pt), Operands: []ValueID{ptr}, Name: name})
}

// Store writes val through ptr.
func (b *Builder) Store(val, ptr ValueID) ValueID {
	return b.insert(Value{Op: OpStore, Type: b.types().Builtins().Void, Operands: []ValueID{val, ptr}})
}

// GEP computes an element address.
func (b *Builder) GEP(base ValueID, indices ...ValueID) ValueID {
	ty := b.m.gepResultType(b.m.TypeOf(base), indices)
	ops := append([]ValueID{base}, indices...)
	return b.insert(Value{Op: OpGEP, Type: ty, Operands: ops})
}

// Call emits a direct call of fn.
func (b *Builder) Call(fn *Func, args ...ValueID) ValueID {
	params := b.types().Fields(fn.Type)
	if len(params) != len(args) {
		panic(fmt.Sprintf("ir: call of @%s with %d args, want %d", fn.Name, len(args), len(params)))
	}
	ops := append([]ValueID{fn.Value}, args...)
	return b.insert(Value{Op: OpCall, Type: b.types().Ret(fn.Type), Operands: ops})
}

// Cast emits a conversion op of v to ty.
func (b *Builder) Cast(op Op, v ValueID, ty TypeID) ValueID {
	if !op.IsCast() {
		panic(fmt.Sprintf("ir: %s is not a cast", op))
	}
	return b.insert(Value{Op: op, Type: ty, Operands: []ValueID{v}})
}

func (b *Builder) BitCast(v ValueID, ty TypeID) ValueID { return b.Cast(OpBitCast, v, ty) }
func (b *Builder) ZExt(v ValueID, ty TypeID) ValueID    { return b.Cast(OpZExt, v, ty) }
func (b *Builder) SExt(v ValueID, ty TypeID) ValueID    { return b.Cast(OpSExt, v, ty) }
func (b *Builder) Trunc(v ValueID, ty TypeID) ValueID   { return b.Cast(OpTrunc, v, ty) }

func (b *Builder) cmpType(operand ValueID) TypeID {
	ty := b.m.TypeOf(operand)
	i1 := b.types().Builtins().I1
	if b.types().IsVector(ty) {
		return b.types().Vector(i1, b.types().Count(ty))
	}
	return i1
}

// ICmp emits an integer comparison; vectors compare lane-wise.
func (b *Builder) ICmp(p Pred, x, y ValueID) ValueID {
	return b.insert(Value{Op: OpICmp, Pred: p, Type: b.cmpType(x), Operands: []ValueID{x, y}})
}

// FCmp emits a floating point comparison.
func (b *Builder) FCmp(p Pred, x, y ValueID) ValueID {
	return b.insert(Value{Op: OpFCmp, Pred: p, Type: b.cmpType(x), Operands: []ValueID{x, y}})
}

// Binary emits a two-operand arithmetic instruction.
func (b *Builder) Binary(op Op, x, y ValueID) ValueID {
	if !op.IsBinary() {
		panic(fmt.Sprintf("ir: %s is not a binary op", op))
	}
	return b.insert(Value{Op: op, Type: b.m.TypeOf(x), Operands: []ValueID{x, y}})
}

// Select emits cond ? x : y.
func (b *Builder) Select(cond, x, y ValueID) ValueID {
	return b.insert(Value{Op: OpSelect, Type: b.m.TypeOf(x), Operands: []ValueID{cond, x, y}})
}

// Phi emits an empty phi of type ty; use AddIncoming to fill it.
func (b *Builder) Phi(ty TypeID, name string) ValueID {
	return b.insert(Value{Op: OpPhi, Type: ty, Name: name})
}

// InsertElement writes elt into lane idx of vec.
func (b *Builder) InsertElement(vec, elt, idx ValueID) ValueID {
	return b.insert(Value{Op: OpInsertElement, Type: b.m.TypeOf(vec), Operands: []ValueID{vec, elt, idx}})
}

// ExtractElement reads lane idx of vec.
func (b *Builder) ExtractElement(vec, idx ValueID) ValueID {
	return b.insert(Value{Op: OpExtractElement, Type: b.types().Elem(b.m.TypeOf(vec)), Operands: []ValueID{vec, idx}})
}

// ShuffleVector picks lanes of x and y according to mask.
func (b *Builder) ShuffleVector(x, y ValueID, mask []int32) ValueID {
	n, err := safecast.Conv[uint32](len(mask))
	if err != nil {
		panic(fmt.Errorf("shuffle mask too long: %w", err))
	}
	ty := b.types().Vector(b.types().Elem(b.m.TypeOf(x)), n)
	return b.insert(Value{Op: OpShuffleVector, Type: ty, Operands: []ValueID{x, y}, Imms: append([]int32(nil), mask...)})
}

func (b *Builder) aggIndexed(agg TypeID, idx []int32) TypeID {
	path := make([]int64, len(idx))
	for i, x := range idx {
		path[i] = int64(x)
	}
	t, ok := b.types().IndexedType(agg, path)
	if !ok {
		panic(fmt.Sprintf("ir: invalid aggregate index into %s", b.types().String(agg)))
	}
	return t
}

// InsertValue writes v into an aggregate at the constant index path.
func (b *Builder) InsertValue(agg, v ValueID, idx ...int32) ValueID {
	b.aggIndexed(b.m.TypeOf(agg), idx)
	return b.insert(Value{Op: OpInsertValue, Type: b.m.TypeOf(agg), Operands: []ValueID{agg, v}, Imms: append([]int32(nil), idx...)})
}

// ExtractValue reads an aggregate member at the constant index path.
func (b *Builder) ExtractValue(agg ValueID, idx ...int32) ValueID {
	ty := b.aggIndexed(b.m.TypeOf(agg), idx)
	return b.insert(Value{Op: OpExtractValue, Type: ty, Operands: []ValueID{agg}, Imms: append([]int32(nil), idx...)})
}

// Br emits an unconditional branch.
func (b *Builder) Br(dest BlockID) ValueID {
	return b.insert(Value{Op: OpBr, Type: b.types().Builtins().Void, Targets: []BlockID{dest}})
}

// CondBr emits a two-way branch on an i1.
func (b *Builder) CondBr(cond ValueID, then, els BlockID) ValueID {
	return b.insert(Value{Op: OpCondBr, Type: b.types().Builtins().Void, Operands: []ValueID{cond}, Targets: []BlockID{then, els}})
}

// Switch emits a multi-way branch; add cases with AddCase.
func (b *Builder) Switch(cond ValueID, def BlockID) ValueID {
	return b.insert(Value{Op: OpSwitch, Type: b.types().Builtins().Void, Operands: []ValueID{cond}, Targets: []BlockID{def}})
}

// Ret returns v from the function.
func (b *Builder) Ret(v ValueID) ValueID {
	return b.insert(Value{Op: OpRet, Type: b.types().Builtins().Void, Operands: []ValueID{v}})
}

// RetVoid returns from a void function.
func (b *Builder) RetVoid() ValueID {
	return b.insert(Value{Op: OpRet, Type: b.types().Builtins().Void})
}

// Unreachable marks the end of a block that is never executed.
func (b *Builder) Unreachable() ValueID {
	return b.insert(Value{Op: OpUnreachable, Type: b.types().Builtins().Void})
}

// AddCase appends a case to a switch instruction.
func (m *Module) AddCase(sw, caseVal ValueID, dest BlockID) {
	v := m.Value(sw)
	if v.Op != OpSwitch {
		panic("ir: AddCase on a non-switch")
	}
	v.Operands = append(v.Operands, caseVal)
	m.addUse(caseVal, sw, len(v.Operands)-1)
	v.Targets = append(v.Targets, dest)
}

// AddIncoming appends an incoming (value, block) pair to a phi.
func (m *Module) AddIncoming(phi, val ValueID, from BlockID) {
	v := m.Value(phi)
	if v.Op != OpPhi {
		panic("ir: AddIncoming on a non-phi")
	}
	v.Operands = append(v.Operands, val)
	m.addUse(val, phi, len(v.Operands)-1)
	v.Targets = append(v.Targets, from)
}

// SetName names a value for printing.
func (m *Module) SetName(id ValueID, name string) { m.Value(id).Name = name }
