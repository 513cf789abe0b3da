// Package llexport converts a lowered module into an llir/llvm module so it
// can be printed as LLVM assembly.
package llexport

import (
	"fmt"
	"strconv"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	dx "dxlower/internal/ir"
)

// Text renders m as LLVM assembly.
func Text(m *dx.Module) (string, error) {
	mod, err := Module(m)
	if err != nil {
		return "", err
	}
	return mod.String(), nil
}

// Module converts m. Constructs the assembly printer cannot express are
// returned as errors naming the offending value.
func Module(m *dx.Module) (*ir.Module, error) {
	x := &exporter{
		src:     m,
		dst:     ir.NewModule(),
		types:   make(map[dx.TypeID]types.Type),
		values:  make(map[dx.ValueID]value.Value),
		funcs:   make(map[dx.FuncID]*ir.Func),
		globals: make(map[dx.ValueID]*ir.Global),
	}
	x.dst.SourceFilename = m.Name
	if err := x.run(); err != nil {
		return nil, err
	}
	return x.dst, nil
}

type exporter struct {
	src *dx.Module
	dst *ir.Module

	types   map[dx.TypeID]types.Type
	values  map[dx.ValueID]value.Value
	funcs   map[dx.FuncID]*ir.Func
	globals map[dx.ValueID]*ir.Global
}

func (x *exporter) run() error {
	ts := x.src.Types
	for _, id := range ts.NamedStructs() {
		if _, err := x.typ(id); err != nil {
			return err
		}
	}
	// Symbols first: initializers and bodies may refer to any of them.
	globals := x.src.Globals()
	for _, g := range globals {
		if err := x.declareGlobal(g); err != nil {
			return err
		}
	}
	fns := x.src.Funcs()
	for _, f := range fns {
		if err := x.declareFunc(f); err != nil {
			return err
		}
	}
	for _, g := range globals {
		if err := x.initGlobal(g); err != nil {
			return err
		}
	}
	for _, f := range fns {
		if f.IsDecl() {
			continue
		}
		if err := x.body(f); err != nil {
			return fmt.Errorf("function %s: %w", f.Name, err)
		}
	}
	return nil
}

func (x *exporter) typ(id dx.TypeID) (types.Type, error) {
	if t, ok := x.types[id]; ok {
		return t, nil
	}
	ts := x.src.Types
	desc, ok := ts.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("unknown type %d", id)
	}
	var out types.Type
	switch desc.Kind {
	case dx.KindVoid:
		out = types.Void
	case dx.KindInt:
		out = types.NewInt(uint64(desc.Bits))
	case dx.KindFloat:
		switch desc.Bits {
		case 16:
			out = types.Half
		case 32:
			out = types.Float
		case 64:
			out = types.Double
		default:
			return nil, fmt.Errorf("unsupported float width %d", desc.Bits)
		}
	case dx.KindPointer:
		elem, err := x.typ(desc.Elem)
		if err != nil {
			return nil, err
		}
		pt := types.NewPointer(elem)
		pt.AddrSpace = types.AddrSpace(desc.AddrSpace)
		out = pt
	case dx.KindVector:
		elem, err := x.typ(desc.Elem)
		if err != nil {
			return nil, err
		}
		out = types.NewVector(uint64(desc.Len), elem)
	case dx.KindArray:
		elem, err := x.typ(desc.Elem)
		if err != nil {
			return nil, err
		}
		out = types.NewArray(uint64(desc.Len), elem)
	case dx.KindStruct:
		return x.structType(id, desc)
	case dx.KindFunc:
		ret, err := x.typ(desc.Ret)
		if err != nil {
			return nil, err
		}
		params, err := x.typeList(desc.Fields)
		if err != nil {
			return nil, err
		}
		out = types.NewFunc(ret, params...)
	default:
		return nil, fmt.Errorf("unsupported type kind %s", desc.Kind)
	}
	x.types[id] = out
	return out, nil
}

// structType registers named structs before their fields so self-referencing
// pointers resolve to the same definition.
func (x *exporter) structType(id dx.TypeID, desc dx.Type) (types.Type, error) {
	st := &types.StructType{Opaque: desc.Opaque}
	x.types[id] = st
	if !desc.Opaque {
		fields, err := x.typeList(desc.Fields)
		if err != nil {
			return nil, err
		}
		st.Fields = fields
	}
	if desc.Name != "" {
		x.dst.NewTypeDef(desc.Name, st)
	}
	return st, nil
}

func (x *exporter) typeList(ids []dx.TypeID) ([]types.Type, error) {
	out := make([]types.Type, len(ids))
	for i, id := range ids {
		t, err := x.typ(id)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (x *exporter) declareGlobal(id dx.ValueID) error {
	v := x.src.Value(id)
	content, err := x.typ(x.src.ContentType(id))
	if err != nil {
		return fmt.Errorf("global %s: %w", v.Name, err)
	}
	g := x.dst.NewGlobal(v.Name, content)
	g.Immutable = v.Constant
	if as := x.src.Types.AddrSpace(v.Type); as != 0 {
		g.AddrSpace = types.AddrSpace(as)
		g.Typ.AddrSpace = types.AddrSpace(as)
	}
	x.globals[id] = g
	x.values[id] = g
	return nil
}

func (x *exporter) initGlobal(id dx.ValueID) error {
	v := x.src.Value(id)
	g := x.globals[id]
	if v.Init == dx.NoValueID {
		g.Linkage = enum.LinkageExternal
		return nil
	}
	init, err := x.constant(v.Init)
	if err != nil {
		return fmt.Errorf("global %s: %w", v.Name, err)
	}
	g.Init = init
	return nil
}

func (x *exporter) declareFunc(f *dx.Func) error {
	ts := x.src.Types
	ret, err := x.typ(ts.Ret(f.Type))
	if err != nil {
		return fmt.Errorf("function %s: %w", f.Name, err)
	}
	paramTys, err := x.typeList(ts.Fields(f.Type))
	if err != nil {
		return fmt.Errorf("function %s: %w", f.Name, err)
	}
	params := make([]*ir.Param, len(paramTys))
	names := newNamer()
	for i, pt := range paramTys {
		name := ""
		if i < len(f.Params) {
			name = names.take(x.src.Value(f.Params[i]).Name)
		}
		params[i] = ir.NewParam(name, pt)
	}
	fn := x.dst.NewFunc(f.Name, ret, params...)
	for _, k := range f.AttrKeys() {
		fn.FuncAttrs = append(fn.FuncAttrs, ir.AttrPair{Key: k, Value: f.Attrs[k]})
	}
	x.funcs[f.ID] = fn
	x.values[f.Value] = fn
	for i, p := range f.Params {
		if i < len(params) {
			x.values[p] = params[i]
		}
	}
	return nil
}

// constant converts a constant, global or function reference.
func (x *exporter) constant(id dx.ValueID) (constant.Constant, error) {
	if id == dx.NoValueID {
		return nil, fmt.Errorf("missing constant")
	}
	if g, ok := x.globals[id]; ok {
		return g, nil
	}
	v := x.src.Value(id)
	if v.Kind == dx.ValueFunc {
		f, ok := x.src.FuncOf(id)
		if !ok || x.funcs[f.ID] == nil {
			return nil, fmt.Errorf("reference to unknown function %%%d", id)
		}
		return x.funcs[f.ID], nil
	}
	t, err := x.typ(v.Type)
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case dx.ValueConstInt:
		it, ok := t.(*types.IntType)
		if !ok {
			return nil, fmt.Errorf("integer constant of type %s", t)
		}
		return constant.NewInt(it, signExtend(v.Int, it.BitSize)), nil
	case dx.ValueConstFloat:
		ft, ok := t.(*types.FloatType)
		if !ok {
			return nil, fmt.Errorf("float constant of type %s", t)
		}
		return constant.NewFloat(ft, v.Float), nil
	case dx.ValueUndef:
		return constant.NewUndef(t), nil
	case dx.ValueZero:
		return zero(t), nil
	case dx.ValueConstAggregate:
		elems := make([]constant.Constant, len(v.Operands))
		for i, op := range v.Operands {
			c, err := x.constant(op)
			if err != nil {
				return nil, err
			}
			elems[i] = c
		}
		switch t := t.(type) {
		case *types.VectorType:
			return constant.NewVector(t, elems...), nil
		case *types.ArrayType:
			return constant.NewArray(t, elems...), nil
		case *types.StructType:
			return constant.NewStruct(t, elems...), nil
		}
		return nil, fmt.Errorf("aggregate constant of type %s", t)
	case dx.ValueConstExpr:
		ops := make([]constant.Constant, len(v.Operands))
		for i, op := range v.Operands {
			c, err := x.constant(op)
			if err != nil {
				return nil, err
			}
			ops[i] = c
		}
		switch v.Op {
		case dx.OpGEP:
			elem, err := x.typ(x.src.Types.Elem(x.src.TypeOf(v.Operands[0])))
			if err != nil {
				return nil, err
			}
			return constant.NewGetElementPtr(elem, ops[0], ops[1:]...), nil
		case dx.OpBitCast:
			return constant.NewBitCast(ops[0], t), nil
		}
		return nil, fmt.Errorf("unsupported constant expression %s", v.Op)
	}
	return nil, fmt.Errorf("%%%d (%s) is not a constant", id, v.Kind)
}

func zero(t types.Type) constant.Constant {
	switch t := t.(type) {
	case *types.IntType:
		return constant.NewInt(t, 0)
	case *types.FloatType:
		return constant.NewFloat(t, 0)
	case *types.PointerType:
		return constant.NewNull(t)
	}
	return constant.NewZeroInitializer(t)
}

// signExtend interprets the low bits of raw as a signed value so the printer
// writes in-range literals. Booleans stay 0 or 1.
func signExtend(raw, bits uint64) int64 {
	if bits <= 1 || bits >= 64 {
		return int64(raw) //nolint:gosec // reinterpreting the bit pattern
	}
	shift := 64 - bits
	return int64(raw<<shift) >> shift //nolint:gosec // reinterpreting the bit pattern
}

// namer keeps local names unique within one function.
type namer map[string]int

func newNamer() namer { return make(namer) }

func (n namer) take(name string) string {
	if name == "" {
		return ""
	}
	c, ok := n[name]
	n[name] = c + 1
	if !ok {
		return name
	}
	return name + "." + strconv.Itoa(c)
}

type phiFill struct {
	src *dx.Value
	dst *ir.InstPhi
}

type funcExporter struct {
	*exporter
	fn     *ir.Func
	blocks map[dx.BlockID]*ir.Block
	names  namer
	phis   []phiFill
}

func (x *exporter) body(f *dx.Func) error {
	fx := &funcExporter{
		exporter: x,
		fn:       x.funcs[f.ID],
		blocks:   make(map[dx.BlockID]*ir.Block, len(f.Blocks)),
		names:    newNamer(),
	}
	for _, p := range fx.fn.Params {
		fx.names.take(p.Name())
	}
	var live []dx.BlockID
	for _, b := range f.Blocks {
		blk := x.src.Block(b)
		if blk.Erased {
			continue
		}
		fx.blocks[b] = fx.fn.NewBlock(fx.names.take(blk.Name))
		live = append(live, b)
	}

	// Reverse post order sees definitions before their uses; blocks the
	// entry cannot reach follow in layout order.
	order := x.src.ReversePostOrder(f.ID)
	done := make(map[dx.BlockID]bool, len(order))
	for _, b := range order {
		done[b] = true
	}
	for _, b := range live {
		if !done[b] {
			order = append(order, b)
		}
	}
	for _, b := range order {
		if err := fx.block(b); err != nil {
			return err
		}
	}
	for _, p := range fx.phis {
		for i, op := range p.src.Operands {
			val, err := fx.operand(op)
			if err != nil {
				return err
			}
			pred, ok := fx.blocks[p.src.Targets[i]]
			if !ok {
				return fmt.Errorf("phi %%%d: unknown incoming block", p.src.ID)
			}
			p.dst.Incs = append(p.dst.Incs, ir.NewIncoming(val, pred))
		}
	}
	return nil
}

func (fx *funcExporter) block(id dx.BlockID) error {
	blk := fx.blocks[id]
	for _, iid := range fx.src.Block(id).Instrs {
		v := fx.src.Value(iid)
		if v.Erased {
			continue
		}
		out, err := fx.instr(blk, v)
		if err != nil {
			return fmt.Errorf("block %s: %s: %w", fx.src.Block(id).Name, v.Op, err)
		}
		if out == nil {
			continue
		}
		if named, ok := out.(value.Named); ok && v.Name != "" {
			named.SetName(fx.names.take(v.Name))
		}
		fx.values[iid] = out
	}
	return nil
}

func (fx *funcExporter) operand(id dx.ValueID) (value.Value, error) {
	if v, ok := fx.values[id]; ok {
		return v, nil
	}
	if !fx.src.Valid(id) {
		return nil, fmt.Errorf("invalid operand %%%d", id)
	}
	if fx.src.Value(id).IsConst() {
		return fx.constant(id)
	}
	return nil, fmt.Errorf("operand %%%d is used before its definition", id)
}

func (fx *funcExporter) operands(ids []dx.ValueID) ([]value.Value, error) {
	out := make([]value.Value, len(ids))
	for i, id := range ids {
		v, err := fx.operand(id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (fx *funcExporter) target(b dx.BlockID) (*ir.Block, error) {
	blk, ok := fx.blocks[b]
	if !ok {
		return nil, fmt.Errorf("branch to unknown block %d", b)
	}
	return blk, nil
}

func indices(imms []int32) ([]uint64, error) {
	out := make([]uint64, len(imms))
	for i, imm := range imms {
		u, err := safecast.Conv[uint64](imm)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", imm, err)
		}
		out[i] = u
	}
	return out, nil
}

// instr appends the translation of v to blk. Instructions without a result
// the rest of the body can refer to return a nil value.
func (fx *funcExporter) instr(blk *ir.Block, v *dx.Value) (value.Value, error) {
	if v.Op == dx.OpPhi {
		t, err := fx.typ(v.Type)
		if err != nil {
			return nil, err
		}
		phi := &ir.InstPhi{Typ: t}
		blk.Insts = append(blk.Insts, phi)
		fx.phis = append(fx.phis, phiFill{src: v, dst: phi})
		return phi, nil
	}
	ops, err := fx.operands(v.Operands)
	if err != nil {
		return nil, err
	}
	ts := fx.src.Types

	if v.Op.IsCast() {
		to, err := fx.typ(v.Type)
		if err != nil {
			return nil, err
		}
		return fx.cast(blk, v.Op, ops[0], to)
	}
	if v.Op.IsBinary() {
		return binary(blk, v.Op, ops[0], ops[1])
	}

	switch v.Op {
	case dx.OpAlloca:
		t, err := fx.typ(v.AllocTy)
		if err != nil {
			return nil, err
		}
		return blk.NewAlloca(t), nil
	case dx.OpLoad:
		t, err := fx.typ(v.Type)
		if err != nil {
			return nil, err
		}
		return blk.NewLoad(t, ops[0]), nil
	case dx.OpStore:
		blk.NewStore(ops[0], ops[1])
		return nil, nil
	case dx.OpGEP:
		elem, err := fx.typ(ts.Elem(fx.src.TypeOf(v.Operands[0])))
		if err != nil {
			return nil, err
		}
		return blk.NewGetElementPtr(elem, ops[0], ops[1:]...), nil
	case dx.OpCall:
		call := blk.NewCall(ops[0], ops[1:]...)
		if ts.IsVoid(v.Type) {
			return nil, nil
		}
		return call, nil
	case dx.OpICmp:
		pred, ok := ipreds[v.Pred]
		if !ok {
			return nil, fmt.Errorf("predicate %s", v.Pred)
		}
		return blk.NewICmp(pred, ops[0], ops[1]), nil
	case dx.OpFCmp:
		pred, ok := fpreds[v.Pred]
		if !ok {
			return nil, fmt.Errorf("predicate %s", v.Pred)
		}
		return blk.NewFCmp(pred, ops[0], ops[1]), nil
	case dx.OpSelect:
		return blk.NewSelect(ops[0], ops[1], ops[2]), nil
	case dx.OpInsertElement:
		return blk.NewInsertElement(ops[0], ops[1], ops[2]), nil
	case dx.OpExtractElement:
		return blk.NewExtractElement(ops[0], ops[1]), nil
	case dx.OpShuffleVector:
		lanes := make([]constant.Constant, len(v.Imms))
		for i, imm := range v.Imms {
			if imm < 0 {
				lanes[i] = constant.NewUndef(types.I32)
				continue
			}
			lanes[i] = constant.NewInt(types.I32, int64(imm))
		}
		mask := constant.NewVector(types.NewVector(uint64(len(lanes)), types.I32), lanes...)
		return blk.NewShuffleVector(ops[0], ops[1], mask), nil
	case dx.OpInsertValue:
		idx, err := indices(v.Imms)
		if err != nil {
			return nil, err
		}
		return blk.NewInsertValue(ops[0], ops[1], idx...), nil
	case dx.OpExtractValue:
		idx, err := indices(v.Imms)
		if err != nil {
			return nil, err
		}
		return blk.NewExtractValue(ops[0], idx...), nil
	case dx.OpBr:
		dest, err := fx.target(v.Targets[0])
		if err != nil {
			return nil, err
		}
		blk.NewBr(dest)
		return nil, nil
	case dx.OpCondBr:
		then, err := fx.target(v.Targets[0])
		if err != nil {
			return nil, err
		}
		els, err := fx.target(v.Targets[1])
		if err != nil {
			return nil, err
		}
		blk.NewCondBr(ops[0], then, els)
		return nil, nil
	case dx.OpSwitch:
		return nil, fx.switchTerm(blk, v, ops)
	case dx.OpRet:
		if len(ops) == 0 {
			blk.NewRet(nil)
		} else {
			blk.NewRet(ops[0])
		}
		return nil, nil
	case dx.OpUnreachable:
		blk.NewUnreachable()
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported instruction %%%d", v.ID)
}

func (fx *funcExporter) switchTerm(blk *ir.Block, v *dx.Value, ops []value.Value) error {
	def, err := fx.target(v.Targets[0])
	if err != nil {
		return err
	}
	cases := make([]*ir.Case, 0, len(ops)-1)
	for i := 1; i < len(ops); i++ {
		c, ok := ops[i].(constant.Constant)
		if !ok {
			return fmt.Errorf("switch case %d is not a constant", i)
		}
		dest, err := fx.target(v.Targets[i])
		if err != nil {
			return err
		}
		cases = append(cases, ir.NewCase(c, dest))
	}
	blk.NewSwitch(ops[0], def, cases...)
	return nil
}

func (fx *funcExporter) cast(blk *ir.Block, op dx.Op, from value.Value, to types.Type) (value.Value, error) {
	switch op {
	case dx.OpBitCast:
		fp, ok1 := from.Type().(*types.PointerType)
		tp, ok2 := to.(*types.PointerType)
		if ok1 && ok2 && fp.AddrSpace != tp.AddrSpace {
			return blk.NewAddrSpaceCast(from, to), nil
		}
		return blk.NewBitCast(from, to), nil
	case dx.OpZExt:
		return blk.NewZExt(from, to), nil
	case dx.OpSExt:
		return blk.NewSExt(from, to), nil
	case dx.OpTrunc:
		return blk.NewTrunc(from, to), nil
	case dx.OpFPExt:
		return blk.NewFPExt(from, to), nil
	case dx.OpFPTrunc:
		return blk.NewFPTrunc(from, to), nil
	case dx.OpSIToFP:
		return blk.NewSIToFP(from, to), nil
	case dx.OpUIToFP:
		return blk.NewUIToFP(from, to), nil
	case dx.OpFPToSI:
		return blk.NewFPToSI(from, to), nil
	case dx.OpFPToUI:
		return blk.NewFPToUI(from, to), nil
	}
	return nil, fmt.Errorf("unsupported cast %s", op)
}

func binary(blk *ir.Block, op dx.Op, a, b value.Value) (value.Value, error) {
	switch op {
	case dx.OpAdd:
		return blk.NewAdd(a, b), nil
	case dx.OpSub:
		return blk.NewSub(a, b), nil
	case dx.OpMul:
		return blk.NewMul(a, b), nil
	case dx.OpSDiv:
		return blk.NewSDiv(a, b), nil
	case dx.OpUDiv:
		return blk.NewUDiv(a, b), nil
	case dx.OpAnd:
		return blk.NewAnd(a, b), nil
	case dx.OpOr:
		return blk.NewOr(a, b), nil
	case dx.OpXor:
		return blk.NewXor(a, b), nil
	case dx.OpFAdd:
		return blk.NewFAdd(a, b), nil
	case dx.OpFSub:
		return blk.NewFSub(a, b), nil
	case dx.OpFMul:
		return blk.NewFMul(a, b), nil
	case dx.OpFDiv:
		return blk.NewFDiv(a, b), nil
	}
	return nil, fmt.Errorf("unsupported binary operator %s", op)
}

var ipreds = map[dx.Pred]enum.IPred{
	dx.PredEQ:  enum.IPredEQ,
	dx.PredNE:  enum.IPredNE,
	dx.PredUGT: enum.IPredUGT,
	dx.PredUGE: enum.IPredUGE,
	dx.PredULT: enum.IPredULT,
	dx.PredULE: enum.IPredULE,
	dx.PredSGT: enum.IPredSGT,
	dx.PredSGE: enum.IPredSGE,
	dx.PredSLT: enum.IPredSLT,
	dx.PredSLE: enum.IPredSLE,
}

var fpreds = map[dx.Pred]enum.FPred{
	dx.PredOEQ: enum.FPredOEQ,
	dx.PredONE: enum.FPredONE,
	dx.PredOGT: enum.FPredOGT,
	dx.PredOGE: enum.FPredOGE,
	dx.PredOLT: enum.FPredOLT,
	dx.PredOLE: enum.FPredOLE,
	dx.PredUNE: enum.FPredUNE,
	dx.PredUNO: enum.FPredUNO,
	dx.PredORD: enum.FPredORD,
	dx.PredUGT: enum.FPredUGT,
	dx.PredUGE: enum.FPredUGE,
	dx.PredULT: enum.FPredULT,
	dx.PredULE: enum.FPredULE,
}
