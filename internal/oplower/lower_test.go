package oplower

import (
	"testing"

	"dxlower/internal/annot"
	"dxlower/internal/handle"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

type fixture struct {
	m     *ir.Module
	objs  *resprops.Table
	types *annot.TypeSystem
	main  *ir.Func
	b     *ir.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := ir.NewModule("oplower")
	main := m.NewFunc("main", m.Types.Func(m.Types.Builtins().Void))
	entry := m.NewBlock(main.ID, "entry")
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(entry)
	b.SetInsertPoint(b.RetVoid())
	return &fixture{m: m, objs: resprops.NewTable(), types: annot.New(), main: main, b: b}
}

func (f *fixture) hlFunc(name string, g hlop.Group, opcode uint32, fnTy ir.TypeID) *ir.Func {
	fn := f.m.NewFunc(name, fnTy)
	hlop.Tag(fn, g, opcode)
	return fn
}

func (f *fixture) texture() (ir.ValueID, ir.TypeID, resprops.Properties) {
	ts := f.m.Types
	texTy := ts.NamedStruct("class.Texture2D<vector<float, 4> >", ts.Vector(ts.Builtins().Float, 4))
	tex := f.m.NewGlobal("Tex", texTy, ir.NoValueID, false, 0)
	props := resprops.Properties{Kind: resprops.KindTexture2D, CompType: resprops.CompF32, CompCount: 4}
	f.objs.AddResource(tex, props)
	return tex, texTy, props
}

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	if err := ir.Verify(f.m); err != nil {
		t.Fatalf("verify: %v\n%s", err, f.m.String())
	}
}

// hlCalls lists (group, opcode) of the HL calls in fn, in block order.
func hlCalls(m *ir.Module, fn *ir.Func) [][2]uint32 {
	var out [][2]uint32
	for _, bb := range fn.Blocks {
		for _, id := range m.Block(bb).Instrs {
			if m.Value(id).Op != ir.OpCall {
				continue
			}
			if g, op, ok := hlop.OpcodeOfCall(m, id); ok {
				out = append(out, [2]uint32{uint32(g), op})
			}
		}
	}
	return out
}

func ops(m *ir.Module, fn *ir.Func) []ir.Op {
	var out []ir.Op
	for _, bb := range fn.Blocks {
		for _, id := range m.Block(bb).Instrs {
			out = append(out, m.Value(id).Op)
		}
	}
	return out
}

func onlyCaller(t *testing.T, m *ir.Module, fn *ir.Func) *ir.Value {
	t.Helper()
	users := m.Users(fn.Value)
	if len(users) != 1 {
		t.Fatalf("@%s has %d users, want 1", fn.Name, len(users))
	}
	return m.Value(users[0])
}

func TestLowerResourceArgument(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	tex, texTy, props := f.texture()
	f4 := ts.Vector(ts.Builtins().Float, 4)
	v2 := ts.Vector(ts.Builtins().I32, 2)

	old := f.hlFunc("tex.Load", hlop.GroupIntrinsic, uint32(hlop.MOPLoad), ts.Func(f4, ts.Pointer(texTy), v2))
	old.SetAttr(hlop.AttrLowering, "tex")
	pos := m.ConstAggregate(v2, m.ConstI32(1), m.ConstI32(2))
	f.b.Call(old, tex, pos)

	stats := Lower(m, f.objs, f.types)
	f.verify(t)

	if stats.Descriptors != 1 || stats.CallSites != 1 || stats.Erased != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, ok := m.FuncByName("tex.Load"); ok {
		t.Fatalf("old HL function survived")
	}
	newTy := ts.Func(f4, ts.Builtins().I32, hlop.HandleType(ts), v2)
	newFn, ok := m.FuncByName(hlop.MangledName(ts, hlop.GroupIntrinsic, hlop.MemReadOnly, false, newTy))
	if !ok {
		t.Fatalf("lowered function missing:\n%s", m.String())
	}
	if s, _ := newFn.Attr(hlop.AttrLowering); s != "tex" {
		t.Fatalf("lowering strategy = %q", s)
	}

	call := onlyCaller(t, m, newFn)
	if op, _ := m.ConstUintValue(call.Arg(0)); op != uint64(hlop.MOPLoad) {
		t.Fatalf("opcode argument = %d", op)
	}
	g, _, _ := hlop.OpcodeOfCall(m, call.Arg(1))
	if g != hlop.GroupAnnotateHandle {
		t.Fatalf("handle argument comes from %s", g)
	}
	got, ok := handle.DecodePropsConstant(m, m.Value(call.Arg(1)).Arg(2))
	if !ok || got != props {
		t.Fatalf("annotated props = %v", got)
	}
}

func TestUnusedDescriptorIsErased(t *testing.T) {
	f := newFixture(t)
	ts := f.m.Types
	f.hlFunc("unused", hlop.GroupIntrinsic, uint32(hlop.IOPsin), ts.Func(ts.Builtins().Float, ts.Builtins().Float))
	stats := Lower(f.m, f.objs, f.types)
	if stats.Erased != 1 || len(f.m.Funcs()) != 1 {
		t.Fatalf("stats = %+v, funcs = %d", stats, len(f.m.Funcs()))
	}
}

func TestConstantGEPMaterializedOncePerCall(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	texTy := ts.NamedStruct("class.Texture2D<float>", ts.Builtins().Float)
	arr := m.NewGlobal("Texs", ts.Array(texTy, 4), ir.NoValueID, false, 0)
	f.objs.AddResource(arr, resprops.Properties{Kind: resprops.KindTexture2D, CompType: resprops.CompF32, CompCount: 1})

	ptrTy := ts.Pointer(texTy)
	old := f.hlFunc("pair", hlop.GroupIntrinsic, uint32(hlop.MOPSample), ts.Func(ts.Builtins().Float, ptrTy, ptrTy))
	elem := m.ConstGEP(arr, m.ConstI32(0), m.ConstI32(2))
	f.b.Call(old, elem, elem)

	Lower(m, f.objs, f.types)
	f.verify(t)

	geps := 0
	for _, op := range ops(m, f.main) {
		if op == ir.OpGEP {
			geps++
		}
	}
	if geps != 1 {
		t.Fatalf("got %d GEP instructions, want 1:\n%s", geps, m.FuncString(f.main))
	}
	if !m.Value(elem).Erased {
		t.Fatalf("constant GEP should be released once unused")
	}
}

func TestBoolVectorSubscript(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	i1, i32 := ts.Builtins().I1, ts.Builtins().I32
	vecTy := ts.Vector(i1, 4)

	old := f.hlFunc("vsub", hlop.GroupSubscript, uint32(hlop.SubscriptVector), ts.Func(ts.Pointer(i1), ts.Pointer(vecTy), i32))
	v := f.b.Alloca(vecTy, "v")
	p := f.b.Call(old, v, m.ConstI32(1))
	ld := f.b.Load(p, "x")
	f.b.Store(m.ConstBool(true), p)
	sink := f.m.NewGlobal("sink", i1, ir.NoValueID, false, 0)
	f.b.Store(ld, sink)

	Lower(m, f.objs, f.types)
	f.verify(t)

	want := []ir.Op{ir.OpAlloca, ir.OpCall, ir.OpLoad, ir.OpICmp, ir.OpZExt, ir.OpStore, ir.OpStore, ir.OpRet}
	got := ops(m, f.main)
	if len(got) != len(want) {
		t.Fatalf("ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops = %v, want %v", got, want)
		}
	}
	call := m.Value(m.Block(m.Entry(f.main.ID)).Instrs[1])
	if call.Type != ts.Pointer(i32) {
		t.Fatalf("subscript returns %s, want i32*", ts.String(call.Type))
	}
}

func TestDoubleSubscriptCollapses(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	b := ts.Builtins()
	mipsTy := ts.NamedStruct("class.Texture2D<float>::mips_type", b.I32)
	sliceTy := ts.NamedStruct("class.Texture2D<float>::mips_slice_type", b.I32)
	texTy := ts.NamedStruct("class.Texture2D<float>", b.Float, mipsTy)
	tex := m.NewGlobal("Tex", texTy, ir.NoValueID, false, 0)
	f.objs.AddResource(tex, resprops.Properties{Kind: resprops.KindTexture2D, CompType: resprops.CompF32, CompCount: 1})
	v2 := ts.Vector(b.I32, 2)

	ds := f.hlFunc("mips", hlop.GroupSubscript, uint32(hlop.SubscriptDouble), ts.Func(ts.Pointer(sliceTy), ts.Pointer(mipsTy), b.I32))
	sub := f.hlFunc("slice", hlop.GroupSubscript, uint32(hlop.SubscriptDefault), ts.Func(ts.Pointer(b.Float), ts.Pointer(sliceTy), v2))

	gep := f.b.GEP(tex, m.ConstI32(0), m.ConstI32(1))
	first := f.b.Call(ds, gep, m.ConstI32(3))
	pos := m.ConstAggregate(v2, m.ConstI32(4), m.ConstI32(5))
	elem := f.b.Call(sub, first, pos)
	ld := f.b.Load(elem, "texel")

	Lower(m, f.objs, f.types)
	f.verify(t)

	if _, ok := m.FuncByName("slice"); ok {
		t.Fatalf("second subscript function should be gone")
	}
	if !m.Value(gep).Erased {
		t.Fatalf("object GEP should be erased")
	}
	call := m.Value(m.Value(ld).Operands[0])
	g, op, ok := hlop.OpcodeOfCall(m, call.ID)
	if !ok || g != hlop.GroupSubscript || op != uint32(hlop.SubscriptDouble) {
		t.Fatalf("load reads from %s %d", g, op)
	}
	args := call.Args()
	if len(args) != 4 || args[2] != m.ConstI32(3) || args[3] != pos {
		t.Fatalf("collapsed call args = %v", args)
	}
	if ptr, ok := annotatedResPtr(m, args[1]); !ok || ptr != tex {
		t.Fatalf("handle does not come from the texture")
	}
}

// annotatedResPtr walks annotate -> create -> load back to the object pointer.
func annotatedResPtr(m *ir.Module, h ir.ValueID) (ir.ValueID, bool) {
	if g, _, ok := hlop.OpcodeOfCall(m, h); !ok || g != hlop.GroupAnnotateHandle {
		return ir.NoValueID, false
	}
	create := m.Value(h).Arg(1)
	if g, _, ok := hlop.OpcodeOfCall(m, create); !ok || g != hlop.GroupCreateHandle {
		return ir.NoValueID, false
	}
	ld := m.Value(m.Value(create).Arg(1))
	if ld.Op != ir.OpLoad {
		return ir.NoValueID, false
	}
	return ld.Operands[0], true
}

func TestAppendRowMajorMatrixBody(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	matTy := hlop.MatrixType(ts, ts.Builtins().Float, 2, 2)
	bufTy := ts.NamedStruct("class.AppendStructuredBuffer<float2x2>", matTy)
	f.types.AddStructAnnotation(bufTy, 1).Fields[0] = annot.Field{
		Matrix: annot.Matrix{Rows: 2, Cols: 2, Orientation: annot.OrientRowMajor},
	}
	buf := m.NewGlobal("Out", bufTy, ir.NoValueID, false, 0)
	f.objs.AddResource(buf, resprops.Properties{
		Kind: resprops.KindStructuredBuffer, Flags: resprops.FlagUAV | resprops.FlagHasCounter, StructStride: 16,
	})

	old := f.hlFunc("Append", hlop.GroupIntrinsic, uint32(hlop.MOPAppend), ts.Func(ts.Builtins().Void, ts.Pointer(bufTy), matTy))
	f.b.Call(old, buf, m.Undef(matTy))

	stats := Lower(m, f.objs, f.types)
	f.verify(t)
	if stats.Bodies != 1 {
		t.Fatalf("bodies = %d", stats.Bodies)
	}

	fnTy := ts.Func(ts.Builtins().Void, ts.Builtins().I32, hlop.HandleType(ts), matTy)
	body, ok := m.FuncByName(hlop.BodyName(ts, hlop.GroupIntrinsic, uint32(hlop.MOPAppend), fnTy))
	if !ok || body.IsDecl() {
		t.Fatalf("Append body missing:\n%s", m.String())
	}
	want := [][2]uint32{
		{uint32(hlop.GroupIntrinsic), uint32(hlop.MOPIncrementCounter)},
		{uint32(hlop.GroupSubscript), uint32(hlop.SubscriptDefault)},
		{uint32(hlop.GroupCast), uint32(hlop.CastColMatrixToRowMatrix)},
		{uint32(hlop.GroupMatLoadStore), uint32(hlop.RowMatStore)},
	}
	got := hlCalls(m, body)
	if len(got) != len(want) {
		t.Fatalf("body calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("body calls = %v, want %v", got, want)
		}
	}
	call := onlyCaller(t, m, body)
	if ptr, ok := annotatedResPtr(m, call.Arg(1)); !ok || ptr != buf {
		t.Fatalf("Append call does not pass the buffer handle")
	}
}

func TestConsumeBoolBody(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	i1 := ts.Builtins().I1
	bufTy := ts.NamedStruct("class.ConsumeStructuredBuffer<bool>", i1)
	buf := m.NewGlobal("In", bufTy, ir.NoValueID, false, 0)
	f.objs.AddResource(buf, resprops.Properties{
		Kind: resprops.KindStructuredBuffer, Flags: resprops.FlagUAV | resprops.FlagHasCounter, StructStride: 4,
	})
	old := f.hlFunc("Consume", hlop.GroupIntrinsic, uint32(hlop.MOPConsume), ts.Func(i1, ts.Pointer(bufTy)))
	v := f.b.Call(old, buf)
	sink := m.NewGlobal("sink", i1, ir.NoValueID, false, 0)
	f.b.Store(v, sink)

	Lower(m, f.objs, f.types)
	f.verify(t)

	fnTy := ts.Func(i1, ts.Builtins().I32, hlop.HandleType(ts))
	body, ok := m.FuncByName(hlop.BodyName(ts, hlop.GroupIntrinsic, uint32(hlop.MOPConsume), fnTy))
	if !ok {
		t.Fatalf("Consume body missing:\n%s", m.String())
	}
	want := []ir.Op{ir.OpCall, ir.OpCall, ir.OpLoad, ir.OpICmp, ir.OpRet}
	got := ops(m, body)
	if len(got) != len(want) {
		t.Fatalf("body ops = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("body ops = %v, want %v", got, want)
		}
	}
	ld := m.Value(m.Block(body.Blocks[0]).Instrs[2])
	if ld.Type != ts.Builtins().I32 {
		t.Fatalf("bool element must be loaded as i32, got %s", ts.String(ld.Type))
	}
}

func TestSincosBody(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	fl := ts.Builtins().Float
	old := f.hlFunc("sincos", hlop.GroupIntrinsic, uint32(hlop.IOPsincos), ts.Func(ts.Builtins().Void, fl, ts.Pointer(fl), ts.Pointer(fl)))
	s := f.b.Alloca(fl, "s")
	c := f.b.Alloca(fl, "c")
	f.b.Call(old, m.ConstFloat(fl, 0.5), s, c)

	Lower(m, f.objs, f.types)
	f.verify(t)

	fnTy := ts.Func(ts.Builtins().Void, ts.Builtins().I32, fl, ts.Pointer(fl), ts.Pointer(fl))
	body, ok := m.FuncByName(hlop.BodyName(ts, hlop.GroupIntrinsic, uint32(hlop.IOPsincos), fnTy))
	if !ok {
		t.Fatalf("sincos body missing")
	}
	got := hlCalls(m, body)
	if len(got) != 2 || got[0][1] != uint32(hlop.IOPsin) || got[1][1] != uint32(hlop.IOPcos) {
		t.Fatalf("sincos body calls = %v", got)
	}
	shared, ok := m.FuncByName("dx.hl.op.rn.float (i32, float)")
	if !ok || m.NumUses(shared.Value) != 2 {
		t.Fatalf("sin and cos should share one declaration")
	}
}

func TestSRetNodeOutputHandle(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	b := ts.Builtins()
	recTy := ts.NamedStruct("struct.Rec", b.Float, b.Float)
	outTy := ts.NamedStruct("struct.NodeOutput<Rec>", b.I32)
	arrTy := ts.NamedStruct("struct.NodeOutputArray<Rec>", b.I32)
	f.types.SetTemplateArg(outTy, recTy)

	old := f.hlFunc("index", hlop.GroupIndexNodeHandle, 0, ts.Func(b.Void, ts.Pointer(outTy), ts.Pointer(arrTy), b.I32))
	m.Value(old.Params[0]).SRet = true
	out := f.b.Alloca(outTy, "out")
	arr := f.b.Alloca(arrTy, "arr")
	f.b.Call(old, out, arr, m.ConstI32(1))

	l := New(m, f.objs, f.types)
	if size := l.recordSize(arrTy); size != 8 {
		t.Fatalf("NodeOutputArray record size = %d, want 8", size)
	}
	l.Run()
	f.verify(t)

	var st *ir.Value
	for _, id := range m.Block(m.Entry(f.main.ID)).Instrs {
		if v := m.Value(id); v.Op == ir.OpStore {
			st = v
		}
	}
	if st == nil || st.Operands[1] != out {
		t.Fatalf("result must be stored to the sret slot:\n%s", m.FuncString(f.main))
	}
	g, op, _ := hlop.OpcodeOfCall(m, st.Operands[0])
	if g != hlop.GroupCast || op != uint32(hlop.CastHandleToNodeOutput) {
		t.Fatalf("stored value comes from %s %d", g, op)
	}
	ann := m.Value(m.Value(st.Operands[0]).Arg(1))
	elems, _ := m.ConstElements(ann.Arg(2))
	kind, _ := m.ConstIntValue(elems[0])
	size, _ := m.ConstIntValue(elems[1])
	if handle.IOKind(kind) != handle.IOOutput || size != 8 {
		t.Fatalf("node info = (%s, %d)", handle.IOKind(kind), size)
	}
	lowered := m.Value(ann.Arg(1))
	if lowered.Type != hlop.NodeHandleType(ts) {
		t.Fatalf("lowered call returns %s", ts.String(lowered.Type))
	}
	if g, op, _ := hlop.OpcodeOfCall(m, lowered.Arg(1)); g != hlop.GroupCast || op != uint32(hlop.CastNodeOutputToHandle) {
		t.Fatalf("node array argument not cast to a handle")
	}
}

func TestLowerGetResourceFromHeap(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	texTy := ts.NamedStruct("class.Texture2D<float>", ts.Builtins().Float)
	heap := f.hlFunc("heap", hlop.GroupIntrinsic, uint32(hlop.IOPCreateResourceFromHeap), ts.Func(texTy, ts.Builtins().I32))
	slot := f.b.Alloca(texTy, "t")
	props := resprops.Properties{Kind: resprops.KindTexture2D, CompType: resprops.CompF32, CompCount: 1}
	f.objs.AddResource(slot, props)
	res := f.b.Call(heap, m.ConstI32(7))
	st := f.b.Store(res, slot)

	if n := LowerGetResourceFromHeap(m, f.objs, f.types); n != 1 {
		t.Fatalf("lowered %d heap accesses", n)
	}
	f.verify(t)
	if _, ok := m.FuncByName("heap"); ok {
		t.Fatalf("heap declaration survived")
	}
	cast := m.Value(st).Operands[0]
	h, ok := handle.HandleOfRes(m, cast)
	if !ok {
		t.Fatalf("stored value is not a handle cast")
	}
	got, _ := handle.DecodePropsConstant(m, m.Value(h).Arg(2))
	if got != props {
		t.Fatalf("heap props = %v", got)
	}
	create := m.Value(m.Value(h).Arg(1))
	if _, op, _ := hlop.OpcodeOfCall(m, create.ID); op != uint32(hlop.IOPCreateResourceFromHeap) || create.Arg(1) != m.ConstI32(7) {
		t.Fatalf("heap handle not created from index 7")
	}
	if len(hlop.Descriptors(m)) != 0 {
		t.Fatalf("opcode-form heap function must not be a descriptor")
	}
}

func TestWaveSensitiveOpcodeGetsOwnDeclaration(t *testing.T) {
	f := newFixture(t)
	m, ts := f.m, f.m.Types
	fl := ts.Builtins().Float
	sin := f.hlFunc("sin", hlop.GroupIntrinsic, uint32(hlop.IOPsin), ts.Func(fl, fl))
	ddx := f.hlFunc("ddx", hlop.GroupIntrinsic, uint32(hlop.IOPddx), ts.Func(fl, fl))
	x := f.b.Call(sin, m.ConstFloat(fl, 0.5))
	f.b.Call(ddx, x)

	Lower(m, f.objs, f.types)
	f.verify(t)

	fnTy := ts.Func(fl, ts.Builtins().I32, fl)
	plain, ok := m.FuncByName(hlop.MangledName(ts, hlop.GroupIntrinsic, hlop.MemReadNone, false, fnTy))
	if !ok {
		t.Fatalf("sin declaration missing:\n%s", m.String())
	}
	if _, marked := plain.Attr(hlop.AttrWaveSensitive); marked {
		t.Fatalf("@%s is marked wave-sensitive", plain.Name)
	}
	if call := onlyCaller(t, m, plain); call.Arg(0) != m.ConstI32(int64(hlop.IOPsin)) {
		t.Fatalf("@%s is not called with the sin opcode", plain.Name)
	}

	wave, ok := m.FuncByName(hlop.MangledName(ts, hlop.GroupIntrinsic, hlop.MemReadNone, true, fnTy))
	if !ok {
		t.Fatalf("ddx declaration missing:\n%s", m.String())
	}
	if v, _ := wave.Attr(hlop.AttrWaveSensitive); v != "true" {
		t.Fatalf("@%s is not marked wave-sensitive", wave.Name)
	}
	if call := onlyCaller(t, m, wave); call.Arg(0) != m.ConstI32(int64(hlop.IOPddx)) {
		t.Fatalf("@%s is not called with the ddx opcode", wave.Name)
	}
}
