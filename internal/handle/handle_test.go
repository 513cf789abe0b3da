package handle

import (
	"testing"

	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

func setup(t *testing.T) (*ir.Module, *ir.Builder, ir.ValueID, ir.TypeID) {
	t.Helper()
	m := ir.NewModule("h")
	ts := m.Types
	resTy := ts.NamedStruct("class.Texture2D<vector<float, 4> >", ts.Vector(ts.Builtins().Float, 4))
	g := m.NewGlobal("Tex", resTy, ir.NoValueID, false, 0)
	fn := m.NewFunc("main", ts.Func(ts.Builtins().Void))
	entry := m.NewBlock(fn.ID, "entry")
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(entry)
	ret := b.RetVoid()
	b.SetInsertPoint(ret)
	return m, b, g, resTy
}

func TestHandleTripleRoundTrip(t *testing.T) {
	m, b, g, resTy := setup(t)
	props := resprops.Properties{Kind: resprops.KindTexture2D, CompType: resprops.CompF32, CompCount: 4}

	h := CreateHandleFromResPtr(b, g)
	ah := CreateAnnotateHandle(b, h, props, resTy)
	res := CastHandleToRes(b, ah, resTy)

	if m.TypeOf(res) != resTy {
		t.Fatalf("cast result type = %s", m.Types.String(m.TypeOf(res)))
	}
	if got, ok := HandleOfRes(m, res); !ok || got != ah {
		t.Fatalf("HandleOfRes = %d %v, want the annotated handle", got, ok)
	}
	annotate := m.Value(ah)
	got, ok := DecodePropsConstant(m, annotate.Arg(2))
	if !ok || got != props {
		t.Fatalf("annotated props = %v, want %v", got, props)
	}
	if m.Value(annotate.Arg(3)).Kind != ir.ValueUndef || m.TypeOf(annotate.Arg(3)) != resTy {
		t.Fatalf("annotate must carry an undef of the resource type")
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestCleanupErasesUnusedChain(t *testing.T) {
	m, b, g, resTy := setup(t)
	props := resprops.Properties{Kind: resprops.KindTexture2D}
	func() {
		c := NewCleanup(m)
		defer c.Done()
		h := c.Track(CreateHandleFromResPtr(b, g))
		c.Track(CreateAnnotateHandle(b, h, props, resTy))
	}()
	if m.HasUses(g) {
		t.Fatalf("the load of the resource must be gone with the unused chain")
	}
	entry := m.Entry(m.Funcs()[0].ID)
	if n := len(m.Block(entry).Instrs); n != 1 {
		t.Fatalf("block still holds %d instructions:\n%s", n, m.String())
	}
}

func TestNodeHandles(t *testing.T) {
	m, b, _, _ := setup(t)
	ts := m.Types
	rec := ts.NamedStruct("struct.Rec", ts.Builtins().I32)
	outTy := ts.NamedStruct("struct.NodeOutput<Rec>", rec)

	kind, ok := IOKindOf(ts, outTy)
	if !ok || kind != IOOutput {
		t.Fatalf("IOKindOf = %s %v", kind, ok)
	}
	h := CreateNodeOutputHandle(b, 0)
	ah := CreateAnnotateNodeHandle(b, h, NodeInfo{IOKind: kind, RecordSize: 4})
	obj := CastHandleToNodeOutput(b, ah, outTy)
	if m.TypeOf(obj) != outTy || m.TypeOf(ah) != hlop.NodeHandleType(ts) {
		t.Fatalf("unexpected node handle types")
	}
	elems, _ := m.ConstElements(m.Value(ah).Arg(2))
	if size, _ := m.ConstIntValue(elems[1]); size != 4 {
		t.Fatalf("record size = %d", size)
	}
	if got := (IOInput | IOReadWrite | IOGroupRecord).String(); got != "input|rw|group" {
		t.Fatalf("IOKind string = %q", got)
	}
}
