package llexport

import (
	"strings"
	"testing"

	"dxlower/internal/hlop"
	dx "dxlower/internal/ir"
)

func loopModule(t *testing.T) *dx.Module {
	t.Helper()
	m := dx.NewModule("loop.hlm")
	ts := m.Types
	bt := ts.Builtins()
	s := ts.NamedStruct("struct.S", bt.I32, bt.Float)
	m.NewGlobal("g", bt.I32, m.ConstI32(7), false, 0)
	m.NewGlobal("cb", s, m.Zero(s), true, 2)

	fn := m.NewFunc("count", ts.Func(bt.I32, bt.I32), "n")
	fn.SetAttr(hlop.AttrEntry, "ps")
	entry := m.NewBlock(fn.ID, "entry")
	loop := m.NewBlock(fn.ID, "loop")
	exit := m.NewBlock(fn.ID, "exit")

	b := dx.NewBuilder(m)
	b.SetInsertPointAtEnd(entry)
	b.Br(loop)

	b.SetInsertPointAtEnd(loop)
	i := b.Phi(bt.I32, "i")
	next := b.Binary(dx.OpAdd, i, m.ConstI32(1))
	done := b.ICmp(dx.PredSGE, next, fn.Params[0])
	b.CondBr(done, exit, loop)
	m.AddIncoming(i, m.ConstI32(0), entry)
	m.AddIncoming(i, next, loop)

	b.SetInsertPointAtEnd(exit)
	g, _ := m.GlobalByName("g")
	b.Ret(b.Binary(dx.OpAdd, next, b.Load(g, "gv")))

	if err := dx.Verify(m); err != nil {
		t.Fatalf("fixture does not verify: %v", err)
	}
	return m
}

func TestTextLoop(t *testing.T) {
	text, err := Text(loopModule(t))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	for _, want := range []string{
		"%struct.S = type { i32, float }",
		"@g = global i32 7",
		"addrspace(2)",
		"define i32 @count(i32 %n)",
		`"dx.entry"="ps"`,
		"phi i32 [ 0, %entry ]",
		"icmp sge i32",
		"load i32, i32* @g",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestDeclarationsAndCalls(t *testing.T) {
	m := dx.NewModule("calls")
	ts := m.Types
	bt := ts.Builtins()
	decl := m.NewFunc("dx.op.sample", ts.Func(bt.Float, bt.I32))
	fn := m.NewFunc("main", ts.Func(bt.Void))
	b := dx.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(fn.ID, "entry"))
	v := b.Call(decl, m.ConstI32(-1))
	b.Store(v, b.Alloca(bt.Float, "tmp"))
	b.RetVoid()

	text, err := Text(m)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	for _, want := range []string{"declare float @dx.op.sample(i32", "call float @dx.op.sample(i32 -1)", "alloca float", "ret void"} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q:\n%s", want, text)
		}
	}
}

func TestUnsupportedTypeIsAnError(t *testing.T) {
	m := dx.NewModule("x87")
	ts := m.Types
	m.NewGlobal("wide", ts.Float(80), dx.NoValueID, false, 0)
	if _, err := Module(m); err == nil || !strings.Contains(err.Error(), "float width 80") {
		t.Fatalf("err = %v", err)
	}
}

func TestSignExtend(t *testing.T) {
	tests := []struct {
		raw  uint64
		bits uint64
		want int64
	}{
		{0xFFFFFFFF, 32, -1},
		{0x7F, 8, 127},
		{1, 1, 1},
		{42, 64, 42},
	}
	for _, tt := range tests {
		if got := signExtend(tt.raw, tt.bits); got != tt.want {
			t.Errorf("signExtend(%#x, %d) = %d, want %d", tt.raw, tt.bits, got, tt.want)
		}
	}
}

func TestGlobalAddressSpace(t *testing.T) {
	out, err := Module(loopModule(t))
	if err != nil {
		t.Fatalf("Module: %v", err)
	}
	for _, g := range out.Globals {
		switch g.Name() {
		case "cb":
			if g.AddrSpace != 2 || g.Typ.AddrSpace != 2 || !g.Immutable {
				t.Fatalf("@cb: addrspace %d, pointer addrspace %d, immutable %v", g.AddrSpace, g.Typ.AddrSpace, g.Immutable)
			}
		case "g":
			if g.AddrSpace != 0 {
				t.Fatalf("@g is in addrspace %d", g.AddrSpace)
			}
		}
	}
	if len(out.Globals) != 2 {
		t.Fatalf("exported %d globals", len(out.Globals))
	}
}
