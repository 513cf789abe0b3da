package ir

import (
	"strings"
	"testing"
)

func newAdd1(t *testing.T) (*Module, *Func) {
	t.Helper()
	m := NewModule("t")
	ts := m.Types
	b := ts.Builtins()
	fn := m.NewFunc("add1", ts.Func(b.I32, b.I32), "x")
	entry := m.NewBlock(fn.ID, "entry")
	bl := NewBuilder(m)
	bl.SetInsertPointAtEnd(entry)
	s := bl.Binary(OpAdd, fn.Params[0], m.ConstI32(1))
	bl.Ret(s)
	return m, fn
}

func TestPrintSimpleFunc(t *testing.T) {
	m, _ := newAdd1(t)
	want := "; module t\n\ndefine i32 @add1(i32 %x) {\nentry:\n  %0 = add i32 %x, 1\n  ret i32 %0\n}\n"
	if got := m.String(); got != want {
		t.Fatalf("unexpected print:\n%s\nwant:\n%s", got, want)
	}
	if err := Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestConstantsAreInterned(t *testing.T) {
	m := NewModule("c")
	if m.ConstI32(7) != m.ConstI32(7) {
		t.Fatalf("i32 7 interned twice")
	}
	if m.ConstI32(-1) != m.ConstInt(m.Types.Builtins().I32, 0xffffffff) {
		t.Fatalf("-1 and 0xffffffff must be the same i32")
	}
	if v, _ := m.ConstIntValue(m.ConstI32(-5)); v != -5 {
		t.Fatalf("sign extension: got %d", v)
	}
	f := m.ConstFloat(m.Types.Builtins().Float, 0.1)
	if got, _ := m.ConstFloatValue(f); got != float64(float32(0.1)) {
		t.Fatalf("float constant not rounded to single: %v", got)
	}
}

func TestReplaceAllUsesAndErase(t *testing.T) {
	m, fn := newAdd1(t)
	entry := m.Entry(fn.ID)
	add := m.Block(entry).Instrs[0]
	ret := m.Block(entry).Instrs[1]

	bl := NewBuilder(m)
	bl.SetInsertPoint(ret)
	mul := bl.Binary(OpMul, fn.Params[0], m.ConstI32(3))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("erasing a used instruction must panic")
			}
		}()
		m.EraseInstr(add)
	}()

	m.ReplaceAllUsesWith(add, mul)
	if m.HasUses(add) {
		t.Fatalf("add still used after RAUW")
	}
	m.EraseInstr(add)
	if got := m.Value(ret).Operands[0]; got != mul {
		t.Fatalf("ret operand = %%%d, want %%%d", got, mul)
	}
	if err := Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(m.FuncString(fn), "mul i32 %x, 3") {
		t.Fatalf("missing mul:\n%s", m.FuncString(fn))
	}
}

func TestVerifyReportsBrokenBlocks(t *testing.T) {
	m := NewModule("bad")
	b := m.Types.Builtins()
	fn := m.NewFunc("f", m.Types.Func(b.Void))
	m.NewBlock(fn.ID, "entry")
	err := Verify(m)
	if err == nil || !strings.Contains(err.Error(), "unterminated") {
		t.Fatalf("expected unterminated block error, got %v", err)
	}
}

func TestSplitBlockAndPhis(t *testing.T) {
	m := NewModule("cfg")
	ts := m.Types
	b := ts.Builtins()
	fn := m.NewFunc("sel", ts.Func(b.I32, b.I1), "c")
	entry := m.NewBlock(fn.ID, "entry")
	then := m.NewBlock(fn.ID, "then")
	join := m.NewBlock(fn.ID, "join")
	bl := NewBuilder(m)
	bl.SetInsertPointAtEnd(entry)
	bl.CondBr(fn.Params[0], then, join)
	bl.SetInsertPointAtEnd(then)
	bl.Br(join)
	bl.SetInsertPointAtEnd(join)
	phi := bl.Phi(b.I32, "r")
	m.AddIncoming(phi, m.ConstI32(1), entry)
	m.AddIncoming(phi, m.ConstI32(2), then)
	bl.Ret(phi)

	if preds := m.Preds(join); len(preds) != 2 {
		t.Fatalf("join preds = %v", preds)
	}
	if err := Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Splitting "then" before its branch moves the edge to the new block.
	tail := m.SplitBlockBefore(m.Terminator(then), "then.tail")
	if _, ok := m.IncomingFor(phi, tail); !ok {
		t.Fatalf("phi was not updated to the split block")
	}
	if err := Verify(m); err != nil {
		t.Fatalf("verify after split: %v", err)
	}

	m.RemoveIncoming(phi, entry)
	if got := len(m.Value(phi).Operands); got != 1 {
		t.Fatalf("incoming after removal = %d", got)
	}
	if m.HasUses(m.ConstI32(1)) {
		t.Fatalf("removed incoming still registered as a use")
	}
}

func TestImageRoundTripRebuildsUses(t *testing.T) {
	m, fn := newAdd1(t)
	g := m.NewGlobal("counter", m.Types.Builtins().I32, m.ConstI32(4), false, 0)
	before := m.String()

	back, err := FromImage(m.Image())
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	if got := back.String(); got != before {
		t.Fatalf("print differs after round trip:\n%s\nwant:\n%s", got, before)
	}
	if back.NumUses(fn.Params[0]) != 1 {
		t.Fatalf("param uses = %d, want 1", back.NumUses(fn.Params[0]))
	}
	if _, ok := back.GlobalByName("counter"); !ok {
		t.Fatalf("global lost")
	}
	if back.ConstI32(4) != back.Value(g).Init {
		t.Fatalf("constant intern table not restored")
	}
	if err := Verify(back); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestNamedStructRedefinitionPanics(t *testing.T) {
	ts := NewTypes()
	b := ts.Builtins()
	s := ts.NamedStruct("S", b.I32, b.Float)
	if ts.NamedStruct("S") != s {
		t.Fatalf("lookup by name returned a different id")
	}
	if got, ok := ts.IndexedType(ts.Array(s, 4), []int64{2, 1}); !ok || got != b.Float {
		t.Fatalf("IndexedType = %v %v", got, ok)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("redefinition must panic")
		}
	}()
	ts.NamedStruct("S", b.I32)
}
