package structurize

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"dxlower/internal/diag"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// run interprets fn over integers. Calls to @sink append their argument to
// the trace and dx.break always yields true.
func run(t *testing.T, m *ir.Module, fn *ir.Func, args ...int64) (int64, []int64) {
	t.Helper()
	env := make(map[ir.ValueID]int64)
	mem := make(map[ir.ValueID]int64)
	var trace []int64

	val := func(id ir.ValueID) int64 {
		v := m.Value(id)
		switch v.Kind {
		case ir.ValueConstInt:
			x, _ := m.ConstIntValue(id)
			return x
		case ir.ValueArg:
			return args[v.ArgIndex]
		case ir.ValueUndef, ir.ValueZero:
			return 0
		case ir.ValueInstr:
			x, ok := env[id]
			if !ok {
				t.Fatalf("%%%d used before definition", id)
			}
			return x
		}
		t.Fatalf("cannot evaluate %s", v.Kind)
		return 0
	}
	b2i := func(c bool) int64 {
		if c {
			return 1
		}
		return 0
	}

	prev, bb := ir.NoBlockID, m.Entry(fn.ID)
	for steps := 0; steps < 10000; steps++ {
		phis := m.Phis(bb)
		incoming := make([]int64, len(phis))
		for i, phi := range phis {
			in, ok := m.IncomingFor(phi, prev)
			if !ok {
				t.Fatalf("phi in %%%s has no incoming from %%%s", m.Block(bb).Name, m.Block(prev).Name)
			}
			incoming[i] = val(in)
		}
		for i, phi := range phis {
			env[phi] = incoming[i]
		}
		next := ir.NoBlockID
		for _, id := range m.Block(bb).Instrs[len(phis):] {
			v := m.Value(id)
			switch v.Op {
			case ir.OpAlloca:
				env[id] = int64(id)
			case ir.OpStore:
				mem[ir.ValueID(val(v.Operands[1]))] = val(v.Operands[0])
			case ir.OpLoad:
				env[id] = mem[ir.ValueID(val(v.Operands[0]))]
			case ir.OpAdd:
				env[id] = val(v.Operands[0]) + val(v.Operands[1])
			case ir.OpSub:
				env[id] = val(v.Operands[0]) - val(v.Operands[1])
			case ir.OpMul:
				env[id] = val(v.Operands[0]) * val(v.Operands[1])
			case ir.OpICmp:
				x, y := val(v.Operands[0]), val(v.Operands[1])
				switch v.Pred {
				case ir.PredEQ:
					env[id] = b2i(x == y)
				case ir.PredNE:
					env[id] = b2i(x != y)
				case ir.PredSLT:
					env[id] = b2i(x < y)
				case ir.PredSGT:
					env[id] = b2i(x > y)
				default:
					t.Fatalf("unsupported predicate %s", v.Pred)
				}
			case ir.OpCall:
				callee, _ := m.CalledFunc(id)
				switch callee.Name {
				case "sink":
					trace = append(trace, val(v.Args()[0]))
				case BreakFunc:
					env[id] = 1
				default:
					t.Fatalf("unexpected call to @%s", callee.Name)
				}
			case ir.OpBr:
				next = v.Targets[0]
			case ir.OpCondBr:
				if val(v.Operands[0]) != 0 {
					next = v.Targets[0]
				} else {
					next = v.Targets[1]
				}
			case ir.OpRet:
				return val(v.Operands[0]), trace
			default:
				t.Fatalf("unsupported instruction %s", v.Op)
			}
		}
		prev, bb = bb, next
	}
	t.Fatalf("@%s did not return", fn.Name)
	return 0, nil
}

type fixture struct {
	m    *ir.Module
	b    *ir.Builder
	fn   *ir.Func
	sink *ir.Func
	ret  ir.ValueID
	exit ir.BlockID
	blk  map[string]ir.BlockID
}

// newFixture creates fn(i32 params...) with a return slot, its exit block
// returning the slot, and the named blocks in order.
func newFixture(t *testing.T, params []string, blocks ...string) *fixture {
	t.Helper()
	m := ir.NewModule("s")
	ts := m.Types
	bt := ts.Builtins()
	ptys := make([]ir.TypeID, len(params))
	for i := range ptys {
		ptys[i] = bt.I32
	}
	f := &fixture{m: m, b: ir.NewBuilder(m), blk: make(map[string]ir.BlockID)}
	f.sink = m.NewFunc("sink", ts.Func(bt.Void, bt.I32))
	f.fn = m.NewFunc("f", ts.Func(bt.I32, ptys...), params...)
	entry := m.NewBlock(f.fn.ID, "entry")
	f.blk["entry"] = entry
	for _, name := range blocks {
		f.blk[name] = m.NewBlock(f.fn.ID, name)
	}
	f.exit = m.NewBlock(f.fn.ID, "exit")
	f.b.SetInsertPointAtEnd(entry)
	f.ret = f.b.Alloca(bt.I32, "retval")
	f.b.SetInsertPointAtEnd(f.exit)
	f.b.Ret(f.b.Load(f.ret, "r"))
	f.b.SetInsertPointAtEnd(entry)
	return f
}

func (f *fixture) at(name string) *ir.Builder {
	f.b.SetInsertPointAtEnd(f.blk[name])
	return f.b
}

func (f *fixture) emitSink(v ir.ValueID) { f.b.Call(f.sink, v) }

func (f *fixture) emitReturn(v ir.ValueID) {
	f.b.Store(v, f.ret)
	f.b.Br(f.exit)
}

func (f *fixture) param(i int) ir.ValueID { return f.fn.Params[i] }

func (f *fixture) c(v int64) ir.ValueID { return f.m.ConstI32(v) }

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	if err := ir.Verify(f.m); err != nil {
		t.Fatalf("verify: %v\n%s", err, f.m.FuncString(f.fn))
	}
}

// nestedIfs builds
//
//	if (a > 0) { if (b > 0) { sink(1); return 10; } sink(2); }
//	sink(3); return 20;
func nestedIfs(t *testing.T) (*fixture, *ScopeInfo) {
	f := newFixture(t, []string{"a", "b"}, "if1", "if2", "end2", "end1")
	b := f.at("entry")
	b.CondBr(b.ICmp(ir.PredSGT, f.param(0), f.c(0)), f.blk["if1"], f.blk["end1"])
	b = f.at("if1")
	b.CondBr(b.ICmp(ir.PredSGT, f.param(1), f.c(0)), f.blk["if2"], f.blk["end2"])
	f.at("if2")
	f.emitSink(f.c(1))
	f.emitReturn(f.c(10))
	b = f.at("end2")
	f.emitSink(f.c(2))
	b.Br(f.blk["end1"])
	f.at("end1")
	f.emitSink(f.c(3))
	f.emitReturn(f.c(20))

	si := NewScopeInfo(f.exit)
	si.AddIf(f.blk["end1"])
	si.AddIf(f.blk["end2"])
	si.AddRet(f.blk["if2"])
	si.EndScope(false)
	si.EndScope(false)
	si.AddRet(f.blk["end1"])
	return f, si
}

type result struct {
	ret   int64
	trace []int64
}

func runAll(t *testing.T, f *fixture, inputs [][]int64) []result {
	t.Helper()
	out := make([]result, len(inputs))
	for i, in := range inputs {
		r, tr := run(t, f.m, f.fn, in...)
		out[i] = result{r, tr}
	}
	return out
}

func TestStructurizeNestedIfs(t *testing.T) {
	f, si := nestedIfs(t)
	f.verify(t)
	inputs := [][]int64{{1, 1}, {1, 0}, {0, 1}, {0, 0}}
	before := runAll(t, f, inputs)

	if si.CanSkipStructurize() {
		t.Fatalf("a return two ifs deep must be structurized")
	}
	if !StructurizeMultiRet(f.m, f.fn, si, Options{}, diag.NopReporter{}) {
		t.Fatalf("function was not changed")
	}
	f.verify(t)
	after := runAll(t, f, inputs)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("behavior changed:\nbefore %v\nafter  %v\n%s", before, after, f.m.FuncString(f.fn))
	}
	if got := after[0]; got.ret != 10 || !reflect.DeepEqual(got.trace, []int64{1}) {
		t.Fatalf("early return: %v", got)
	}

	// The nested return now leaves only its own if.
	term := f.m.Value(f.m.Terminator(f.blk["if2"]))
	if term.Op != ir.OpBr || f.m.Block(term.Targets[0]).Name != "end2.guard" {
		t.Fatalf("nested return branches to %%%s", f.m.Block(term.Targets[0]).Name)
	}
	for _, p := range f.m.Preds(f.exit) {
		switch f.m.Block(p).Name {
		case "end1", "end1.guard":
		default:
			t.Fatalf("%%%s still branches to the exit block", f.m.Block(p).Name)
		}
	}
	text := f.m.FuncString(f.fn)
	if !strings.Contains(text, "%bReturned = alloca i1") {
		t.Fatalf("missing returned flag:\n%s", text)
	}
	// The return slot is zeroed right after its alloca.
	entry := f.m.Block(f.m.Entry(f.fn.ID)).Instrs
	for i, id := range entry {
		if id != f.ret {
			continue
		}
		st := f.m.Value(entry[i+1])
		if st.Op != ir.OpStore || st.Operands[1] != f.ret || st.Operands[0] != f.c(0) {
			t.Fatalf("return slot is not zero initialized:\n%s", text)
		}
	}
}

// loop builds
//
//	for (i = 0; i < n; i++) { if (i == 2) { sink(100); return i; } sink(i); }
//	sink(last i); return -1;
func loop(t *testing.T) (*fixture, *ScopeInfo) {
	f := newFixture(t, []string{"n"}, "header", "body", "ret1", "cont", "latch", "loopend")
	m := f.m
	i32 := m.Types.Builtins().I32
	b := f.at("entry")
	b.Br(f.blk["header"])

	b = f.at("header")
	i := b.Phi(i32, "i")
	b.CondBr(b.ICmp(ir.PredSLT, i, f.param(0)), f.blk["body"], f.blk["loopend"])

	b = f.at("body")
	b.CondBr(b.ICmp(ir.PredEQ, i, f.c(2)), f.blk["ret1"], f.blk["cont"])

	f.at("ret1")
	f.emitSink(f.c(100))
	f.emitReturn(i)

	b = f.at("cont")
	f.emitSink(i)
	b.Br(f.blk["latch"])

	b = f.at("latch")
	next := b.Binary(ir.OpAdd, i, f.c(1))
	b.Br(f.blk["header"])
	m.AddIncoming(i, f.c(0), f.blk["entry"])
	m.AddIncoming(i, next, f.blk["latch"])

	b = f.at("loopend")
	last := b.Phi(i32, "last")
	m.AddIncoming(last, i, f.blk["header"])
	f.emitSink(last)
	f.emitReturn(f.c(-1))

	si := NewScopeInfo(f.exit)
	si.AddLoop(f.blk["latch"], f.blk["loopend"])
	si.AddIf(f.blk["cont"])
	si.AddRet(f.blk["ret1"])
	si.EndScope(false)
	si.EndScope(false)
	si.AddRet(f.blk["loopend"])
	return f, si
}

func TestStructurizeLoopReturn(t *testing.T) {
	for _, wave := range []bool{false, true} {
		t.Run(fmt.Sprintf("wave=%v", wave), func(t *testing.T) {
			f, si := loop(t)
			f.verify(t)
			inputs := [][]int64{{0}, {1}, {2}, {5}}
			before := runAll(t, f, inputs)

			if si.Scopes[si.Rets[0]].Parent != 1 {
				t.Fatalf("return in a loop must belong to the loop, got scope %d", si.Scopes[si.Rets[0]].Parent)
			}
			if !StructurizeMultiRet(f.m, f.fn, si, Options{WaveSensitive: wave}, diag.NopReporter{}) {
				t.Fatalf("function was not changed")
			}
			f.verify(t)
			after := runAll(t, f, inputs)
			if !reflect.DeepEqual(before, after) {
				t.Fatalf("behavior changed:\nbefore %v\nafter  %v\n%s", before, after, f.m.FuncString(f.fn))
			}
			if got := after[3]; got.ret != 2 || !reflect.DeepEqual(got.trace, []int64{0, 1, 100}) {
				t.Fatalf("return from the loop: %v", got)
			}

			term := f.m.Value(f.m.Terminator(f.blk["ret1"]))
			_, hasBreak := f.m.FuncByName(BreakFunc)
			if wave {
				if term.Op != ir.OpCondBr || !hasBreak {
					t.Fatalf("wave-sensitive loop exit must be a dx.break condition:\n%s", f.m.FuncString(f.fn))
				}
				if term.Targets[1] != f.blk["latch"] {
					t.Fatalf("dx.break false edge must go to the continue block")
				}
			} else if term.Op != ir.OpBr || hasBreak {
				t.Fatalf("plain loop exit expected:\n%s", f.m.FuncString(f.fn))
			}
			// The phi of the loop end moved into its guard.
			if len(f.m.Phis(f.blk["loopend"])) != 0 {
				t.Fatalf("loop end kept its phi:\n%s", f.m.FuncString(f.fn))
			}
		})
	}
}

func TestStructurizeDetectsWaveSensitiveCalls(t *testing.T) {
	f, si := loop(t)
	bt := f.m.Types.Builtins()
	wave := f.m.NewFunc("dx.hl.op.wave", f.m.Types.Func(bt.I32, bt.I32))
	wave.SetAttr(hlop.AttrWaveSensitive, "true")
	f.b.SetInsertPoint(f.m.Terminator(f.blk["body"]))
	f.b.Call(wave, f.c(0))

	StructurizeMultiRet(f.m, f.fn, si, Options{}, diag.NopReporter{})
	if _, ok := f.m.FuncByName(BreakFunc); !ok {
		t.Fatalf("a function calling a wave op must use dx.break:\n%s", f.m.FuncString(f.fn))
	}
}

// nestedLoops returns from an inner loop, so the guard of the inner loop end
// leaves the outer loop too.
func nestedLoops(t *testing.T) (*fixture, *ScopeInfo) {
	f := newFixture(t, []string{"m", "n"},
		"oh", "ih", "ib", "ret1", "icont", "il", "iend", "ol", "oend")
	m := f.m
	i32 := m.Types.Builtins().I32
	b := f.at("entry")
	b.Br(f.blk["oh"])

	b = f.at("oh")
	j := b.Phi(i32, "j")
	b.CondBr(b.ICmp(ir.PredSLT, j, f.param(0)), f.blk["ih"], f.blk["oend"])

	b = f.at("ih")
	i := b.Phi(i32, "i")
	b.CondBr(b.ICmp(ir.PredSLT, i, f.param(1)), f.blk["ib"], f.blk["iend"])

	b = f.at("ib")
	sum := b.Binary(ir.OpAdd, i, j)
	b.CondBr(b.ICmp(ir.PredEQ, sum, f.c(3)), f.blk["ret1"], f.blk["icont"])

	f.at("ret1")
	f.emitSink(f.c(7))
	f.emitReturn(f.c(1))

	b = f.at("icont")
	f.emitSink(i)
	b.Br(f.blk["il"])

	b = f.at("il")
	in := b.Binary(ir.OpAdd, i, f.c(1))
	b.Br(f.blk["ih"])
	m.AddIncoming(i, f.c(0), f.blk["oh"])
	m.AddIncoming(i, in, f.blk["il"])

	b = f.at("iend")
	f.emitSink(f.c(50))
	b.Br(f.blk["ol"])

	b = f.at("ol")
	jn := b.Binary(ir.OpAdd, j, f.c(1))
	b.Br(f.blk["oh"])
	m.AddIncoming(j, f.c(0), f.blk["entry"])
	m.AddIncoming(j, jn, f.blk["ol"])

	f.at("oend")
	f.emitSink(f.c(60))
	f.emitReturn(f.c(0))

	si := NewScopeInfo(f.exit)
	si.AddLoop(f.blk["ol"], f.blk["oend"])
	si.AddLoop(f.blk["il"], f.blk["iend"])
	si.AddIf(f.blk["icont"])
	si.AddRet(f.blk["ret1"])
	si.EndScope(false)
	si.EndScope(false)
	si.EndScope(false)
	si.AddRet(f.blk["oend"])
	return f, si
}

func TestStructurizeNestedLoops(t *testing.T) {
	for _, wave := range []bool{false, true} {
		t.Run(fmt.Sprintf("wave=%v", wave), func(t *testing.T) {
			f, si := nestedLoops(t)
			f.verify(t)
			inputs := [][]int64{{2, 3}, {1, 5}, {0, 0}, {3, 1}}
			before := runAll(t, f, inputs)
			if got := before[0]; got.ret != 1 || !reflect.DeepEqual(got.trace, []int64{0, 1, 2, 50, 0, 1, 7}) {
				t.Fatalf("unexpected reference run: %v", got)
			}

			StructurizeMultiRet(f.m, f.fn, si, Options{WaveSensitive: wave}, diag.NopReporter{})
			f.verify(t)
			after := runAll(t, f, inputs)
			if !reflect.DeepEqual(before, after) {
				t.Fatalf("behavior changed:\nbefore %v\nafter  %v\n%s", before, after, f.m.FuncString(f.fn))
			}
			text := f.m.FuncString(f.fn)
			if got := strings.Contains(text, "iend.break:"); got != wave {
				t.Fatalf("break block present = %v, want %v:\n%s", got, wave, text)
			}
			if !strings.Contains(text, "iend.guard:") || !strings.Contains(text, "oend.guard:") {
				t.Fatalf("missing guards:\n%s", text)
			}
		})
	}
}

func TestStructurizeSharedEndGetsOneGuard(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, "if1", "if2", "end")
	b := f.at("entry")
	b.CondBr(b.ICmp(ir.PredSGT, f.param(0), f.c(0)), f.blk["if1"], f.blk["end"])
	b = f.at("if1")
	b.CondBr(b.ICmp(ir.PredSGT, f.param(1), f.c(0)), f.blk["if2"], f.blk["end"])
	f.at("if2")
	f.emitSink(f.c(1))
	f.emitReturn(f.c(1))
	f.at("end")
	f.emitSink(f.c(3))
	f.emitReturn(f.c(0))

	si := NewScopeInfo(f.exit)
	si.AddIf(f.blk["end"])
	si.AddIf(f.blk["end"])
	si.AddRet(f.blk["if2"])
	si.EndScope(false)
	si.EndScope(false)
	si.AddRet(f.blk["end"])

	inputs := [][]int64{{1, 1}, {1, 0}, {0, 0}}
	before := runAll(t, f, inputs)
	StructurizeMultiRet(f.m, f.fn, si, Options{}, diag.NopReporter{})
	f.verify(t)
	if after := runAll(t, f, inputs); !reflect.DeepEqual(before, after) {
		t.Fatalf("behavior changed:\nbefore %v\nafter  %v", before, after)
	}
	if n := strings.Count(f.m.FuncString(f.fn), ".guard:"); n != 1 {
		t.Fatalf("got %d guards for one shared end:\n%s", n, f.m.FuncString(f.fn))
	}
}

func TestCanSkipStructurize(t *testing.T) {
	exit := ir.BlockID(0)
	cases := []struct {
		name  string
		build func(si *ScopeInfo)
		want  bool
	}{
		{"single return", func(si *ScopeInfo) { si.AddRet(1) }, true},
		{"returns in ifs", func(si *ScopeInfo) {
			si.AddIf(2)
			si.AddRet(1)
			si.EndScope(false)
			si.AddRet(2)
		}, true},
		{"return two ifs deep", func(si *ScopeInfo) {
			si.AddIf(2)
			si.AddIf(3)
			si.AddRet(1)
			si.EndScope(false)
			si.EndScope(false)
			si.AddRet(2)
		}, false},
		{"return in a switch", func(si *ScopeInfo) {
			si.AddSwitch(2)
			si.AddRet(1)
			si.EndScope(false)
			si.AddRet(2)
		}, false},
	}
	for _, tc := range cases {
		si := NewScopeInfo(exit)
		tc.build(si)
		if got := si.CanSkipStructurize(); got != tc.want {
			t.Errorf("%s: CanSkipStructurize = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSkippedFunctionIsUnchanged(t *testing.T) {
	f := newFixture(t, []string{"a"}, "then", "end")
	b := f.at("entry")
	b.CondBr(b.ICmp(ir.PredSGT, f.param(0), f.c(0)), f.blk["then"], f.blk["end"])
	f.at("then")
	f.emitReturn(f.c(1))
	f.at("end")
	f.emitReturn(f.c(2))

	si := NewScopeInfo(f.exit)
	si.AddIf(f.blk["end"])
	si.AddRet(f.blk["then"])
	si.EndScope(false)
	si.AddRet(f.blk["end"])

	text := f.m.String()
	if StructurizeMultiRet(f.m, f.fn, si, Options{}, diag.NopReporter{}) {
		t.Fatalf("returns one if deep need no structurizing")
	}
	if f.m.String() != text {
		t.Fatalf("skipped function was modified")
	}
}

func TestCleanupBlocksAreReported(t *testing.T) {
	f, si := nestedIfs(t)
	si.AddCleanupBB(f.blk["end2"])
	bag := diag.NewBag(8)
	text := f.m.String()
	if StructurizeMultiRet(f.m, f.fn, si, Options{}, diag.BagReporter{Bag: bag}) {
		t.Fatalf("function with cleanups was structurized")
	}
	if bag.Count(diag.LowStructurizeSkipped) != 1 || bag.HasErrors() {
		t.Fatalf("expected one skip warning, got %v", bag.Items())
	}
	if f.m.String() != text {
		t.Fatalf("function with cleanups was modified")
	}
}

func TestReturnUnderReturnPanics(t *testing.T) {
	f, si := nestedIfs(t)
	si.Scopes[si.Rets[1]].Parent = si.Rets[0]
	defer func() {
		if r := recover(); r == nil || !strings.Contains(fmt.Sprint(r), "nested in a return scope") {
			t.Fatalf("expected a panic, got %v", r)
		}
	}()
	StructurizeMultiRet(f.m, f.fn, si, Options{}, diag.NopReporter{})
}

func TestLegalizeWholeReturnedScope(t *testing.T) {
	f := newFixture(t, []string{"a"}, "outerEnd", "deadEnd")
	f.at("entry").Br(f.blk["outerEnd"])
	f.at("outerEnd")
	f.emitReturn(f.c(0))
	f.at("deadEnd").Unreachable()

	si := NewScopeInfo(f.exit)
	outer := si.AddIf(f.blk["outerEnd"])
	inner := si.AddIf(f.blk["deadEnd"])
	si.EndScope(true)
	live := si.AddIf(f.blk["outerEnd"])
	si.EndScope(true)
	si.EndScope(false)

	si.LegalizeWholeReturnedScope(f.m)
	if got := si.Scopes[inner].End; got != f.blk["outerEnd"] {
		t.Fatalf("whole returned scope end = %%%s, want %%outerEnd", f.m.Block(got).Name)
	}
	if got := si.Scopes[live].End; got != f.blk["outerEnd"] {
		t.Fatalf("scope with a live end was moved to %%%s", f.m.Block(got).Name)
	}
	if got := si.Scopes[outer].End; got != f.blk["outerEnd"] {
		t.Fatalf("outer scope end changed")
	}
}

func TestStructurizeModuleCountsChangedFunctions(t *testing.T) {
	f, si := nestedIfs(t)
	n := StructurizeModule(f.m, map[string]*ScopeInfo{"f": si, "sink": NewScopeInfo(ir.NoBlockID)}, Options{}, diag.NopReporter{})
	if n != 1 {
		t.Fatalf("changed = %d, want 1", n)
	}
	f.verify(t)
}
