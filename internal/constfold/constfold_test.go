package constfold

import (
	"math"
	"strings"
	"testing"

	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

type fixture struct {
	m  *ir.Module
	b  *ir.Builder
	fn *ir.Func
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := ir.NewModule("fold")
	fn := m.NewFunc("f", m.Types.Func(m.Types.Builtins().Void))
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(fn.ID, "entry"))
	return &fixture{m: m, b: b, fn: fn}
}

func (f *fixture) call(ret ir.TypeID, op hlop.IntrinsicOp, args ...ir.ValueID) ir.ValueID {
	return hlop.Emit(f.b, ret, hlop.GroupIntrinsic, uint32(op), args...)
}

func (f *fixture) floats(ty ir.TypeID, xs ...float64) ir.ValueID {
	ts := f.m.Types
	if !ts.IsVector(ty) {
		return f.m.ConstFloat(ty, xs[0])
	}
	elems := make([]ir.ValueID, len(xs))
	for i, x := range xs {
		elems[i] = f.m.ConstFloat(ts.Elem(ty), x)
	}
	return f.m.ConstAggregate(ty, elems...)
}

func floatsOf(t *testing.T, m *ir.Module, v ir.ValueID) []float64 {
	t.Helper()
	if v == ir.NoValueID {
		t.Fatalf("call was not folded")
	}
	if x, ok := m.ConstFloatValue(v); ok {
		return []float64{x}
	}
	elems, ok := m.ConstElements(v)
	if !ok {
		t.Fatalf("folded value is not a constant: %s", m.Value(v).Kind)
	}
	out := make([]float64, len(elems))
	for i, e := range elems {
		x, ok := m.ConstFloatValue(e)
		if !ok {
			t.Fatalf("element %d is not a float constant", i)
		}
		out[i] = x
	}
	return out
}

func TestRoundIsVersionGated(t *testing.T) {
	tests := []struct {
		x       float64
		version uint32
		want    float64
	}{
		{2.5, 2016, 3},
		{-2.5, 2016, -3},
		{0.5, 2016, 1},
		{2.5, 2018, 2},
		{-2.5, 2021, -2},
		{3.5, 2021, 4},
		{2.4, 2021, 2},
	}
	for _, tt := range tests {
		for _, width := range []uint16{32, 64} {
			f := newFixture(t)
			ty := f.m.Types.Float(width)
			call := f.call(ty, hlop.IOPround, f.floats(ty, tt.x))
			got := floatsOf(t, f.m, TryEvalIntrinsic(f.m, call, Options{LanguageVersion: tt.version}))
			if got[0] != tt.want {
				t.Errorf("round(%v) f%d at %d = %v, want %v", tt.x, width, tt.version, got[0], tt.want)
			}
		}
	}
}

func TestFoldVectorPowPerElement(t *testing.T) {
	f := newFixture(t)
	ts := f.m.Types
	v2 := ts.Vector(ts.Builtins().Float, 2)
	call := f.call(v2, hlop.IOPpow, f.floats(v2, 2, 3), f.floats(v2, 3, 0.5))
	got := floatsOf(t, f.m, TryEvalIntrinsic(f.m, call, DefaultOptions()))
	want := []float64{8, float64(float32(math.Sqrt(3)))}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("pow = %v, want %v", got, want)
	}
	if f.m.Value(call).Erased {
		t.Fatalf("TryEvalIntrinsic must not touch the call")
	}
}

func TestCompositions(t *testing.T) {
	tests := []struct {
		op   hlop.IntrinsicOp
		x    float64
		want float64
	}{
		{hlop.IOPrsqrt, 4, 0.5},
		{hlop.IOPrcp, 4, 0.25},
		{hlop.IOPfrac, -1.25, 0.75},
		{hlop.IOPsaturate, 1.5, 1},
		{hlop.IOPsaturate, -3, 0},
		{hlop.IOPabs, -2, 2},
		{hlop.IOPexp2, 10, 1024},
		{hlop.IOPlog10, 1000, 3},
	}
	for _, tt := range tests {
		f := newFixture(t)
		d := f.m.Types.Builtins().Double
		call := f.call(d, tt.op, f.floats(d, tt.x))
		got := floatsOf(t, f.m, TryEvalIntrinsic(f.m, call, DefaultOptions()))
		if math.Abs(got[0]-tt.want) > 1e-12 {
			t.Errorf("%s(%v) = %v, want %v", tt.op, tt.x, got[0], tt.want)
		}
	}
}

func TestIntegerMinMaxSignedness(t *testing.T) {
	f := newFixture(t)
	i32 := f.m.Types.Builtins().I32
	neg, one := f.m.ConstI32(-1), f.m.ConstI32(1)

	signed := TryEvalIntrinsic(f.m, f.call(i32, hlop.IOPmax, neg, one), DefaultOptions())
	if v, _ := f.m.ConstIntValue(signed); v != 1 {
		t.Errorf("max(-1, 1) = %d", v)
	}
	unsigned := TryEvalIntrinsic(f.m, f.call(i32, hlop.IOPumax, neg, one), DefaultOptions())
	if v, _ := f.m.ConstUintValue(unsigned); v != 0xffffffff {
		t.Errorf("umax(0xffffffff, 1) = %#x", v)
	}
	clamped := TryEvalIntrinsic(f.m, f.call(i32, hlop.IOPclamp, f.m.ConstI32(9), neg, f.m.ConstI32(4)), DefaultOptions())
	if v, _ := f.m.ConstIntValue(clamped); v != 4 {
		t.Errorf("clamp(9, -1, 4) = %d", v)
	}
}

func TestIsNaNOnVectors(t *testing.T) {
	f := newFixture(t)
	ts := f.m.Types
	v3 := ts.Vector(ts.Builtins().Float, 3)
	b3 := ts.Vector(ts.Builtins().I1, 3)
	arg := f.floats(v3, math.NaN(), 1, math.Inf(1))

	nan := TryEvalIntrinsic(f.m, f.call(b3, hlop.IOPisnan, arg), DefaultOptions())
	inf := TryEvalIntrinsic(f.m, f.call(b3, hlop.IOPisinf, arg), DefaultOptions())
	fin := TryEvalIntrinsic(f.m, f.call(b3, hlop.IOPisfinite, arg), DefaultOptions())
	check := func(name string, v ir.ValueID, want ...bool) {
		t.Helper()
		elems, ok := f.m.ConstElements(v)
		if !ok {
			t.Fatalf("%s was not folded", name)
		}
		for i, e := range elems {
			got, _ := f.m.ConstUintValue(e)
			if (got != 0) != want[i] {
				t.Errorf("%s lane %d = %v, want %v", name, i, got != 0, want[i])
			}
		}
	}
	check("isnan", nan, true, false, false)
	check("isinf", inf, false, false, true)
	check("isfinite", fin, false, true, false)
}

func TestAtan2TakesYThenX(t *testing.T) {
	f := newFixture(t)
	d := f.m.Types.Builtins().Double
	got := floatsOf(t, f.m, TryEvalIntrinsic(f.m, f.call(d, hlop.IOPatan2, f.floats(d, 1), f.floats(d, 0)), DefaultOptions()))
	if got[0] != math.Pi/2 {
		t.Fatalf("atan2(1, 0) = %v", got[0])
	}
}

func TestNotFoldable(t *testing.T) {
	f := newFixture(t)
	fl := f.m.Types.Builtins().Float
	h := f.m.Types.Float(16)
	cases := map[string]ir.ValueID{
		"undef operand":   f.call(fl, hlop.IOPsin, f.m.Undef(fl)),
		"half":            f.call(h, hlop.IOPsin, f.m.ConstFloat(h, 1)),
		"wrong arity":     f.call(fl, hlop.IOPpow, f.floats(fl, 1)),
		"not elementwise": f.call(fl, hlop.IOPdot, f.floats(fl, 1), f.floats(fl, 2)),
	}
	for name, call := range cases {
		if got := TryEvalIntrinsic(f.m, call, DefaultOptions()); got != ir.NoValueID {
			t.Errorf("%s: folded to %%%d", name, got)
		}
	}
}

func TestFoldModuleChainsAndErasesDeclarations(t *testing.T) {
	m := ir.NewModule("fold")
	fl := m.Types.Builtins().Float
	fn := m.NewFunc("f", m.Types.Func(fl, fl), "x")
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(fn.ID, "entry"))
	p := hlop.Emit(b, fl, hlop.GroupIntrinsic, uint32(hlop.IOPpow), m.ConstFloat(fl, 2), m.ConstFloat(fl, 4))
	s := hlop.Emit(b, fl, hlop.GroupIntrinsic, uint32(hlop.IOPsqrt), p)
	keep := hlop.Emit(b, fl, hlop.GroupIntrinsic, uint32(hlop.IOPsin), fn.Params[0])
	sum := b.Binary(ir.OpFAdd, s, keep)
	b.Ret(sum)

	st := FoldModule(m, DefaultOptions())
	if st.Folded != 2 {
		t.Fatalf("folded %d calls, want 2", st.Folded)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got, _ := m.ConstFloatValue(m.Value(sum).Operands[0]); got != 4 {
		t.Fatalf("sqrt(pow(2, 4)) = %v", got)
	}
	if m.Value(sum).Operands[1] != keep {
		t.Fatalf("non-constant call was folded")
	}
	text := m.String()
	if strings.Count(text, "declare") != 1 {
		t.Fatalf("unused intrinsic declarations were not erased:\n%s", text)
	}
}
