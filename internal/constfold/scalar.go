package constfold

import (
	"math"

	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

var arities = map[hlop.IntrinsicOp]int{
	hlop.IOPsin: 1, hlop.IOPcos: 1, hlop.IOPtan: 1,
	hlop.IOPasin: 1, hlop.IOPacos: 1, hlop.IOPatan: 1,
	hlop.IOPsinh: 1, hlop.IOPcosh: 1, hlop.IOPtanh: 1,
	hlop.IOPexp: 1, hlop.IOPexp2: 1,
	hlop.IOPlog: 1, hlop.IOPlog2: 1, hlop.IOPlog10: 1,
	hlop.IOPsqrt: 1, hlop.IOPrsqrt: 1, hlop.IOPrcp: 1,
	hlop.IOPfloor: 1, hlop.IOPceil: 1, hlop.IOPtrunc: 1, hlop.IOPround: 1,
	hlop.IOPfrac: 1, hlop.IOPabs: 1, hlop.IOPsaturate: 1,
	hlop.IOPisnan: 1, hlop.IOPisinf: 1, hlop.IOPisfinite: 1,

	hlop.IOPatan2: 2, hlop.IOPpow: 2, hlop.IOPfmod: 2,
	hlop.IOPmin: 2, hlop.IOPmax: 2, hlop.IOPumin: 2, hlop.IOPumax: 2,

	hlop.IOPclamp: 3, hlop.IOPuclamp: 3,
}

// evalScalar folds one element. retTy is the scalar result type.
func evalScalar(m *ir.Module, op hlop.IntrinsicOp, retTy ir.TypeID, args []ir.ValueID, opts Options) ir.ValueID {
	ts := m.Types
	argTy := m.TypeOf(args[0])
	for _, a := range args[1:] {
		if m.TypeOf(a) != argTy {
			return ir.NoValueID
		}
	}

	switch op {
	case hlop.IOPisnan, hlop.IOPisinf, hlop.IOPisfinite:
		x, ok := floatArg(m, args[0])
		if !ok || !ts.IsInt(retTy, 1) {
			return ir.NoValueID
		}
		return m.ConstBool(classify(op, x))
	case hlop.IOPatan2:
		y, ok1 := floatArg(m, args[0])
		x, ok2 := floatArg(m, args[1])
		if !ok1 || !ok2 || retTy != argTy {
			return ir.NoValueID
		}
		return m.ConstFloat(retTy, math.Atan2(y, x))
	}

	if retTy != argTy {
		return ir.NoValueID
	}
	switch {
	case ts.IsFloat(argTy):
		vals := make([]float64, len(args))
		for i, a := range args {
			x, ok := floatArg(m, a)
			if !ok {
				return ir.NoValueID
			}
			vals[i] = x
		}
		r, ok := evalFloat(op, vals, ts.Bits(argTy), opts)
		if !ok {
			return ir.NoValueID
		}
		return m.ConstFloat(retTy, r)
	case ts.IsInt(argTy, 0):
		return evalInt(m, op, retTy, args)
	}
	return ir.NoValueID
}

// floatArg reads a single or double precision constant.
func floatArg(m *ir.Module, v ir.ValueID) (float64, bool) {
	ts := m.Types
	ty := m.TypeOf(v)
	if !ts.IsFloat(ty) {
		return 0, false
	}
	if b := ts.Bits(ty); b != 32 && b != 64 {
		return 0, false
	}
	return m.ConstFloatValue(v)
}

const (
	expMask  = 0x7ff0000000000000
	fracMask = 0x000fffffffffffff
)

func classify(op hlop.IntrinsicOp, x float64) bool {
	switch op {
	case hlop.IOPisnan:
		b := math.Float64bits(x)
		return b&expMask == expMask && b&fracMask != 0
	case hlop.IOPisinf:
		return math.IsInf(x, 0)
	default:
		return !math.IsInf(x, 0) && !math.IsNaN(x)
	}
}

// evalFloat applies op at the given width. Single precision results of
// compositions are rounded after each step, like a float32 evaluation.
func evalFloat(op hlop.IntrinsicOp, v []float64, bits uint16, opts Options) (float64, bool) {
	rnd := func(x float64) float64 {
		if bits == 32 {
			return float64(float32(x))
		}
		return x
	}
	x := v[0]
	switch op {
	case hlop.IOPsin:
		return rnd(math.Sin(x)), true
	case hlop.IOPcos:
		return rnd(math.Cos(x)), true
	case hlop.IOPtan:
		return rnd(math.Tan(x)), true
	case hlop.IOPasin:
		return rnd(math.Asin(x)), true
	case hlop.IOPacos:
		return rnd(math.Acos(x)), true
	case hlop.IOPatan:
		return rnd(math.Atan(x)), true
	case hlop.IOPsinh:
		return rnd(math.Sinh(x)), true
	case hlop.IOPcosh:
		return rnd(math.Cosh(x)), true
	case hlop.IOPtanh:
		return rnd(math.Tanh(x)), true
	case hlop.IOPexp:
		return rnd(math.Exp(x)), true
	case hlop.IOPexp2:
		return rnd(math.Exp2(x)), true
	case hlop.IOPlog:
		return rnd(math.Log(x)), true
	case hlop.IOPlog2:
		return rnd(math.Log2(x)), true
	case hlop.IOPlog10:
		return rnd(math.Log10(x)), true
	case hlop.IOPsqrt:
		return rnd(math.Sqrt(x)), true
	case hlop.IOPrsqrt:
		return rnd(1 / rnd(math.Sqrt(x))), true
	case hlop.IOPrcp:
		return rnd(1 / x), true
	case hlop.IOPfloor:
		return math.Floor(x), true
	case hlop.IOPceil:
		return math.Ceil(x), true
	case hlop.IOPtrunc:
		return math.Trunc(x), true
	case hlop.IOPround:
		return Round(x, opts.LanguageVersion), true
	case hlop.IOPfrac:
		return rnd(x - math.Floor(x)), true
	case hlop.IOPabs:
		return math.Abs(x), true
	case hlop.IOPsaturate:
		return math.Min(math.Max(x, 0), 1), true
	case hlop.IOPpow:
		return rnd(math.Pow(x, v[1])), true
	case hlop.IOPfmod:
		return rnd(math.Mod(x, v[1])), true
	case hlop.IOPmin:
		return math.Min(x, v[1]), true
	case hlop.IOPmax:
		return math.Max(x, v[1]), true
	case hlop.IOPclamp:
		return math.Min(math.Max(x, v[1]), v[2]), true
	}
	return 0, false
}

// Round rounds x to an integral value the way round() does in the given
// language version: halfway cases away from zero up to 2016, to even after.
// The result does not depend on the floating point environment.
func Round(x float64, languageVersion uint32) float64 {
	if languageVersion <= LegacyRoundVersion {
		return math.Round(x)
	}
	return math.RoundToEven(x)
}

// evalInt folds the integer forms of min, max and clamp. The u-prefixed
// intrinsics compare unsigned, the others signed, both at the operand width.
func evalInt(m *ir.Module, op hlop.IntrinsicOp, retTy ir.TypeID, args []ir.ValueID) ir.ValueID {
	switch op {
	case hlop.IOPumin, hlop.IOPumax, hlop.IOPuclamp:
		u := make([]uint64, len(args))
		for i, a := range args {
			x, ok := m.ConstUintValue(a)
			if !ok {
				return ir.NoValueID
			}
			u[i] = x
		}
		var r uint64
		switch op {
		case hlop.IOPumin:
			r = min(u[0], u[1])
		case hlop.IOPumax:
			r = max(u[0], u[1])
		default:
			r = min(max(u[0], u[1]), u[2])
		}
		return m.ConstInt(retTy, int64(r)) //nolint:gosec // G115: two's complement reinterpretation
	case hlop.IOPmin, hlop.IOPmax, hlop.IOPclamp, hlop.IOPabs:
		s := make([]int64, len(args))
		for i, a := range args {
			x, ok := m.ConstIntValue(a)
			if !ok {
				return ir.NoValueID
			}
			s[i] = x
		}
		var r int64
		switch op {
		case hlop.IOPmin:
			r = min(s[0], s[1])
		case hlop.IOPmax:
			r = max(s[0], s[1])
		case hlop.IOPclamp:
			r = min(max(s[0], s[1]), s[2])
		default:
			r = s[0]
			if r < 0 {
				r = -r
			}
		}
		return m.ConstInt(retTy, r)
	}
	return ir.NoValueID
}
