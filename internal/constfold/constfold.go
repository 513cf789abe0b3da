// Package constfold evaluates elementwise HLSL intrinsics whose operands are
// all constant and replaces the calls with the folded constants.
//
// Scalars are evaluated at the width of their type: doubles in float64,
// floats in float64 rounded to float32 after every operation. Vectors are
// folded one element at a time and reassembled. Half precision is not folded.
package constfold

import (
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// LegacyRoundVersion is the newest language version whose round() rounds
// halfway cases away from zero. Later versions round them to even.
const LegacyRoundVersion = 2016

// Options configures folding.
type Options struct {
	// LanguageVersion is the HLSL language year (2016, 2018, 2021, ...).
	LanguageVersion uint32
}

// DefaultOptions folds with the current language rules.
func DefaultOptions() Options { return Options{LanguageVersion: 2021} }

// Stats counts what FoldModule did.
type Stats struct {
	Folded       int
	ErasedDecls  int
	VisitedCalls int
}

// TryEvalIntrinsic returns the constant result of call, or ir.NoValueID when
// call is not a foldable intrinsic or one of its operands is not constant.
// The call itself is left untouched.
func TryEvalIntrinsic(m *ir.Module, call ir.ValueID, opts Options) ir.ValueID {
	op, args, ok := intrinsicOperands(m, call)
	if !ok {
		return ir.NoValueID
	}
	arity, ok := arities[op]
	if !ok || len(args) != arity {
		return ir.NoValueID
	}
	ts := m.Types
	retTy := m.TypeOf(call)
	if !ts.IsVector(retTy) {
		return evalScalar(m, op, retTy, args, opts)
	}

	n := int(ts.Count(retTy))
	elemTy := ts.Elem(retTy)
	lanes := make([][]ir.ValueID, len(args))
	for i, a := range args {
		if !ts.IsVector(m.TypeOf(a)) || int(ts.Count(m.TypeOf(a))) != n {
			return ir.NoValueID
		}
		elems, ok := m.ConstElements(a)
		if !ok {
			return ir.NoValueID
		}
		lanes[i] = elems
	}
	out := make([]ir.ValueID, n)
	scalarArgs := make([]ir.ValueID, len(args))
	for e := range n {
		for i := range args {
			scalarArgs[i] = lanes[i][e]
		}
		v := evalScalar(m, op, elemTy, scalarArgs, opts)
		if v == ir.NoValueID {
			return ir.NoValueID
		}
		out[e] = v
	}
	return m.ConstAggregate(retTy, out...)
}

// intrinsicOperands returns the intrinsic opcode of call and its operands
// without the opcode argument of parameterized calls.
func intrinsicOperands(m *ir.Module, call ir.ValueID) (hlop.IntrinsicOp, []ir.ValueID, bool) {
	v := m.Value(call)
	if v.Kind != ir.ValueInstr || v.Op != ir.OpCall {
		return 0, nil, false
	}
	g, opcode, ok := hlop.OpcodeOfCall(m, call)
	if !ok || g != hlop.GroupIntrinsic {
		return 0, nil, false
	}
	args := v.Args()
	fn, _ := m.CalledFunc(call)
	if _, tagged := hlop.Describe(fn); !tagged {
		args = args[1:]
	}
	return hlop.IntrinsicOp(opcode), args, true
}

// FoldModule folds every foldable intrinsic call of m. Results feeding other
// intrinsics are folded in the same run. Intrinsic declarations left without
// calls are erased.
func FoldModule(m *ir.Module, opts Options) Stats {
	var st Stats
	seen := make(map[*ir.Func]bool)
	var callees []*ir.Func
	for _, fn := range m.Funcs() {
		if fn.IsDecl() {
			continue
		}
		for changed := true; changed; {
			changed = false
			for _, bb := range m.ReversePostOrder(fn.ID) {
				instrs := append([]ir.ValueID(nil), m.Block(bb).Instrs...)
				for _, id := range instrs {
					if m.Value(id).Erased || m.Value(id).Op != ir.OpCall {
						continue
					}
					st.VisitedCalls++
					c := TryEvalIntrinsic(m, id, opts)
					if c == ir.NoValueID {
						continue
					}
					if callee, _ := m.CalledFunc(id); !seen[callee] {
						seen[callee] = true
						callees = append(callees, callee)
					}
					m.ReplaceAllUsesWith(id, c)
					m.EraseInstr(id)
					st.Folded++
					changed = true
				}
			}
		}
	}
	for _, callee := range callees {
		if !callee.Erased && !m.HasUses(callee.Value) {
			m.EraseFunc(callee.ID)
			st.ErasedDecls++
		}
	}
	return st
}
