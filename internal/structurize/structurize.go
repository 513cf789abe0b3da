package structurize

import (
	"fmt"
	"sort"

	"dxlower/internal/diag"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// BreakFunc is the intrinsic that makes loop exits artificially conditional
// in wave-sensitive code. It always returns true at runtime.
const BreakFunc = "dx.break"

// Options configures StructurizeMultiRet.
type Options struct {
	// WaveSensitive forces dx.break conditions on every loop exit taken by a
	// return. Without it they are used only in functions calling a
	// wave-sensitive operation.
	WaveSensitive bool
}

// StructurizeMultiRet rewrites fn so that returns set a flag and leave their
// scope instead of jumping straight to the exit block. It reports whether fn
// changed.
//
// The rewrite runs in four phases:
//
//  1. A returned flag is allocated and cleared at entry; scalar and vector
//     return slots are zeroed there too.
//  2. Scopes whose every path returned get their end moved outward when
//     their own end block is dead.
//  3. Each return not directly in the function scope stores the flag and
//     branches to the end of its scope, a dx.break guarded exit for loops
//     in wave-sensitive code.
//  4. Innermost first, every scope end reached by a return gets a guard block
//     in front of it that leaves to the enclosing end while the flag is set.
//     Scopes sharing an end block share one guard.
//
// Functions with cleanup blocks are reported and left alone.
func StructurizeMultiRet(m *ir.Module, fn *ir.Func, si *ScopeInfo, opts Options, rep diag.Reporter) bool {
	if len(si.Cleanup) > 0 {
		diag.ReportWarning(rep, diag.LowStructurizeSkipped, diag.Loc{Func: fn.Name, Block: m.Block(si.Cleanup[0]).Name},
			"function has cleanup blocks; multiple returns are left unstructurized").Emit()
		return false
	}
	if si.CanSkipStructurize() {
		return false
	}
	s := &structurizer{
		m:     m,
		fn:    fn,
		si:    si,
		b:     ir.NewBuilder(m),
		wave:  opts.WaveSensitive || callsWaveSensitive(m, fn),
		guard: make(map[ir.BlockID]ir.BlockID),
	}
	s.checkScopes()
	s.initFlag()
	si.LegalizeWholeReturnedScope(m)
	s.retargetReturns()
	s.insertGuards()
	return true
}

// StructurizeModule runs StructurizeMultiRet over every function with recorded
// scopes and returns the number of functions changed.
func StructurizeModule(m *ir.Module, scopes map[string]*ScopeInfo, opts Options, rep diag.Reporter) int {
	changed := 0
	for _, fn := range m.Funcs() {
		si, ok := scopes[fn.Name]
		if !ok || fn.IsDecl() {
			continue
		}
		if StructurizeMultiRet(m, fn, si, opts, rep) {
			changed++
		}
	}
	return changed
}

type structurizer struct {
	m    *ir.Module
	fn   *ir.Func
	si   *ScopeInfo
	b    *ir.Builder
	wave bool

	flag ir.ValueID
	// guard maps an end block to the guard placed in front of it.
	guard map[ir.BlockID]ir.BlockID
}

func callsWaveSensitive(m *ir.Module, fn *ir.Func) bool {
	for _, bb := range fn.Blocks {
		for _, id := range m.Block(bb).Instrs {
			callee, ok := m.CalledFunc(id)
			if !ok {
				continue
			}
			if v, ok := callee.Attr(hlop.AttrWaveSensitive); ok && v == "true" {
				return true
			}
		}
	}
	return false
}

func (s *structurizer) checkScopes() {
	for i, sc := range s.si.Scopes {
		if sc.Kind != ScopeReturn {
			continue
		}
		if sc.Parent < 0 || sc.Parent >= len(s.si.Scopes) {
			panic(fmt.Sprintf("structurize: @%s return scope %d has no parent", s.fn.Name, i))
		}
		if s.si.Scopes[sc.Parent].Kind == ScopeReturn {
			panic(fmt.Sprintf("structurize: @%s return scope %d is nested in a return scope", s.fn.Name, i))
		}
		t := s.m.Terminator(sc.End)
		if t == ir.NoValueID || s.m.Value(t).Op != ir.OpBr || s.m.Value(t).Targets[0] != s.si.Exit() {
			panic(fmt.Sprintf("structurize: @%s block %%%s does not branch to the exit block",
				s.fn.Name, s.m.Block(sc.End).Name))
		}
	}
}

// initFlag allocates the returned flag and zeroes the return slot.
func (s *structurizer) initFlag() {
	m := s.m
	bt := m.Types.Builtins()
	entry := m.Entry(s.fn.ID)
	s.b.SetInsertPoint(m.FirstInsertionPoint(entry))
	s.flag = s.b.Alloca(bt.I1, "bReturned")
	s.b.Store(m.ConstBool(false), s.flag)
	s.initRetValue()
}

// initRetValue zeroes the return slot right after its alloca, so paths that
// leave through a guard never load an uninitialized value. Aggregate slots
// are left alone.
func (s *structurizer) initRetValue() {
	m := s.m
	t := m.Terminator(s.si.Exit())
	if t == ir.NoValueID {
		return
	}
	ret := m.Value(t)
	if ret.Op != ir.OpRet || len(ret.Operands) == 0 {
		return
	}
	ld := m.Value(ret.Operands[0])
	if ld.Kind != ir.ValueInstr || ld.Op != ir.OpLoad {
		return
	}
	slot := ld.Operands[0]
	sv := m.Value(slot)
	if sv.Kind != ir.ValueInstr || sv.Op != ir.OpAlloca {
		return
	}
	blk := m.Block(sv.Block)
	for i, id := range blk.Instrs {
		if id == slot {
			s.b.SetInsertPoint(blk.Instrs[i+1])
			break
		}
	}
	ts := m.Types
	ty := sv.AllocTy
	switch {
	case ts.IsVector(ty):
		s.b.Store(m.Zero(ty), slot)
	case ts.IsInt(ty, 0):
		s.b.Store(m.ConstInt(ty, 0), slot)
	case ts.IsFloat(ty):
		s.b.Store(m.ConstFloat(ty, 0), slot)
	}
}

// retargetReturns turns every nested return into flag store plus branch to
// the end of its scope.
func (s *structurizer) retargetReturns() {
	m := s.m
	exit := s.si.Exit()
	for _, r := range s.si.Rets {
		ret := s.si.Scopes[r]
		parent := s.si.Scopes[ret.Parent]
		if parent.Kind == ScopeFunction || parent.End == exit {
			continue
		}
		bb := ret.End
		term := m.Terminator(bb)
		s.b.SetInsertPoint(term)
		s.b.Store(m.ConstBool(true), s.flag)
		for _, phi := range m.Phis(exit) {
			m.RemoveIncoming(phi, bb)
		}
		m.EraseInstr(term)
		s.b.SetInsertPointAtEnd(bb)
		s.leave(bb, parent)
	}
}

// leave terminates bb with an exit from scope sc: a branch to its end, or for
// loops in wave-sensitive code a dx.break condition choosing between the
// end and the continue block.
func (s *structurizer) leave(bb ir.BlockID, sc Scope) {
	if s.wave && sc.Kind == ScopeLoop && sc.Continue != ir.NoBlockID {
		c := s.b.Call(s.breakFunc())
		s.b.CondBr(c, sc.End, sc.Continue)
		s.addUndefIncoming(sc.End, bb)
		s.addUndefIncoming(sc.Continue, bb)
		return
	}
	s.b.Br(sc.End)
	s.addUndefIncoming(sc.End, bb)
}

func (s *structurizer) addUndefIncoming(to, from ir.BlockID) {
	for _, phi := range s.m.Phis(to) {
		if _, ok := s.m.IncomingFor(phi, from); ok {
			continue
		}
		s.m.AddIncoming(phi, s.m.Undef(s.m.TypeOf(phi)), from)
	}
}

func (s *structurizer) breakFunc() *ir.Func {
	if f, ok := s.m.FuncByName(BreakFunc); ok {
		return f
	}
	f := s.m.NewFunc(BreakFunc, s.m.Types.Func(s.m.Types.Builtins().I1))
	f.SetAttr(hlop.AttrWaveSensitive, "true")
	return f
}

// guardedScopes lists the scopes a flagged return passes through: the scope
// of every nested return and all of its ancestors below the function,
// deepest first.
func (s *structurizer) guardedScopes() []int {
	seen := make(map[int]bool)
	var out []int
	for _, r := range s.si.Rets {
		for p := s.si.Scopes[r].Parent; p > 0; p = s.si.Scopes[p].Parent {
			if seen[p] {
				break
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	depth := make(map[int]int, len(out))
	for _, i := range out {
		depth[i] = s.si.depth(i)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if depth[out[a]] != depth[out[b]] {
			return depth[out[a]] > depth[out[b]]
		}
		return out[a] > out[b]
	})
	return out
}

// insertGuards places a guard in front of each end block a flagged return
// can reach.
func (s *structurizer) insertGuards() {
	exit := s.si.Exit()
	for _, i := range s.guardedScopes() {
		end := s.si.Scopes[i].End
		if end == exit {
			continue
		}
		if _, done := s.guard[end]; done {
			continue
		}
		// The outermost scope sharing this end decides where the guard leaves to.
		outer := i
		for p := s.si.Scopes[outer].Parent; p >= 0 && s.si.Scopes[p].End == end; p = s.si.Scopes[p].Parent {
			outer = p
		}
		if s.si.Scopes[outer].Kind == ScopeFunction {
			continue
		}
		s.guard[end] = s.insertGuard(end, s.si.Scopes[s.si.Scopes[outer].Parent])
	}
}

// insertGuard redirects every predecessor of end to a new guard block that
// loads the flag and continues to end while it is clear, or leaves parent
// while it is set. Phis of end move into the guard.
func (s *structurizer) insertGuard(end ir.BlockID, parent Scope) ir.BlockID {
	m := s.m
	preds := m.Preds(end)
	g := m.NewBlockBefore(s.fn.ID, end, m.Block(end).Name+".guard")
	for _, p := range preds {
		m.ReplaceSuccessor(m.Terminator(p), end, g)
	}

	s.b.SetInsertPointAtEnd(g)
	flag := s.b.Load(s.flag, "")
	leaveBB := g
	if s.wave && parent.Kind == ScopeLoop && parent.Continue != ir.NoBlockID {
		leaveBB = m.NewBlockBefore(s.fn.ID, end, m.Block(end).Name+".break")
		s.b.CondBr(flag, leaveBB, end)
	} else {
		s.b.CondBr(flag, parent.End, end)
	}
	for _, phi := range m.Phis(end) {
		m.MoveBefore(phi, flag)
	}
	if leaveBB != g {
		s.b.SetInsertPointAtEnd(leaveBB)
		s.leave(leaveBB, parent)
		return g
	}
	s.addUndefIncoming(parent.End, g)
	return g
}
