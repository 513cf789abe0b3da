// Package structurize rewrites functions with several returns so that every
// return leaves only the scope it appears in. Returns set a flag and branch
// to the end of their scope; a guard placed at each affected scope end tests
// the flag and keeps leaving outward until the function exit is reached.
package structurize

import (
	"fmt"

	"dxlower/internal/ir"
)

// ScopeKind classifies one recorded scope.
type ScopeKind uint8

const (
	ScopeFunction ScopeKind = iota
	ScopeIf
	ScopeSwitch
	ScopeLoop
	ScopeReturn
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeFunction:
		return "function"
	case ScopeIf:
		return "if"
	case ScopeSwitch:
		return "switch"
	case ScopeLoop:
		return "loop"
	case ScopeReturn:
		return "return"
	}
	return fmt.Sprintf("scope(%d)", uint8(k))
}

// Scope is one entry of a ScopeInfo. For a return scope End is the block
// holding the return; for every other kind it is the block control reaches
// when the scope is left.
type Scope struct {
	Kind     ScopeKind
	Parent   int
	End      ir.BlockID
	Continue ir.BlockID
	// NestLevel counts the enclosing if/switch/loop scopes of a return.
	NestLevel     int
	WholeReturned bool
}

// ScopeInfo records the structured scopes of one function while the front
// end emits it. Scope 0 is the function itself; its end is the exit block
// every return branches to.
type ScopeInfo struct {
	Scopes  []Scope
	Stack   []int
	Rets    []int
	Cleanup []ir.BlockID
	// MaxRetLevel is the deepest NestLevel of any return.
	MaxRetLevel int
}

// NewScopeInfo starts recording a function whose returns branch to exit.
func NewScopeInfo(exit ir.BlockID) *ScopeInfo {
	si := &ScopeInfo{}
	si.Scopes = append(si.Scopes, Scope{Kind: ScopeFunction, Parent: -1, End: exit, Continue: ir.NoBlockID})
	si.Stack = append(si.Stack, 0)
	return si
}

// Exit returns the function exit block.
func (si *ScopeInfo) Exit() ir.BlockID { return si.Scopes[0].End }

func (si *ScopeInfo) top() int {
	if len(si.Stack) == 0 {
		panic("structurize: scope stack is empty")
	}
	return si.Stack[len(si.Stack)-1]
}

func (si *ScopeInfo) push(s Scope) int {
	s.Parent = si.top()
	si.Scopes = append(si.Scopes, s)
	idx := len(si.Scopes) - 1
	si.Stack = append(si.Stack, idx)
	return idx
}

// AddIf opens an if scope merging at endIf.
func (si *ScopeInfo) AddIf(endIf ir.BlockID) int {
	return si.push(Scope{Kind: ScopeIf, End: endIf, Continue: ir.NoBlockID})
}

// AddSwitch opens a switch scope leaving to endSwitch.
func (si *ScopeInfo) AddSwitch(endSwitch ir.BlockID) int {
	return si.push(Scope{Kind: ScopeSwitch, End: endSwitch, Continue: ir.NoBlockID})
}

// AddLoop opens a loop scope with its continue target and exit block.
func (si *ScopeInfo) AddLoop(loopContinue, endLoop ir.BlockID) int {
	return si.push(Scope{Kind: ScopeLoop, End: endLoop, Continue: loopContinue})
}

// AddRet records a return in bbWithRet. A return inside a loop or switch
// belongs to the nearest one, since branching to its end is a plain break;
// otherwise it belongs to the innermost scope.
func (si *ScopeInfo) AddRet(bbWithRet ir.BlockID) int {
	parent := si.top()
	nest := 0
	for i := len(si.Stack) - 1; i >= 0; i-- {
		if si.Scopes[si.Stack[i]].Kind != ScopeFunction {
			nest++
		}
	}
	for i := len(si.Stack) - 1; i > 0; i-- {
		k := si.Scopes[si.Stack[i]].Kind
		if k == ScopeLoop || k == ScopeSwitch {
			parent = si.Stack[i]
			break
		}
	}
	si.Scopes = append(si.Scopes, Scope{
		Kind:      ScopeReturn,
		Parent:    parent,
		End:       bbWithRet,
		Continue:  ir.NoBlockID,
		NestLevel: nest,
	})
	idx := len(si.Scopes) - 1
	si.Rets = append(si.Rets, idx)
	if nest > si.MaxRetLevel {
		si.MaxRetLevel = nest
	}
	return idx
}

// AddCleanupBB records a cleanup block. Functions with cleanups are not
// structurized.
func (si *ScopeInfo) AddCleanupBB(bb ir.BlockID) {
	si.Cleanup = append(si.Cleanup, bb)
}

// EndScope closes the innermost open scope. wholeScopeReturned reports that
// every path through it returned, leaving its end block unreachable.
func (si *ScopeInfo) EndScope(wholeScopeReturned bool) {
	if len(si.Stack) <= 1 {
		panic("structurize: EndScope without an open scope")
	}
	idx := si.top()
	si.Stack = si.Stack[:len(si.Stack)-1]
	si.Scopes[idx].WholeReturned = wholeScopeReturned
}

// CanSkipStructurize reports functions whose returns already leave through
// structured edges: at most one return, or every return sitting at most one
// if deep.
func (si *ScopeInfo) CanSkipStructurize() bool {
	if len(si.Rets) < 2 {
		return true
	}
	if si.MaxRetLevel >= 2 {
		return false
	}
	for _, r := range si.Rets {
		switch si.Scopes[si.Scopes[r].Parent].Kind {
		case ScopeFunction, ScopeIf:
		default:
			return false
		}
	}
	return true
}

// LegalizeWholeReturnedScope moves the end of every scope that is left only
// by returns and whose end block is gone or dead to the end of its parent.
// Such scopes then share their parent's guard.
func (si *ScopeInfo) LegalizeWholeReturnedScope(m *ir.Module) {
	for i := 1; i < len(si.Scopes); i++ {
		s := &si.Scopes[i]
		if s.Kind == ScopeReturn || !s.WholeReturned {
			continue
		}
		if !deadEnd(m, s.End) {
			continue
		}
		s.End = si.Scopes[s.Parent].End
	}
}

// deadEnd reports a missing block, or one nothing branches to that holds
// nothing but unreachable.
func deadEnd(m *ir.Module, bb ir.BlockID) bool {
	if bb == ir.NoBlockID || m.Block(bb).Erased {
		return true
	}
	if len(m.Preds(bb)) > 0 {
		return false
	}
	t := m.Terminator(bb)
	return t != ir.NoValueID && m.Value(t).Op == ir.OpUnreachable && len(m.Block(bb).Instrs) == 1
}

// depth counts the ancestors of scope i.
func (si *ScopeInfo) depth(i int) int {
	d := 0
	for p := si.Scopes[i].Parent; p >= 0; p = si.Scopes[p].Parent {
		d++
	}
	return d
}
