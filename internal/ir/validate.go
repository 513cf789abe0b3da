package ir

import (
	"errors"
	"fmt"
)

// Verify checks module invariants and returns every violation joined.
func Verify(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, g := range m.Globals() {
		v := m.Value(g)
		if v.Init != NoValueID && m.Value(v.Init).Erased {
			errs = append(errs, fmt.Errorf("global @%s: initializer is erased", v.Name))
		}
	}
	for _, f := range m.Funcs() {
		if err := verifyFunc(m, f); err != nil {
			errs = append(errs, fmt.Errorf("function @%s: %w", f.Name, err))
		}
	}
	if err := verifyUseLists(m); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func verifyFunc(m *Module, f *Func) error {
	if f.IsDecl() {
		return nil
	}
	var errs []error
	ret := m.ReturnType(f)
	inFunc := make(map[BlockID]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		inFunc[b] = true
	}
	for _, b := range f.Blocks {
		blk := m.Block(b)
		if blk.Erased {
			errs = append(errs, fmt.Errorf("%s: erased block in layout", blk.Name))
			continue
		}
		if m.Terminator(b) == NoValueID {
			errs = append(errs, fmt.Errorf("%s: unterminated block", blk.Name))
		}
		seenNonPhi := false
		for i, id := range blk.Instrs {
			v := m.Value(id)
			if v.Erased {
				errs = append(errs, fmt.Errorf("%s: erased instruction %%%d still linked", blk.Name, id))
				continue
			}
			if v.Block != b || v.Func != f.ID {
				errs = append(errs, fmt.Errorf("%s: instruction %%%d has a stale parent", blk.Name, id))
			}
			if v.IsTerminator() && i != len(blk.Instrs)-1 {
				errs = append(errs, fmt.Errorf("%s: terminator %s in the middle of the block", blk.Name, v.Op))
			}
			if v.Op == OpPhi {
				if seenNonPhi {
					errs = append(errs, fmt.Errorf("%s: phi after a non-phi instruction", blk.Name))
				}
			} else {
				seenNonPhi = true
			}
			for _, op := range v.Operands {
				if err := verifyOperand(m, f, op); err != nil {
					errs = append(errs, fmt.Errorf("%s: %s: %w", blk.Name, v.Op, err))
				}
			}
			if v.IsTerminator() {
				for _, t := range v.Targets {
					if !inFunc[t] {
						errs = append(errs, fmt.Errorf("%s: branch to a block outside the function", blk.Name))
					}
				}
			}
			if v.Op == OpRet {
				switch {
				case m.Types.IsVoid(ret) && len(v.Operands) != 0:
					errs = append(errs, fmt.Errorf("%s: value returned from a void function", blk.Name))
				case !m.Types.IsVoid(ret) && (len(v.Operands) != 1 || m.TypeOf(v.Operands[0]) != ret):
					errs = append(errs, fmt.Errorf("%s: return type mismatch", blk.Name))
				}
			}
		}
	}
	for _, b := range f.Blocks {
		preds := m.Preds(b)
		for _, phi := range m.Phis(b) {
			pv := m.Value(phi)
			if len(pv.Targets) != len(preds) {
				errs = append(errs, fmt.Errorf("%s: phi has %d incoming, block has %d predecessors", m.Block(b).Name, len(pv.Targets), len(preds)))
				continue
			}
			for _, pb := range preds {
				if _, ok := m.IncomingFor(phi, pb); !ok {
					errs = append(errs, fmt.Errorf("%s: phi misses incoming from %s", m.Block(b).Name, m.Block(pb).Name))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func verifyOperand(m *Module, f *Func, op ValueID) error {
	if !m.Valid(op) {
		return fmt.Errorf("operand %%%d out of range", op)
	}
	v := m.Value(op)
	if v.Erased {
		return fmt.Errorf("operand %%%d is erased", op)
	}
	switch v.Kind {
	case ValueInstr, ValueArg:
		if v.Func != f.ID {
			return fmt.Errorf("operand %%%d belongs to another function", op)
		}
	}
	return nil
}

func verifyUseLists(m *Module) error {
	var errs []error
	for i := range m.values {
		v := m.values[i]
		if v.Erased {
			continue
		}
		for idx, op := range v.Operands {
			if op == NoValueID {
				continue
			}
			if !hasUse(m.Value(op), v.ID, idx) {
				errs = append(errs, fmt.Errorf("%%%d operand %d: missing from the use list of %%%d", v.ID, idx, op))
			}
		}
		for _, u := range v.uses {
			user := m.Value(u.User)
			if user.Erased {
				errs = append(errs, fmt.Errorf("%%%d: used by erased %%%d", v.ID, u.User))
				continue
			}
			var got ValueID
			switch {
			case u.Index == -1:
				got = user.Init
			case u.Index < len(user.Operands):
				got = user.Operands[u.Index]
			default:
				got = NoValueID
			}
			if got != v.ID {
				errs = append(errs, fmt.Errorf("%%%d: stale use by %%%d slot %d", v.ID, u.User, u.Index))
			}
		}
	}
	return errors.Join(errs...)
}

func hasUse(v *Value, user ValueID, idx int) bool {
	for _, u := range v.uses {
		if u.User == user && u.Index == idx {
			return true
		}
	}
	return false
}
