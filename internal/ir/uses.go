package ir

import "fmt"

func (m *Module) addUse(v, user ValueID, idx int) {
	if v == NoValueID {
		return
	}
	val := m.Value(v)
	val.uses = append(val.uses, Use{User: user, Index: idx})
}

func (m *Module) removeUse(v, user ValueID, idx int) {
	if v == NoValueID {
		return
	}
	val := m.Value(v)
	for i, u := range val.uses {
		if u.User == user && u.Index == idx {
			val.uses = append(val.uses[:i], val.uses[i+1:]...)
			return
		}
	}
}

// Uses returns a snapshot of the use list of v. Callers may mutate the IR
// while iterating the snapshot.
func (m *Module) Uses(v ValueID) []Use {
	return append([]Use(nil), m.Value(v).uses...)
}

// NumUses returns the number of operand slots referring to v.
func (m *Module) NumUses(v ValueID) int { return len(m.Value(v).uses) }

// HasUses reports whether anything refers to v.
func (m *Module) HasUses(v ValueID) bool { return len(m.Value(v).uses) > 0 }

// Users returns the distinct users of v in use-list order.
func (m *Module) Users(v ValueID) []ValueID {
	uses := m.Value(v).uses
	out := make([]ValueID, 0, len(uses))
	seen := make(map[ValueID]struct{}, len(uses))
	for _, u := range uses {
		if _, ok := seen[u.User]; ok {
			continue
		}
		seen[u.User] = struct{}{}
		out = append(out, u.User)
	}
	return out
}

// SetOperand replaces operand idx of user. idx -1 addresses a global initializer.
func (m *Module) SetOperand(user ValueID, idx int, v ValueID) {
	u := m.Value(user)
	if idx == -1 {
		if u.Kind != ValueGlobal {
			panic("ir: initializer slot on a non-global")
		}
		m.removeUse(u.Init, user, -1)
		u.Init = v
		m.addUse(v, user, -1)
		return
	}
	if idx < 0 || idx >= len(u.Operands) {
		panic(fmt.Sprintf("ir: operand %d out of range for %%%d", idx, user))
	}
	if u.IsConst() {
		m.forgetConst(user)
	}
	m.removeUse(u.Operands[idx], user, idx)
	u.Operands[idx] = v
	m.addUse(v, user, idx)
}

// ReplaceAllUsesWith redirects every use of old to repl. The use list is
// captured before mutation; old itself is left in place for the caller to erase.
func (m *Module) ReplaceAllUsesWith(old, repl ValueID) {
	if old == repl {
		return
	}
	for _, u := range m.Uses(old) {
		m.SetOperand(u.User, u.Index, repl)
	}
}

// ReplaceUsesInFunc redirects only the uses of old made by instructions of fn.
func (m *Module) ReplaceUsesInFunc(old, repl ValueID, fn FuncID) {
	for _, u := range m.Uses(old) {
		user := m.Value(u.User)
		if user.Kind == ValueInstr && user.Func == fn {
			m.SetOperand(u.User, u.Index, repl)
		}
	}
}

// dropOperands releases every operand reference of v.
func (m *Module) dropOperands(id ValueID) {
	v := m.Value(id)
	for i, op := range v.Operands {
		m.removeUse(op, id, i)
	}
	if v.Kind == ValueGlobal && v.Init != NoValueID {
		m.removeUse(v.Init, id, -1)
	}
}

// EraseInstr removes an instruction with no remaining uses from its block.
func (m *Module) EraseInstr(id ValueID) {
	v := m.Value(id)
	if v.Kind != ValueInstr {
		panic(fmt.Sprintf("ir: %%%d is not an instruction", id))
	}
	if v.Erased {
		return
	}
	if len(v.uses) > 0 {
		panic(fmt.Sprintf("ir: erasing %%%d (%s) which still has %d uses", id, v.Op, len(v.uses)))
	}
	m.dropOperands(id)
	m.unlink(id)
	v.Erased = true
}

// unlink detaches an instruction from its block without touching operands.
func (m *Module) unlink(id ValueID) {
	v := m.Value(id)
	if v.Block == NoBlockID {
		return
	}
	b := m.Block(v.Block)
	for i, in := range b.Instrs {
		if in == id {
			b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
			break
		}
	}
}

// MoveBefore relinks instr immediately before pos (possibly in another block).
func (m *Module) MoveBefore(instr, pos ValueID) {
	m.unlink(instr)
	p := m.Value(pos)
	b := m.Block(p.Block)
	idx := indexOf(b.Instrs, pos)
	b.Instrs = insertAt(b.Instrs, idx, instr)
	v := m.Value(instr)
	v.Block = p.Block
	v.Func = p.Func
}

// EraseIfDead erases an instruction that has no uses; it reports whether it did.
func (m *Module) EraseIfDead(id ValueID) bool {
	v := m.Value(id)
	if v.Kind != ValueInstr || v.Erased || len(v.uses) > 0 {
		return false
	}
	m.EraseInstr(id)
	return true
}

// EraseFunc removes a function whose symbol is no longer referenced.
func (m *Module) EraseFunc(fn FuncID) {
	f := m.Func(fn)
	if f.Erased {
		return
	}
	if m.HasUses(f.Value) {
		panic(fmt.Sprintf("ir: erasing @%s which still has %d uses", f.Name, m.NumUses(f.Value)))
	}
	// Collect first, then drop: instructions may refer to each other.
	var all []ValueID
	for _, b := range f.Blocks {
		all = append(all, m.Block(b).Instrs...)
	}
	for _, id := range all {
		m.dropOperands(id)
	}
	for _, id := range all {
		v := m.Value(id)
		v.uses = nil
		v.Erased = true
	}
	for _, b := range f.Blocks {
		blk := m.Block(b)
		blk.Instrs = nil
		blk.Erased = true
	}
	f.Blocks = nil
	f.Erased = true
	m.Value(f.Value).Erased = true
	delete(m.funcByName, f.Name)
}

// EraseGlobal removes an unreferenced global.
func (m *Module) EraseGlobal(g ValueID) {
	v := m.Value(g)
	if v.Kind != ValueGlobal {
		panic(fmt.Sprintf("ir: %%%d is not a global", g))
	}
	if len(v.uses) > 0 {
		panic(fmt.Sprintf("ir: erasing @%s which still has %d uses", v.Name, len(v.uses)))
	}
	m.dropOperands(g)
	v.Erased = true
	delete(m.globalByName, v.Name)
}

// EraseConstExprIfDead drops an unused constant expression so it no longer
// pins its operands. Interned constants are kept in the table.
func (m *Module) EraseConstExprIfDead(id ValueID) bool {
	v := m.Value(id)
	if v.Kind != ValueConstExpr || len(v.uses) > 0 || v.Erased {
		return false
	}
	m.dropOperands(id)
	v.Erased = true
	m.forgetConst(id)
	return true
}

// forgetConst removes a constant from the intern table so later lookups do
// not hand out a value whose operands were rewritten.
func (m *Module) forgetConst(id ValueID) {
	for k, cid := range m.consts {
		if cid == id {
			delete(m.consts, k)
			return
		}
	}
}

// EraseBlock removes an empty block from its function layout.
func (m *Module) EraseBlock(id BlockID) {
	b := m.Block(id)
	if len(b.Instrs) > 0 {
		panic(fmt.Sprintf("ir: erasing non-empty block %s", b.Name))
	}
	f := m.Func(b.Func)
	for i, x := range f.Blocks {
		if x == id {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			break
		}
	}
	b.Erased = true
}

func indexOf(ids []ValueID, id ValueID) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

func insertAt(ids []ValueID, idx int, id ValueID) []ValueID {
	if idx < 0 || idx >= len(ids) {
		return append(ids, id)
	}
	ids = append(ids, NoValueID)
	copy(ids[idx+1:], ids[idx:])
	ids[idx] = id
	return ids
}
