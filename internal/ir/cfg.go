package ir

// Terminator returns the terminator of block, or NoValueID when the block is
// not terminated.
func (m *Module) Terminator(block BlockID) ValueID {
	b := m.Block(block)
	if len(b.Instrs) == 0 {
		return NoValueID
	}
	last := b.Instrs[len(b.Instrs)-1]
	if m.Value(last).IsTerminator() {
		return last
	}
	return NoValueID
}

// Succs returns the distinct successors of block in terminator order.
func (m *Module) Succs(block BlockID) []BlockID {
	t := m.Terminator(block)
	if t == NoValueID {
		return nil
	}
	return uniqueBlocks(m.Value(t).Targets)
}

// Preds returns the distinct predecessors of block in function layout order.
func (m *Module) Preds(block BlockID) []BlockID {
	f := m.Func(m.Block(block).Func)
	var out []BlockID
	for _, b := range f.Blocks {
		for _, s := range m.Succs(b) {
			if s == block {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func uniqueBlocks(in []BlockID) []BlockID {
	out := make([]BlockID, 0, len(in))
	for _, b := range in {
		dup := false
		for _, o := range out {
			if o == b {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, b)
		}
	}
	return out
}

// ReplaceSuccessor redirects every edge of terminator term from old to repl.
// It reports whether any edge changed.
func (m *Module) ReplaceSuccessor(term ValueID, old, repl BlockID) bool {
	v := m.Value(term)
	if !v.IsTerminator() {
		panic("ir: ReplaceSuccessor on a non-terminator")
	}
	changed := false
	for i, t := range v.Targets {
		if t == old {
			v.Targets[i] = repl
			changed = true
		}
	}
	return changed
}

// Phis returns the leading phi instructions of block.
func (m *Module) Phis(block BlockID) []ValueID {
	var out []ValueID
	for _, id := range m.Block(block).Instrs {
		if m.Value(id).Op != OpPhi {
			break
		}
		out = append(out, id)
	}
	return out
}

// FirstInsertionPoint returns the first non-phi instruction of block, or
// NoValueID when the block only holds phis.
func (m *Module) FirstInsertionPoint(block BlockID) ValueID {
	for _, id := range m.Block(block).Instrs {
		if m.Value(id).Op != OpPhi {
			return id
		}
	}
	return NoValueID
}

// IncomingFor returns the value a phi receives from block.
func (m *Module) IncomingFor(phi ValueID, from BlockID) (ValueID, bool) {
	v := m.Value(phi)
	for i, b := range v.Targets {
		if b == from {
			return v.Operands[i], true
		}
	}
	return NoValueID, false
}

// RemoveIncoming drops every incoming pair of phi that comes from block.
func (m *Module) RemoveIncoming(phi ValueID, from BlockID) {
	v := m.Value(phi)
	ops := make([]ValueID, 0, len(v.Operands))
	tgts := make([]BlockID, 0, len(v.Targets))
	for i, b := range v.Targets {
		if b != from {
			ops = append(ops, v.Operands[i])
			tgts = append(tgts, b)
		}
	}
	m.setOperands(phi, ops)
	v.Targets = tgts
}

// ReplaceIncomingBlock renames the incoming block old of phi to repl.
func (m *Module) ReplaceIncomingBlock(phi ValueID, old, repl BlockID) {
	v := m.Value(phi)
	for i, b := range v.Targets {
		if b == old {
			v.Targets[i] = repl
		}
	}
}

// setOperands rewrites the whole operand list of id keeping use lists exact.
func (m *Module) setOperands(id ValueID, ops []ValueID) {
	m.dropOperands(id)
	v := m.Value(id)
	v.Operands = ops
	for i, op := range ops {
		m.addUse(op, id, i)
	}
}

// SetCallArgs replaces the argument list of a call, keeping its callee.
func (m *Module) SetCallArgs(call ValueID, args []ValueID) {
	v := m.Value(call)
	if v.Op != OpCall {
		panic("ir: SetCallArgs on a non-call")
	}
	ops := append([]ValueID{v.Operands[0]}, args...)
	m.setOperands(call, ops)
}

// SplitBlockBefore moves instr and everything after it into a new block
// placed after the original one, which is terminated with a branch to it.
// Phis of the old successors are updated to name the new block.
func (m *Module) SplitBlockBefore(instr ValueID, name string) BlockID {
	v := m.Value(instr)
	oldID := v.Block
	old := m.Block(oldID)
	f := m.Func(old.Func)
	pos := indexOf(old.Instrs, instr)

	var nextLayout BlockID = NoBlockID
	for i, b := range f.Blocks {
		if b == oldID && i+1 < len(f.Blocks) {
			nextLayout = f.Blocks[i+1]
		}
	}
	var nb BlockID
	if nextLayout == NoBlockID {
		nb = m.NewBlock(old.Func, name)
	} else {
		nb = m.NewBlockBefore(old.Func, nextLayout, name)
	}
	moved := append([]ValueID(nil), old.Instrs[pos:]...)
	old.Instrs = old.Instrs[:pos]
	blk := m.Block(nb)
	blk.Instrs = moved
	for _, id := range moved {
		m.Value(id).Block = nb
	}
	for _, s := range m.Succs(nb) {
		for _, phi := range m.Phis(s) {
			m.ReplaceIncomingBlock(phi, oldID, nb)
		}
	}
	b := NewBuilder(m)
	b.SetInsertPointAtEnd(oldID)
	b.Br(nb)
	return nb
}

// ReversePostOrder lists the blocks of fn reachable from the entry.
func (m *Module) ReversePostOrder(fn FuncID) []BlockID {
	entry := m.Entry(fn)
	if entry == NoBlockID {
		return nil
	}
	seen := map[BlockID]bool{}
	var post []BlockID
	var visit func(BlockID)
	visit = func(b BlockID) {
		seen[b] = true
		for _, s := range m.Succs(b) {
			if !seen[s] {
				visit(s)
			}
		}
		post = append(post, b)
	}
	visit(entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}
