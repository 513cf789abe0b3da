package bitcast

import (
	"dxlower/internal/ir"
)

// SimplifyModule simplifies every recognized pointer bitcast instruction in
// the function bodies of m and returns how many it removed. Casts of other
// shapes, such as casts to i8* for memory intrinsics, are kept.
func SimplifyModule(m *ir.Module) int {
	n := 0
	for _, fn := range m.Funcs() {
		if fn.IsDecl() {
			continue
		}
		var casts []ir.ValueID
		for _, bb := range fn.Blocks {
			for _, id := range m.Block(bb).Instrs {
				if Simplifiable(m, id) {
					casts = append(casts, id)
				}
			}
		}
		for _, bc := range casts {
			if m.Value(bc).Erased {
				continue
			}
			if SimplifyBitCast(m, bc) {
				n++
			}
		}
	}
	return n
}

// SimplifyStaticGlobals simplifies the constant bitcast expressions over
// globals of the default address space and returns how many it removed.
func SimplifyStaticGlobals(m *ir.Module) int {
	n := 0
	ts := m.Types
	for _, g := range m.Globals() {
		if ts.AddrSpace(m.TypeOf(g)) != 0 {
			continue
		}
		for _, u := range m.Uses(g) {
			user := m.Value(u.User)
			if user.Kind != ir.ValueConstExpr || user.Erased || !Simplifiable(m, u.User) {
				continue
			}
			if SimplifyBitCast(m, u.User) {
				n++
			}
		}
	}
	return n
}
