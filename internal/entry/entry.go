// Package entry validates the entry point, the patch constant function and
// the exports of a module before lowering, and tags the functions it finds.
package entry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"dxlower/internal/diag"
	"dxlower/internal/hlmodule"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// NodeShaderModel is the first shader model with node shaders.
const NodeShaderModel = "6.8"

// Result lists the functions the checks resolved.
type Result struct {
	Entry         *ir.Func
	PatchConstant *ir.Func
	// Exports holds the exports that passed, in declaration order.
	Exports []Resolved
	Errors  int
}

// Resolved is one export that passed every check.
type Resolved struct {
	Name string
	Func *ir.Func
}

type checker struct {
	hm  *hlmodule.HLModule
	rep diag.Reporter
	res Result
}

// Check runs every entry and export check of hm. Each failure is reported
// to rep and the remaining functions are still checked.
func Check(hm *hlmodule.HLModule, rep diag.Reporter) Result {
	c := &checker{hm: hm, rep: rep}
	if !hm.IsLibrary() {
		c.checkEntry()
	}
	c.checkExports()
	return c.res
}

func (c *checker) loc(fn string) diag.Loc {
	return diag.Loc{File: c.hm.Name(), Func: fn}
}

func (c *checker) errorf(code diag.Code, fn, format string, args ...any) *diag.ReportBuilder {
	c.res.Errors++
	return diag.ReportError(c.rep, code, c.loc(fn), fmt.Sprintf(format, args...))
}

func (c *checker) body(name string) (*ir.Func, bool) {
	fn, ok := c.hm.IR.FuncByName(name)
	if !ok || fn.Erased || fn.IsDecl() {
		return nil, false
	}
	return fn, true
}

func (c *checker) checkEntry() {
	e := c.hm.Entry
	fn, ok := c.body(e.Func)
	if !ok {
		c.errorf(diag.EntEntryNotFound, e.Func, "missing entry point definition %q for %s shader", e.Func, e.Kind).Emit()
	} else {
		fn.SetAttr(hlop.AttrEntry, e.Kind.String())
		c.res.Entry = fn
	}

	if e.Kind == hlmodule.ShaderNode {
		c.requireShaderModel(e.Func, NodeShaderModel, "node shaders")
	}
	if e.Kind != hlmodule.ShaderHull {
		return
	}
	if e.PatchConstant == "" {
		c.errorf(diag.EntPatchConstNotFound, e.Func, "hull shader %s has no patch constant function", e.Func).Emit()
		return
	}
	pc, ok := c.body(e.PatchConstant)
	if !ok {
		c.errorf(diag.EntPatchConstNotFound, e.PatchConstant,
			"patch constant function %q not found", e.PatchConstant).
			WithNote(c.loc(e.Func), "referenced by the hull shader here").Emit()
		return
	}
	if idx := InoutParams(pc); len(idx) > 0 {
		c.errorf(diag.EntPatchConstInout, pc.Name,
			"patch constant function %s must not have inout parameters (parameter %d)", pc.Name, idx[0]).Emit()
		return
	}
	c.res.PatchConstant = pc
}

// requireShaderModel reports a feature used below the shader model that
// introduced it. An unset or unparsable target is not checked here.
func (c *checker) requireShaderModel(fn, minSM, feature string) {
	if c.hm.ShaderModel == "" {
		return
	}
	have, err := semver.NewVersion(c.hm.ShaderModel)
	if err != nil {
		return
	}
	need := semver.MustParse(minSM)
	if have.LessThan(need) {
		c.errorf(diag.EntShaderModelTooLow, fn, "%s require shader model %s, target is %s",
			feature, minSM, c.hm.ShaderModel).Emit()
	}
}

func (c *checker) checkExports() {
	seen := make(map[string]string, len(c.hm.Exports))
	for _, ex := range c.hm.Exports {
		name := ex.Name
		if name == "" {
			name = ex.Func
		}
		fn, ok := c.body(ex.Func)
		if !ok {
			c.errorf(diag.EntEntryNotFound, ex.Func, "exported function %q not found", ex.Func).Emit()
			continue
		}
		if prev, dup := seen[name]; dup {
			c.errorf(diag.EntExportNameCollision, ex.Func,
				"export name %q is used by %s and %s", name, prev, ex.Func).Emit()
			continue
		}
		seen[name] = ex.Func
		if what, ok := c.disallowed(fn); ok {
			c.errorf(diag.EntExportResourceParam, ex.Func,
				"exported function %s uses %s in its signature", ex.Func, what).Emit()
			continue
		}
		fn.SetAttr(hlop.AttrExport, name)
		c.res.Exports = append(c.res.Exports, Resolved{Name: name, Func: fn})
	}
}

// disallowed finds a type in fn's signature that cannot cross an export:
// node input and output objects and raw handles.
func (c *checker) disallowed(fn *ir.Func) (string, bool) {
	ts := c.hm.IR.Types
	tys := append([]ir.TypeID{ts.Ret(fn.Type)}, ts.Fields(fn.Type)...)
	for _, ty := range tys {
		if what, ok := forbiddenIn(ts, ty, make(map[ir.TypeID]bool)); ok {
			return what, true
		}
	}
	return "", false
}

func forbiddenIn(ts *ir.Types, ty ir.TypeID, seen map[ir.TypeID]bool) (string, bool) {
	if seen[ty] {
		return "", false
	}
	seen[ty] = true
	switch {
	case ts.IsPointer(ty) || ts.IsArray(ty) || ts.IsVector(ty):
		return forbiddenIn(ts, ts.Elem(ty), seen)
	case ts.IsStruct(ty):
		if hlop.IsHandleType(ts, ty) {
			return ts.String(ty), true
		}
		if hlop.Classify(ts, ty).IsNode() {
			return ts.String(ty), true
		}
		for _, f := range ts.Fields(ty) {
			if what, ok := forbiddenIn(ts, f, seen); ok {
				return what, true
			}
		}
	}
	return "", false
}

// InoutParams returns the inout parameter indices recorded on fn.
func InoutParams(fn *ir.Func) []int {
	v, ok := fn.Attr(hlop.AttrInout)
	if !ok || v == "" {
		return nil
	}
	var out []int
	for _, s := range strings.Split(v, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			panic(fmt.Sprintf("entry: bad %s attribute %q on %s", hlop.AttrInout, v, fn.Name))
		}
		out = append(out, i)
	}
	return out
}
