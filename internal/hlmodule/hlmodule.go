// Package hlmodule holds a high-level module together with the side tables
// the front end attaches to it, and stores the whole bundle as a .hlm file.
package hlmodule

import (
	"fmt"
	"sort"

	"dxlower/internal/annot"
	"dxlower/internal/cbuf"
	"dxlower/internal/diag"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
	"dxlower/internal/structurize"
)

// ShaderKind is the pipeline stage of the entry function.
type ShaderKind uint8

const (
	ShaderLibrary ShaderKind = iota
	ShaderPixel
	ShaderVertex
	ShaderGeometry
	ShaderHull
	ShaderDomain
	ShaderCompute
	ShaderMesh
	ShaderAmplification
	ShaderNode
)

var shaderKindNames = [...]string{
	ShaderLibrary:       "lib",
	ShaderPixel:         "ps",
	ShaderVertex:        "vs",
	ShaderGeometry:      "gs",
	ShaderHull:          "hs",
	ShaderDomain:        "ds",
	ShaderCompute:       "cs",
	ShaderMesh:          "ms",
	ShaderAmplification: "as",
	ShaderNode:          "node",
}

func (k ShaderKind) String() string {
	if int(k) < len(shaderKindNames) {
		return shaderKindNames[k]
	}
	return fmt.Sprintf("shader(%d)", uint8(k))
}

// ParseShaderKind accepts the short profile prefix, e.g. "ps" or "lib".
func ParseShaderKind(s string) (ShaderKind, bool) {
	for i, n := range shaderKindNames {
		if n == s {
			return ShaderKind(i), true //nolint:gosec // G115: bounded by the table
		}
	}
	return ShaderLibrary, false
}

// Entry names the entry point of a non-library module. PatchConstant is
// set for hull shaders only.
type Entry struct {
	Func          string
	Kind          ShaderKind
	PatchConstant string
}

// Export is one function exported from a library under Name.
type Export struct {
	Func string
	Name string
}

// HLModule is the input of lowering: the IR plus every side table the
// passes read or update. Each pass receives it explicitly.
type HLModule struct {
	IR       *ir.Module
	Objects  *resprops.Table
	Types    *annot.TypeSystem
	CBuffers []*cbuf.CBuffer
	// Scopes holds the recorded scopes of every function with returns,
	// keyed by function name.
	Scopes  map[string]*structurize.ScopeInfo
	Entry   Entry
	Exports []Export

	// LanguageVersion is the HLSL version the module was compiled for,
	// e.g. 2021.
	LanguageVersion uint32
	// ShaderModel is the target shader model, e.g. "6.8".
	ShaderModel string
}

// New returns an empty module named name.
func New(name string) *HLModule {
	return Wrap(ir.NewModule(name))
}

// Wrap attaches empty side tables to m.
func Wrap(m *ir.Module) *HLModule {
	return &HLModule{
		IR:      m,
		Objects: resprops.NewTable(),
		Types:   annot.New(),
		Scopes:  make(map[string]*structurize.ScopeInfo),
	}
}

// Name returns the module name.
func (hm *HLModule) Name() string { return hm.IR.Name }

// IsLibrary reports a library module, which has exports but no entry.
func (hm *HLModule) IsLibrary() bool { return hm.Entry.Kind == ShaderLibrary }

// ScopeFuncs lists the functions with recorded scopes in name order.
func (hm *HLModule) ScopeFuncs() []string {
	names := make([]string, 0, len(hm.Scopes))
	for name := range hm.Scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CBufferContext returns the context the cbuffer passes run in.
func (hm *HLModule) CBufferContext(rep diag.Reporter, opts cbuf.Options) cbuf.Context {
	return cbuf.Context{
		M:        hm.IR,
		Annot:    hm.Types,
		Objects:  hm.Objects,
		Reporter: rep,
		Options:  opts,
	}
}
