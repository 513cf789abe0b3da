package cbuf

import (
	"fmt"
	"strconv"

	"dxlower/internal/annot"
	"dxlower/internal/diag"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

// AddrSpace is the address space of pointers into constant buffers.
const AddrSpace uint8 = 2

// Context is what materialization reads and writes besides the cbuffers.
type Context struct {
	M        *ir.Module
	Annot    *annot.TypeSystem
	Objects  *resprops.Table
	Reporter diag.Reporter
	Options  Options
}

// Allocate fills missing constant types from their globals and lays out
// every cbuffer. A view cbuffer's size is the size of one T.
func Allocate(ctx Context, cbs []*CBuffer) {
	m := ctx.M
	for _, cb := range cbs {
		for _, c := range cb.Constants {
			if c.Type == ir.NoTypeID && c.Global != ir.NoValueID {
				c.Type = m.ContentType(c.Global)
			}
		}
		AllocateDxilConstantBuffer(m.Types, ctx.Annot, cb, ctx.Options)
		if cb.IsView && len(cb.Constants) == 1 {
			elem, dims := arrayDims(m.Types, cb.Constants[0].Type)
			if len(dims) > 0 {
				cb.IsArray = true
				cb.ArrayDims = dims
			}
			cb.Size = LegacySize(m.Types, ctx.Annot, elem, false, ctx.Options.MinPrecision)
		}
	}
}

// ConstructCBuffer materializes every cbuffer of cbs: a backing global per
// buffer, and every use of a member global rewritten into a GEP through the
// buffer's subscript. Cbuffers must have been allocated. Member globals left
// without uses are erased and each constants list is cleared.
func ConstructCBuffer(ctx Context, cbs []*CBuffer) {
	for _, cb := range cbs {
		loc := diag.Loc{}
		if cb.Size > MaxSize {
			diag.ReportError(ctx.Reporter, diag.LowCBufferTooLarge, loc,
				fmt.Sprintf("cbuffer %s is %d bytes, the limit is %d", cb.Name, cb.Size, MaxSize)).Emit()
		}
		for _, o := range Overlaps(cb) {
			diag.ReportWarning(ctx.Reporter, diag.LowCBufferOverlap, loc,
				fmt.Sprintf("cbuffer %s: %s at offset %d overlaps %s at offset %d", cb.Name, o.B.Name, o.B.Offset, o.A.Name, o.A.Offset)).Emit()
		}

		v := createVariable(ctx, cb)
		newRewriter(ctx, v).run()

		for _, c := range cb.Constants {
			if c.Global == ir.NoValueID || ctx.M.Value(c.Global).Erased {
				continue
			}
			if !ctx.M.HasUses(c.Global) {
				ctx.M.EraseGlobal(c.Global)
			}
		}
		cb.Constants = nil
	}
}

// CreateCBufferVariable creates the layout struct, annotation and backing
// global of cb without touching any use, and returns the global.
func CreateCBufferVariable(ctx Context, cb *CBuffer) ir.ValueID {
	return createVariable(ctx, cb).global
}

// variable is one materialized cbuffer.
type variable struct {
	cb     *CBuffer
	global ir.ValueID
	// structTy is the type one subscript points to.
	structTy ir.TypeID
	props    resprops.Properties
	// field maps member globals to their struct field.
	field map[ir.ValueID]int64
}

func createVariable(ctx Context, cb *CBuffer) *variable {
	m := ctx.M
	ts := m.Types
	v := &variable{cb: cb, field: make(map[ir.ValueID]int64)}

	kind := resprops.KindCBuffer
	if cb.IsTBuffer {
		kind = resprops.KindTBuffer
	}
	v.props = resprops.Properties{Kind: kind, CBufferSize: cb.Size}

	content := ir.NoTypeID
	if cb.IsView {
		if len(cb.Constants) != 1 {
			panic(fmt.Sprintf("cbuf: view %s has %d constants", cb.Name, len(cb.Constants)))
		}
		elem, dims := arrayDims(ts, cb.Constants[0].Type)
		v.structTy = elem
		content = elem
		if len(dims) > 0 {
			n, err := flatCount(dims)
			if err != nil {
				panic(fmt.Errorf("cbuf: %s array size: %w", cb.Name, err))
			}
			content = ts.Array(elem, n)
		}
		annotateView(ctx, v)
	} else {
		var fields []ir.TypeID
		var members []*Constant
		for _, c := range cb.Constants {
			if c.Size == 0 {
				continue
			}
			v.field[c.Global] = int64(len(fields))
			fields = append(fields, c.Type)
			members = append(members, c)
		}
		if len(fields) == 0 {
			v.structTy = ts.Struct()
		} else {
			v.structTy = ts.NamedStruct(uniqueTypeName(ts, cb.Name), fields...)
			annotateMembers(ctx, v.structTy, cb, members)
		}
		content = v.structTy
	}

	v.global = m.NewGlobal(uniqueGlobalName(m, cb.Name), content, ir.NoValueID, true, AddrSpace)
	cb.Global = v.global
	ctx.Objects.AddResource(v.global, v.props)
	return v
}

// annotateMembers records name, offset and matrix shape of each member.
func annotateMembers(ctx Context, structTy ir.TypeID, cb *CBuffer, members []*Constant) {
	ts := ctx.M.Types
	sa := ctx.Annot.AddStructAnnotation(structTy, len(members))
	sa.CBufferSize = cb.Size
	for i, c := range members {
		f := annot.Field{Name: c.Name, CBufferOffset: c.Offset, HasOffset: true}
		mat, _ := arrayDims(ts, c.Type)
		if rows, cols, ok := hlop.MatrixShape(ts, mat); ok {
			orient := annot.OrientColMajor
			if c.RowMajor {
				orient = annot.OrientRowMajor
			}
			f.Matrix = annot.Matrix{Rows: rows, Cols: cols, Orientation: orient}
		}
		f.CompType = compTypeOf(ts, RetrieveLastElementType(ts, c.Type))
		f.MinPrecision = ctx.Options.MinPrecision && isMinPrec(ts, RetrieveLastElementType(ts, c.Type))
		sa.Fields[i] = f
	}
}

// annotateView fills legacy offsets into the annotation of T for fields that
// have none yet.
func annotateView(ctx Context, v *variable) {
	ts := ctx.M.Types
	if !ts.IsStruct(v.structTy) || hlop.IsMatrix(ts, v.structTy) {
		return
	}
	sa, ok := ctx.Annot.GetStructAnnotation(v.structTy)
	if !ok {
		sa = ctx.Annot.AddStructAnnotation(v.structTy, len(ts.Fields(v.structTy)))
	}
	offsets := StructOffsets(ts, ctx.Annot, v.structTy, ctx.Options.MinPrecision)
	for i := range sa.Fields {
		if i < len(offsets) && !sa.Fields[i].HasOffset {
			sa.Fields[i].CBufferOffset = offsets[i]
			sa.Fields[i].HasOffset = true
		}
	}
	if v.cb.Size > sa.CBufferSize {
		sa.CBufferSize = v.cb.Size
	}
}

func compTypeOf(ts *ir.Types, ty ir.TypeID) resprops.CompType {
	if ty == ir.NoTypeID {
		return resprops.CompInvalid
	}
	bits := ts.Bits(ty)
	if ts.IsFloat(ty) {
		switch bits {
		case 16:
			return resprops.CompF16
		case 64:
			return resprops.CompF64
		}
		return resprops.CompF32
	}
	switch bits {
	case 1:
		return resprops.CompI1
	case 16:
		return resprops.CompI16
	case 64:
		return resprops.CompI64
	}
	return resprops.CompI32
}

func uniqueTypeName(ts *ir.Types, base string) string {
	name := base
	for i := 1; ; i++ {
		if _, taken := ts.StructByName(name); !taken {
			return name
		}
		name = base + "." + strconv.Itoa(i)
	}
}

func uniqueGlobalName(m *ir.Module, base string) string {
	name := base
	for i := 1; ; i++ {
		if _, taken := m.GlobalByName(name); !taken {
			return name
		}
		name = base + "." + strconv.Itoa(i)
	}
}
