// Package cbuf computes the legacy constant-buffer layout and materializes
// cbuffers as a backing global plus per-function subscripts.
//
// Legacy layout packs members into 16-byte rows. A member never straddles a
// row boundary, and arrays, structs and multi-column (multi-row for row-major)
// matrices always start a new row. Array elements each occupy whole rows
// except the last one, which later members may pack into.
package cbuf

import (
	"fortio.org/safecast"

	"dxlower/internal/annot"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// RowSize is the size in bytes of one constant-buffer register.
const RowSize = 16

// MaxSize is the largest constant buffer the runtime can bind.
const MaxSize = 64 * 1024

func roundUp(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// scalarSize is the in-buffer size of one scalar component. Bools occupy 32
// bits; in minimum-precision mode 16-bit types are padded to 32 bits as well.
func scalarSize(ts *ir.Types, ty ir.TypeID, minPrec bool) uint32 {
	switch ts.Kind(ty) {
	case ir.KindInt, ir.KindFloat:
	default:
		return 0
	}
	bits := uint32(ts.Bits(ty))
	switch {
	case bits == 1:
		return 4
	case bits == 16 && minPrec:
		return 4
	}
	return bits / 8
}

// isMinPrec reports 16-bit scalars, which are min-precision types when the
// module is compiled without native 16-bit support.
func isMinPrec(ts *ir.Types, ty ir.TypeID) bool {
	if ty == ir.NoTypeID {
		return false
	}
	switch ts.Kind(ty) {
	case ir.KindInt, ir.KindFloat:
		return ts.Bits(ty) == 16
	}
	return false
}

// LegacySize returns the number of bytes ty spans in a constant buffer. The
// last row of a type is not padded. Objects and opaque types take no space.
func LegacySize(ts *ir.Types, at *annot.TypeSystem, ty ir.TypeID, rowMajor, minPrec bool) uint32 {
	switch ts.Kind(ty) {
	case ir.KindInt, ir.KindFloat:
		return scalarSize(ts, ty, minPrec)
	case ir.KindVector:
		return ts.Count(ty) * scalarSize(ts, ts.Elem(ty), minPrec)
	case ir.KindArray:
		n := ts.Count(ty)
		if n == 0 {
			return 0
		}
		elem := LegacySize(ts, at, ts.Elem(ty), rowMajor, minPrec)
		if elem == 0 {
			return 0
		}
		return (n-1)*roundUp(elem, RowSize) + elem
	case ir.KindStruct:
		if rows, cols, ok := hlop.MatrixShape(ts, ty); ok {
			elem := scalarSize(ts, hlop.MatrixElem(ts, ty), minPrec)
			if rowMajor {
				return (rows-1)*RowSize + cols*elem
			}
			return (cols-1)*RowSize + rows*elem
		}
		if hlop.Classify(ts, ty) != hlop.ObjNone || hlop.IsHandleType(ts, ty) {
			return 0
		}
		_, size := structLayout(ts, at, ty, minPrec)
		return size
	}
	return 0
}

// fieldRowMajor reads the orientation of struct field i from its annotation.
// Unannotated matrices are column-major.
func fieldRowMajor(at *annot.TypeSystem, ty ir.TypeID, i int) bool {
	if at == nil {
		return false
	}
	f, ok := at.GetFieldAnnotation(ty, i)
	return ok && f.Matrix.Orientation == annot.OrientRowMajor
}

// structLayout places the fields of a plain struct in legacy order and
// returns their offsets together with the end of the last field.
func structLayout(ts *ir.Types, at *annot.TypeSystem, ty ir.TypeID, minPrec bool) ([]uint32, uint32) {
	fields := ts.Fields(ty)
	offsets := make([]uint32, len(fields))
	var offset uint32
	curMinPrec := false
	for i, f := range fields {
		rowMajor := fieldRowMajor(at, ty, i)
		size := LegacySize(ts, at, f, rowMajor, minPrec)
		offset = AlignCBufferOffset(ts, offset, size, f, rowMajor, minPrec, &curMinPrec)
		offsets[i] = offset
		offset += size
	}
	return offsets, offset
}

// StructOffsets returns the legacy offset of every field of ty.
func StructOffsets(ts *ir.Types, at *annot.TypeSystem, ty ir.TypeID, minPrec bool) []uint32 {
	offsets, _ := structLayout(ts, at, ty, minPrec)
	return offsets
}

// AlignBufferOffsetInLegacy aligns offset for a member of the given size.
// The member moves to the next row when it would cross a row boundary or
// needNewRow is set; otherwise it is aligned to its scalar size.
func AlignBufferOffsetInLegacy(offset, size, scalarSize uint32, needNewRow bool) uint32 {
	inRow := offset % RowSize
	if inRow != 0 && (inRow+size > RowSize || needNewRow) {
		return roundUp(offset, RowSize)
	}
	return roundUp(offset, scalarSize)
}

// AlignCBufferOffset places a member of type ty after offset. Zero-size
// members stay where they are. In minimum-precision mode a member whose
// trailing scalar precision differs from the current row's starts a new row;
// curRowIsMinPrec carries that state from member to member.
func AlignCBufferOffset(ts *ir.Types, offset, size uint32, ty ir.TypeID, rowMajor, minPrec bool, curRowIsMinPrec *bool) uint32 {
	if size == 0 {
		return offset
	}
	needNewRow := false
	switch ts.Kind(ty) {
	case ir.KindArray:
		needNewRow = true
	case ir.KindStruct:
		if rows, cols, ok := hlop.MatrixShape(ts, ty); ok {
			if rowMajor {
				needNewRow = rows > 1
			} else {
				needNewRow = cols > 1
			}
		} else {
			needNewRow = true
		}
	}

	if minPrec && curRowIsMinPrec != nil {
		rowIsMinPrec := isMinPrec(ts, RetrieveLastElementType(ts, ty))
		if rowIsMinPrec != *curRowIsMinPrec {
			needNewRow = true
		}
		*curRowIsMinPrec = rowIsMinPrec
	}

	var scalar uint32
	switch {
	case hlop.IsMatrix(ts, ty):
		scalar = scalarSize(ts, hlop.MatrixElem(ts, ty), minPrec)
	default:
		scalar = scalarSize(ts, ts.ScalarType(ty), minPrec)
	}
	return AlignBufferOffsetInLegacy(offset, size, scalar, needNewRow)
}

// RetrieveLastElementType returns the scalar type stored last in ty, looking
// through arrays, vectors, matrices and struct fields. Trailing fields that
// contain no scalar at all are skipped. It returns ir.NoTypeID when ty holds
// no scalar.
func RetrieveLastElementType(ts *ir.Types, ty ir.TypeID) ir.TypeID {
	switch ts.Kind(ty) {
	case ir.KindInt, ir.KindFloat:
		return ty
	case ir.KindVector, ir.KindArray:
		return RetrieveLastElementType(ts, ts.Elem(ty))
	case ir.KindStruct:
		if hlop.IsMatrix(ts, ty) {
			return hlop.MatrixElem(ts, ty)
		}
		fields := ts.Fields(ty)
		for i := len(fields) - 1; i >= 0; i-- {
			if t := RetrieveLastElementType(ts, fields[i]); t != ir.NoTypeID {
				return t
			}
		}
	}
	return ir.NoTypeID
}

// arrayDims strips nested arrays off ty and returns the element type and the
// dimensions, outermost first.
func arrayDims(ts *ir.Types, ty ir.TypeID) (ir.TypeID, []uint32) {
	var dims []uint32
	for ts.IsArray(ty) {
		dims = append(dims, ts.Count(ty))
		ty = ts.Elem(ty)
	}
	return ty, dims
}

// flatCount multiplies dims, failing on overflow.
func flatCount(dims []uint32) (uint32, error) {
	n := uint64(1)
	for _, d := range dims {
		n *= uint64(d)
		if n > 1<<32-1 {
			break
		}
	}
	return safecast.Conv[uint32](n)
}
