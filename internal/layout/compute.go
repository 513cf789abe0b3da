package layout

import (
	"fortio.org/safecast"

	"dxlower/internal/ir"
)

func (e *LayoutEngine) computeLayout(id ir.TypeID) (TypeLayout, *LayoutError) {
	typesIn := e.Types
	if typesIn == nil || id == ir.NoTypeID {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	tt, ok := typesIn.Lookup(id)
	if !ok {
		return TypeLayout{Size: 0, Align: 1}, nil
	}

	switch tt.Kind {
	case ir.KindInt:
		if tt.Bits == 1 {
			return TypeLayout{Size: e.Target.BoolSize, Align: e.Target.BoolAlign}, nil
		}
		return scalarLayoutBytes((int(tt.Bits) + 7) / 8), nil

	case ir.KindFloat:
		return scalarLayoutBytes(int(tt.Bits) / 8), nil

	case ir.KindPointer:
		return e.ptrLayout(), nil

	case ir.KindVector, ir.KindArray:
		return e.arrayFixedLayout(id, tt.Elem, tt.Len)

	case ir.KindStruct:
		if tt.Opaque {
			return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrOpaque, Type: id, Name: typesIn.String(id)}
		}
		return e.structLayout(tt.Fields)

	default:
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrUnsized, Type: id, Name: typesIn.String(id)}
	}
}

func (e *LayoutEngine) ptrLayout() TypeLayout {
	ptrSize := e.Target.PtrSize
	ptrAlign := e.Target.PtrAlign
	if ptrSize <= 0 {
		ptrSize = 4
	}
	if ptrAlign <= 0 {
		ptrAlign = ptrSize
	}
	return TypeLayout{Size: ptrSize, Align: ptrAlign}
}

func scalarLayoutBytes(size int) TypeLayout {
	if size <= 0 {
		return TypeLayout{Size: 0, Align: 1}
	}
	return TypeLayout{Size: size, Align: size}
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

func (e *LayoutEngine) arrayFixedLayout(id, elem ir.TypeID, length uint32) (TypeLayout, *LayoutError) {
	elemLayout, err := e.layoutOf(elem)
	if err != nil {
		return TypeLayout{Size: 0, Align: 1}, err
	}
	elemAlign := elemLayout.Align
	if elemAlign <= 0 {
		elemAlign = 1
	}
	stride := roundUp(elemLayout.Size, elemAlign)
	n, convErr := safecast.Conv[int](length)
	if convErr != nil {
		return TypeLayout{Size: 0, Align: 1}, &LayoutError{Kind: LayoutErrLengthConversion, Type: id, Name: e.Types.String(id), Err: convErr}
	}
	return TypeLayout{
		Size:  stride * n,
		Align: elemAlign,
	}, nil
}

func (e *LayoutEngine) structLayout(fields []ir.TypeID) (TypeLayout, *LayoutError) {
	if len(fields) == 0 {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	offsets := make([]int, len(fields))
	aligns := make([]int, len(fields))

	size := 0
	align := 1
	for i, f := range fields {
		fl, err := e.layoutOf(f)
		if err != nil {
			return TypeLayout{Size: 0, Align: 1}, err
		}
		fAlign := fl.Align
		if fAlign <= 0 {
			fAlign = 1
		}
		size = roundUp(size, fAlign)
		offsets[i] = size
		aligns[i] = fAlign
		size += fl.Size
		align = max(align, fAlign)
	}
	size = roundUp(size, align)
	return TypeLayout{
		Size:         size,
		Align:        align,
		FieldOffsets: offsets,
		FieldAligns:  aligns,
	}, nil
}
