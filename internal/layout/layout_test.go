package layout

import (
	"errors"
	"testing"

	"dxlower/internal/ir"
)

func TestLayoutOfRecordStructs(t *testing.T) {
	ts := ir.NewTypes()
	b := ts.Builtins()
	e := New(DXIL(), ts)

	f3 := ts.Vector(b.Float, 3)
	rec := ts.NamedStruct("struct.Rec", f3, b.I1, b.Half, b.Double)
	l, err := e.LayoutOf(rec)
	if err != nil {
		t.Fatalf("LayoutOf: %v", err)
	}
	wantOffsets := []int{0, 12, 16, 24}
	for i, w := range wantOffsets {
		if l.FieldOffsets[i] != w {
			t.Errorf("field %d offset = %d, want %d", i, l.FieldOffsets[i], w)
		}
	}
	if l.Size != 32 || l.Align != 8 {
		t.Fatalf("size/align = %d/%d, want 32/8", l.Size, l.Align)
	}

	arr := ts.Array(ts.Struct(b.I16, b.I8), 3)
	if n, _ := e.SizeOf(arr); n != 12 {
		t.Fatalf("array size = %d, want 12", n)
	}
}

func TestLayoutOpaqueStructFails(t *testing.T) {
	ts := ir.NewTypes()
	e := New(DXIL(), ts)
	_, err := e.SizeOf(ts.NamedStruct("struct.Fwd"))
	var le *LayoutError
	if !errors.As(err, &le) || le.Kind != LayoutErrOpaque {
		t.Fatalf("expected opaque layout error, got %v", err)
	}
}
