package annot

import (
	"testing"

	"dxlower/internal/ir"
)

func TestStructAnnotations(t *testing.T) {
	types := ir.NewTypes()
	b := types.Builtins()
	st := types.NamedStruct("struct.S", b.Float, b.I32)
	ts := New()

	s := ts.AddStructAnnotation(st, 2)
	s.Fields[0] = Field{Name: "a", CBufferOffset: 0, HasOffset: true}
	s.Fields[1] = Field{Name: "b", CBufferOffset: 4, HasOffset: true}
	if again := ts.AddStructAnnotation(st, 2); again != s {
		t.Fatalf("AddStructAnnotation must return the existing annotation")
	}

	f, ok := ts.GetFieldAnnotation(st, 1)
	if !ok || f.Name != "b" || f.CBufferOffset != 4 {
		t.Fatalf("field 1 = %+v %v", f, ok)
	}
	if _, ok := ts.GetFieldAnnotation(st, 2); ok {
		t.Fatalf("out of range field must miss")
	}

	res := types.NamedStruct("class.StructuredBuffer<S>", st)
	ts.SetTemplateArg(res, st)
	if arg, ok := ts.TemplateArg(res); !ok || arg != st {
		t.Fatalf("template arg = %v %v", arg, ok)
	}
	if got := len(ts.Structs()); got != 2 {
		t.Fatalf("structs = %d", got)
	}
}

func TestMustFieldAnnotationPanics(t *testing.T) {
	types := ir.NewTypes()
	st := types.NamedStruct("struct.M", types.Builtins().Float)
	defer func() {
		if recover() == nil {
			t.Fatalf("missing annotation must panic")
		}
	}()
	New().MustFieldAnnotation(types, st, 0)
}
