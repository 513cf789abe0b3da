package hlmodule

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"dxlower/internal/annot"
	"dxlower/internal/cbuf"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
	"dxlower/internal/structurize"
)

func sample(t testing.TB) *HLModule {
	t.Helper()
	hm := New("sample")
	m := hm.IR
	ts := m.Types
	bt := ts.Builtins()

	tex := ts.NamedStruct("class.Texture2D<vector<float, 4> >", ts.Vector(bt.Float, 4))
	g := m.NewGlobal("tex", tex, ir.NoValueID, false, 0)
	hm.Objects.AddResource(g, resprops.Properties{Kind: resprops.KindTexture2D, CompType: resprops.CompF32, CompCount: 4})
	hm.Types.SetTemplateArg(tex, ts.Vector(bt.Float, 4))

	st := ts.NamedStruct("struct.S", bt.Float, bt.I32)
	sa := hm.Types.AddStructAnnotation(st, 2)
	sa.Fields[0] = annot.Field{Name: "a", CBufferOffset: 0, HasOffset: true}
	sa.Fields[1] = annot.Field{Name: "b", CBufferOffset: 4, HasOffset: true, CompType: resprops.CompI32}

	c := m.NewGlobal("scale", bt.Float, ir.NoValueID, false, 0)
	hm.CBuffers = []*cbuf.CBuffer{{
		Name:      "Params",
		Constants: []*cbuf.Constant{{Name: "scale", Global: c, Type: bt.Float, UserOffset: cbuf.NoOffset}},
		Global:    ir.NoValueID,
	}}

	fn := m.NewFunc("main", ts.Func(bt.Float, bt.Float), "x")
	b := ir.NewBuilder(m)
	entry := m.NewBlock(fn.ID, "entry")
	exit := m.NewBlock(fn.ID, "exit")
	b.SetInsertPointAtEnd(entry)
	b.Br(exit)
	b.SetInsertPointAtEnd(exit)
	b.Ret(b.Load(c, "s"))
	hm.Scopes["main"] = structurize.NewScopeInfo(exit)

	hm.Entry = Entry{Func: "main", Kind: ShaderPixel}
	hm.LanguageVersion = 2021
	hm.ShaderModel = "6.6"
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	return hm
}

func TestRoundTrip(t *testing.T) {
	hm := sample(t)
	var buf bytes.Buffer
	if err := hm.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got, want := back.IR.String(), hm.IR.String(); got != want {
		t.Fatalf("module differs:\n%s\nwant:\n%s", got, want)
	}
	g, _ := back.IR.GlobalByName("tex")
	if p := back.Objects.GetResource(g); p.Kind != resprops.KindTexture2D || p.CompCount != 4 {
		t.Fatalf("resource properties lost: %s", p)
	}
	st, ok := back.IR.Types.StructByName("struct.S")
	if !ok {
		t.Fatalf("struct.S missing after decode")
	}
	if f, ok := back.Types.GetFieldAnnotation(st, 1); !ok || f.Name != "b" || f.CBufferOffset != 4 {
		t.Fatalf("field annotation = %+v, %v", f, ok)
	}
	if len(back.CBuffers) != 1 || back.CBuffers[0].Constants[0].Name != "scale" {
		t.Fatalf("cbuffers = %+v", back.CBuffers)
	}
	if back.Entry != hm.Entry || back.ShaderModel != "6.6" || back.LanguageVersion != 2021 {
		t.Fatalf("entry = %+v sm %q lang %d", back.Entry, back.ShaderModel, back.LanguageVersion)
	}
	si := back.Scopes["main"]
	if si == nil || si.Exit() != hm.Scopes["main"].Exit() {
		t.Fatalf("scopes were not restored")
	}
	// Use lists are rebuilt: the cbuffer global is loaded once.
	c, _ := back.IR.GlobalByName("scale")
	if n := back.IR.NumUses(c); n != 1 {
		t.Fatalf("scale has %d uses after decode, want 1", n)
	}
	if err := ir.Verify(back.IR); err != nil {
		t.Fatalf("verify after decode: %v", err)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	hm := sample(t)
	path := filepath.Join(t.TempDir(), "out", "sample"+Ext)
	if err := hm.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	back, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if back.Name() != "sample" {
		t.Fatalf("name = %q", back.Name())
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "tmp-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestDecodeRejectsOtherSchema(t *testing.T) {
	var buf bytes.Buffer
	p := payload{Schema: schemaVersion + 1, Image: ir.NewModule("x").Image()}
	if err := msgpack.NewEncoder(&buf).Encode(&p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(&buf); !errors.Is(err, ErrSchema) {
		t.Fatalf("err = %v, want ErrSchema", err)
	}
}

func TestDecodeReportsDanglingReferences(t *testing.T) {
	hm := sample(t)
	hm.Objects.AddResource(9999, resprops.Properties{Kind: resprops.KindTexture2D})
	hm.Scopes["missing"] = structurize.NewScopeInfo(0)
	var buf bytes.Buffer
	if err := hm.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err := Decode(&buf)
	if err == nil {
		t.Fatalf("dangling references were accepted")
	}
	for _, want := range []string{"missing value %9999", "unknown function missing"} {
		if !bytes.Contains([]byte(err.Error()), []byte(want)) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestParseShaderKind(t *testing.T) {
	for _, k := range []ShaderKind{ShaderLibrary, ShaderPixel, ShaderHull, ShaderNode} {
		got, ok := ParseShaderKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseShaderKind(%q) = %s, %v", k.String(), got, ok)
		}
	}
	if _, ok := ParseShaderKind("xs"); ok {
		t.Errorf("unknown profile accepted")
	}
}
