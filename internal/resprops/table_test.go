package resprops

import (
	"testing"

	"dxlower/internal/ir"
)

func TestEncodeDecode(t *testing.T) {
	cases := []Properties{
		{Kind: KindTexture2D, CompType: CompF32, CompCount: 4},
		{Kind: KindStructuredBuffer, Flags: FlagUAV | FlagHasCounter, StructStride: 48},
		{Kind: KindCBuffer, CBufferSize: 80},
		{Kind: KindSampler, Flags: FlagSamplerCmp},
		{Kind: KindRawBuffer, Flags: FlagUAV | FlagGloballyCoherent},
		{Kind: KindFeedbackTexture2D, FeedbackType: 1},
	}
	for _, p := range cases {
		if got := Decode(p.Encode()); got != p {
			t.Errorf("Decode(Encode(%v)) = %v", p, got)
		}
	}
	if Invalid.IsValid() || Invalid.Class() != ClassInvalid {
		t.Fatalf("zero properties must be invalid")
	}
	if (Properties{Kind: KindRawBuffer, Flags: FlagUAV}).Class() != ClassUAV {
		t.Fatalf("uav flag must select the UAV class")
	}
}

func TestTableInsertionOrderAndLookup(t *testing.T) {
	tab := NewTable()
	tex := Properties{Kind: KindTexture2D, CompType: CompF32, CompCount: 4}
	buf := Properties{Kind: KindRawBuffer, Flags: FlagUAV}

	if tab.AddResource(7, Invalid) {
		t.Fatalf("invalid properties must not be stored")
	}
	if !tab.AddResource(9, tex) || !tab.AddResource(3, buf) {
		t.Fatalf("valid properties must be stored")
	}
	if !tab.AddResource(9, tex) {
		t.Fatalf("identical re-registration is allowed")
	}
	entries := tab.Entries()
	if len(entries) != 2 || entries[0].Value != 9 || entries[1].Value != 3 {
		t.Fatalf("entries not in insertion order: %v", entries)
	}
	if tab.IsResource(7) || tab.GetResource(7) != Invalid {
		t.Fatalf("miss must return the invalid sentinel")
	}

	tab.UpdateCoherence(3, true, true)
	got := tab.GetResource(3)
	if !got.Flags.Has(FlagGloballyCoherent | FlagReorderCoherent) {
		t.Fatalf("coherence flags not toggled: %v", got)
	}
	tab.UpdateCoherence(3, true, false)
	if tab.GetResource(3).Flags.Has(FlagGloballyCoherent) {
		t.Fatalf("second toggle must clear the flag")
	}
	tab.UpdateCoherence(42, true, true) // absent: no-op
	if tab.Len() != 2 {
		t.Fatalf("UpdateCoherence must not insert")
	}
}

func TestConflictingRegistrationPanics(t *testing.T) {
	tab := NewTable()
	tab.AddResource(1, Properties{Kind: KindTexture2D})
	defer func() {
		if recover() == nil {
			t.Fatalf("conflicting AddResource must panic")
		}
	}()
	tab.AddResource(1, Properties{Kind: KindTexture3D})
}

func TestResolveWalksGEPChains(t *testing.T) {
	m := ir.NewModule("r")
	ts := m.Types
	res := ts.NamedStruct("class.Texture2D<float>", ts.Builtins().Float)
	arr := m.NewGlobal("Tex", ts.Array(res, 4), ir.NoValueID, false, 0)
	tab := NewTable()
	p := Properties{Kind: KindTexture2D, CompType: CompF32, CompCount: 1}
	tab.AddResource(arr, p)

	elem := m.ConstGEP(arr, m.ConstI32(0), m.ConstI32(2))
	got, root, ok := tab.Resolve(m, elem)
	if !ok || root != arr || got != p {
		t.Fatalf("Resolve = %v %d %v", got, root, ok)
	}
	if _, _, ok := tab.Resolve(m, m.ConstI32(0)); ok {
		t.Fatalf("constants are not resources")
	}
}
