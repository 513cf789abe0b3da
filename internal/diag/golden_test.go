package diag

import "testing"

func TestFormatGoldenDiagnostics(t *testing.T) {
	diags := []*Diagnostic{
		{
			Severity: SevError,
			Code:     LowCBufferTooLarge,
			Message:  "cbuffer Big is 70000 bytes\nlimit is 65536",
			Primary:  Loc{File: "./shaders/a.hlm"},
			Notes: []Note{
				{Loc: Loc{File: "./shaders/a.hlm", Func: "main"}, Msg: "used here"},
			},
		},
		{
			Severity: SevWarning,
			Code:     LowStructurizeSkipped,
			Message:  "function has cleanup blocks",
			Primary:  Loc{File: "./shaders/a.hlm", Func: "helper", Block: "cleanup"},
		},
	}

	// Entries sort by location, so the note on @main follows @helper.
	expected := "error LOW3001 shaders/a.hlm cbuffer Big is 70000 bytes limit is 65536\n" +
		"warning LOW3003 shaders/a.hlm:@helper:%cleanup function has cleanup blocks\n" +
		"note LOW3001 shaders/a.hlm:@main used here"

	if got := FormatGoldenDiagnostics(diags, true); got != expected {
		t.Fatalf("unexpected golden diagnostics:\nwant:\n%s\n\ngot:\n%s", expected, got)
	}
}

func TestDedupReporter(t *testing.T) {
	bag := NewBag(8)
	r := NewDedupReporter(BagReporter{Bag: bag})
	for range 3 {
		ReportWarning(r, LowStructurizeSkipped, FuncLoc("f"), "skipped").Emit()
	}
	ReportWarning(r, LowStructurizeSkipped, FuncLoc("g"), "skipped").Emit()
	if bag.Len() != 2 {
		t.Fatalf("expected 2 diagnostics after dedup, got %d", bag.Len())
	}
}

func TestFileReporterStampsPath(t *testing.T) {
	bag := NewBag(4)
	r := FileReporter{Path: "x.hlm", Next: BagReporter{Bag: bag}}
	ReportError(r, EntEntryNotFound, FuncLoc("main"), "missing").
		WithNote(Loc{Func: "other"}, "candidate").
		Emit()
	d := bag.Items()[0]
	if d.Primary.File != "x.hlm" || d.Notes[0].Loc.File != "x.hlm" {
		t.Fatalf("file not stamped: %+v", d)
	}
	if !bag.HasErrors() || bag.Count(EntEntryNotFound) != 1 {
		t.Fatalf("bag state wrong: %+v", bag.Items())
	}
}

func TestBagSortIsDeterministic(t *testing.T) {
	bag := NewBag(4)
	bag.Add(New(SevWarning, LowCBufferOverlap, FuncLoc("b"), "w"))
	bag.Add(New(SevError, LowCBufferTooLarge, FuncLoc("b"), "e"))
	bag.Add(New(SevInfo, LowInfo, FuncLoc("a"), "i"))
	bag.Sort()
	got := []Code{bag.Items()[0].Code, bag.Items()[1].Code, bag.Items()[2].Code}
	want := []Code{LowInfo, LowCBufferTooLarge, LowCBufferOverlap}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted codes = %v, want %v", got, want)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
		ok   bool
	}{
		{"error", SevError, true},
		{" Warn ", SevWarning, true},
		{"INFO", SevInfo, true},
		{"fatal", SevInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseSeverity(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseSeverity(%q) = %s, %v", tt.in, got, ok)
		}
	}
	if SevError.String() != "ERROR" || Severity(9).String() != "UNKNOWN" {
		t.Fatalf("unexpected names")
	}
}
