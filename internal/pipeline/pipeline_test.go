package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"dxlower/internal/diag"
	"dxlower/internal/hlmodule"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

func pixelModule(name string) *hlmodule.HLModule {
	hm := hlmodule.New(name)
	m := hm.IR
	bt := m.Types.Builtins()
	fn := m.NewFunc("main", m.Types.Func(bt.Float, bt.Float), "x")
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(fn.ID, "entry"))
	b.Ret(b.Binary(ir.OpFAdd, fn.Params[0], m.ConstFloat(bt.Float, 1)))
	hm.Entry = hlmodule.Entry{Func: "main", Kind: hlmodule.ShaderPixel}
	hm.LanguageVersion = 2021
	return hm
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) stages(status Status) []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Stage
	for _, e := range r.events {
		if e.Status == status {
			out = append(out, e.Stage)
		}
	}
	return out
}

func TestLowerRunsStagesInOrder(t *testing.T) {
	rec := &recorder{}
	opts := DefaultOptions()
	opts.Progress = rec
	res, err := Lower(context.Background(), "a.hlm", pixelModule("a"), opts)
	if err != nil {
		t.Fatalf("Lower: %v\n%s", err, diag.FormatBag(res.Bag, true))
	}
	want := []Stage{
		StageEntry, StageHeap, StageOpLower, StageBitCast, StageCBufferLayout,
		StageCBuffer, StageStaticGlobals, StageStructurize, StageFold, StageVerify, StageEmit,
	}
	got := rec.stages(StatusDone)
	if len(got) != len(want) {
		t.Fatalf("done stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, got[i], want[i])
		}
	}
	if !strings.Contains(string(res.Output), "@main") {
		t.Fatalf("output does not mention the entry:\n%s", res.Output)
	}
	if res.Stats.ResolvedEntry != "main" {
		t.Fatalf("resolved entry = %q", res.Stats.ResolvedEntry)
	}
	if len(res.Timer.Phases()) != len(want) || !res.Timings.Has(StageVerify) {
		t.Fatalf("timings were not recorded: %+v", res.Timer.Phases())
	}
}

func TestLowerSkipsDisabledStages(t *testing.T) {
	rec := &recorder{}
	opts := Options{Progress: rec, Format: FormatNone}
	res, err := Lower(context.Background(), "", pixelModule("b"), opts)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	for _, st := range rec.stages(StatusDone) {
		if st == StageStructurize || st == StageFold {
			t.Fatalf("stage %s ran while disabled", st)
		}
	}
	if res.File != "b" || res.Output != nil {
		t.Fatalf("file = %q, output = %q", res.File, res.Output)
	}
}

func TestLowerStopsOnEntryErrors(t *testing.T) {
	hm := pixelModule("c")
	hm.Entry.Func = "missing"
	rec := &recorder{}
	opts := DefaultOptions()
	opts.Progress = rec
	res, err := Lower(context.Background(), "c.hlm", hm, opts)
	if !errors.Is(err, ErrDiagnostics) {
		t.Fatalf("err = %v, want ErrDiagnostics", err)
	}
	if res.Bag.Count(diag.EntEntryNotFound) != 1 {
		t.Fatalf("diagnostics:\n%s", diag.FormatBag(res.Bag, false))
	}
	if failed := rec.stages(StatusError); len(failed) != 1 || failed[0] != StageEntry {
		t.Fatalf("failed stages = %v", failed)
	}
	if done := rec.stages(StatusDone); len(done) != 0 {
		t.Fatalf("stages after the failure still ran: %v", done)
	}
}

func TestLowerRecoversPanics(t *testing.T) {
	hm := pixelModule("d")
	m := hm.IR
	pc := m.NewFunc("pc", m.Types.Func(m.Types.Builtins().Void))
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(pc.ID, "entry"))
	b.RetVoid()
	pc.SetAttr(hlop.AttrInout, "first")
	hm.Entry = hlmodule.Entry{Func: "main", Kind: hlmodule.ShaderHull, PatchConstant: "pc"}

	_, err := Lower(context.Background(), "d.hlm", hm, DefaultOptions())
	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *InternalError", err)
	}
	if ie.Stage != StageEntry || len(ie.Stack) == 0 {
		t.Fatalf("internal error = %+v", ie)
	}
}

func TestLowerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Lower(ctx, "e.hlm", pixelModule("e"), DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestLowerFilesUsesCache(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"one", "two"} {
		path := filepath.Join(dir, name+hlmodule.Ext)
		if err := pixelModule(name).WriteFile(path); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		files = append(files, path)
	}
	cache, err := OpenCache(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	opts := DefaultOptions()
	opts.Jobs = 2
	opts.Cache = cache

	first, err := LowerFiles(context.Background(), files, opts)
	if err != nil {
		t.Fatalf("LowerFiles: %v", err)
	}
	second, err := LowerFiles(context.Background(), files, opts)
	if err != nil {
		t.Fatalf("LowerFiles (cached): %v", err)
	}
	for i := range files {
		if first[i].Cached || !second[i].Cached {
			t.Fatalf("file %d: cached = %v then %v", i, first[i].Cached, second[i].Cached)
		}
		if string(first[i].Output) != string(second[i].Output) {
			t.Fatalf("cached output differs for %s", files[i])
		}
		if second[i].File != files[i] {
			t.Fatalf("results out of order: %s at %d", second[i].File, i)
		}
	}

	opts.FoldConstants = false
	third, err := LowerFiles(context.Background(), files[:1], opts)
	if err != nil || third[0].Cached {
		t.Fatalf("changed options must miss the cache (err %v)", err)
	}
}

func TestLowerFilesReportsBadInput(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.hlm")
	res, err := LowerFiles(context.Background(), []string{missing}, DefaultOptions())
	if err == nil {
		t.Fatalf("missing file accepted")
	}
	if res[0].Bag.Count(diag.IOReadFailure) != 1 {
		t.Fatalf("diagnostics:\n%s", diag.FormatBag(res[0].Bag, false))
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"", FormatIR, true},
		{"ll", FormatLL, true},
		{"hlm", FormatHLM, true},
		{"none", FormatNone, true},
		{"spirv", FormatNone, false},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseFormat(%q) = %s, %v", tt.in, got, err)
		}
	}
}
