package prof

import (
	"context"
	"os"
	"path/filepath"
	"runtime/pprof"
	"testing"
)

func TestSessionWritesProfiles(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.pprof"),
		Mem:   filepath.Join(dir, "mem.pprof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	if !opts.Enabled() {
		t.Fatalf("options with paths must be enabled")
	}
	s, err := Start(opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	for _, p := range []string{opts.CPU, opts.Mem, opts.Trace} {
		st, err := os.Stat(p)
		if err != nil || st.Size() == 0 {
			t.Errorf("%s not written (err %v)", filepath.Base(p), err)
		}
	}
}

func TestStartFailsOnBadPath(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "missing", "cpu.pprof")
	if _, err := Start(Options{CPU: bad}); err == nil {
		t.Fatalf("Start accepted an uncreatable path")
	}
}

func TestDoSetsLabels(t *testing.T) {
	var module, stage string
	Do(context.Background(), "a.hlm", "fold", func(ctx context.Context) {
		module, _ = pprof.Label(ctx, "module")
		stage, _ = pprof.Label(ctx, "stage")
	})
	if module != "a.hlm" || stage != "fold" {
		t.Fatalf("labels = %q, %q", module, stage)
	}
}

func TestNilSessionStop(t *testing.T) {
	var s *Session
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
