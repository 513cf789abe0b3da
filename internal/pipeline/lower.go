// Package pipeline runs the lowering passes over high-level modules in their
// fixed order, reports progress and timings, and lowers independent files
// concurrently.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"dxlower/internal/bitcast"
	"dxlower/internal/cbuf"
	"dxlower/internal/constfold"
	"dxlower/internal/diag"
	"dxlower/internal/entry"
	"dxlower/internal/hlmodule"
	"dxlower/internal/ir"
	"dxlower/internal/llexport"
	"dxlower/internal/observ"
	"dxlower/internal/oplower"
	"dxlower/internal/prof"
	"dxlower/internal/structurize"
	"dxlower/internal/trace"
)

// Format selects what Lower renders into Result.Output.
type Format string

const (
	FormatIR   Format = "ir"  // the module printer's text
	FormatLL   Format = "ll"  // LLVM assembly
	FormatHLM  Format = "hlm" // re-encoded module
	FormatNone Format = "none"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatIR, FormatLL, FormatHLM, FormatNone:
		return f, nil
	case "":
		return FormatIR, nil
	}
	return FormatNone, fmt.Errorf("unknown output format %q (expected: ir|ll|hlm|none)", s)
}

// Options configures a lowering run.
type Options struct {
	// LanguageVersion overrides the module's HLSL version when non-zero.
	LanguageVersion uint32
	// ShaderModel overrides the module's target when set.
	ShaderModel        string
	MinPrecision       bool
	StructurizeReturns bool
	WaveSensitive      bool
	FoldConstants      bool
	MaxDiagnostics     int
	Format             Format

	// Jobs bounds LowerFiles concurrency; <= 0 means GOMAXPROCS.
	Jobs     int
	Progress ProgressSink
	Cache    *Cache
}

// DefaultOptions enables every optional pass.
func DefaultOptions() Options {
	return Options{
		StructurizeReturns: true,
		FoldConstants:      true,
		MaxDiagnostics:     100,
		Format:             FormatIR,
	}
}

// fingerprint identifies the options that change the output.
func (o Options) fingerprint() string {
	return fmt.Sprintf("lang=%d sm=%s minprec=%t structurize=%t wave=%t fold=%t fmt=%s",
		o.LanguageVersion, o.ShaderModel, o.MinPrecision, o.StructurizeReturns,
		o.WaveSensitive, o.FoldConstants, o.Format)
}

// Stats collects the counters each pass reports.
type Stats struct {
	HeapCalls     int
	OpLower       oplower.Stats
	BitCasts      int
	StaticCasts   int
	Structurized  int
	Fold          constfold.Stats
	EntryErrors   int
	ResolvedEntry string
}

// Result is the outcome of lowering one module.
type Result struct {
	File    string
	Module  *hlmodule.HLModule
	Bag     *diag.Bag
	Timings Timings
	Timer   *observ.Timer
	Stats   Stats
	Output  []byte
	Cached  bool
	Err     error
}

// InternalError wraps a panic raised by a pass: the input broke a contract
// the front end is expected to uphold.
type InternalError struct {
	File  string
	Stage Stage
	Value any
	Stack []byte
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: internal error in %s: %v", e.File, e.Stage, e.Value)
}

// ErrDiagnostics is returned when lowering reported errors to the bag.
var ErrDiagnostics = errors.New("lowering reported errors")

type run struct {
	ctx   context.Context
	file  string
	hm    *hlmodule.HLModule
	opts  Options
	res   *Result
	rep   diag.Reporter
	tr    trace.Tracer
	span  *trace.Span
	stage Stage
}

// Lower runs every pass over hm and renders the output. file names the
// module in events and diagnostics. Passes that panic are reported as an
// *InternalError; user-facing problems end up in Result.Bag, and the run
// stops with ErrDiagnostics after the first stage that reported an error.
func Lower(ctx context.Context, file string, hm *hlmodule.HLModule, opts Options) (res *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.MaxDiagnostics <= 0 {
		opts.MaxDiagnostics = 100
	}
	if file == "" {
		file = hm.Name()
	}
	bag := diag.NewBag(opts.MaxDiagnostics)
	res = &Result{File: file, Module: hm, Bag: bag, Timer: observ.NewTimer()}
	tr := trace.FromContext(ctx)
	r := &run{
		ctx:  ctx,
		file: file,
		hm:   hm,
		opts: opts,
		res:  res,
		rep:  diag.NewDedupReporter(diag.BagReporter{Bag: bag}),
		tr:   tr,
		span: trace.Begin(tr, trace.ScopeModule, "module:"+file, trace.CurrentSpan(ctx)),
	}
	defer func() {
		if p := recover(); p != nil {
			err = &InternalError{File: file, Stage: r.stage, Value: p, Stack: debug.Stack()}
			emit(opts.Progress, Event{File: file, Stage: r.stage, Status: StatusError, Err: err})
		}
		if err != nil {
			res.Err = err
		}
		r.span.End(statusDetail(err))
	}()

	if opts.LanguageVersion != 0 {
		hm.LanguageVersion = opts.LanguageVersion
	}
	if opts.ShaderModel != "" {
		hm.ShaderModel = opts.ShaderModel
	}

	for _, st := range r.stages() {
		if err := r.do(st.stage, st.fn); err != nil {
			return res, err
		}
	}
	return res, nil
}

type stageFn struct {
	stage Stage
	fn    func() string
}

func (r *run) stages() []stageFn {
	hm, m := r.hm, r.hm.IR
	cctx := hm.CBufferContext(r.rep, cbuf.Options{MinPrecision: r.opts.MinPrecision})
	stages := []stageFn{
		{StageEntry, func() string {
			er := entry.Check(hm, r.rep)
			r.res.Stats.EntryErrors = er.Errors
			if er.Entry != nil {
				r.res.Stats.ResolvedEntry = er.Entry.Name
			}
			return fmt.Sprintf("%d exports", len(er.Exports))
		}},
		{StageHeap, func() string {
			r.res.Stats.HeapCalls = oplower.LowerGetResourceFromHeap(m, hm.Objects, hm.Types)
			return strconv.Itoa(r.res.Stats.HeapCalls) + " calls"
		}},
		{StageOpLower, func() string {
			r.res.Stats.OpLower = oplower.Lower(m, hm.Objects, hm.Types)
			return fmt.Sprintf("%d descriptors", r.res.Stats.OpLower.Descriptors)
		}},
		{StageBitCast, func() string {
			r.res.Stats.BitCasts = bitcast.SimplifyModule(m)
			return strconv.Itoa(r.res.Stats.BitCasts) + " casts"
		}},
		{StageCBufferLayout, func() string {
			cbuf.Allocate(cctx, hm.CBuffers)
			return strconv.Itoa(len(hm.CBuffers)) + " buffers"
		}},
		{StageCBuffer, func() string {
			cbuf.ConstructCBuffer(cctx, hm.CBuffers)
			return ""
		}},
		{StageStaticGlobals, func() string {
			r.res.Stats.StaticCasts = bitcast.SimplifyStaticGlobals(m)
			return strconv.Itoa(r.res.Stats.StaticCasts) + " casts"
		}},
	}
	if r.opts.StructurizeReturns {
		stages = append(stages, stageFn{StageStructurize, func() string {
			so := structurize.Options{WaveSensitive: r.opts.WaveSensitive}
			r.res.Stats.Structurized = structurize.StructurizeModule(m, hm.Scopes, so, r.rep)
			return strconv.Itoa(r.res.Stats.Structurized) + " functions"
		}})
	}
	if r.opts.FoldConstants {
		stages = append(stages, stageFn{StageFold, func() string {
			fo := constfold.DefaultOptions()
			if hm.LanguageVersion != 0 {
				fo.LanguageVersion = hm.LanguageVersion
			}
			r.res.Stats.Fold = constfold.FoldModule(m, fo)
			return strconv.Itoa(r.res.Stats.Fold.Folded) + " folded"
		}})
	}
	stages = append(stages,
		stageFn{StageVerify, func() string {
			if err := ir.Verify(m); err != nil {
				diag.ReportError(r.rep, diag.LowVerifyFailed, diag.Loc{File: r.file},
					"lowered module does not verify: "+err.Error()).Emit()
				return "failed"
			}
			return ""
		}},
		stageFn{StageEmit, func() string {
			out, err := Render(hm, r.opts.Format)
			if err != nil {
				diag.ReportError(r.rep, diag.LowEmitUnsupported, diag.Loc{File: r.file}, err.Error()).Emit()
				return "failed"
			}
			r.res.Output = out
			return strconv.Itoa(len(out)) + " bytes"
		}},
	)
	return stages
}

// do runs one stage with its span, timer entry and progress events.
func (r *run) do(stage Stage, fn func() string) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.stage = stage
	emit(r.opts.Progress, Event{File: r.file, Stage: stage, Status: StatusWorking})
	span := trace.Begin(r.tr, trace.ScopePass, string(stage), r.span.ID())
	idx := r.res.Timer.Begin(string(stage))
	start := time.Now()

	var note string
	prof.Do(r.ctx, r.file, string(stage), func(context.Context) { note = fn() })

	elapsed := time.Since(start)
	r.res.Timer.End(idx, note)
	r.res.Timings.Set(stage, elapsed)
	span.End(note)

	if r.res.Bag.HasErrors() {
		err := fmt.Errorf("%s: %s: %w", r.file, stage, ErrDiagnostics)
		emit(r.opts.Progress, Event{File: r.file, Stage: stage, Status: StatusError, Err: err, Elapsed: elapsed})
		return err
	}
	emit(r.opts.Progress, Event{File: r.file, Stage: stage, Status: StatusDone, Elapsed: elapsed})
	return nil
}

// Render produces the output of a lowered module in format.
func Render(hm *hlmodule.HLModule, format Format) ([]byte, error) {
	switch format {
	case FormatNone:
		return nil, nil
	case FormatLL:
		text, err := llexport.Text(hm.IR)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	case FormatHLM:
		var buf bytes.Buffer
		if err := hm.Encode(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return []byte(hm.IR.String()), nil
	}
}

func statusDetail(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
