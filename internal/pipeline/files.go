package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"dxlower/internal/diag"
	"dxlower/internal/hlmodule"
	"dxlower/internal/observ"
	"dxlower/internal/trace"
)

// LowerFiles lowers every file independently, up to opts.Jobs at a time.
// Each module is still lowered on a single goroutine. Results are returned
// in the order of files; the error joins the failures of every file.
func LowerFiles(ctx context.Context, files []string, opts Options) ([]*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]*Result, len(files))
	if len(files) == 0 {
		return results, nil
	}
	for _, f := range files {
		emit(opts.Progress, Event{File: f, Stage: StageLoad, Status: StatusQueued})
	}
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopeDriver, "lower-files", trace.CurrentSpan(ctx))
	ctx = trace.WithSpan(ctx, span)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(files)))
	for i, path := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			// indices are unique per goroutine
			results[i] = lowerFile(gctx, path, opts)
			return nil
		})
	}
	werr := g.Wait()
	span.WithExtra("files", fmt.Sprint(len(files))).End("")
	emit(opts.Progress, Event{Stage: StageEmit, Status: StatusDone, Elapsed: time.Since(start)})

	var errs []error
	if werr != nil {
		errs = append(errs, werr)
	}
	for _, r := range results {
		if r != nil && r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// lowerFile reads, lowers and renders one file, going through the cache
// when one is configured.
func lowerFile(ctx context.Context, path string, opts Options) *Result {
	emit(opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusWorking})
	start := time.Now()
	fail := func(code diag.Code, err error) *Result {
		res := &Result{File: path, Bag: diag.NewBag(1), Timer: observ.NewTimer(), Err: err}
		diag.ReportError(diag.BagReporter{Bag: res.Bag}, code, diag.Loc{File: path}, err.Error()).Emit()
		emit(opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusError, Err: err})
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(diag.IOReadFailure, fmt.Errorf("read %s: %w", path, err))
	}
	key := opts.Cache.Key(data, opts.fingerprint())
	if cached, ok, err := opts.Cache.get(key); err == nil && ok {
		res := cached.result(path)
		emit(opts.Progress, Event{File: path, Stage: StageEmit, Status: StatusCached, Elapsed: time.Since(start)})
		return res
	}

	hm, err := hlmodule.Decode(bytes.NewReader(data))
	if err != nil {
		code := diag.IODecodeFailure
		if errors.Is(err, hlmodule.ErrSchema) {
			code = diag.IOSchemaMismatch
		}
		return fail(code, fmt.Errorf("%s: %w", path, err))
	}
	load := time.Since(start)
	emit(opts.Progress, Event{File: path, Stage: StageLoad, Status: StatusDone, Elapsed: load})

	res, err := Lower(ctx, path, hm, opts)
	res.Timings.Set(StageLoad, load)
	if err == nil {
		_ = opts.Cache.put(key, newCacheEntry(res))
	}
	return res
}
