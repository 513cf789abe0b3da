package main

import (
	"fmt"
	"io"
	"time"

	"dxlower/internal/pipeline"
)

func printTimings(out io.Writer, results []*pipeline.Result) {
	for _, res := range results {
		if res == nil || res.Timer == nil {
			continue
		}
		state := ""
		if res.Cached {
			state = " (cached)"
		}
		fmt.Fprintf(out, "%s%s\n", res.File, state)
		if res.Timings.Has(pipeline.StageLoad) {
			fmt.Fprintf(out, "  %-20s %7.2f ms\n", pipeline.StageLoad, toMillis(res.Timings.Duration(pipeline.StageLoad)))
		}
		fmt.Fprint(out, res.Timer.Summary())
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
