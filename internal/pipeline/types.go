package pipeline

import "time"

// Stage is one step of lowering. Stages run in the order of Stages.
type Stage string

const (
	StageLoad          Stage = "load"
	StageEntry         Stage = "entry"
	StageHeap          Stage = "heap"
	StageOpLower       Stage = "oplower"
	StageBitCast       Stage = "bitcast"
	StageCBufferLayout Stage = "cbuffer-layout"
	StageCBuffer       Stage = "cbuffer"
	StageStaticGlobals Stage = "static-globals"
	StageStructurize   Stage = "structurize"
	StageFold          Stage = "fold"
	StageVerify        Stage = "verify"
	StageEmit          Stage = "emit"
)

// Stages lists the stages in execution order.
var Stages = []Stage{
	StageLoad, StageEntry, StageHeap, StageOpLower, StageBitCast,
	StageCBufferLayout, StageCBuffer, StageStaticGlobals,
	StageStructurize, StageFold, StageVerify, StageEmit,
}

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusCached  Status = "cached"
	StatusError   Status = "error"
)

// Event reports progress for a file (or for the whole run when File is empty).
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events. LowerFiles calls it from several
// goroutines.
type ProgressSink interface {
	OnEvent(Event)
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	return t.stages[stage]
}

// Sum returns the sum of durations across the provided stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}

// Total sums every recorded stage.
func (t Timings) Total() time.Duration {
	return t.Sum(Stages...)
}
