package run

import (
	"time"

	"bsdl/fetch"
	"bsdl/plan"
)

// Reporter receives progress callbacks during a run. The orchestrator
// serializes all calls, so implementations need no locking of their own.
// The core never formats user-facing text; that is the reporter's job.
type Reporter interface {
	// ItemStart fires when a worker picks up an entry.
	ItemStart(e plan.Entry)

	// ItemDone fires exactly once per processed entry with its final
	// outcome.
	ItemDone(e plan.Entry, oc fetch.Outcome)

	// RunComplete fires once after all workers have finished, before Run
	// returns.
	RunComplete(r *Report)
}

// NopReporter discards all callbacks.
type NopReporter struct{}

func (NopReporter) ItemStart(plan.Entry)               {}
func (NopReporter) ItemDone(plan.Entry, fetch.Outcome) {}
func (NopReporter) RunComplete(*Report)                {}

// Failure records one failed item for the final report.
type Failure struct {
	Entry   plan.Entry
	Outcome fetch.Outcome
}

// Report aggregates the outcomes of one run.
type Report struct {
	RunID string // unique id, for log correlation
	Title string // playlist title
	Dir   string // output directory

	Total     int // playlist items; the cover is tracked separately
	Succeeded int
	Skipped   int
	Failed    int

	Failures  []Failure // manifest order
	Bytes     int64     // bytes downloaded, cover included
	Elapsed   time.Duration
	Cancelled bool // run was interrupted before every item was processed

	CoverPath    string         // path of the saved cover, "" if none
	CoverOutcome *fetch.Outcome // by-url cover result, nil when embedded or absent
	ManifestCopy string         // path of the copied manifest, "" if not copied
	Warnings     []string       // parser warnings carried into the report
}

// Processed returns the number of items that reached a terminal outcome.
func (r *Report) Processed() int {
	return r.Succeeded + r.Skipped + r.Failed
}

// AllPresent returns true when every item was already on disk and nothing
// was downloaded or lost.
func (r *Report) AllPresent() bool {
	return r.Total > 0 && r.Skipped == r.Total
}
