// Package run drives a plan through the fetch engine over a fixed pool of
// workers and folds the per-item outcomes into a single report.
package run

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bsdl/bplist"
	"bsdl/fetch"
	"bsdl/plan"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultJobs is the worker-pool size when the caller does not choose one.
const DefaultJobs = 4

// Orchestrator runs a plan's fetches in parallel. One item's failure never
// aborts the run; cancellation stops feeding the pool and lets in-flight
// fetches wind down through their context.
type Orchestrator struct {
	fetcher  *fetch.Fetcher
	reporter Reporter
	jobs     int

	mtx    sync.Mutex // serializes report mutation and reporter callbacks
	report *Report
}

// New returns an orchestrator that runs at most jobs fetches at once.
func New(f *fetch.Fetcher, r Reporter, jobs int) *Orchestrator {
	if jobs < 1 {
		jobs = DefaultJobs
	}
	if r == nil {
		r = NopReporter{}
	}
	return &Orchestrator{
		fetcher:  f,
		reporter: r,
		jobs:     jobs,
	}
}

// Run fetches every entry in the plan. It always returns a report; when ctx
// is cancelled mid-run the report covers the items that reached a terminal
// outcome before the stop, with Cancelled set.
func (o *Orchestrator) Run(ctx context.Context, pl *bplist.Playlist, p *plan.Plan) *Report {
	start := time.Now()
	o.report = &Report{
		RunID:    uuid.NewString(),
		Title:    pl.Title,
		Dir:      p.Dir,
		Total:    len(p.Entries),
		Warnings: pl.Warnings,
	}

	logger := log.WithField("run", o.report.RunID)
	logger.Debugf("run started: items=%d jobs=%d", len(p.Entries), o.jobs)

	// The cover is one small file; fetch it before fanning out so its
	// outcome never mixes into the song accounting.
	if p.Cover != nil {
		o.fetchCover(ctx, *p.Cover)
	}

	g := &errgroup.Group{}

	startWorkers := func() {
		entryChan := make(chan plan.Entry)
		defer close(entryChan)

		// Create a set of goroutines to fetch entries in parallel.
		for i := 0; i < o.jobs; i++ {
			g.Go(func() error {
				// Read entries from the channel and fetch them
				// sequentially until the channel closes. A failed item
				// never stops the worker.
				for e := range entryChan {
					o.fetchOne(ctx, e)
				}
				return nil
			})
		}

		for _, e := range p.Entries {
			select {
			case <-ctx.Done():
				// Run aborted. Return early to execute the deferred
				// channel close; in-flight fetches observe ctx themselves.
				return
			case entryChan <- e:
			}
		}
	}

	startWorkers()
	g.Wait()

	o.finish(ctx, start, logger)
	return o.report
}

// fetchOne runs a single fetch, translating a worker panic into a failed
// outcome so one bad item cannot take down the run.
func (o *Orchestrator) fetchOne(ctx context.Context, e plan.Entry) {
	o.itemStart(e)

	oc := func() (oc fetch.Outcome) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("panic fetching %s: %v", e.Item.URL, r)
				oc = fetch.Outcome{
					State:  fetch.StateFailed,
					Reason: fetch.ReasonInternal,
					Err:    fmt.Errorf("panic: %v", r),
				}
			}
		}()
		return o.fetcher.Fetch(ctx, e)
	}()

	o.itemDone(e, oc)
}

// fetchCover downloads a by-url cover. Its outcome lives on dedicated report
// fields so the song counts stay exact.
func (o *Orchestrator) fetchCover(ctx context.Context, e plan.Entry) {
	oc := o.fetcher.Fetch(ctx, e)

	o.mtx.Lock()
	defer o.mtx.Unlock()

	o.report.CoverOutcome = &oc
	switch oc.State {
	case fetch.StateSucceeded, fetch.StateSkipped:
		o.report.CoverPath = e.Path
		o.report.Bytes += oc.Bytes
	case fetch.StateFailed:
		log.WithError(oc.Err).Warnf("failed to fetch cover: url=%s", e.Item.URL)
	}
}

func (o *Orchestrator) itemStart(e plan.Entry) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	o.reporter.ItemStart(e)
}

func (o *Orchestrator) itemDone(e plan.Entry, oc fetch.Outcome) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	switch oc.State {
	case fetch.StateSkipped:
		o.report.Skipped++
	case fetch.StateSucceeded:
		o.report.Succeeded++
		o.report.Bytes += oc.Bytes
	case fetch.StateFailed:
		o.report.Failed++
		o.report.Failures = append(o.report.Failures, Failure{Entry: e, Outcome: oc})
	}

	o.reporter.ItemDone(e, oc)
}

// finish orders the failure list by manifest position, stamps the timing
// fields, and emits the RunComplete callback.
func (o *Orchestrator) finish(ctx context.Context, start time.Time, logger *log.Entry) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	sort.SliceStable(o.report.Failures, func(i, j int) bool {
		return o.report.Failures[i].Entry.Index < o.report.Failures[j].Entry.Index
	})
	o.report.Elapsed = time.Since(start)
	o.report.Cancelled = ctx.Err() != nil

	logger.Debugf("run finished: succeeded=%d skipped=%d failed=%d elapsed=%v",
		o.report.Succeeded, o.report.Skipped, o.report.Failed, o.report.Elapsed)

	o.reporter.RunComplete(o.report)
}
