// Package pipeline runs adapters, normalizes and stores their output and
// exposes the operations the HTTP layer calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "showscrape/internal/log"
	"showscrape/internal/metrics"
	"showscrape/internal/model"
	"showscrape/internal/scrape"
)

// ErrAdapterTimeout is recorded for an adapter that overran its budget.
var ErrAdapterTimeout = errors.New("adapter timed out")

// AdapterResult is one adapter's outcome. Exactly one of Events and Err is
// meaningful.
type AdapterResult struct {
	Adapter  scrape.Info
	Events   []model.RawEvent
	Err      error
	Duration time.Duration
}

// Runner fans adapters out concurrently. A failing, hanging or panicking
// adapter only affects its own result.
type Runner struct {
	Timeout     time.Duration
	Concurrency int
	Metrics     *metrics.Metrics
}

// Run returns one result per adapter, in input order.
func (r *Runner) Run(ctx context.Context, adapters []scrape.Adapter) []AdapterResult {
	results := make([]AdapterResult, len(adapters))

	var g errgroup.Group
	if r.Concurrency > 0 {
		g.SetLimit(r.Concurrency)
	}
	for i, a := range adapters {
		g.Go(func() error {
			results[i] = r.runOne(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type fetchOutcome struct {
	events []model.RawEvent
	err    error
}

func (r *Runner) runOne(ctx context.Context, a scrape.Adapter) AdapterResult {
	info := a.Info()
	res := AdapterResult{Adapter: info}
	start := time.Now()

	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if r.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, r.Timeout)
	} else {
		actx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// The fetch runs on its own goroutine so an adapter that ignores its
	// context still cannot hold the run past the deadline.
	done := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fetchOutcome{err: fmt.Errorf("adapter panic: %v", p)}
			}
		}()
		evs, err := a.FetchEvents(actx)
		done <- fetchOutcome{events: evs, err: err}
	}()

	status := "ok"
	select {
	case out := <-done:
		res.Events, res.Err = out.events, out.err
		if res.Err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			res.Err = fmt.Errorf("%w after %s: %v", ErrAdapterTimeout, r.Timeout, res.Err)
		}
	case <-actx.Done():
		res.Err = fmt.Errorf("%w after %s", ErrAdapterTimeout, r.Timeout)
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		}
	}
	res.Duration = time.Since(start)

	switch {
	case errors.Is(res.Err, ErrAdapterTimeout):
		status = "timeout"
	case res.Err != nil:
		status = "error"
	}
	if res.Err != nil {
		res.Events = nil
		appLog.Error("adapter failed", res.Err, "adapter", info.ID, "duration", res.Duration.Round(time.Millisecond).String())
	} else {
		appLog.Debug("adapter finished", "adapter", info.ID, "events", len(res.Events), "duration", res.Duration.Round(time.Millisecond).String())
	}
	r.Metrics.AdapterRun(info.ID, status, res.Duration)
	return res
}
