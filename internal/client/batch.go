package client

import (
	"context"
	"errors"
	"sync"

	"github.com/FranksOps/serprank/internal/serp"
	"golang.org/x/sync/errgroup"
)

// BatchOptions controls a BatchSearch run.
type BatchOptions struct {
	// Concurrency bounds simultaneous searches. Defaults to the client's
	// configured concurrency, then 3.
	Concurrency int
	// StopOnBudgetExceeded aborts the remaining batch when any query hits
	// the budget ceiling. Completed results are preserved.
	StopOnBudgetExceeded bool
	// Progress, if set, is invoked after each query completes, in
	// completion order.
	Progress func(p BatchProgress)
}

// BatchProgress is one completion notification.
type BatchProgress struct {
	Completed int
	Total     int
	Query     string
	Cached    bool
	Err       error
}

// BatchResults accumulates a batch run. Results and Errors are keyed by
// query text; a query appears in exactly one of the two.
type BatchResults struct {
	Results   map[string]*serp.SearchResults
	Errors    map[string]error
	Succeeded int
	Failed    int
	Cached    int
	Skipped   int
	TotalCost float64
	Aborted   bool
}

// BatchSearch executes the queries with bounded concurrency. Per-query
// failures are collected, never fatal to the batch; only a budget error
// with StopOnBudgetExceeded set aborts the remainder.
func (c *Client) BatchSearch(ctx context.Context, queries []serp.GeneratedQuery, opts serp.SearchOptions, batchOpts BatchOptions) (*BatchResults, error) {
	concurrency := batchOpts.Concurrency
	if concurrency <= 0 {
		concurrency = c.cfg.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 3
	}

	out := &BatchResults{
		Results: make(map[string]*serp.SearchResults, len(queries)),
		Errors:  make(map[string]error),
	}

	var (
		mu        sync.Mutex
		completed int
		aborted   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, q := range queries {
		query := q
		mu.Lock()
		if aborted {
			out.Skipped++
			mu.Unlock()
			continue
		}
		mu.Unlock()

		g.Go(func() error {
			mu.Lock()
			skip := aborted
			mu.Unlock()
			if skip || gctx.Err() != nil {
				mu.Lock()
				out.Skipped++
				mu.Unlock()
				return nil
			}

			qOpts := opts
			qOpts.Priority = query.Priority
			res, err := c.Search(gctx, query.Text, qOpts)

			mu.Lock()
			defer mu.Unlock()
			completed++

			if err != nil {
				out.Errors[query.Text] = err
				out.Failed++
				var budgetErr *serp.BudgetExceededError
				if batchOpts.StopOnBudgetExceeded && errors.As(err, &budgetErr) {
					aborted = true
					out.Aborted = true
				}
			} else {
				out.Results[query.Text] = res
				out.Succeeded++
				out.TotalCost += res.Cost
				if res.Cached {
					out.Cached++
				}
			}

			if batchOpts.Progress != nil {
				batchOpts.Progress(BatchProgress{
					Completed: completed,
					Total:     len(queries),
					Query:     query.Text,
					Cached:    res != nil && res.Cached,
					Err:       err,
				})
			}
			return nil
		})
	}

	_ = g.Wait()
	return out, ctx.Err()
}
