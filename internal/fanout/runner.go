// Package fanout executes batches of independent sub-queries against a model
// endpoint under a global concurrency bound, preserving input order in the
// results and isolating per-item failures.
package fanout

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"mosaic/internal/hive"
	"mosaic/internal/llm"
)

// Placeholder is the substitution marker in a fan-out prompt template.
const Placeholder = "{chunk}"

// Runner dispatches fan-out batches. The semaphore is shared across every
// batch in the invocation so nested fan-outs cannot multiply the in-flight
// call count past the configured bound.
type Runner struct {
	client llm.Client
	hive   *hive.Hive
	budget *Budget
	sem    *semaphore.Weighted
	log    *zap.Logger
}

// New builds a Runner. maxParallel must be >= 1.
func New(client llm.Client, h *hive.Hive, budget *Budget, maxParallel int, log *zap.Logger) *Runner {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		client: client,
		hive:   h,
		budget: budget,
		sem:    semaphore.NewWeighted(int64(maxParallel)),
		log:    log,
	}
}

// Run processes every item through the template and returns one result per
// item, in input order. A hive snapshot taken before dispatch is prepended
// to every worker's prompt; writes made by workers during the batch are not
// re-broadcast to siblings. A failing item fills its slot with an error
// marker instead of aborting the batch.
func (r *Runner) Run(ctx context.Context, template string, items []string) []string {
	results := make([]string, len(items))
	if len(items) == 0 {
		return results
	}

	// The batch occupies a single nesting level; its items are siblings,
	// not nested calls, so depth is reserved once for all of them.
	if err := r.budget.EnterBatch(); err != nil {
		for i := range results {
			results[i] = fmt.Sprintf("Error processing chunk %d: %v", i, err)
		}
		return results
	}
	defer r.budget.Exit()

	shared := hive.Format(r.hive.GetAll())

	r.log.Debug("Dispatching fan-out batch",
		zap.Int("items", len(items)),
		zap.Bool("hive_context", shared != ""))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i := i
		prompt := strings.ReplaceAll(template, Placeholder, item)
		if shared != "" {
			prompt = shared + "\n" + prompt
		}

		g.Go(func() error {
			if err := r.sem.Acquire(gctx, 1); err != nil {
				results[i] = fmt.Sprintf("Error processing chunk %d: %v", i, err)
				return nil
			}
			defer r.sem.Release(1)

			// Reserved after the semaphore so only dispatched calls
			// count against the budget.
			if err := r.budget.ReserveCall(); err != nil {
				results[i] = fmt.Sprintf("Error processing chunk %d: %v", i, err)
				return nil
			}

			resp, err := r.client.Complete(gctx, prompt)
			if err != nil {
				r.log.Warn("Fan-out item failed", zap.Int("index", i), zap.Error(err))
				results[i] = fmt.Sprintf("Error processing chunk %d: %v", i, err)
				return nil
			}
			results[i] = resp
			return nil
		})
	}
	// Workers never return errors; failures live in their result slots.
	_ = g.Wait()
	return results
}
