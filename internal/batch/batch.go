// Package batch runs many evaluations concurrently under a bounded worker
// budget. Results keep their input order; one failed item never aborts the
// rest of the batch.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/modelcascade/cascade/internal/domain"
)

// DefaultConcurrency bounds in-flight evaluations when no limit is given.
const DefaultConcurrency = 4

// Evaluator is the single-request evaluation surface the batch runner fans
// out over. Both the router and the experiment engine's evaluate paths can
// be adapted to it.
type Evaluator interface {
	Evaluate(ctx context.Context, req *domain.CompletionRequest) (*domain.EvaluationResult, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, req *domain.CompletionRequest) (*domain.EvaluationResult, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, req *domain.CompletionRequest) (*domain.EvaluationResult, error) {
	return f(ctx, req)
}

// Item pairs one request's outcome with its position in the input slice.
// Exactly one of Result and Err is set.
type Item struct {
	Index  int                      `json:"index"`
	Result *domain.EvaluationResult `json:"result,omitempty"`
	Err    error                    `json:"-"`
	Error  string                   `json:"error,omitempty"`
}

// Runner fans a request slice out over a weighted semaphore. Safe for
// concurrent use; each Run owns its own result slice.
type Runner struct {
	evaluator   Evaluator
	concurrency int64
	logger      *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency caps in-flight evaluations.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = int64(n)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a batch runner over the given evaluator.
func NewRunner(evaluator Evaluator, opts ...Option) (*Runner, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("batch: evaluator required")
	}
	r := &Runner{
		evaluator:   evaluator,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run evaluates every request, at most the configured number in flight at
// once. The returned slice is index-aligned with the input. Run itself only
// fails when the context is cancelled before all work could be admitted;
// per-item failures land in their Item.
func (r *Runner) Run(ctx context.Context, reqs []*domain.CompletionRequest) ([]Item, error) {
	sem := semaphore.NewWeighted(r.concurrency)
	items := make([]Item, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled mid-batch: mark everything not yet admitted.
			for j := i; j < len(reqs); j++ {
				items[j] = Item{Index: j, Err: err, Error: err.Error()}
			}
			wg.Wait()
			return items, fmt.Errorf("batch cancelled after %d of %d admitted: %w", i, len(reqs), err)
		}

		wg.Add(1)
		go func(i int, req *domain.CompletionRequest) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := r.evaluator.Evaluate(ctx, req)
			item := Item{Index: i, Result: result, Err: err}
			if err != nil {
				item.Error = err.Error()
				r.logger.Warn("batch item failed",
					slog.Int("index", i),
					slog.String("error", err.Error()))
			}
			items[i] = item
		}(i, req)
	}

	wg.Wait()
	return items, nil
}
