package crawler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of crawling one seed of a batch.
type BatchResult struct {
	// Seed is the seed URL.
	Seed string

	// Result is the crawl result, nil when Err is set.
	Result *Result

	// Err is the crawl failure, if any.
	Err error

	// StartedAt is when this seed's crawl began. Seeds queued behind the
	// concurrency limit start later than the batch.
	StartedAt time.Time
}

// Batch crawls several seeds concurrently. Each seed gets its own Engine
// from the factory, so per-site settings can differ.
//
// Design decision: A failed seed does not stop the batch. Its error is
// recorded in its BatchResult; only cancellation of the parent context ends
// the batch early.
type Batch struct {
	// engineFor returns the engine used to crawl a seed.
	engineFor func(seed string) *Engine

	// concurrency is the maximum number of seeds crawled at once.
	concurrency int

	// logger is used for batch-level logging.
	logger *slog.Logger
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithBatchLogger sets the batch logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *Batch) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConcurrency sets the maximum number of seeds crawled at once.
// Default is 4 if not specified.
func WithConcurrency(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatch creates a Batch that asks engineFor for the engine of each seed.
func NewBatch(engineFor func(seed string) *Engine, opts ...BatchOption) *Batch {
	b := &Batch{
		engineFor:   engineFor,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run crawls every seed and returns results in input order.
// The returned error is non-nil only when ctx ended the batch.
func (b *Batch) Run(ctx context.Context, seeds []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(seeds))
	err := b.RunWithCallback(ctx, seeds, func(r BatchResult, index int) {
		results[index] = r
	})
	return results, err
}

// RunWithCallback crawls every seed and calls callback as each crawl
// finishes. The callback runs on the crawling goroutine; it must be safe for
// concurrent use when it touches shared state. Different indexes may be
// written concurrently.
func (b *Batch) RunWithCallback(ctx context.Context, seeds []string, callback func(r BatchResult, index int)) error {
	b.logger.Info("starting batch crawl",
		"total_seeds", len(seeds),
		"concurrency", b.concurrency,
	)
	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, seed := range seeds {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			started := time.Now()
			result, err := b.engineFor(seed).Run(ctx, seed)
			if err != nil {
				b.logger.Warn("crawl failed", "seed", seed, "error", err)
			}
			callback(BatchResult{Seed: seed, Result: result, Err: err, StartedAt: started}, i)

			// A failed seed must not cancel its siblings.
			return nil
		})
	}

	err := g.Wait()
	b.logger.Info("batch crawl complete",
		"total_seeds", len(seeds),
		"elapsed", time.Since(startTime),
	)
	return err
}
