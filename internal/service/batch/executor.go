package batch

import (
	"context"
	"sync"
	"time"

	"IndexPull/internal/service/ratelimit"
	applogger "IndexPull/pkg/logger"
)

// Result is one per-symbol outcome. Failures are collected, never
// propagated as batch errors.
type Result[T any] struct {
	Symbol string
	Value  T
	Err    error
}

// Executor partitions symbol sequences into fixed-size batches, runs
// each batch concurrently, and paces batch starts. Concurrency within
// a batch is bounded strictly by the batch size; this is the single
// place batch-level concurrency and pacing are configured.
type Executor struct {
	batchSize   int
	pacer       *ratelimit.Pacer
	unitTimeout time.Duration
	logger      *applogger.Logger
}

// Option configures the Executor.
type Option func(*Executor)

// WithUnitTimeout sets the per-request timeout backstop.
func WithUnitTimeout(d time.Duration) Option {
	return func(e *Executor) { e.unitTimeout = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor with the given batch size and inter-batch delay.
func New(batchSize int, delay time.Duration, opts ...Option) *Executor {
	if batchSize < 1 {
		batchSize = 1
	}
	e := &Executor{
		batchSize:   batchSize,
		pacer:       ratelimit.NewPacer(delay),
		unitTimeout: 45 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BatchCount returns the number of batches for n symbols.
func (e *Executor) BatchCount(n int) int {
	return (n + e.batchSize - 1) / e.batchSize
}

// Run resolves fn for every symbol. Results hold per-symbol values or
// errors in input order. The only error returned is ctx cancellation,
// checked at each batch boundary; in that case the results gathered so
// far accompany the error. The inter-batch delay runs between batches,
// not before the first or after the last.
func Run[T any](ctx context.Context, e *Executor, symbols []string, fn func(ctx context.Context, symbol string) (T, error), onBatch func(done, total int)) ([]Result[T], error) {
	results := make([]Result[T], len(symbols))
	total := e.BatchCount(len(symbols))

	for start, bn := 0, 0; start < len(symbols); start, bn = start+e.batchSize, bn+1 {
		if err := ctx.Err(); err != nil {
			return results[:start], err
		}
		if bn > 0 {
			if err := e.pacer.Wait(ctx); err != nil {
				return results[:start], err
			}
		}

		end := start + e.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				unitCtx, cancel := context.WithTimeout(ctx, e.unitTimeout)
				defer cancel()
				v, err := fn(unitCtx, symbols[idx])
				results[idx] = Result[T]{Symbol: symbols[idx], Value: v, Err: err}
			}(i)
		}
		wg.Wait()
		e.pacer.Stamp()

		if e.logger != nil {
			e.logger.Debug("batch complete",
				applogger.Int("batch", bn+1),
				applogger.Int("batches_total", total),
				applogger.Int("size", end-start),
			)
		}
		if onBatch != nil {
			onBatch(bn+1, total)
		}
	}
	return results, nil
}

// Split reports successes and failures from a result set.
func Split[T any](results []Result[T]) (ok []Result[T], failed []Result[T]) {
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		} else {
			ok = append(ok, r)
		}
	}
	return ok, failed
}
