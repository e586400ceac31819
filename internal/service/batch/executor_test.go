package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func symbols(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%03d", i)
	}
	return out
}

func TestRunBatchPartitioning(t *testing.T) {
	e := New(10, 0)
	var batches [][]string
	var mu sync.Mutex
	var inBatch []string

	var onBatch = func(done, total int) {
		mu.Lock()
		batches = append(batches, inBatch)
		inBatch = nil
		mu.Unlock()
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
	}

	results, err := Run(context.Background(), e, symbols(25), func(ctx context.Context, s string) (string, error) {
		mu.Lock()
		inBatch = append(inBatch, s)
		mu.Unlock()
		return s, nil
	}, onBatch)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(results) != 25 {
		t.Fatalf("results = %d, want 25", len(results))
	}
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	if len(batches[0]) != 10 || len(batches[1]) != 10 || len(batches[2]) != 5 {
		t.Fatalf("batch sizes = %d/%d/%d, want 10/10/5", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestRunInterBatchDelay(t *testing.T) {
	delay := 50 * time.Millisecond
	e := New(10, delay)
	start := time.Now()
	_, err := Run(context.Background(), e, symbols(25), func(ctx context.Context, s string) (int, error) {
		return 0, nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	elapsed := time.Since(start)
	// two gaps (1→2 and 2→3), none before batch 1 or after batch 3
	if elapsed < 2*delay {
		t.Fatalf("elapsed %v, want >= %v", elapsed, 2*delay)
	}
	if elapsed > 4*delay {
		t.Fatalf("elapsed %v suggests an extra delay", elapsed)
	}
}

func TestRunNoDelayForSingleBatch(t *testing.T) {
	e := New(10, time.Second)
	start := time.Now()
	_, err := Run(context.Background(), e, symbols(5), func(ctx context.Context, s string) (int, error) {
		return 0, nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("single batch waited the inter-batch delay")
	}
}

func TestRunCollectsFailures(t *testing.T) {
	e := New(4, 0)
	results, err := Run(context.Background(), e, symbols(10), func(ctx context.Context, s string) (string, error) {
		if s == "SYM003" || s == "SYM007" {
			return "", fmt.Errorf("boom")
		}
		return s, nil
	}, nil)
	if err != nil {
		t.Fatalf("per-unit failures must not abort the run: %v", err)
	}
	ok, failed := Split(results)
	if len(ok) != 8 || len(failed) != 2 {
		t.Fatalf("ok=%d failed=%d, want 8/2", len(ok), len(failed))
	}
}

func TestRunBoundedConcurrency(t *testing.T) {
	e := New(5, 0)
	var cur, max int64
	_, err := Run(context.Background(), e, symbols(20), func(ctx context.Context, s string) (int, error) {
		n := atomic.AddInt64(&cur, 1)
		for {
			m := atomic.LoadInt64(&max)
			if n <= m || atomic.CompareAndSwapInt64(&max, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&cur, -1)
		return 0, nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got := atomic.LoadInt64(&max); got > 5 {
		t.Fatalf("max concurrency %d exceeds batch size 5", got)
	}
}

func TestRunUnitTimeoutCutsOffHungUnits(t *testing.T) {
	e := New(5, 0, WithUnitTimeout(50*time.Millisecond))
	start := time.Now()

	results, err := Run(context.Background(), e, symbols(5), func(ctx context.Context, s string) (int, error) {
		<-ctx.Done() // a provider that never answers
		return 0, ctx.Err()
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("hung units held the batch for %v", elapsed)
	}
	ok, failed := Split(results)
	if len(ok) != 0 || len(failed) != 5 {
		t.Fatalf("ok=%d failed=%d, want 0/5", len(ok), len(failed))
	}
	for _, f := range failed {
		if !errors.Is(f.Err, context.DeadlineExceeded) {
			t.Fatalf("unit %s err = %v, want deadline exceeded", f.Symbol, f.Err)
		}
	}
}

func TestRunCancellationAtBatchBoundary(t *testing.T) {
	e := New(5, 0)
	ctx, cancel := context.WithCancel(context.Background())
	var calls int64

	results, err := Run(ctx, e, symbols(20), func(ctx context.Context, s string) (int, error) {
		if atomic.AddInt64(&calls, 1) == 5 {
			cancel() // done during the first batch; takes effect at the boundary
		}
		return 0, nil
	}, nil)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if got := atomic.LoadInt64(&calls); got != 5 {
		t.Fatalf("calls = %d, want only the first batch", got)
	}
	if len(results) != 5 {
		t.Fatalf("partial results = %d, want 5", len(results))
	}
}
