package ratelimit

import (
    "context"
    "sync"
    "time"
)

// Pacer enforces a minimum interval after a stamped event. The batch
// executor stamps when a batch's bookkeeping completes and waits before
// starting the next one; adapters stay pacing-agnostic.
type Pacer struct {
    mu       sync.Mutex
    interval time.Duration
    last     time.Time
}

func NewPacer(interval time.Duration) *Pacer {
    return &Pacer{interval: interval}
}

// SetInterval updates the pacing interval for subsequent waits.
func (p *Pacer) SetInterval(d time.Duration) {
    p.mu.Lock()
    p.interval = d
    p.mu.Unlock()
}

// Stamp records the reference event the next Wait is measured from.
func (p *Pacer) Stamp() {
    p.mu.Lock()
    p.last = time.Now()
    p.mu.Unlock()
}

// Wait sleeps until one interval has passed since the last stamp.
// Returns immediately when nothing was stamped. Aborts on ctx done.
func (p *Pacer) Wait(ctx context.Context) error {
    p.mu.Lock()
    var wait time.Duration
    if !p.last.IsZero() {
        if elapsed := time.Since(p.last); elapsed < p.interval {
            wait = p.interval - elapsed
        }
    }
    p.mu.Unlock()

    if wait <= 0 {
        return nil
    }
    t := time.NewTimer(wait)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}
