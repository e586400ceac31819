package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"IndexPull/internal/domain/models"
	drepo "IndexPull/internal/domain/repository"
	"IndexPull/internal/service/source"
	applogger "IndexPull/pkg/logger"
)

// Field selects which capability a request targets.
type Field string

const (
	FieldPrices    Field = "prices"
	FieldMarketCap Field = "market_cap"
)

// Attempt records one adapter's failure inside an aggregate.
type Attempt struct {
	Adapter string
	Reason  source.FailureReason
}

// AggregateError means every adapter in the chain failed for one symbol.
// Callers treat it as "symbol unavailable" without aborting the batch.
type AggregateError struct {
	Symbol   string
	Field    Field
	Attempts []Attempt
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Adapter, a.Reason))
	}
	return fmt.Sprintf("all sources failed for %s %s: %s", e.Symbol, e.Field, strings.Join(parts, " "))
}

// Chain tries adapters in a fixed preference order until one succeeds.
// On auth_expired from a re-authenticating provider it re-auths exactly
// once and retries that provider before moving on. No pacing here; the
// batch executor owns delays.
type Chain struct {
	adapters []source.Adapter
	metrics  drepo.Metrics
	logger   *applogger.Logger
}

// New creates a fallback chain over the given preference order.
func New(adapters []source.Adapter, metrics drepo.Metrics, logger *applogger.Logger) *Chain {
	return &Chain{adapters: adapters, metrics: metrics, logger: logger}
}

// Adapters exposes the configured order for diagnostics.
func (c *Chain) Adapters() []source.Adapter { return c.adapters }

// ResolveMarketCap resolves one symbol's market cap through the chain.
func (c *Chain) ResolveMarketCap(ctx context.Context, symbol string) (float64, error) {
	var attempts []Attempt
	depth := 0
	for _, a := range c.adapters {
		if a.Capabilities()&source.CapMarketCap == 0 {
			continue
		}
		depth++
		mc, err := c.callMarketCap(ctx, a, symbol)
		if err == nil {
			c.record(a.Name(), FieldMarketCap, "ok")
			c.metrics.RecordFallbackDepth(string(FieldMarketCap), depth)
			return mc, nil
		}
		attempts = append(attempts, toAttempt(a.Name(), err))
		// a cancelled unit is not a data failure; report the cancellation
		if cerr := ctx.Err(); cerr != nil {
			return 0, cerr
		}
	}
	return 0, &AggregateError{Symbol: symbol, Field: FieldMarketCap, Attempts: attempts}
}

// ResolvePrices resolves one symbol's daily series through the chain.
func (c *Chain) ResolvePrices(ctx context.Context, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	var attempts []Attempt
	depth := 0
	for _, a := range c.adapters {
		if a.Capabilities()&source.CapPrices == 0 {
			continue
		}
		depth++
		records, err := c.callPrices(ctx, a, symbol, start, end)
		if err == nil {
			c.record(a.Name(), FieldPrices, "ok")
			c.metrics.RecordFallbackDepth(string(FieldPrices), depth)
			return records, nil
		}
		attempts = append(attempts, toAttempt(a.Name(), err))
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
	}
	return nil, &AggregateError{Symbol: symbol, Field: FieldPrices, Attempts: attempts}
}

func (c *Chain) callMarketCap(ctx context.Context, a source.Adapter, symbol string) (float64, error) {
	mc, err := a.FetchMarketCap(ctx, symbol)
	if err == nil {
		return mc, nil
	}
	c.record(a.Name(), FieldMarketCap, reasonOf(err))
	if ra, ok := a.(source.Reauthenticator); ok && isAuthExpired(err) {
		if rerr := ra.Reauthenticate(ctx); rerr == nil {
			mc, err = a.FetchMarketCap(ctx, symbol)
			if err == nil {
				return mc, nil
			}
			c.record(a.Name(), FieldMarketCap, reasonOf(err))
		} else if c.logger != nil {
			c.logger.Warn("reauthentication failed",
				applogger.String("adapter", a.Name()),
				applogger.Error(rerr),
			)
		}
	}
	return 0, err
}

func (c *Chain) callPrices(ctx context.Context, a source.Adapter, symbol string, start, end time.Time) ([]*models.QuoteRecord, error) {
	records, err := a.FetchPrices(ctx, symbol, start, end)
	if err == nil {
		return records, nil
	}
	c.record(a.Name(), FieldPrices, reasonOf(err))
	if ra, ok := a.(source.Reauthenticator); ok && isAuthExpired(err) {
		if rerr := ra.Reauthenticate(ctx); rerr == nil {
			records, err = a.FetchPrices(ctx, symbol, start, end)
			if err == nil {
				return records, nil
			}
			c.record(a.Name(), FieldPrices, reasonOf(err))
		}
	}
	return nil, err
}

func (c *Chain) record(adapter string, field Field, outcome string) {
	c.metrics.RecordProviderRequest(adapter, string(field), outcome)
}

func isAuthExpired(err error) bool {
	var aerr *source.AdapterError
	return errors.As(err, &aerr) && aerr.Reason == source.ReasonAuthExpired
}

func reasonOf(err error) string {
	var aerr *source.AdapterError
	if errors.As(err, &aerr) {
		return string(aerr.Reason)
	}
	return string(source.ReasonUnavailable)
}

func toAttempt(adapter string, err error) Attempt {
	var aerr *source.AdapterError
	if errors.As(err, &aerr) {
		return Attempt{Adapter: adapter, Reason: aerr.Reason}
	}
	return Attempt{Adapter: adapter, Reason: source.ReasonUnavailable}
}
