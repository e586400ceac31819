package usecase

import (
	"context"
	"fmt"
	"time"

	"IndexPull/internal/domain/models"
	"IndexPull/internal/domain/repository"
	"IndexPull/internal/service/batch"
	"IndexPull/internal/service/fallback"
	applogger "IndexPull/pkg/logger"
)

// CollectResult summarizes one collection run.
type CollectResult struct {
	Selection      *models.SelectionResult `json:"selection"`
	Quotes         int                     `json:"quotes"`
	SymbolsFetched int                     `json:"symbols_fetched"`
	SymbolsFailed  int                     `json:"symbols_failed"`
	Duration       time.Duration           `json:"duration"`
}

// Collector runs a selection, fetches the daily series for every
// selected symbol, and routes records to the configured backend.
type Collector struct {
	selector *Selector
	chain    *fallback.Chain
	pub      repository.Publisher
	store    repository.QuoteStore
	metrics  repository.Metrics
	logger   *applogger.Logger
	backend  string
}

// NewCollector creates a new Collector instance.
func NewCollector(
	selector *Selector,
	chain *fallback.Chain,
	pub repository.Publisher,
	store repository.QuoteStore,
	metrics repository.Metrics,
	logger *applogger.Logger,
	backend string,
) *Collector {
	return &Collector{
		selector: selector,
		chain:    chain,
		pub:      pub,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		backend:  backend,
	}
}

// Collect selects the index constituents and gathers their daily quotes
// for [start, end]. Market caps from the selection are attached to each
// record. Per-symbol fetch failures are tolerated; the result reports a
// completion ratio.
func (c *Collector) Collect(ctx context.Context, start, end time.Time, forceUniverse bool) (*CollectResult, error) {
	began := time.Now()

	selection, err := c.selector.Run(ctx, forceUniverse)
	if err != nil {
		return nil, fmt.Errorf("selection: %w", err)
	}

	caps := make(map[string]float64, len(selection.Candidates))
	for _, r := range selection.Candidates {
		caps[r.Symbol] = r.MarketCap
	}

	settings := selection.Settings
	executor := batch.New(settings.BatchSize, settings.YahooBatchDelay, batch.WithLogger(c.logger))

	c.logger.Info("quote collection started",
		applogger.Int("symbols", len(selection.Symbols)),
		applogger.String("from", start.Format("2006-01-02")),
		applogger.String("to", end.Format("2006-01-02")),
	)

	results, err := batch.Run(ctx, executor, selection.Symbols, func(ctx context.Context, symbol string) ([]*models.QuoteRecord, error) {
		records, err := c.chain.ResolvePrices(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		for _, q := range records {
			q.MarketCap = caps[q.Symbol]
		}
		return records, nil
	}, func(done, total int) {
		c.metrics.RecordBatch("prices")
	})
	if err != nil {
		return nil, fmt.Errorf("quote collection aborted: %w", err)
	}

	ok, failed := batch.Split(results)
	var quotes []*models.QuoteRecord
	for _, r := range ok {
		quotes = append(quotes, r.Value...)
	}
	for _, f := range failed {
		c.logger.Warn("quotes unavailable", applogger.String("symbol", f.Symbol), applogger.Error(f.Err))
	}
	quotes = dedupeQuotes(quotes)

	if err := c.persist(ctx, quotes, selection); err != nil {
		c.metrics.RecordError("persist")
		return nil, err
	}

	res := &CollectResult{
		Selection:      selection,
		Quotes:         len(quotes),
		SymbolsFetched: len(ok),
		SymbolsFailed:  len(failed),
		Duration:       time.Since(began),
	}
	c.logger.Info("quote collection complete",
		applogger.Int("quotes", res.Quotes),
		applogger.Int("fetched", res.SymbolsFetched),
		applogger.Int("failed", res.SymbolsFailed),
		applogger.Duration("took", res.Duration),
	)
	return res, nil
}

// dedupeQuotes keeps the first record per (date, symbol). Providers can
// emit overlapping rows for the same trading day; both backends expect
// one observation per key.
func dedupeQuotes(quotes []*models.QuoteRecord) []*models.QuoteRecord {
	seen := make(map[string]bool, len(quotes))
	out := quotes[:0]
	for _, q := range quotes {
		key := q.Date.Format("2006-01-02") + "|" + q.Symbol
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

// persist routes the run's output to the configured backend.
func (c *Collector) persist(ctx context.Context, quotes []*models.QuoteRecord, selection *models.SelectionResult) error {
	switch c.backend {
	case "kafka":
		if err := c.pub.PublishQuotes(ctx, quotes); err != nil {
			return fmt.Errorf("publish quotes: %w", err)
		}
		if err := c.pub.PublishSelection(ctx, selection); err != nil {
			return fmt.Errorf("publish selection: %w", err)
		}
	case "clickhouse":
		if err := c.store.StoreQuotes(ctx, quotes); err != nil {
			return fmt.Errorf("store quotes: %w", err)
		}
		if err := c.store.StoreSelection(ctx, selection); err != nil {
			return fmt.Errorf("store selection: %w", err)
		}
	default:
		return fmt.Errorf("unknown backend: %s", c.backend)
	}
	return nil
}

// Close closes underlying resources if available.
func (c *Collector) Close() {
	if c.pub != nil {
		_ = c.pub.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}
